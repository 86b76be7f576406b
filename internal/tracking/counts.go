package tracking

import "github.com/driftwood-forum/driftwood/internal/models"

// CountOpts scope an aggregate count. Zero values mean unscoped.
type CountOpts struct {
	// CategoryID restricts the count to one category, including its
	// subcategories unless NoSubcategories is set.
	CategoryID      int
	NoSubcategories bool
	// TagID restricts the count to topics carrying the tag.
	TagID string
	// CustomFilter is an arbitrary additional predicate.
	CustomFilter func(models.TopicState) bool
}

// LookupOpts drive the higher-level LookupCount convenience.
type LookupOpts struct {
	// Type is "new", "unread", or the combined "latest" pseudo-type.
	Type            string
	CategoryID      int
	NoSubcategories bool
	TagID           string
	CustomFilter    func(models.TopicState) bool
}

// CountNew counts tracked topics that are new within the scope. Topics in
// muted categories are excluded unless the topic itself was explicitly
// unmuted within the override window.
func (t *Tracker) CountNew(opts CountOpts) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countLocked(opts, func(st models.TopicState) bool {
		return IsNew(st) && !t.mutedCategoryExclusionLocked(st)
	})
}

// CountUnread counts tracked topics that are unread within the scope. Muted
// categories do not exclude unread topics: the user chose to track those
// topics individually.
func (t *Tracker) CountUnread(opts CountOpts) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countLocked(opts, IsUnread)
}

// CountNewAndUnread counts topics that are either new or unread. The two
// predicates are mutually exclusive, so no topic is counted twice.
func (t *Tracker) CountNewAndUnread(opts CountOpts) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countLocked(opts, func(st models.TopicState) bool {
		if IsNew(st) {
			return !t.mutedCategoryExclusionLocked(st)
		}
		return IsUnread(st)
	})
}

// LookupCount combines the predicates for a list type: "latest" is new plus
// unread, and the new_new_view preference folds unread into "new".
func (t *Tracker) LookupCount(opts LookupOpts) int {
	countOpts := CountOpts{
		CategoryID:      opts.CategoryID,
		NoSubcategories: opts.NoSubcategories,
		TagID:           opts.TagID,
		CustomFilter:    opts.CustomFilter,
	}
	switch opts.Type {
	case "latest":
		return t.CountNewAndUnread(countOpts)
	case "new":
		if t.user != nil && t.user.NewNewView {
			return t.CountNewAndUnread(countOpts)
		}
		return t.CountNew(countOpts)
	case "unread":
		return t.CountUnread(countOpts)
	default:
		return 0
	}
}

func (t *Tracker) countLocked(opts CountOpts, predicate func(models.TopicState) bool) int {
	var scope map[int]struct{}
	if opts.CategoryID != 0 {
		scope = t.categoryScopeLocked(opts.CategoryID, opts.NoSubcategories)
	}

	count := 0
	for _, st := range t.store.states {
		if !predicate(st) {
			continue
		}
		if scope != nil {
			if st.CategoryID == nil {
				continue
			}
			if _, ok := scope[*st.CategoryID]; !ok {
				continue
			}
		}
		if opts.TagID != "" && !hasTag(st.Tags, opts.TagID) {
			continue
		}
		if opts.CustomFilter != nil && !opts.CustomFilter(st) {
			continue
		}
		count++
	}
	return count
}

// mutedCategoryExclusionLocked is the muted-category rule for new counts: a
// topic in a muted category is hidden unless explicitly unmuted, either
// through a recent unmuted override or an explicit notification level above
// muted.
func (t *Tracker) mutedCategoryExclusionLocked(st models.TopicState) bool {
	if t.user == nil || st.CategoryID == nil {
		return false
	}
	if !t.user.CategoryMuted(*st.CategoryID) {
		return false
	}
	if t.unmutedOverrideActiveLocked(st.TopicID) {
		return false
	}
	if st.NotificationLevel != nil && *st.NotificationLevel > models.NotificationMuted {
		return false
	}
	return true
}

// categoryScopeLocked expands a category id into the set of ids the scope
// covers: the category itself plus, transitively, its subcategories.
func (t *Tracker) categoryScopeLocked(categoryID int, noSubcategories bool) map[int]struct{} {
	scope := map[int]struct{}{categoryID: {}}
	if noSubcategories {
		return scope
	}
	// Walk until fixpoint; category trees are shallow, so this terminates
	// after a couple of passes.
	for {
		grew := false
		for _, cat := range t.categories {
			if cat.ParentCategoryID == nil {
				continue
			}
			if _, ok := scope[*cat.ParentCategoryID]; !ok {
				continue
			}
			if _, ok := scope[cat.ID]; !ok {
				scope[cat.ID] = struct{}{}
				grew = true
			}
		}
		if !grew {
			return scope
		}
	}
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
