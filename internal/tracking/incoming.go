package tracking

import (
	"strconv"
	"strings"

	"github.com/driftwood-forum/driftwood/internal/models"
)

// filterKey is the parsed form of a topic list route like
// "c/support/billing/12/l/new" or "tag/release/l/latest". It scopes which
// incoming push messages count toward the "N new topics" banner.
type filterKey struct {
	name            string
	categoryID      int
	noSubcategories bool
	tag             string
}

// parseFilterKey understands the route shapes the UI tracks lists under:
//
//	latest | new | unread
//	c/<slug>[/<slug>...]/<id>[/none][/l/<name>]
//	tags/c/<slug>[/<slug>...]/<id>/<tag>[/l/<name>]
//	tag/<tag>[/l/<name>]
//
// Unknown keys degrade to a plain name match.
func parseFilterKey(key string) filterKey {
	key = strings.Trim(key, "/")
	parts := strings.Split(key, "/")
	if len(parts) == 0 || parts[0] == "" {
		return filterKey{name: "latest"}
	}

	switch parts[0] {
	case "latest", "new", "unread":
		return filterKey{name: parts[0]}
	case "c":
		return parseCategoryKey(parts[1:])
	case "tags":
		if len(parts) >= 2 && parts[1] == "c" {
			// tags/c/<slugs...>/<id>/<tag>[...]: the tag follows the id.
			return parseCategoryTagKey(parts[2:])
		}
		return filterKey{name: "latest"}
	case "tag":
		out := filterKey{name: "latest"}
		if len(parts) >= 2 {
			out.tag = parts[1]
		}
		if name, ok := sortSuffix(parts); ok {
			out.name = name
		}
		return out
	default:
		return filterKey{name: parts[0]}
	}
}

func parseCategoryKey(parts []string) filterKey {
	out := filterKey{name: "latest"}
	for i, part := range parts {
		// "none" appears either between the slugs and the id or right
		// after the id, depending on the route.
		if part == "none" {
			out.noSubcategories = true
			continue
		}
		if out.categoryID != 0 {
			continue
		}
		if id, err := strconv.Atoi(part); err == nil {
			out.categoryID = id
			if name, ok := sortSuffix(parts[i:]); ok {
				out.name = name
			}
		}
	}
	return out
}

func parseCategoryTagKey(parts []string) filterKey {
	out := filterKey{name: "latest"}
	for i, part := range parts {
		if id, err := strconv.Atoi(part); err == nil {
			out.categoryID = id
			if i+1 < len(parts) && parts[i+1] != "l" {
				out.tag = parts[i+1]
			}
			if name, ok := sortSuffix(parts[i:]); ok {
				out.name = name
			}
			break
		}
	}
	return out
}

func sortSuffix(parts []string) (string, bool) {
	for i, part := range parts {
		if part == "l" && i+1 < len(parts) {
			return parts[i+1], true
		}
	}
	return "", false
}

// TrackIncoming starts counting push-delivered topics against the list the
// user is currently looking at, identified by its filter key. Any previous
// incoming set is discarded.
func (t *Tracker) TrackIncoming(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.incomingActive = true
	t.trackedFilter = parseFilterKey(key)
	t.incoming = nil
	t.incomingSet = make(map[int]struct{})
}

// ResetIncomingTracking empties the incoming set while keeping tracking
// active, as when the user refreshes the list they are viewing.
func (t *Tracker) ResetIncomingTracking() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.incoming = nil
	t.incomingSet = make(map[int]struct{})
}

// StopIncomingTracking disables incoming tracking entirely, as when the
// user navigates away from topic lists.
func (t *Tracker) StopIncomingTracking() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.incomingActive = false
	t.incoming = nil
	t.incomingSet = make(map[int]struct{})
}

// ClearIncoming removes specific topics from the incoming set, as when the
// list absorbed them.
func (t *Tracker) ClearIncoming(topicIDs []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range topicIDs {
		if _, ok := t.incomingSet[id]; !ok {
			continue
		}
		delete(t.incomingSet, id)
		for i, existing := range t.incoming {
			if existing == id {
				t.incoming = append(t.incoming[:i], t.incoming[i+1:]...)
				break
			}
		}
	}
}

// HasIncoming reports whether any tracked incoming topics are pending.
func (t *Tracker) HasIncoming() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.incoming) > 0
}

// IncomingCount returns the number of pending incoming topics.
func (t *Tracker) IncomingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.incoming)
}

// IncomingIDs returns the pending incoming topic ids in arrival order.
func (t *Tracker) IncomingIDs() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.incoming...)
}

// notifyIncomingLocked checks a just-merged topic against the tracked
// filter and records it when it belongs on the list the user is watching.
// Returns true when the incoming set changed.
func (t *Tracker) notifyIncomingLocked(kind models.MessageKind, st models.TopicState) bool {
	if !t.incomingActive {
		return false
	}

	switch kind {
	case models.MessageKindNewTopic, models.MessageKindLatest:
		if t.trackedFilter.name != "new" && t.trackedFilter.name != "latest" {
			return false
		}
	case models.MessageKindUnread:
		if t.trackedFilter.name != "unread" && t.trackedFilter.name != "latest" {
			return false
		}
	default:
		return false
	}

	if t.trackedFilter.categoryID != 0 {
		if st.CategoryID == nil {
			return false
		}
		scope := t.categoryScopeLocked(t.trackedFilter.categoryID, t.trackedFilter.noSubcategories)
		if _, ok := scope[*st.CategoryID]; !ok {
			return false
		}
	}
	if t.trackedFilter.tag != "" && !hasTag(st.Tags, t.trackedFilter.tag) {
		return false
	}

	if _, ok := t.incomingSet[st.TopicID]; ok {
		return false
	}
	t.incomingSet[st.TopicID] = struct{}{}
	t.incoming = append(t.incoming, st.TopicID)
	return true
}
