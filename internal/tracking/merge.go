package tracking

import (
	"time"

	"github.com/driftwood-forum/driftwood/internal/models"
)

// StatePatch is a partial update to a tracking record. Bus payloads and list
// rows are deliberately partial, so every field is optional: nil means
// "leave the prior value alone". Field-wise the merge is last-write-wins,
// which keeps it commutative for message kinds that touch disjoint fields.
type StatePatch struct {
	LastReadPostNumber *int
	// ClearLastRead resets LastReadPostNumber to unset. It wins over
	// LastReadPostNumber when both are given.
	ClearLastRead bool

	HighestPostNumber  *int
	NotificationLevel  *models.NotificationLevel
	CategoryID         *int
	Tags               *[]string
	IsSeen             *bool
	Deleted            *bool
	CreatedInNewPeriod *bool
	IsCategoryTopic    *bool
	CreatedAt          *time.Time
	GroupIDs           *[]int
}

func intPatch(v int) *int                                             { return &v }
func boolPatch(v bool) *bool                                          { return &v }
func levelPatch(v models.NotificationLevel) *models.NotificationLevel { return &v }
func tagsPatch(v []string) *[]string                                  { return &v }

// MergePartial applies a patch on top of an existing record and returns the
// merged result. The old record is not mutated.
func MergePartial(old models.TopicState, patch StatePatch) models.TopicState {
	out := old.Clone()

	if patch.ClearLastRead {
		out.LastReadPostNumber = nil
	} else if patch.LastReadPostNumber != nil {
		v := *patch.LastReadPostNumber
		out.LastReadPostNumber = &v
	}
	if patch.HighestPostNumber != nil {
		out.HighestPostNumber = *patch.HighestPostNumber
	}
	if patch.NotificationLevel != nil {
		v := *patch.NotificationLevel
		out.NotificationLevel = &v
	}
	if patch.CategoryID != nil {
		v := *patch.CategoryID
		out.CategoryID = &v
	}
	if patch.Tags != nil {
		out.Tags = append([]string(nil), (*patch.Tags)...)
	}
	if patch.IsSeen != nil {
		out.IsSeen = *patch.IsSeen
	}
	if patch.Deleted != nil {
		out.Deleted = *patch.Deleted
	}
	if patch.CreatedInNewPeriod != nil {
		out.CreatedInNewPeriod = *patch.CreatedInNewPeriod
	}
	if patch.IsCategoryTopic != nil {
		out.IsCategoryTopic = *patch.IsCategoryTopic
	}
	if patch.CreatedAt != nil {
		out.CreatedAt = *patch.CreatedAt
	}
	if patch.GroupIDs != nil {
		out.GroupIDs = append([]int(nil), (*patch.GroupIDs)...)
	}
	return out
}

// snapshotPatch converts a full topic snapshot into a patch that overrides
// every field the snapshot carries. Used by LoadStates, where records are
// full rather than partial.
func snapshotPatch(st models.TopicState) StatePatch {
	p := StatePatch{
		HighestPostNumber:  intPatch(st.HighestPostNumber),
		IsSeen:             boolPatch(st.IsSeen),
		Deleted:            boolPatch(st.Deleted),
		CreatedInNewPeriod: boolPatch(st.CreatedInNewPeriod),
		IsCategoryTopic:    boolPatch(st.IsCategoryTopic),
	}
	if st.LastReadPostNumber != nil {
		p.LastReadPostNumber = intPatch(*st.LastReadPostNumber)
	} else {
		p.ClearLastRead = true
	}
	if st.NotificationLevel != nil {
		p.NotificationLevel = levelPatch(*st.NotificationLevel)
	}
	if st.CategoryID != nil {
		p.CategoryID = intPatch(*st.CategoryID)
	}
	if st.Tags != nil {
		p.Tags = tagsPatch(st.Tags)
	}
	if !st.CreatedAt.IsZero() {
		t := st.CreatedAt
		p.CreatedAt = &t
	}
	if st.GroupIDs != nil {
		ids := st.GroupIDs
		p.GroupIDs = &ids
	}
	return p
}
