package tracking

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftwood-forum/driftwood/internal/models"
)

func newTopicState(topicID int) models.TopicState {
	return models.TopicState{
		TopicID:            topicID,
		HighestPostNumber:  5,
		CreatedInNewPeriod: true,
	}
}

func TestIsNew_RequiresNeverReadAndUnseen(t *testing.T) {
	st := newTopicState(1)
	require.True(t, IsNew(st))

	read := st.Clone()
	read.LastReadPostNumber = intPatch(2)
	require.False(t, IsNew(read))

	seen := st.Clone()
	seen.IsSeen = true
	require.False(t, IsNew(seen))

	old := st.Clone()
	old.CreatedInNewPeriod = false
	require.False(t, IsNew(old))

	deleted := st.Clone()
	deleted.Deleted = true
	require.False(t, IsNew(deleted))
}

func TestIsNew_MutedLevelExcludes(t *testing.T) {
	st := newTopicState(1)
	st.NotificationLevel = levelPatch(models.NotificationMuted)
	require.False(t, IsNew(st))

	st.NotificationLevel = levelPatch(models.NotificationRegular)
	require.False(t, IsNew(st))

	st.NotificationLevel = levelPatch(models.NotificationTracking)
	require.True(t, IsNew(st))

	// Unset level counts as new; the server only pushes new topics the
	// user would track.
	st.NotificationLevel = nil
	require.True(t, IsNew(st))
}

func TestIsUnread_RequiresPartialReadAndTrackingLevel(t *testing.T) {
	st := newTopicState(1)
	st.LastReadPostNumber = intPatch(3)
	st.NotificationLevel = levelPatch(models.NotificationTracking)
	require.True(t, IsUnread(st))

	caughtUp := st.Clone()
	caughtUp.LastReadPostNumber = intPatch(5)
	require.False(t, IsUnread(caughtUp))

	regular := st.Clone()
	regular.NotificationLevel = levelPatch(models.NotificationRegular)
	require.False(t, IsUnread(regular))

	noLevel := st.Clone()
	noLevel.NotificationLevel = nil
	require.False(t, IsUnread(noLevel))

	neverRead := st.Clone()
	neverRead.LastReadPostNumber = nil
	require.False(t, IsUnread(neverRead))
}

func TestIsNewAndIsUnread_MutuallyExclusive(t *testing.T) {
	states := []models.TopicState{
		newTopicState(1),
		{TopicID: 2, LastReadPostNumber: intPatch(1), HighestPostNumber: 5,
			NotificationLevel: levelPatch(models.NotificationTracking)},
		{TopicID: 3, LastReadPostNumber: intPatch(5), HighestPostNumber: 5,
			NotificationLevel: levelPatch(models.NotificationTracking)},
		{TopicID: 4, IsSeen: true, HighestPostNumber: 5},
	}
	for _, st := range states {
		require.False(t, IsNew(st) && IsUnread(st), "topic %d counted twice", st.TopicID)
	}
}

func TestStateStore_IDsSorted(t *testing.T) {
	s := newStateStore()
	for _, id := range []int{9, 1, 5} {
		s.put(models.TopicState{TopicID: id})
	}
	require.Equal(t, []int{1, 5, 9}, s.ids())
}
