package tracking

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftwood-forum/driftwood/internal/bus"
	"github.com/driftwood-forum/driftwood/internal/models"
)

func testUser() *models.User {
	return &models.User{ID: 99, Username: "eel"}
}

func newTestTracker(t *testing.T, opts Options) (*Tracker, *bus.Memory) {
	t.Helper()
	b := bus.NewMemory()
	if opts.Bus == nil {
		opts.Bus = b
	}
	if opts.User == nil {
		opts.User = testUser()
	}
	tr := NewTracker(opts)
	t.Cleanup(tr.Close)
	return tr, b
}

func publish(t *testing.T, b *bus.Memory, channel string, kind models.MessageKind, topicID int, payload models.Payload) {
	t.Helper()
	_, err := b.Publish(channel, kind, topicID, payload)
	require.NoError(t, err)
}

func TestTracker_LoadStatesNotifiesOnce(t *testing.T) {
	tr, _ := newTestTracker(t, Options{})

	calls := 0
	tr.OnStateChange(func() { calls++ })

	tr.LoadStates([]models.TopicState{
		newTopicState(1),
		newTopicState(2),
		newTopicState(3),
	})

	require.Equal(t, 3, tr.Size())
	require.Equal(t, 1, calls)

	// Reloading identical state changes nothing and stays silent.
	tr.LoadStates([]models.TopicState{newTopicState(1)})
	require.Equal(t, 1, calls)
}

func TestTracker_NewTopicMessageCreatesState(t *testing.T) {
	tr, b := newTestTracker(t, Options{})
	require.NoError(t, tr.EstablishChannels(nil))

	publish(t, b, models.ChannelNew, models.MessageKindNewTopic, 10, models.TopicPayload{
		HighestPostNumber:  1,
		CreatedInNewPeriod: true,
	})

	st, ok := tr.FindState(10)
	require.True(t, ok)
	require.True(t, IsNew(st))
	require.Equal(t, 1, tr.CountNew(CountOpts{}))
}

func TestTracker_NewTopicDefaultsHighestToOne(t *testing.T) {
	tr, b := newTestTracker(t, Options{})
	require.NoError(t, tr.EstablishChannels(nil))

	publish(t, b, models.ChannelNew, models.MessageKindNewTopic, 10, models.TopicPayload{
		CreatedInNewPeriod: true,
	})

	st, ok := tr.FindState(10)
	require.True(t, ok)
	require.Equal(t, 1, st.HighestPostNumber)
}

func TestTracker_UnreadMessageInfersDefaults(t *testing.T) {
	tr, b := newTestTracker(t, Options{})
	require.NoError(t, tr.EstablishChannels(nil))

	publish(t, b, models.UnreadChannel(99), models.MessageKindUnread, 10, models.TopicPayload{
		HighestPostNumber: 7,
	})

	st, ok := tr.FindState(10)
	require.True(t, ok)
	require.NotNil(t, st.LastReadPostNumber)
	require.Equal(t, 6, *st.LastReadPostNumber)
	require.NotNil(t, st.NotificationLevel)
	require.Equal(t, models.NotificationTracking, *st.NotificationLevel)
	require.True(t, IsUnread(st))
}

func TestTracker_UnreadMessageKeepsKnownValues(t *testing.T) {
	tr, b := newTestTracker(t, Options{})

	level := models.NotificationWatching
	tr.LoadStates([]models.TopicState{{
		TopicID:            10,
		LastReadPostNumber: intPatch(2),
		HighestPostNumber:  5,
		NotificationLevel:  &level,
	}})
	require.NoError(t, tr.EstablishChannels(nil))

	publish(t, b, models.UnreadChannel(99), models.MessageKindUnread, 10, models.TopicPayload{
		HighestPostNumber: 8,
	})

	st, ok := tr.FindState(10)
	require.True(t, ok)
	// Known values win over inferred defaults.
	require.Equal(t, 2, *st.LastReadPostNumber)
	require.Equal(t, models.NotificationWatching, *st.NotificationLevel)
	require.Equal(t, 8, st.HighestPostNumber)
}

func TestTracker_MuteOverrideSuppressesWithinWindow(t *testing.T) {
	tr, b := newTestTracker(t, Options{})
	now := time.Now()
	tr.now = func() time.Time { return now }
	require.NoError(t, tr.EstablishChannels(nil))

	publish(t, b, models.UnreadChannel(99), models.MessageKindMuted, 10, models.MutePayload{TopicID: 10})
	publish(t, b, models.ChannelNew, models.MessageKindNewTopic, 10, models.TopicPayload{
		HighestPostNumber:  1,
		CreatedInNewPeriod: true,
	})

	_, ok := tr.FindState(10)
	require.False(t, ok, "message for a just-muted topic must be dropped")

	// Past the override window the mute no longer applies.
	now = now.Add(DefaultMuteOverrideWindow + time.Second)
	publish(t, b, models.ChannelNew, models.MessageKindNewTopic, 10, models.TopicPayload{
		HighestPostNumber:  1,
		CreatedInNewPeriod: true,
	})
	_, ok = tr.FindState(10)
	require.True(t, ok)
}

func TestTracker_UnmutedOverrideBeatsMutedCategory(t *testing.T) {
	user := testUser()
	user.MutedCategoryIDs = []int{3}
	tr, b := newTestTracker(t, Options{User: user})
	require.NoError(t, tr.EstablishChannels(nil))

	categoryID := 3
	payload := models.TopicPayload{
		HighestPostNumber:  1,
		CreatedInNewPeriod: true,
		CategoryID:         &categoryID,
	}

	publish(t, b, models.ChannelNew, models.MessageKindNewTopic, 10, payload)
	_, ok := tr.FindState(10)
	require.False(t, ok, "muted category drops the message")

	publish(t, b, models.UnreadChannel(99), models.MessageKindUnmuted, 10, models.MutePayload{TopicID: 10})
	publish(t, b, models.ChannelNew, models.MessageKindNewTopic, 10, payload)
	_, ok = tr.FindState(10)
	require.True(t, ok, "unmuted override re-enables processing")
}

func TestTracker_MutedTagsPolicies(t *testing.T) {
	user := testUser()
	user.MutedTags = []string{"spam"}

	payload := models.TopicPayload{
		HighestPostNumber:  1,
		CreatedInNewPeriod: true,
		Tags:               []string{"spam", "meta"},
	}

	always, b := newTestTracker(t, Options{User: user, Settings: Settings{MutedTagsPolicy: MutedTagsPolicyAlways}})
	require.NoError(t, always.EstablishChannels(nil))
	publish(t, b, models.ChannelNew, models.MessageKindNewTopic, 10, payload)
	_, ok := always.FindState(10)
	require.False(t, ok, "always-policy drops on any muted tag")

	onlyMuted, b2 := newTestTracker(t, Options{User: user, Settings: Settings{MutedTagsPolicy: MutedTagsPolicyOnlyMuted}})
	require.NoError(t, onlyMuted.EstablishChannels(nil))
	publish(t, b2, models.ChannelNew, models.MessageKindNewTopic, 10, payload)
	_, ok = onlyMuted.FindState(10)
	require.True(t, ok, "only-muted policy keeps mixed-tag topics")

	publish(t, b2, models.ChannelNew, models.MessageKindNewTopic, 11, models.TopicPayload{
		HighestPostNumber:  1,
		CreatedInNewPeriod: true,
		Tags:               []string{"spam"},
	})
	_, ok = onlyMuted.FindState(11)
	require.False(t, ok, "only-muted policy drops when every tag is muted")
}

func TestTracker_DismissNewMarksSeen(t *testing.T) {
	tr, b := newTestTracker(t, Options{})
	tr.LoadStates([]models.TopicState{newTopicState(1), newTopicState(2)})
	require.NoError(t, tr.EstablishChannels(nil))
	require.Equal(t, 2, tr.CountNew(CountOpts{}))

	publish(t, b, models.UnreadChannel(99), models.MessageKindDismissNew, 0, models.DismissPayload{TopicIDs: []int{1}})

	require.Equal(t, 1, tr.CountNew(CountOpts{}))
	st, _ := tr.FindState(1)
	require.True(t, st.IsSeen)
}

func TestTracker_DismissNewPostsCatchesUp(t *testing.T) {
	tr, b := newTestTracker(t, Options{})
	tr.LoadStates([]models.TopicState{{
		TopicID:            1,
		LastReadPostNumber: intPatch(2),
		HighestPostNumber:  9,
		NotificationLevel:  levelPatch(models.NotificationTracking),
	}})
	require.NoError(t, tr.EstablishChannels(nil))
	require.Equal(t, 1, tr.CountUnread(CountOpts{}))

	publish(t, b, models.UnreadChannel(99), models.MessageKindDismissNewPosts, 0, models.DismissPayload{TopicIDs: []int{1}})

	require.Equal(t, 0, tr.CountUnread(CountOpts{}))
	st, _ := tr.FindState(1)
	require.Equal(t, 9, *st.LastReadPostNumber)
}

func TestTracker_DeleteRecoverDestroy(t *testing.T) {
	var destroyed []int
	tr, b := newTestTracker(t, Options{
		OnDestroyedWhileViewing: func(topicID int) { destroyed = append(destroyed, topicID) },
	})
	tr.LoadStates([]models.TopicState{newTopicState(1)})
	require.NoError(t, tr.EstablishChannels(nil))

	publish(t, b, models.ChannelDelete, models.MessageKindDelete, 1, models.DeletePayload{TopicID: 1})
	st, _ := tr.FindState(1)
	require.True(t, st.Deleted)
	require.Equal(t, 0, tr.CountNew(CountOpts{}))

	publish(t, b, models.ChannelRecover, models.MessageKindRecover, 1, models.DeletePayload{TopicID: 1})
	st, _ = tr.FindState(1)
	require.False(t, st.Deleted)

	tr.SetViewingTopic(1)
	publish(t, b, models.ChannelDestroy, models.MessageKindDestroy, 1, models.DeletePayload{TopicID: 1})
	_, ok := tr.FindState(1)
	require.False(t, ok)
	require.Equal(t, []int{1}, destroyed)
}

func TestTracker_ResumeReplaysHistory(t *testing.T) {
	b := bus.NewMemory()
	publish(t, b, models.ChannelNew, models.MessageKindNewTopic, 10, models.TopicPayload{
		HighestPostNumber:  1,
		CreatedInNewPeriod: true,
	})

	tr, _ := newTestTracker(t, Options{Bus: b})
	require.NoError(t, tr.EstablishChannels(map[string]bus.Position{
		models.ChannelNew: {Seq: 0},
	}))

	_, ok := tr.FindState(10)
	require.True(t, ok, "message published before subscribing must replay from the resume position")
}

func TestTracker_NewOnlySkipsHistory(t *testing.T) {
	b := bus.NewMemory()
	publish(t, b, models.ChannelNew, models.MessageKindNewTopic, 10, models.TopicPayload{
		HighestPostNumber:  1,
		CreatedInNewPeriod: true,
	})

	tr, _ := newTestTracker(t, Options{Bus: b})
	require.NoError(t, tr.EstablishChannels(nil))

	_, ok := tr.FindState(10)
	require.False(t, ok)
}

func TestTracker_PositionsRecorded(t *testing.T) {
	tr, b := newTestTracker(t, Options{})
	require.NoError(t, tr.EstablishChannels(nil))

	publish(t, b, models.ChannelNew, models.MessageKindNewTopic, 10, models.TopicPayload{
		HighestPostNumber: 1, CreatedInNewPeriod: true,
	})
	publish(t, b, models.ChannelNew, models.MessageKindNewTopic, 11, models.TopicPayload{
		HighestPostNumber: 1, CreatedInNewPeriod: true,
	})

	positions := tr.Positions()
	require.Equal(t, int64(2), positions[models.ChannelNew].Seq)
}

func TestTracker_SyncUnseenClearsLastRead(t *testing.T) {
	tr, _ := newTestTracker(t, Options{})
	tr.LoadStates([]models.TopicState{{
		TopicID:            1,
		LastReadPostNumber: intPatch(4),
		HighestPostNumber:  4,
	}})

	tr.Sync(models.TopicList{Topics: []models.TopicListItem{{
		ID:                 1,
		HighestPostNumber:  6,
		IsSeen:             false,
		CreatedInNewPeriod: true,
	}}}, "latest", nil)

	st, _ := tr.FindState(1)
	require.Nil(t, st.LastReadPostNumber)
	require.True(t, IsNew(st))
}

func TestTracker_SyncUnreadPostsComputesLastRead(t *testing.T) {
	tr, _ := newTestTracker(t, Options{})

	tr.Sync(models.TopicList{Topics: []models.TopicListItem{{
		ID:                1,
		HighestPostNumber: 10,
		UnreadPosts:       intPatch(3),
		IsSeen:            true,
		NotificationLevel: levelPatch(models.NotificationTracking),
	}}}, "latest", nil)

	st, _ := tr.FindState(1)
	require.Equal(t, 7, *st.LastReadPostNumber)
	require.True(t, IsUnread(st))
}

func TestTracker_SyncEvictsFullyReadAtCeiling(t *testing.T) {
	tr, _ := newTestTracker(t, Options{Settings: Settings{MaxTracked: 2}})
	tr.LoadStates([]models.TopicState{newTopicState(1), newTopicState(2)})
	require.Equal(t, 2, tr.Size())

	// A fully read row at the ceiling is evicted rather than retained.
	tr.Sync(models.TopicList{Topics: []models.TopicListItem{{
		ID:                1,
		HighestPostNumber: 5,
		IsSeen:            true,
	}}}, "latest", nil)

	require.Equal(t, 1, tr.Size())
	_, ok := tr.FindState(1)
	require.False(t, ok)

	// Below the ceiling the fully read record is kept.
	tr.Sync(models.TopicList{Topics: []models.TopicListItem{{
		ID:                2,
		HighestPostNumber: 5,
		IsSeen:            true,
	}}}, "latest", nil)
	st, ok := tr.FindState(2)
	require.True(t, ok)
	require.Equal(t, 5, *st.LastReadPostNumber)
}

func TestTracker_SyncCompensationMarksAbsentTopics(t *testing.T) {
	tr, _ := newTestTracker(t, Options{})
	tr.LoadStates([]models.TopicState{
		{TopicID: 1, LastReadPostNumber: intPatch(2), HighestPostNumber: 5,
			NotificationLevel: levelPatch(models.NotificationTracking)},
		newTopicState(2),
	})
	require.Equal(t, 1, tr.CountUnread(CountOpts{}))
	require.Equal(t, 1, tr.CountNew(CountOpts{}))

	// A complete unread list without topic 1 proves it is read.
	tr.Sync(models.TopicList{}, "unread", nil)
	require.Equal(t, 0, tr.CountUnread(CountOpts{}))
	require.Equal(t, 1, tr.CountNew(CountOpts{}), "new topics are untouched by unread compensation")

	// A complete new list without topic 2 proves it was seen.
	tr.Sync(models.TopicList{}, "new", nil)
	require.Equal(t, 0, tr.CountNew(CountOpts{}))
}

func TestTracker_SyncCompensationSkippedWhenPaginated(t *testing.T) {
	tr, _ := newTestTracker(t, Options{})
	tr.LoadStates([]models.TopicState{
		{TopicID: 1, LastReadPostNumber: intPatch(2), HighestPostNumber: 5,
			NotificationLevel: levelPatch(models.NotificationTracking)},
	})

	tr.Sync(models.TopicList{MoreTopicsURL: "/unread?page=2"}, "unread", nil)
	require.Equal(t, 1, tr.CountUnread(CountOpts{}), "absence from a paginated list proves nothing")
}

func TestTracker_SyncCompensationSkippedWithExtraParams(t *testing.T) {
	tr, _ := newTestTracker(t, Options{})
	tr.LoadStates([]models.TopicState{
		{TopicID: 1, LastReadPostNumber: intPatch(2), HighestPostNumber: 5,
			NotificationLevel: levelPatch(models.NotificationTracking)},
	})

	tr.Sync(models.TopicList{}, "unread", url.Values{"tags": []string{"meta"}})
	require.Equal(t, 1, tr.CountUnread(CountOpts{}))

	// Sort-only params keep the list authoritative.
	tr.Sync(models.TopicList{}, "unread", url.Values{"order": []string{"activity"}, "ascending": []string{"true"}})
	require.Equal(t, 0, tr.CountUnread(CountOpts{}))
}

func TestTracker_CategoryCountsIncludeSubcategories(t *testing.T) {
	categories := []models.Category{
		{ID: 1, Slug: "support"},
		{ID: 2, Slug: "billing", ParentCategoryID: intPatch(1)},
		{ID: 3, Slug: "deep", ParentCategoryID: intPatch(2)},
	}
	tr, _ := newTestTracker(t, Options{Categories: categories})

	inSub := newTopicState(10)
	inSub.CategoryID = intPatch(3)
	elsewhere := newTopicState(11)
	elsewhere.CategoryID = intPatch(4)
	tr.LoadStates([]models.TopicState{inSub, elsewhere})

	require.Equal(t, 1, tr.CountNew(CountOpts{CategoryID: 1}))
	require.Equal(t, 0, tr.CountNew(CountOpts{CategoryID: 1, NoSubcategories: true}))
	require.Equal(t, 2, tr.CountNew(CountOpts{}))
}

func TestTracker_MutedCategoryExcludedFromNewCount(t *testing.T) {
	user := testUser()
	user.MutedCategoryIDs = []int{7}
	tr, _ := newTestTracker(t, Options{User: user})

	muted := newTopicState(1)
	muted.CategoryID = intPatch(7)
	unmutedByLevel := newTopicState(2)
	unmutedByLevel.CategoryID = intPatch(7)
	unmutedByLevel.NotificationLevel = levelPatch(models.NotificationWatching)
	unread := models.TopicState{
		TopicID: 3, CategoryID: intPatch(7),
		LastReadPostNumber: intPatch(1), HighestPostNumber: 4,
		NotificationLevel: levelPatch(models.NotificationTracking),
	}
	tr.LoadStates([]models.TopicState{muted, unmutedByLevel, unread})

	require.Equal(t, 1, tr.CountNew(CountOpts{}), "explicit level above muted overrides the category mute")
	require.Equal(t, 1, tr.CountUnread(CountOpts{}), "unread counts ignore category mutes")
}

func TestTracker_LookupCountNewNewView(t *testing.T) {
	user := testUser()
	user.NewNewView = true
	tr, _ := newTestTracker(t, Options{User: user})
	tr.LoadStates([]models.TopicState{
		newTopicState(1),
		{TopicID: 2, LastReadPostNumber: intPatch(1), HighestPostNumber: 4,
			NotificationLevel: levelPatch(models.NotificationTracking)},
	})

	require.Equal(t, 2, tr.LookupCount(LookupOpts{Type: "new"}))
	require.Equal(t, 2, tr.LookupCount(LookupOpts{Type: "latest"}))
	require.Equal(t, 1, tr.LookupCount(LookupOpts{Type: "unread"}))
}

func TestSettings_Defaults(t *testing.T) {
	s := Settings{}.withDefaults()

	require.Equal(t, DefaultMaxTracked, s.MaxTracked)
	require.Equal(t, DefaultMuteOverrideWindow, s.MuteOverrideWindow)
	require.Equal(t, MutedTagsPolicyOnlyMuted, s.MutedTagsPolicy, "library default must match the config default")
}
