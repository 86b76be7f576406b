package tracking

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftwood-forum/driftwood/internal/models"
)

func TestParseFilterKey(t *testing.T) {
	cases := []struct {
		key  string
		want filterKey
	}{
		{"latest", filterKey{name: "latest"}},
		{"new", filterKey{name: "new"}},
		{"unread", filterKey{name: "unread"}},
		{"", filterKey{name: "latest"}},
		{"c/support/12", filterKey{name: "latest", categoryID: 12}},
		{"c/support/12/l/new", filterKey{name: "new", categoryID: 12}},
		{"c/support/billing/12/l/unread", filterKey{name: "unread", categoryID: 12}},
		{"c/support/12/none", filterKey{name: "latest", categoryID: 12, noSubcategories: true}},
		{"c/support/12/none/l/new", filterKey{name: "new", categoryID: 12, noSubcategories: true}},
		{"c/support/none/12/l/new", filterKey{name: "new", categoryID: 12, noSubcategories: true}},
		{"tag/release", filterKey{name: "latest", tag: "release"}},
		{"tag/release/l/new", filterKey{name: "new", tag: "release"}},
		{"tags/c/support/12/release/l/unread", filterKey{name: "unread", categoryID: 12, tag: "release"}},
		{"tags/c/support/12/release", filterKey{name: "latest", categoryID: 12, tag: "release"}},
		{"top", filterKey{name: "top"}},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, parseFilterKey(tc.key), "key %q", tc.key)
	}
}

func TestTracker_IncomingBannerCountsMatchingTopics(t *testing.T) {
	tr, b := newTestTracker(t, Options{})
	require.NoError(t, tr.EstablishChannels(nil))

	tr.TrackIncoming("new")

	publish(t, b, models.ChannelNew, models.MessageKindNewTopic, 10, models.TopicPayload{
		HighestPostNumber: 1, CreatedInNewPeriod: true,
	})
	publish(t, b, models.UnreadChannel(99), models.MessageKindUnread, 11, models.TopicPayload{
		HighestPostNumber: 4,
	})

	// Only the new topic matches a "new" list; duplicates are ignored.
	publish(t, b, models.ChannelNew, models.MessageKindNewTopic, 10, models.TopicPayload{
		HighestPostNumber: 2, CreatedInNewPeriod: true,
	})

	require.Equal(t, 1, tr.IncomingCount())
	require.Equal(t, []int{10}, tr.IncomingIDs())
}

func TestTracker_IncomingBannerLatestMatchesBoth(t *testing.T) {
	tr, b := newTestTracker(t, Options{})
	require.NoError(t, tr.EstablishChannels(nil))

	tr.TrackIncoming("latest")

	publish(t, b, models.ChannelNew, models.MessageKindNewTopic, 10, models.TopicPayload{
		HighestPostNumber: 1, CreatedInNewPeriod: true,
	})
	publish(t, b, models.UnreadChannel(99), models.MessageKindUnread, 11, models.TopicPayload{
		HighestPostNumber: 4,
	})

	require.Equal(t, 2, tr.IncomingCount())
}

func TestTracker_IncomingBannerScopedByCategoryAndTag(t *testing.T) {
	categories := []models.Category{
		{ID: 1, Slug: "support"},
		{ID: 2, Slug: "billing", ParentCategoryID: intPatch(1)},
	}
	tr, b := newTestTracker(t, Options{Categories: categories})
	require.NoError(t, tr.EstablishChannels(nil))

	tr.TrackIncoming("c/support/1/l/new")

	inScope := 2
	outOfScope := 9
	publish(t, b, models.ChannelNew, models.MessageKindNewTopic, 10, models.TopicPayload{
		HighestPostNumber: 1, CreatedInNewPeriod: true, CategoryID: &inScope,
	})
	publish(t, b, models.ChannelNew, models.MessageKindNewTopic, 11, models.TopicPayload{
		HighestPostNumber: 1, CreatedInNewPeriod: true, CategoryID: &outOfScope,
	})

	require.Equal(t, []int{10}, tr.IncomingIDs())
}

func TestTracker_ClearAndResetIncoming(t *testing.T) {
	tr, b := newTestTracker(t, Options{})
	require.NoError(t, tr.EstablishChannels(nil))
	tr.TrackIncoming("new")

	for _, id := range []int{10, 11, 12} {
		publish(t, b, models.ChannelNew, models.MessageKindNewTopic, id, models.TopicPayload{
			HighestPostNumber: 1, CreatedInNewPeriod: true,
		})
	}
	require.Equal(t, 3, tr.IncomingCount())

	tr.ClearIncoming([]int{11})
	require.Equal(t, []int{10, 12}, tr.IncomingIDs())

	tr.ResetIncomingTracking()
	require.False(t, tr.HasIncoming())

	// Still tracking after a reset.
	publish(t, b, models.ChannelNew, models.MessageKindNewTopic, 13, models.TopicPayload{
		HighestPostNumber: 1, CreatedInNewPeriod: true,
	})
	require.Equal(t, 1, tr.IncomingCount())

	tr.StopIncomingTracking()
	publish(t, b, models.ChannelNew, models.MessageKindNewTopic, 14, models.TopicPayload{
		HighestPostNumber: 1, CreatedInNewPeriod: true,
	})
	require.False(t, tr.HasIncoming())
}
