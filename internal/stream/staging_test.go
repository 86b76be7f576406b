package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftwood-forum/driftwood/internal/models"
)

func newStagingStream(t *testing.T) *Stream {
	t.Helper()
	s := newTestStream(t, &fakeLoader{}, 20)
	s.topic.PostsCount = 2
	s.topic.HighestPostNumber = 2
	s.streamIDs = []int{10, 11}
	s.loaded = []*models.Post{
		s.StorePost(models.Post{ID: 10, PostNumber: 1}),
		s.StorePost(models.Post{ID: 11, PostNumber: 2}),
	}
	return s
}

func TestStream_StagePostInsertsSentinelAtTail(t *testing.T) {
	s := newStagingStream(t)
	author := &models.User{ID: 7, Username: "eel"}

	draft := &models.Post{Raw: "hi"}
	require.Equal(t, ResultStaged, s.StagePost(draft, author))

	require.Equal(t, StagedPostID, draft.ID)
	require.True(t, draft.Staged)
	require.Equal(t, 7, draft.UserID)
	require.Equal(t, "eel", draft.Username)
	require.Equal(t, 3, draft.PostNumber)
	require.Equal(t, 3, s.Topic().PostsCount)
	require.Equal(t, 3, s.Topic().HighestPostNumber)
	require.Equal(t, []int{10, 11, StagedPostID}, s.StreamIDs())

	staged, ok := s.Staged()
	require.True(t, ok)
	require.Equal(t, StagedPostID, staged.ID)
}

func TestStream_StagePostOffScreenStillAdvancesCounters(t *testing.T) {
	s := newStagingStream(t)
	s.loaded = s.loaded[:1] // window stops before the tail

	draft := &models.Post{Raw: "hi"}
	require.Equal(t, ResultOffScreen, s.StagePost(draft, nil))
	require.Equal(t, 3, s.Topic().PostsCount)
	require.Equal(t, []int{10, 11}, s.StreamIDs(), "off-screen posts are not rendered")

	_, ok := s.Staged()
	require.True(t, ok, "staging lock is held even off screen")
}

func TestStream_StagePostRejectsSecondSubmission(t *testing.T) {
	s := newStagingStream(t)
	require.Equal(t, ResultStaged, s.StagePost(&models.Post{Raw: "one"}, nil))
	require.Equal(t, ResultAlreadyStaging, s.StagePost(&models.Post{Raw: "two"}, nil))
}

func TestStream_CommitPostSwapsSentinelInPlace(t *testing.T) {
	s := newStagingStream(t)
	draft := &models.Post{Raw: "hi"}
	require.Equal(t, ResultStaged, s.StagePost(draft, nil))
	held, _ := s.Staged()

	committed := s.CommitPost(models.Post{ID: 42, TopicID: 1, PostNumber: 3, Raw: "hi"})

	require.Same(t, held, committed, "references held during staging stay valid")
	require.Equal(t, 42, held.ID)
	require.False(t, held.Staged)
	require.Equal(t, []int{10, 11, 42}, s.StreamIDs())

	_, ok := s.Post(StagedPostID)
	require.False(t, ok)
	got, ok := s.Post(42)
	require.True(t, ok)
	require.Same(t, held, got)

	_, stagedNow := s.Staged()
	require.False(t, stagedNow)
}

func TestStream_CommitPostWithoutStagingAppendsAtTail(t *testing.T) {
	s := newStagingStream(t)

	stored := s.CommitPost(models.Post{ID: 42, PostNumber: 3})
	require.Equal(t, []int{10, 11, 42}, s.StreamIDs())
	require.Equal(t, stored, s.LoadedPosts()[2])

	// Not loaded through the tail: the id is not spliced in.
	s2 := newStagingStream(t)
	s2.loaded = s2.loaded[:1]
	s2.CommitPost(models.Post{ID: 43, PostNumber: 3})
	require.Equal(t, []int{10, 11}, s2.StreamIDs())
}

func TestStream_UndoPostRestoresExactCounters(t *testing.T) {
	s := newStagingStream(t)
	lastPosted := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	s.topic.LastPostedAt = lastPosted

	draft := &models.Post{Raw: "hi"}
	require.Equal(t, ResultStaged, s.StagePost(draft, nil))

	s.UndoPost(draft)

	require.Equal(t, 2, s.Topic().PostsCount)
	require.Equal(t, 2, s.Topic().HighestPostNumber)
	require.Equal(t, lastPosted, s.Topic().LastPostedAt)
	require.Equal(t, []int{10, 11}, s.StreamIDs())
	require.Len(t, s.LoadedPosts(), 2)
	require.False(t, draft.Staged)

	_, ok := s.Post(StagedPostID)
	require.False(t, ok)
	_, stagedNow := s.Staged()
	require.False(t, stagedNow)
}

func TestStream_StagePostOnEmptyTopic(t *testing.T) {
	s := newTestStream(t, &fakeLoader{}, 20)

	draft := &models.Post{Raw: "first"}
	require.Equal(t, ResultStaged, s.StagePost(draft, nil), "an empty stream counts as loaded through the tail")
	require.Equal(t, 1, draft.PostNumber)
	require.Equal(t, []int{StagedPostID}, s.StreamIDs())
}
