// Package stream manages the ordered, windowed post stream of one open
// topic: chunked loading in both directions, gap filling for filtered
// views, an identity-mapped post cache, and the staged-post protocol for
// optimistic submissions.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftwood-forum/driftwood/internal/api"
	"github.com/driftwood-forum/driftwood/internal/models"
)

// DefaultChunkSize is how many posts load per window.
const DefaultChunkSize = 20

// Loader fetches topic views and post batches. *api.Client satisfies it.
type Loader interface {
	TopicView(ctx context.Context, topicID int, opts api.ViewOpts) (models.TopicView, error)
	PostsByIDs(ctx context.Context, topicID int, ids []int) ([]models.Post, error)
}

// Options configure a Stream.
type Options struct {
	Loader    Loader
	User      *models.User
	ChunkSize int
	Log       zerolog.Logger
}

// Stream owns the post sequence of one topic. The id stream is the
// authoritative ordering; loaded posts are a contiguous window of it,
// materialized through the identity map so every consumer holds the same
// instance per post id.
type Stream struct {
	mu     sync.Mutex
	topic  *models.Topic
	loader Loader
	user   *models.User
	log    zerolog.Logger

	chunkSize int

	streamIDs []int
	loaded    []*models.Post
	arena     map[int]*models.Post

	gapsBefore map[int][]int
	gapsAfter  map[int][]int

	// Active filters. Push-message triggers are suppressed while any is
	// set, since live-inserting into a filtered view would break it.
	userFilters        []string
	replyFilterPostID  int
	upwardFilterPostID int

	loadingBefore bool
	loadingAfter  bool

	// refreshEpoch guards against a stale response landing after a newer
	// refresh replaced the window.
	refreshEpoch int

	staged             *models.Post
	preStagePostsCount int
	preStageHighest    int
	preStageLastPosted time.Time
}

// NewStream creates the stream for a topic.
func NewStream(topic *models.Topic, opts Options) *Stream {
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	return &Stream{
		topic:      topic,
		loader:     opts.Loader,
		user:       opts.User,
		log:        opts.Log,
		chunkSize:  chunk,
		arena:      make(map[int]*models.Post),
		gapsBefore: make(map[int][]int),
		gapsAfter:  make(map[int][]int),
	}
}

// Topic returns the topic header this stream belongs to.
func (s *Stream) Topic() *models.Topic { return s.topic }

// StreamIDs returns a copy of the authoritative post id sequence.
func (s *Stream) StreamIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.streamIDs...)
}

// LoadedPosts returns the loaded window in stream order.
func (s *Stream) LoadedPosts() []*models.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Post(nil), s.loaded...)
}

// SetUserFilter restricts the stream to posts by the given usernames on the
// next refresh.
func (s *Stream) SetUserFilter(usernames []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userFilters = append([]string(nil), usernames...)
}

// SetReplyFilter restricts the stream to replies to the given post.
func (s *Stream) SetReplyFilter(postID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyFilterPostID = postID
}

// SetUpwardFilter restricts the stream to the reply chain above the given
// post.
func (s *Stream) SetUpwardFilter(postID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upwardFilterPostID = postID
}

func (s *Stream) hasFilterLocked() bool {
	return len(s.userFilters) > 0 || s.replyFilterPostID != 0 || s.upwardFilterPostID != 0
}

// HasFilter reports whether any user/reply/upward filter is active.
func (s *Stream) HasFilter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasFilterLocked()
}

// RefreshOpts control a Refresh call.
type RefreshOpts struct {
	// NearPost scrolls the window to the post with this post number.
	NearPost int
	// ForceLoad refetches even when the target is already loaded.
	ForceLoad bool
	// CancelFilter drops all active filters before fetching.
	CancelFilter bool
}

// Refresh loads or reloads the window around NearPost. When the target post
// is already loaded and no reload is forced, it is a pure scroll: no fetch
// happens. Fetch failures set the topic-level error state instead of
// leaving the stream half-updated; the error is also returned for callers
// that want it.
func (s *Stream) Refresh(ctx context.Context, opts RefreshOpts) error {
	s.mu.Lock()
	if opts.CancelFilter {
		s.userFilters = nil
		s.replyFilterPostID = 0
		s.upwardFilterPostID = 0
	}
	if !opts.ForceLoad && opts.NearPost != 0 && s.postNumberLoadedLocked(opts.NearPost) {
		s.mu.Unlock()
		return nil
	}
	s.refreshEpoch++
	epoch := s.refreshEpoch
	view := api.ViewOpts{
		NearPost:           opts.NearPost,
		UsernameFilters:    append([]string(nil), s.userFilters...),
		ReplyFilterPostID:  s.replyFilterPostID,
		UpwardFilterPostID: s.upwardFilterPostID,
	}
	topicID := s.topic.ID
	s.mu.Unlock()

	result, err := s.loader.TopicView(ctx, topicID, view)
	if err != nil {
		s.setErrorState(err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshEpoch != epoch {
		// A newer refresh replaced the window while this one was in
		// flight; drop the stale response.
		return nil
	}

	s.topic.ErrorLoading = false
	s.topic.ErrorMessage = ""
	s.topic.NoRetry = false
	s.topic.Title = result.Topic.Title
	s.topic.PostsCount = result.Topic.PostsCount
	s.topic.HighestPostNumber = result.Topic.HighestPostNumber
	if !result.Topic.LastPostedAt.IsZero() {
		s.topic.LastPostedAt = result.Topic.LastPostedAt
	}

	s.streamIDs = append([]int(nil), result.StreamIDs...)
	s.gapsBefore = make(map[int][]int, len(result.GapsBefore))
	for id, ids := range result.GapsBefore {
		s.gapsBefore[id] = append([]int(nil), ids...)
	}
	s.gapsAfter = make(map[int][]int, len(result.GapsAfter))
	for id, ids := range result.GapsAfter {
		s.gapsAfter[id] = append([]int(nil), ids...)
	}

	s.loaded = s.loaded[:0]
	for i := range result.Posts {
		s.loaded = append(s.loaded, s.storePostLocked(result.Posts[i]))
	}
	return nil
}

func (s *Stream) setErrorState(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topic.ErrorLoading = true
	s.topic.ErrorMessage = err.Error()
	s.topic.NoRetry = api.IsForbidden(err)
	s.log.Warn().Err(err).Int("topic_id", s.topic.ID).Msg("post stream load failed")
}

// StorePost is the sole mutation path into the identity map: when an entry
// for the post id exists, its fields are updated in place and the existing
// instance returned, keeping every outstanding reference valid. Storing a
// post with a higher post number than the topic knows advances the topic's
// highest post number.
func (s *Stream) StorePost(post models.Post) *models.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storePostLocked(post)
}

func (s *Stream) storePostLocked(post models.Post) *models.Post {
	if existing, ok := s.arena[post.ID]; ok {
		staged := existing.Staged
		*existing = post
		existing.Staged = staged
		s.advanceHighestLocked(post.PostNumber)
		return existing
	}
	stored := post
	s.arena[post.ID] = &stored
	s.advanceHighestLocked(post.PostNumber)
	return &stored
}

func (s *Stream) advanceHighestLocked(postNumber int) {
	if postNumber > s.topic.HighestPostNumber {
		s.topic.HighestPostNumber = postNumber
	}
}

// Post returns the identity-mapped instance for a post id.
func (s *Stream) Post(id int) (*models.Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.arena[id]
	return post, ok
}

func (s *Stream) postNumberLoadedLocked(postNumber int) bool {
	for _, post := range s.loaded {
		if post.PostNumber == postNumber {
			return true
		}
	}
	return false
}

// PostForPostNumber returns the loaded post with the given post number.
func (s *Stream) PostForPostNumber(postNumber int) (*models.Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, post := range s.loaded {
		if post.PostNumber == postNumber {
			return post, true
		}
	}
	return nil, false
}

// ProgressIndexOfPost returns the 1-based position of the post in the
// stream, the number shown on the topic progress indicator.
func (s *Stream) ProgressIndexOfPost(post *models.Post) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range s.streamIDs {
		if id == post.ID {
			return i + 1
		}
	}
	return 0
}
