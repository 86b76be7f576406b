package stream

import (
	"time"

	"github.com/driftwood-forum/driftwood/internal/models"
)

// StagedPostID is the sentinel id carried by a provisional post until the
// server confirms it.
const StagedPostID = -1

// StageResult reports what StagePost did with the provisional post.
type StageResult string

const (
	// ResultStaged means the post was inserted at the stream tail and is
	// rendered immediately.
	ResultStaged StageResult = "staged"
	// ResultOffScreen means the stream is not loaded through its tail, so
	// the post is not rendered, but the topic counters still advanced.
	ResultOffScreen StageResult = "offScreen"
	// ResultAlreadyStaging rejects a second concurrent submission.
	ResultAlreadyStaging StageResult = "alreadyStaging"
)

// StagePost inserts a provisional post for an in-flight submission. Only
// one post may be staged at a time; a second attempt is rejected rather
// than queued.
func (s *Stream) StagePost(post *models.Post, user *models.User) StageResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged != nil {
		return ResultAlreadyStaging
	}

	s.preStagePostsCount = s.topic.PostsCount
	s.preStageHighest = s.topic.HighestPostNumber
	s.preStageLastPosted = s.topic.LastPostedAt

	post.ID = StagedPostID
	post.TopicID = s.topic.ID
	post.Staged = true
	if user != nil {
		post.UserID = user.ID
		post.Username = user.Username
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}

	s.topic.PostsCount++
	s.topic.HighestPostNumber++
	s.topic.LastPostedAt = post.CreatedAt
	post.PostNumber = s.topic.HighestPostNumber

	s.staged = post

	if !s.loadedThroughTailLocked() {
		return ResultOffScreen
	}

	stored := s.storePostLocked(*post)
	stored.Staged = true
	s.staged = stored
	s.streamIDs = append(s.streamIDs, StagedPostID)
	s.loaded = append(s.loaded, stored)
	return ResultStaged
}

// CommitPost swaps the sentinel for the confirmed post once the server has
// persisted it, releasing the staging lock.
func (s *Stream) CommitPost(post models.Post) *models.Post {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged != nil {
		delete(s.arena, StagedPostID)
		if idx := indexOf(s.streamIDs, StagedPostID); idx >= 0 {
			s.streamIDs[idx] = post.ID
		}
		// The staged instance becomes the committed one so references
		// held by the composer stay valid.
		staged := s.staged
		*staged = post
		staged.Staged = false
		s.arena[post.ID] = staged
		s.staged = nil
		return staged
	}

	stored := s.storePostLocked(post)
	if indexOf(s.streamIDs, post.ID) < 0 && s.loadedThroughTailLocked() {
		s.streamIDs = append(s.streamIDs, post.ID)
		s.loaded = append(s.loaded, stored)
	}
	return stored
}

// UndoPost removes the provisional post after a failed submission,
// restoring the topic counters to their exact pre-stage values.
func (s *Stream) UndoPost(post *models.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged == nil {
		return
	}

	delete(s.arena, StagedPostID)
	if idx := indexOf(s.streamIDs, StagedPostID); idx >= 0 {
		s.streamIDs = append(s.streamIDs[:idx], s.streamIDs[idx+1:]...)
	}
	for i, loaded := range s.loaded {
		if loaded.ID == StagedPostID {
			s.loaded = append(s.loaded[:i], s.loaded[i+1:]...)
			break
		}
	}

	s.topic.PostsCount = s.preStagePostsCount
	s.topic.HighestPostNumber = s.preStageHighest
	s.topic.LastPostedAt = s.preStageLastPosted
	post.Staged = false
	s.staged = nil
}

// Staged returns the currently staged post, if any.
func (s *Stream) Staged() (*models.Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staged, s.staged != nil
}

// loadedThroughTailLocked reports whether the loaded window reaches the end
// of the stream, i.e. appending renders immediately.
func (s *Stream) loadedThroughTailLocked() bool {
	if len(s.streamIDs) == 0 {
		return true
	}
	if len(s.loaded) == 0 {
		return false
	}
	return s.loaded[len(s.loaded)-1].ID == s.streamIDs[len(s.streamIDs)-1]
}
