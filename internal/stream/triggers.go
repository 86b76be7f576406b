package stream

import (
	"context"
	"time"
)

// TriggerNewPostsInStream handles a live "new posts" notification: the ids
// are appended to the stream and, when the window already reaches the tail,
// fetched and rendered. Suppressed while a filter is active because the new
// posts may not belong to the filtered view.
func (s *Stream) TriggerNewPostsInStream(ctx context.Context, postIDs []int) error {
	s.mu.Lock()
	if s.hasFilterLocked() {
		s.mu.Unlock()
		return nil
	}
	var fresh []int
	for _, id := range postIDs {
		if indexOf(s.streamIDs, id) < 0 {
			fresh = append(fresh, id)
		}
	}
	if len(fresh) == 0 {
		s.mu.Unlock()
		return nil
	}
	atTail := s.loadedThroughTailLocked()
	s.streamIDs = append(s.streamIDs, fresh...)
	topicID := s.topic.ID
	s.mu.Unlock()

	if !atTail {
		return nil
	}

	posts, err := s.loader.PostsByIDs(ctx, topicID, fresh)
	if err != nil {
		s.log.Warn().Err(err).Int("topic_id", topicID).Msg("live post fetch failed")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range posts {
		stored := s.storePostLocked(posts[i])
		if !s.loadedContainsLocked(stored.ID) {
			s.loaded = append(s.loaded, stored)
		}
	}
	return nil
}

// TriggerChangedPost refetches a post after an edit notification. The
// updatedAt timestamp is compared against the cached instance so repeated
// notifications for the same revision do not refetch.
func (s *Stream) TriggerChangedPost(ctx context.Context, postID int, updatedAt time.Time) error {
	s.mu.Lock()
	if s.hasFilterLocked() {
		s.mu.Unlock()
		return nil
	}
	existing, ok := s.arena[postID]
	if !ok || existing.UpdatedAt.Equal(updatedAt) {
		s.mu.Unlock()
		return nil
	}
	topicID := s.topic.ID
	s.mu.Unlock()

	posts, err := s.loader.PostsByIDs(ctx, topicID, []int{postID})
	if err != nil {
		s.log.Warn().Err(err).Int("post_id", postID).Msg("changed post fetch failed")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range posts {
		s.storePostLocked(posts[i])
	}
	return nil
}

// TriggerDeletedPost marks a post deleted in place. The post stays in the
// stream so the UI can render a deleted placeholder.
func (s *Stream) TriggerDeletedPost(postID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasFilterLocked() {
		return
	}
	if post, ok := s.arena[postID]; ok {
		post.Deleted = true
	}
}

// TriggerRecoveredPost refetches a post after an undelete notification.
func (s *Stream) TriggerRecoveredPost(ctx context.Context, postID int) error {
	s.mu.Lock()
	if s.hasFilterLocked() {
		s.mu.Unlock()
		return nil
	}
	topicID := s.topic.ID
	s.mu.Unlock()

	posts, err := s.loader.PostsByIDs(ctx, topicID, []int{postID})
	if err != nil {
		s.log.Warn().Err(err).Int("post_id", postID).Msg("recovered post fetch failed")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range posts {
		stored := s.storePostLocked(posts[i])
		stored.Deleted = false
	}
	return nil
}

// TriggerDestroyedPost removes a permanently destroyed post from the
// stream, the loaded window and the identity map.
func (s *Stream) TriggerDestroyedPost(postID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasFilterLocked() {
		return
	}
	if idx := indexOf(s.streamIDs, postID); idx >= 0 {
		s.streamIDs = append(s.streamIDs[:idx], s.streamIDs[idx+1:]...)
	}
	for i, post := range s.loaded {
		if post.ID == postID {
			s.loaded = append(s.loaded[:i], s.loaded[i+1:]...)
			break
		}
	}
	delete(s.arena, postID)
}
