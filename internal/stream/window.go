package stream

import (
	"context"
	"fmt"
)

// AppendMore loads the next window of posts after the loaded range. It is a
// no-op when a load is already running or nothing remains.
func (s *Stream) AppendMore(ctx context.Context) error {
	s.mu.Lock()
	if s.loadingAfter {
		s.mu.Unlock()
		return nil
	}
	ids := s.nextWindowLocked()
	if len(ids) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.loadingAfter = true
	topicID := s.topic.ID
	s.mu.Unlock()

	posts, err := s.loader.PostsByIDs(ctx, topicID, ids)

	s.mu.Lock()
	s.loadingAfter = false
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("append posts: %w", err)
	}
	for i := range posts {
		stored := s.storePostLocked(posts[i])
		if !s.loadedContainsLocked(stored.ID) {
			s.loaded = append(s.loaded, stored)
		}
	}
	s.mu.Unlock()
	return nil
}

// PrependMore loads the previous window of posts before the loaded range.
func (s *Stream) PrependMore(ctx context.Context) error {
	s.mu.Lock()
	if s.loadingBefore {
		s.mu.Unlock()
		return nil
	}
	ids := s.previousWindowLocked()
	if len(ids) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.loadingBefore = true
	topicID := s.topic.ID
	s.mu.Unlock()

	posts, err := s.loader.PostsByIDs(ctx, topicID, ids)

	s.mu.Lock()
	s.loadingBefore = false
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("prepend posts: %w", err)
	}
	// Build the new front in stream order, skipping anything already
	// loaded, then splice the existing window behind it.
	front := s.loaded
	prependedPosts := s.loaded[:0:0]
	for i := range posts {
		stored := s.storePostLocked(posts[i])
		if !s.loadedContainsLocked(stored.ID) {
			prependedPosts = append(prependedPosts, stored)
		}
	}
	s.loaded = append(prependedPosts, front...)
	s.mu.Unlock()
	return nil
}

// nextWindowLocked computes the ids of the next chunk after the last loaded
// post, following the authoritative stream order.
func (s *Stream) nextWindowLocked() []int {
	if len(s.streamIDs) == 0 {
		return nil
	}
	start := 0
	if len(s.loaded) > 0 {
		lastID := s.loaded[len(s.loaded)-1].ID
		idx := indexOf(s.streamIDs, lastID)
		if idx < 0 {
			return nil
		}
		start = idx + 1
	}
	end := start + s.chunkSize
	if end > len(s.streamIDs) {
		end = len(s.streamIDs)
	}
	if start >= end {
		return nil
	}
	return append([]int(nil), s.streamIDs[start:end]...)
}

// previousWindowLocked computes the ids of the chunk before the first
// loaded post.
func (s *Stream) previousWindowLocked() []int {
	if len(s.loaded) == 0 || len(s.streamIDs) == 0 {
		return nil
	}
	firstID := s.loaded[0].ID
	idx := indexOf(s.streamIDs, firstID)
	if idx <= 0 {
		return nil
	}
	start := idx - s.chunkSize
	if start < 0 {
		start = 0
	}
	return append([]int(nil), s.streamIDs[start:idx]...)
}

// FillGapBefore splices the hidden ids that precede the post back into the
// stream and loads them, resolving the gap.
func (s *Stream) FillGapBefore(ctx context.Context, postID int, gapIDs []int) error {
	return s.fillGap(ctx, postID, gapIDs, true)
}

// FillGapAfter splices the hidden ids that follow the post back into the
// stream and loads them.
func (s *Stream) FillGapAfter(ctx context.Context, postID int, gapIDs []int) error {
	return s.fillGap(ctx, postID, gapIDs, false)
}

func (s *Stream) fillGap(ctx context.Context, postID int, gapIDs []int, before bool) error {
	if len(gapIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	if indexOf(s.streamIDs, postID) < 0 {
		s.mu.Unlock()
		return fmt.Errorf("post %d not in stream", postID)
	}
	topicID := s.topic.ID
	s.mu.Unlock()

	// Fetch before touching the stream so a failed load leaves it intact
	// and the gap can simply be retried.
	posts, err := s.loader.PostsByIDs(ctx, topicID, gapIDs)
	if err != nil {
		return fmt.Errorf("fill gap: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := indexOf(s.streamIDs, postID)
	if idx < 0 {
		return fmt.Errorf("post %d not in stream", postID)
	}
	at := idx
	if !before {
		at = idx + 1
	}
	spliced := make([]int, 0, len(s.streamIDs)+len(gapIDs))
	spliced = append(spliced, s.streamIDs[:at]...)
	spliced = append(spliced, gapIDs...)
	spliced = append(spliced, s.streamIDs[at:]...)
	s.streamIDs = spliced

	filled := s.loaded[:0:0]
	for i := range posts {
		filled = append(filled, s.storePostLocked(posts[i]))
	}

	// Insert into the loaded window next to the anchor post, preserving
	// stream order.
	anchor := -1
	for i, post := range s.loaded {
		if post.ID == postID {
			anchor = i
			break
		}
	}
	if anchor >= 0 {
		at := anchor
		if !before {
			at = anchor + 1
		}
		rebuilt := append(append(append(s.loaded[:0:0], s.loaded[:at]...), filled...), s.loaded[at:]...)
		s.loaded = rebuilt
	}

	if before {
		delete(s.gapsBefore, postID)
	} else {
		delete(s.gapsAfter, postID)
	}
	return nil
}

// GapsBefore returns the unfetched ids hidden before the given loaded post.
func (s *Stream) GapsBefore(postID int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.gapsBefore[postID]...)
}

// GapsAfter returns the unfetched ids hidden after the given loaded post.
func (s *Stream) GapsAfter(postID int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.gapsAfter[postID]...)
}

// FindPostIDForPostNumber maps a post number onto the stream, counting gap
// entries: hidden posts occupy post-number slots without being in the
// primary sequence.
func (s *Stream) FindPostIDForPostNumber(postNumber int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := 0
	for _, id := range s.streamIDs {
		for _, gapID := range s.gapsBefore[id] {
			slot++
			if slot == postNumber {
				return gapID, true
			}
		}
		slot++
		if slot == postNumber {
			return id, true
		}
	}
	return 0, false
}

func (s *Stream) loadedContainsLocked(postID int) bool {
	for _, post := range s.loaded {
		if post.ID == postID {
			return true
		}
	}
	return false
}

func indexOf(ids []int, id int) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
