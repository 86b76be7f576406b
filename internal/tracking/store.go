// Package tracking maintains the client-side belief about read, unread and
// new status for every topic the user has encountered. State arrives from
// three sources: initial bulk snapshots, push messages from the bus, and
// periodic topic list responses. All three are reconciled into one keyed
// store per tracker.
package tracking

import (
	"sort"

	"github.com/driftwood-forum/driftwood/internal/models"
)

// DefaultMaxTracked bounds the state store. Topics that become fully read
// during a list merge are evicted once the store is at the ceiling, keeping
// memory flat over a long session.
const DefaultMaxTracked = 4000

// stateStore is the keyed mapping from topic id to tracking record. It is
// not safe for concurrent use; the owning tracker serializes access.
type stateStore struct {
	states map[int]models.TopicState
}

func newStateStore() *stateStore {
	return &stateStore{states: make(map[int]models.TopicState)}
}

func (s *stateStore) get(topicID int) (models.TopicState, bool) {
	st, ok := s.states[topicID]
	return st, ok
}

func (s *stateStore) put(st models.TopicState) {
	s.states[st.TopicID] = st
}

func (s *stateStore) remove(topicID int) bool {
	if _, ok := s.states[topicID]; !ok {
		return false
	}
	delete(s.states, topicID)
	return true
}

func (s *stateStore) len() int { return len(s.states) }

// ids returns the tracked topic ids in ascending order. Sorted so that
// callers iterating the store behave deterministically.
func (s *stateStore) ids() []int {
	out := make([]int, 0, len(s.states))
	for id := range s.states {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// IsNew reports whether the record counts as a new topic: never read, not
// seen, created inside the new-topic window, and not muted below tracking.
func IsNew(st models.TopicState) bool {
	if st.LastReadPostNumber != nil || st.IsSeen || !st.CreatedInNewPeriod || st.Deleted {
		return false
	}
	if st.NotificationLevel == nil {
		// Unset defaults to the site's tracking behavior for new topics.
		return true
	}
	return *st.NotificationLevel >= models.NotificationTracking
}

// IsUnread reports whether the record counts as unread: partially read with
// more posts available, at tracking level or above.
func IsUnread(st models.TopicState) bool {
	if st.LastReadPostNumber == nil || st.Deleted {
		return false
	}
	if *st.LastReadPostNumber >= st.HighestPostNumber {
		return false
	}
	return st.NotificationLevel != nil && *st.NotificationLevel >= models.NotificationTracking
}

// IsNewOrUnread matches the combined "latest" predicate.
func IsNewOrUnread(st models.TopicState) bool {
	return IsNew(st) || IsUnread(st)
}
