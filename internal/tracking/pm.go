package tracking

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/driftwood-forum/driftwood/internal/bus"
	"github.com/driftwood-forum/driftwood/internal/models"
)

// Inbox partitions for private-message counting.
const (
	PMInboxUser  = "user"
	PMInboxGroup = "group"
	PMInboxAll   = "all"
)

// PMOptions configure a PMTracker.
type PMOptions struct {
	Bus  bus.Bus
	User *models.User
	Log  zerolog.Logger
	// Bootstrap loads the initial bulk PM state after the channels are
	// open, so no window exists where a push message could be missed.
	// Optional.
	Bootstrap func() ([]models.TopicState, error)
}

// PMTracker mirrors Tracker for private messages: one per-user channel plus
// one channel per messaging-enabled group, with counts partitioned into
// personal and group inboxes.
type PMTracker struct {
	mu   sync.Mutex
	bus  bus.Bus
	user *models.User
	log  zerolog.Logger

	bootstrap func() ([]models.TopicState, error)

	store      *stateStore
	isTracking bool
	subs       []bus.Subscription

	incomingActive bool
	trackedInbox   string
	trackedFilter  string
	trackedGroup   string
	incoming       []int
	incomingSet    map[int]struct{}

	callbacks map[Token]func()
	nextToken Token
}

// NewPMTracker creates a private-message tracker.
func NewPMTracker(opts PMOptions) *PMTracker {
	return &PMTracker{
		bus:         opts.Bus,
		user:        opts.User,
		log:         opts.Log,
		bootstrap:   opts.Bootstrap,
		store:       newStateStore(),
		incomingSet: make(map[int]struct{}),
		callbacks:   make(map[Token]func()),
	}
}

// StartTracking subscribes to the per-user channel and one channel per
// messaging-enabled group, then loads the initial bulk state. Idempotent.
func (t *PMTracker) StartTracking() error {
	t.mu.Lock()
	if t.isTracking {
		t.mu.Unlock()
		return nil
	}
	t.isTracking = true
	t.mu.Unlock()

	channels := []string{models.PMUserChannel(t.user.ID)}
	for _, group := range t.user.Groups {
		if group.HasMessages {
			channels = append(channels, models.PMGroupChannel(group.ID))
		}
	}

	for _, channel := range channels {
		sub, err := t.bus.Subscribe(channel, bus.NewOnlyPosition(), t.handleMessage)
		if err != nil {
			t.teardownSubs()
			return fmt.Errorf("start pm tracking on %s: %w", channel, err)
		}
		t.mu.Lock()
		t.subs = append(t.subs, sub)
		t.mu.Unlock()
	}

	if t.bootstrap != nil {
		states, err := t.bootstrap()
		if err != nil {
			return fmt.Errorf("load pm state: %w", err)
		}
		t.LoadStates(states)
	}
	return nil
}

// Close unsubscribes everything.
func (t *PMTracker) Close() {
	t.teardownSubs()
	t.mu.Lock()
	t.callbacks = make(map[Token]func())
	t.mu.Unlock()
}

func (t *PMTracker) teardownSubs() {
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.isTracking = false
	t.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}

// LoadStates bulk-merges full PM topic snapshots.
func (t *PMTracker) LoadStates(states []models.TopicState) {
	t.mu.Lock()
	changed := false
	for _, st := range states {
		if st.TopicID == 0 {
			continue
		}
		old, ok := t.store.get(st.TopicID)
		if !ok {
			old = models.TopicState{TopicID: st.TopicID}
		}
		merged := MergePartial(old, snapshotPatch(st))
		if ok && merged.Equal(old) {
			continue
		}
		t.store.put(merged)
		changed = true
	}
	t.mu.Unlock()
	if changed {
		t.notifyStateChange()
	}
}

// OnStateChange registers a change callback; the token unregisters it.
func (t *PMTracker) OnStateChange(fn func()) Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextToken++
	token := t.nextToken
	t.callbacks[token] = fn
	return token
}

// OffStateChange removes a callback.
func (t *PMTracker) OffStateChange(token Token) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.callbacks, token)
}

func (t *PMTracker) notifyStateChange() {
	t.mu.Lock()
	callbacks := make([]func(), 0, len(t.callbacks))
	for _, fn := range t.callbacks {
		callbacks = append(callbacks, fn)
	}
	t.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

// PMCountOpts scope a private-message count to an inbox partition.
type PMCountOpts struct {
	// InboxFilter is "user", "group", or "all".
	InboxFilter string
	// GroupName selects the group when InboxFilter is "group".
	GroupName string
}

// LookupCount counts PM topics matching the new/unread predicate for kind
// and the inbox partition predicate.
func (t *PMTracker) LookupCount(kind string, opts PMCountOpts) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var predicate func(models.TopicState) bool
	switch kind {
	case "new":
		predicate = pmIsNew
	case "unread":
		predicate = IsUnread
	default:
		return 0
	}

	count := 0
	for _, st := range t.store.states {
		if !predicate(st) {
			continue
		}
		if !t.inboxMatchesLocked(st, opts.InboxFilter, opts.GroupName) {
			continue
		}
		count++
	}
	return count
}

// pmIsNew is the private-message "new" predicate: never read. PMs have no
// new-topic window or category muting.
func pmIsNew(st models.TopicState) bool {
	return st.LastReadPostNumber == nil && !st.Deleted
}

// inboxMatchesLocked implements the partition predicates: a personal topic
// has no group recipients the user belongs to; a group topic must carry the
// selected group's id.
func (t *PMTracker) inboxMatchesLocked(st models.TopicState, inbox, groupName string) bool {
	switch inbox {
	case PMInboxUser:
		for _, groupID := range st.GroupIDs {
			if t.user.InGroup(groupID) {
				return false
			}
		}
		return true
	case PMInboxGroup:
		group, ok := t.findGroupLocked(groupName)
		if !ok {
			return false
		}
		for _, groupID := range st.GroupIDs {
			if groupID == group.ID {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func (t *PMTracker) findGroupLocked(name string) (models.Group, bool) {
	for _, group := range t.user.Groups {
		if group.Name == name {
			return group, true
		}
	}
	return models.Group{}, false
}

// TrackIncoming starts counting arriving PM topics against the inbox and
// filter the user is viewing.
func (t *PMTracker) TrackIncoming(inbox, filter, group string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.incomingActive = true
	t.trackedInbox = inbox
	t.trackedFilter = filter
	t.trackedGroup = group
	t.incoming = nil
	t.incomingSet = make(map[int]struct{})
}

// ResetIncomingTracking empties the incoming set, keeping tracking active.
func (t *PMTracker) ResetIncomingTracking() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.incoming = nil
	t.incomingSet = make(map[int]struct{})
}

// StopIncomingTracking disables incoming tracking.
func (t *PMTracker) StopIncomingTracking() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.incomingActive = false
	t.incoming = nil
	t.incomingSet = make(map[int]struct{})
}

// HasIncoming reports whether any incoming PM topics are pending.
func (t *PMTracker) HasIncoming() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.incoming) > 0
}

// IncomingCount returns the number of pending incoming PM topics.
func (t *PMTracker) IncomingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.incoming)
}

func (t *PMTracker) handleMessage(msg models.Message) {
	switch payload := msg.Payload.(type) {
	case models.TopicPayload:
		t.processTopicPayload(msg.Kind, msg.TopicID, payload)
	case models.GroupArchivePayload:
		t.processGroupArchive(msg.TopicID, payload)
	default:
		t.log.Debug().Str("kind", string(msg.Kind)).Str("channel", msg.Channel).
			Msg("ignoring pm message kind")
	}
}

func (t *PMTracker) processTopicPayload(kind models.MessageKind, topicID int, payload models.TopicPayload) {
	t.mu.Lock()
	old, existed := t.store.get(topicID)
	if !existed {
		old = models.TopicState{TopicID: topicID}
	}

	var patch StatePatch
	switch kind {
	case models.MessageKindNewTopic:
		patch = fullTopicPatch(payload)
	case models.MessageKindUnread, models.MessageKindRead:
		patch = partialTopicPatch(old, payload)
	default:
		t.mu.Unlock()
		return
	}

	merged := MergePartial(old, patch)
	changed := !existed || !merged.Equal(old)
	if changed {
		t.store.put(merged)
	}
	if t.notifyIncomingLocked(kind, merged) {
		changed = true
	}
	t.mu.Unlock()

	if changed {
		t.notifyStateChange()
	}
}

// processGroupArchive records an incoming banner entry when someone else
// archives into the group inbox the user is watching. The main store is not
// touched; the topic list refresh carries the authoritative change.
func (t *PMTracker) processGroupArchive(topicID int, payload models.GroupArchivePayload) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.incomingActive || t.trackedFilter != "archive" {
		return
	}
	if payload.ActingUserID == t.user.ID {
		return
	}
	group, ok := t.findGroupLocked(t.trackedGroup)
	if !ok {
		return
	}
	matches := false
	for _, groupID := range payload.GroupIDs {
		if groupID == group.ID {
			matches = true
			break
		}
	}
	if !matches {
		return
	}
	if _, ok := t.incomingSet[topicID]; ok {
		return
	}
	t.incomingSet[topicID] = struct{}{}
	t.incoming = append(t.incoming, topicID)
}

func (t *PMTracker) notifyIncomingLocked(kind models.MessageKind, st models.TopicState) bool {
	if !t.incomingActive {
		return false
	}
	switch kind {
	case models.MessageKindNewTopic:
		if t.trackedFilter != "new" && t.trackedFilter != "latest" {
			return false
		}
	case models.MessageKindUnread:
		if t.trackedFilter != "unread" && t.trackedFilter != "latest" {
			return false
		}
	default:
		return false
	}
	if !t.inboxMatchesLocked(st, t.trackedInbox, t.trackedGroup) {
		return false
	}
	if _, ok := t.incomingSet[st.TopicID]; ok {
		return false
	}
	t.incomingSet[st.TopicID] = struct{}{}
	t.incoming = append(t.incoming, st.TopicID)
	return true
}
