package tracking

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftwood-forum/driftwood/internal/bus"
	"github.com/driftwood-forum/driftwood/internal/models"
)

// DefaultMuteOverrideWindow is how long a muted/unmuted push message keeps
// overriding the user's stored mute rules for that topic.
const DefaultMuteOverrideWindow = 60 * time.Second

// Muted-tag removal policies.
const (
	MutedTagsPolicyAlways    = "always"
	MutedTagsPolicyOnlyMuted = "only_muted"
)

// Settings are the tracker tunables. Zero values fall back to defaults.
type Settings struct {
	// MaxTracked bounds the state store (default 4000).
	MaxTracked int
	// MuteOverrideWindow is the lifetime of mute/unmute overrides
	// (default 60s).
	MuteOverrideWindow time.Duration
	// MutedTagsPolicy selects when muted tags drop incoming messages:
	// "always" drops on any muted tag, "only_muted" only when every tag
	// is muted.
	MutedTagsPolicy string
}

func (s Settings) withDefaults() Settings {
	if s.MaxTracked <= 0 {
		s.MaxTracked = DefaultMaxTracked
	}
	if s.MuteOverrideWindow <= 0 {
		s.MuteOverrideWindow = DefaultMuteOverrideWindow
	}
	if s.MutedTagsPolicy == "" {
		s.MutedTagsPolicy = MutedTagsPolicyOnlyMuted
	}
	return s
}

// Options configure a Tracker.
type Options struct {
	Bus      bus.Bus
	User     *models.User
	Settings Settings
	// Categories is the site category list, used to expand subcategory
	// sets when counting. May be updated later with SetCategories.
	Categories []models.Category
	Log        zerolog.Logger
	// OnDestroyedWhileViewing is invoked when a destroy message arrives
	// for the topic the user is currently viewing, so the UI can navigate
	// away. Optional.
	OnDestroyedWhileViewing func(topicID int)
}

// Token identifies a registered state-change callback.
type Token int

// Tracker is the topic tracking state: one per client session, explicitly
// constructed and disposed rather than living in ambient context.
type Tracker struct {
	mu       sync.Mutex
	bus      bus.Bus
	user     *models.User
	settings Settings
	log      zerolog.Logger

	store      *stateStore
	categories []models.Category

	isTracking bool
	subs       []bus.Subscription
	positions  map[string]int64

	mutedOverride   map[int]time.Time
	unmutedOverride map[int]time.Time

	incomingActive bool
	trackedFilter  filterKey
	incoming       []int
	incomingSet    map[int]struct{}

	viewingTopicID int
	onDestroyed    func(topicID int)

	callbacks map[Token]func()
	nextToken Token

	now func() time.Time
}

// NewTracker creates a tracker. It does not subscribe to anything until
// EstablishChannels is called.
func NewTracker(opts Options) *Tracker {
	return &Tracker{
		bus:             opts.Bus,
		user:            opts.User,
		settings:        opts.Settings.withDefaults(),
		log:             opts.Log,
		store:           newStateStore(),
		categories:      opts.Categories,
		positions:       make(map[string]int64),
		mutedOverride:   make(map[int]time.Time),
		unmutedOverride: make(map[int]time.Time),
		incomingSet:     make(map[int]struct{}),
		callbacks:       make(map[Token]func()),
		onDestroyed:     opts.OnDestroyedWhileViewing,
		now:             time.Now,
	}
}

// EstablishChannels subscribes to the global tracking channels, plus the
// per-user unread channel when a user is present. resume maps channel name
// to the last-seen position; channels not in the map start with only new
// messages. Calling it again while tracking is a no-op.
func (t *Tracker) EstablishChannels(resume map[string]bus.Position) error {
	t.mu.Lock()
	if t.isTracking {
		t.mu.Unlock()
		return nil
	}
	t.isTracking = true
	t.mu.Unlock()

	channels := []string{
		models.ChannelLatest,
		models.ChannelNew,
		models.ChannelUnread,
		models.ChannelDelete,
		models.ChannelRecover,
		models.ChannelDestroy,
	}
	if t.user != nil {
		channels = append(channels, models.UnreadChannel(t.user.ID))
	}

	for _, channel := range channels {
		pos := bus.NewOnlyPosition()
		if p, ok := resume[channel]; ok {
			pos = p
		}
		sub, err := t.bus.Subscribe(channel, pos, t.handleMessage)
		if err != nil {
			t.teardownSubs()
			return fmt.Errorf("establish %s: %w", channel, err)
		}
		t.mu.Lock()
		t.subs = append(t.subs, sub)
		t.mu.Unlock()
	}
	return nil
}

// Close unsubscribes all channels and drops the observer registry.
func (t *Tracker) Close() {
	t.teardownSubs()
	t.mu.Lock()
	t.callbacks = make(map[Token]func())
	t.mu.Unlock()
}

func (t *Tracker) teardownSubs() {
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.isTracking = false
	t.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}

// SetCategories replaces the category list used for subcategory expansion.
func (t *Tracker) SetCategories(categories []models.Category) {
	t.mu.Lock()
	t.categories = categories
	t.mu.Unlock()
}

// SetViewingTopic records which topic the user currently has open, so a
// destroy message for it can trigger the navigate-away hook.
func (t *Tracker) SetViewingTopic(topicID int) {
	t.mu.Lock()
	t.viewingTopicID = topicID
	t.mu.Unlock()
}

// OnStateChange registers a callback invoked after any mutating operation
// that changed state. The returned token unregisters it.
func (t *Tracker) OnStateChange(fn func()) Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextToken++
	token := t.nextToken
	t.callbacks[token] = fn
	return token
}

// OffStateChange removes a callback. Unknown tokens are ignored.
func (t *Tracker) OffStateChange(token Token) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.callbacks, token)
}

// notifyStateChange invokes callbacks over a snapshot of the registry so a
// callback that registers or unregisters during iteration cannot corrupt it.
func (t *Tracker) notifyStateChange() {
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

// FindState returns a copy of the tracked record for the topic.
func (t *Tracker) FindState(topicID int) (models.TopicState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.store.get(topicID)
	if !ok {
		return models.TopicState{}, false
	}
	return st.Clone(), true
}

// States returns a copy of every tracked record, ordered by topic id.
func (t *Tracker) States() []models.TopicState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.TopicState, 0, t.store.len())
	for _, id := range t.store.ids() {
		st, _ := t.store.get(id)
		out = append(out, st.Clone())
	}
	return out
}

// Size returns the number of tracked topics.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.len()
}

// Positions returns the last-seen sequence id per channel, for persisting
// resume points across restarts.
func (t *Tracker) Positions() map[string]bus.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]bus.Position, len(t.positions))
	for ch, seq := range t.positions {
		out[ch] = bus.Position{Seq: seq}
	}
	return out
}

// LoadStates bulk-merges full topic snapshots, as delivered by the initial
// bootstrap response or a restored local snapshot. Observers are notified
// once if anything actually changed.
func (t *Tracker) LoadStates(states []models.TopicState) {
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

// RemoveTopic deletes one topic from the store. Removing an absent id is a
// silent no-op.
func (t *Tracker) RemoveTopic(topicID int) {
	t.RemoveTopics([]int{topicID})
}

// RemoveTopics deletes the given topics and notifies observers if any were
// present.
func (t *Tracker) RemoveTopics(topicIDs []int) {
	t.mu.Lock()
	changed := false
	for _, id := range topicIDs {
		if t.store.remove(id) {
			changed = true
		}
	}
	t.mu.Unlock()
	if changed {
		t.notifyStateChange()
	}
}

// Sync reconciles a freshly fetched topic list against the store for the
// given filter. params are the query parameters the list was fetched with;
// anything beyond sort order disables the compensation pass, as does
// pagination, since absence from such a list proves nothing.
func (t *Tracker) Sync(list models.TopicList, filter string, params url.Values) {
	t.mu.Lock()
	changed := false
	listed := make(map[int]struct{}, len(list.Topics))

	for _, item := range list.Topics {
		listed[item.ID] = struct{}{}
		if t.syncListItemLocked(item) {
			changed = true
		}
	}

	if t.compensationAppliesLocked(list, filter, params) {
		for _, id := range t.store.ids() {
			if _, ok := listed[id]; ok {
				continue
			}
			st, _ := t.store.get(id)
			switch filter {
			case "unread":
				if IsUnread(st) {
					// Pretend-read: a complete unread list that does not
					// contain this topic outranks whatever the bus said.
					st = MergePartial(st, StatePatch{LastReadPostNumber: intPatch(st.HighestPostNumber)})
					t.store.put(st)
					changed = true
				}
			case "new":
				if IsNew(st) {
					st = MergePartial(st, StatePatch{IsSeen: boolPatch(true)})
					t.store.put(st)
					changed = true
				}
			}
		}
	}
	t.mu.Unlock()
	if changed {
		t.notifyStateChange()
	}
}

// syncListItemLocked merges one list row into the store and reports whether
// anything changed.
func (t *Tracker) syncListItemLocked(item models.TopicListItem) bool {
	old, existed := t.store.get(item.ID)
	if !existed {
		old = models.TopicState{TopicID: item.ID}
	}

	patch := StatePatch{
		HighestPostNumber:  intPatch(item.HighestPostNumber),
		IsSeen:             boolPatch(item.IsSeen),
		CreatedInNewPeriod: boolPatch(item.CreatedInNewPeriod),
		IsCategoryTopic:    boolPatch(item.IsCategoryTopic),
	}
	if item.NotificationLevel != nil {
		patch.NotificationLevel = levelPatch(*item.NotificationLevel)
	}
	if item.CategoryID != nil {
		patch.CategoryID = intPatch(*item.CategoryID)
	}
	if item.Tags != nil {
		patch.Tags = tagsPatch(item.Tags)
	}

	switch {
	case !item.IsSeen:
		// Unseen topics read as never-read regardless of what the server
		// stored for a previous session.
		patch.ClearLastRead = true
	case item.UnreadPosts != nil:
		patch.LastReadPostNumber = intPatch(item.HighestPostNumber - *item.UnreadPosts)
	case item.LastReadPostNumber != nil:
		patch.LastReadPostNumber = intPatch(*item.LastReadPostNumber)
	default:
		// Fully read. Once the store is at its ceiling these rows are
		// evicted instead of retained; an evicted topic is assumed read.
		if t.store.len() >= t.settings.MaxTracked {
			return t.store.remove(item.ID)
		}
		patch.LastReadPostNumber = intPatch(item.HighestPostNumber)
	}

	merged := MergePartial(old, patch)
	if existed && merged.Equal(old) {
		return false
	}
	t.store.put(merged)
	return true
}

// compensationAppliesLocked implements the skip heuristics: only unfiltered,
// single-page "new"/"unread" lists are authoritative enough to force other
// tracked topics out of new/unread status.
func (t *Tracker) compensationAppliesLocked(list models.TopicList, filter string, params url.Values) bool {
	if filter != "new" && filter != "unread" {
		return false
	}
	if list.MoreTopicsURL != "" {
		return false
	}
	for key := range params {
		if key != "order" && key != "ascending" {
			return false
		}
	}
	return true
}
