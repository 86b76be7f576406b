package tracking

import (
	"github.com/driftwood-forum/driftwood/internal/models"
)

// handleMessage is the single entry point for every channel the tracker
// subscribes to. Payloads are already validated by the bus boundary, so the
// switch here is exhaustive over the kinds those channels carry.
func (t *Tracker) handleMessage(msg models.Message) {
	t.mu.Lock()
	t.positions[msg.Channel] = msg.Seq
	t.mu.Unlock()

	switch payload := msg.Payload.(type) {
	case models.MutePayload:
		t.recordMuteOverride(msg.Kind, payload.TopicID)
	case models.TopicPayload:
		t.processTopicPayload(msg.Kind, msg.TopicID, payload)
	case models.DismissPayload:
		t.processDismiss(msg.Kind, payload)
	case models.DeletePayload:
		t.processDeletion(msg.Kind, payload.TopicID)
	default:
		t.log.Debug().Str("kind", string(msg.Kind)).Str("channel", msg.Channel).
			Msg("ignoring message kind")
	}
}

// recordMuteOverride notes a muted/unmuted action from another tab or
// device. The override only filters subsequent incoming messages for the
// override window; it never touches the main store.
func (t *Tracker) recordMuteOverride(kind models.MessageKind, topicID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	switch kind {
	case models.MessageKindMuted:
		t.mutedOverride[topicID] = now
		delete(t.unmutedOverride, topicID)
	case models.MessageKindUnmuted:
		t.unmutedOverride[topicID] = now
		delete(t.mutedOverride, topicID)
	}
}

func (t *Tracker) mutedOverrideActiveLocked(topicID int) bool {
	at, ok := t.mutedOverride[topicID]
	if !ok {
		return false
	}
	if t.now().Sub(at) > t.settings.MuteOverrideWindow {
		delete(t.mutedOverride, topicID)
		return false
	}
	return true
}

func (t *Tracker) unmutedOverrideActiveLocked(topicID int) bool {
	at, ok := t.unmutedOverride[topicID]
	if !ok {
		return false
	}
	if t.now().Sub(at) > t.settings.MuteOverrideWindow {
		delete(t.unmutedOverride, topicID)
		return false
	}
	return true
}

// shouldDropLocked applies the mute rules to an incoming topic message. An
// unmuted override within the window re-enables processing regardless of
// the stored rules.
func (t *Tracker) shouldDropLocked(topicID int, payload models.TopicPayload) bool {
	if t.unmutedOverrideActiveLocked(topicID) {
		return false
	}
	if t.mutedOverrideActiveLocked(topicID) {
		return true
	}
	if st, ok := t.store.get(topicID); ok {
		if st.NotificationLevel != nil && *st.NotificationLevel == models.NotificationMuted {
			return true
		}
	}
	if t.user == nil {
		return false
	}
	if t.user.MuteAllCategoriesByDefault {
		return true
	}
	if payload.CategoryID != nil && t.user.CategoryMuted(*payload.CategoryID) {
		return true
	}
	if len(payload.Tags) > 0 && len(t.user.MutedTags) > 0 {
		muted := 0
		for _, tag := range payload.Tags {
			if t.user.TagMuted(tag) {
				muted++
			}
		}
		switch t.settings.MutedTagsPolicy {
		case MutedTagsPolicyAlways:
			if muted > 0 {
				return true
			}
		case MutedTagsPolicyOnlyMuted:
			if muted == len(payload.Tags) {
				return true
			}
		}
	}
	return false
}

func (t *Tracker) processTopicPayload(kind models.MessageKind, topicID int, payload models.TopicPayload) {
	t.mu.Lock()
	if t.shouldDropLocked(topicID, payload) {
		t.mu.Unlock()
		return
	}

	old, existed := t.store.get(topicID)
	if !existed {
		old = models.TopicState{TopicID: topicID}
	}

	var patch StatePatch
	switch kind {
	case models.MessageKindNewTopic, models.MessageKindLatest:
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

// fullTopicPatch converts a new_topic/latest payload, which carries the full
// field set, into a patch that overrides everything.
func fullTopicPatch(p models.TopicPayload) StatePatch {
	patch := StatePatch{
		HighestPostNumber:  intPatch(p.HighestPostNumber),
		IsSeen:             boolPatch(p.IsSeen),
		CreatedInNewPeriod: boolPatch(p.CreatedInNewPeriod),
		IsCategoryTopic:    boolPatch(p.IsCategoryTopic),
		Deleted:            boolPatch(false),
	}
	if p.HighestPostNumber == 0 {
		// A brand-new topic always has its first post.
		patch.HighestPostNumber = intPatch(1)
	}
	if p.LastReadPostNumber != nil {
		patch.LastReadPostNumber = intPatch(*p.LastReadPostNumber)
	}
	if p.NotificationLevel != nil {
		patch.NotificationLevel = levelPatch(*p.NotificationLevel)
	}
	if p.CategoryID != nil {
		patch.CategoryID = intPatch(*p.CategoryID)
	}
	if p.Tags != nil {
		patch.Tags = tagsPatch(p.Tags)
	}
	if p.GroupIDs != nil {
		ids := p.GroupIDs
		patch.GroupIDs = &ids
	}
	return patch
}

// partialTopicPatch converts an unread/read payload. These are deliberately
// partial for bandwidth: a missing last_read_post_number is inferred as
// highest-1 and a missing notification level defaults to tracking, but only
// when no prior value exists — a field the client already knows always wins
// over an inferred default.
func partialTopicPatch(old models.TopicState, p models.TopicPayload) StatePatch {
	patch := StatePatch{}
	if p.HighestPostNumber > 0 {
		patch.HighestPostNumber = intPatch(p.HighestPostNumber)
	}
	switch {
	case p.LastReadPostNumber != nil:
		patch.LastReadPostNumber = intPatch(*p.LastReadPostNumber)
	case old.LastReadPostNumber == nil:
		highest := old.HighestPostNumber
		if p.HighestPostNumber > 0 {
			highest = p.HighestPostNumber
		}
		patch.LastReadPostNumber = intPatch(highest - 1)
	}
	switch {
	case p.NotificationLevel != nil:
		patch.NotificationLevel = levelPatch(*p.NotificationLevel)
	case old.NotificationLevel == nil:
		patch.NotificationLevel = levelPatch(models.NotificationTracking)
	}
	if p.CategoryID != nil {
		patch.CategoryID = intPatch(*p.CategoryID)
	}
	if p.Tags != nil {
		patch.Tags = tagsPatch(p.Tags)
	}
	return patch
}

func (t *Tracker) processDismiss(kind models.MessageKind, payload models.DismissPayload) {
	t.mu.Lock()
	changed := false
	for _, id := range payload.TopicIDs {
		st, ok := t.store.get(id)
		if !ok {
			continue
		}
		var merged models.TopicState
		switch kind {
		case models.MessageKindDismissNew:
			merged = MergePartial(st, StatePatch{IsSeen: boolPatch(true)})
		case models.MessageKindDismissNewPosts:
			merged = MergePartial(st, StatePatch{LastReadPostNumber: intPatch(st.HighestPostNumber)})
		default:
			continue
		}
		if !merged.Equal(st) {
			t.store.put(merged)
			changed = true
		}
	}
	t.mu.Unlock()
	if changed {
		t.notifyStateChange()
	}
}

func (t *Tracker) processDeletion(kind models.MessageKind, topicID int) {
	var destroyedWhileViewing bool
	t.mu.Lock()
	changed := false
	switch kind {
	case models.MessageKindDelete, models.MessageKindRecover:
		if st, ok := t.store.get(topicID); ok {
			merged := MergePartial(st, StatePatch{Deleted: boolPatch(kind == models.MessageKindDelete)})
			if !merged.Equal(st) {
				t.store.put(merged)
				changed = true
			}
		}
	case models.MessageKindDestroy:
		changed = t.store.remove(topicID)
		destroyedWhileViewing = t.viewingTopicID == topicID
	}
	onDestroyed := t.onDestroyed
	t.mu.Unlock()

	if destroyedWhileViewing && onDestroyed != nil {
		onDestroyed(topicID)
	}
	if changed {
		t.notifyStateChange()
	}
}
