package models

import (
	"encoding/json"
	"fmt"
)

// MessageKind identifies the shape of a bus message payload.
type MessageKind string

const (
	MessageKindLatest          MessageKind = "latest"
	MessageKindNewTopic        MessageKind = "new_topic"
	MessageKindUnread          MessageKind = "unread"
	MessageKindRead            MessageKind = "read"
	MessageKindDismissNew      MessageKind = "dismiss_new"
	MessageKindDismissNewPosts MessageKind = "dismiss_new_posts"
	MessageKindMuted           MessageKind = "muted"
	MessageKindUnmuted         MessageKind = "unmuted"
	MessageKindDelete          MessageKind = "delete"
	MessageKindRecover         MessageKind = "recover"
	MessageKindDestroy         MessageKind = "destroy"
	MessageKindGroupArchive    MessageKind = "group_archive"
)

// Channel names the tracker subscribes to. Per-user and per-group channels
// are derived with UnreadChannel / PMUserChannel / PMGroupChannel.
const (
	ChannelLatest  = "/latest"
	ChannelNew     = "/new"
	ChannelUnread  = "/unread"
	ChannelDelete  = "/delete"
	ChannelRecover = "/recover"
	ChannelDestroy = "/destroy"
)

// UnreadChannel is the per-user unread channel.
func UnreadChannel(userID int) string {
	return fmt.Sprintf("%s/%d", ChannelUnread, userID)
}

// PMUserChannel is the per-user private-message tracking channel.
func PMUserChannel(userID int) string {
	return fmt.Sprintf("/private-message-topic-tracking-state/user/%d", userID)
}

// PMGroupChannel is the per-group private-message tracking channel.
func PMGroupChannel(groupID int) string {
	return fmt.Sprintf("/private-message-topic-tracking-state/group/%d", groupID)
}

// Message is one decoded bus message. Payload holds the kind-specific
// struct; consumers switch on Kind.
type Message struct {
	Channel string
	Seq     int64
	Kind    MessageKind
	TopicID int
	Payload Payload
}

// Payload is implemented by every per-kind payload type.
type Payload interface {
	messageKind() MessageKind
}

// TopicPayload carries a full (or, for unread/read, deliberately partial)
// topic snapshot. Bus payloads omit fields to save bandwidth; the tracker
// substitutes defaults when merging.
type TopicPayload struct {
	LastReadPostNumber *int               `json:"last_read_post_number,omitempty"`
	HighestPostNumber  int                `json:"highest_post_number"`
	NotificationLevel  *NotificationLevel `json:"notification_level,omitempty"`
	CategoryID         *int               `json:"category_id,omitempty"`
	Tags               []string           `json:"tags,omitempty"`
	CreatedInNewPeriod bool               `json:"created_in_new_period"`
	IsSeen             bool               `json:"is_seen"`
	IsCategoryTopic    bool               `json:"is_category_topic"`
	GroupIDs           []int              `json:"group_ids,omitempty"`
	ActingUserID       int                `json:"acting_user_id,omitempty"`
}

func (TopicPayload) messageKind() MessageKind { return MessageKindNewTopic }

// DismissPayload lists the topics a dismiss action covered.
type DismissPayload struct {
	TopicIDs []int `json:"topic_ids"`
}

func (DismissPayload) messageKind() MessageKind { return MessageKindDismissNew }

// MutePayload is sent on the per-user unread channel when the user mutes or
// unmutes a topic from another tab or device.
type MutePayload struct {
	TopicID int `json:"topic_id"`
}

func (MutePayload) messageKind() MessageKind { return MessageKindMuted }

// DeletePayload flags a topic as deleted, recovered, or destroyed.
type DeletePayload struct {
	TopicID int `json:"topic_id"`
}

func (DeletePayload) messageKind() MessageKind { return MessageKindDelete }

// GroupArchivePayload reports a group-inbox archive action by some user.
type GroupArchivePayload struct {
	GroupIDs     []int `json:"group_ids"`
	ActingUserID int   `json:"acting_user_id"`
}

func (GroupArchivePayload) messageKind() MessageKind { return MessageKindGroupArchive }

type wireEnvelope struct {
	MessageType string          `json:"message_type"`
	TopicID     int             `json:"topic_id"`
	Payload     json.RawMessage `json:"payload"`
}

// DecodeMessage validates and decodes a raw bus frame into a Message.
// Unknown message types are rejected here so handlers only ever see the
// kinds they pattern-match on.
func DecodeMessage(channel string, seq int64, data []byte) (Message, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("decode envelope on %s: %w", channel, err)
	}

	msg := Message{
		Channel: channel,
		Seq:     seq,
		Kind:    MessageKind(env.MessageType),
		TopicID: env.TopicID,
	}

	var payload Payload
	switch msg.Kind {
	case MessageKindLatest, MessageKindNewTopic, MessageKindUnread, MessageKindRead:
		p := TopicPayload{}
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return Message{}, fmt.Errorf("decode %s payload: %w", msg.Kind, err)
			}
		}
		payload = p
	case MessageKindDismissNew, MessageKindDismissNewPosts:
		p := DismissPayload{}
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return Message{}, fmt.Errorf("decode %s payload: %w", msg.Kind, err)
			}
		}
		payload = p
	case MessageKindMuted, MessageKindUnmuted:
		p := MutePayload{TopicID: env.TopicID}
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return Message{}, fmt.Errorf("decode %s payload: %w", msg.Kind, err)
			}
		}
		payload = p
	case MessageKindDelete, MessageKindRecover, MessageKindDestroy:
		p := DeletePayload{TopicID: env.TopicID}
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return Message{}, fmt.Errorf("decode %s payload: %w", msg.Kind, err)
			}
		}
		payload = p
	case MessageKindGroupArchive:
		p := GroupArchivePayload{}
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return Message{}, fmt.Errorf("decode %s payload: %w", msg.Kind, err)
			}
		}
		payload = p
	default:
		return Message{}, fmt.Errorf("unknown message type %q on %s", env.MessageType, channel)
	}

	msg.Payload = payload
	return msg, nil
}

// EncodeMessage is the inverse of DecodeMessage, used by tests and by
// publishers that speak the same wire contract.
func EncodeMessage(kind MessageKind, topicID int, payload Payload) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return json.Marshal(wireEnvelope{
		MessageType: string(kind),
		TopicID:     topicID,
		Payload:     raw,
	})
}
