// Package bus abstracts the forum's publish/subscribe message transport.
// Every named channel delivers ordered, at-least-once messages carrying a
// monotonically increasing sequence id that subscribers use to resume after
// a reconnect.
package bus

import (
	"errors"

	"github.com/driftwood-forum/driftwood/internal/models"
)

// Subscription errors.
var (
	ErrSubscriptionExists   = errors.New("subscription for this channel already exists")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrNilHandler           = errors.New("handler cannot be nil")
)

// NewOnly resumes a subscription with only messages published from now on.
const NewOnly int64 = -1

// Position is the resume point of a subscription: the last sequence id the
// subscriber has already seen on that channel.
type Position struct {
	Seq int64
}

// NewOnlyPosition is the default resume point.
func NewOnlyPosition() Position { return Position{Seq: NewOnly} }

// Handler receives decoded messages for one channel. Handlers run on the
// bus delivery goroutine and must tolerate duplicate delivery.
type Handler func(msg models.Message)

// Subscription is a live channel subscription.
type Subscription interface {
	// Channel returns the channel name this subscription covers.
	Channel() string
	// Unsubscribe stops delivery. Safe to call more than once.
	Unsubscribe() error
}

// Bus is the transport contract the trackers depend on. Implementations
// decode frames at the boundary (models.DecodeMessage) so handlers only see
// well-formed messages; malformed frames are logged and dropped.
type Bus interface {
	// Subscribe opens a subscription on the channel, replaying messages
	// after pos.Seq when the transport retains them. Transports with
	// exclusive per-channel consumers return ErrSubscriptionExists for a
	// duplicate subscription.
	Subscribe(channel string, pos Position, h Handler) (Subscription, error)
}
