package bus

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/driftwood-forum/driftwood/internal/models"
)

const (
	defaultSubjectPrefix = "driftwood"
	defaultAckWait       = 30 * time.Second
	defaultMaxAckPending = 4096
)

// NATSConfig configures the JetStream-backed bus.
type NATSConfig struct {
	// URL is the NATS server address (default nats.DefaultURL).
	URL string
	// SubjectPrefix namespaces the channel subjects (default "driftwood").
	SubjectPrefix string
	// Durable, when set, makes subscriptions durable under this name plus
	// the channel suffix.
	Durable       string
	AckWait       time.Duration
	MaxAckPending int
	Log           zerolog.Logger
}

// NATS is the production Bus: one JetStream subject per channel, stream
// sequence ids as resume positions. Delivery is at-least-once; handlers are
// expected to be idempotent.
type NATS struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	cfg    NATSConfig
	log    zerolog.Logger
	mu     sync.Mutex
	subs   map[string]*natsSub
	ownsNC bool
}

type natsSub struct {
	bus     *NATS
	channel string
	sub     *nats.Subscription
	closed  bool
}

// ConnectNATS dials the server and prepares a JetStream context.
func ConnectNATS(cfg NATSConfig) (*NATS, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	b, err := NewNATS(nc, cfg)
	if err != nil {
		nc.Close()
		return nil, err
	}
	b.ownsNC = true
	return b, nil
}

// NewNATS wraps an existing connection.
func NewNATS(nc *nats.Conn, cfg NATSConfig) (*NATS, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = defaultSubjectPrefix
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = defaultAckWait
	}
	if cfg.MaxAckPending <= 0 {
		cfg.MaxAckPending = defaultMaxAckPending
	}
	return &NATS{
		nc:   nc,
		js:   js,
		cfg:  cfg,
		log:  cfg.Log,
		subs: make(map[string]*natsSub),
	}, nil
}

// Subject maps a channel name like "/unread/4" onto a JetStream subject
// like "driftwood.unread.4".
func (b *NATS) Subject(channel string) string {
	trimmed := strings.Trim(channel, "/")
	if trimmed == "" {
		return b.cfg.SubjectPrefix
	}
	return b.cfg.SubjectPrefix + "." + strings.ReplaceAll(trimmed, "/", ".")
}

// Subscribe implements Bus. pos.Seq is a stream sequence: NewOnly maps to
// DeliverNew, anything else resumes at pos.Seq+1.
func (b *NATS) Subscribe(channel string, pos Position, h Handler) (Subscription, error) {
	if h == nil {
		return nil, ErrNilHandler
	}

	b.mu.Lock()
	if existing, ok := b.subs[channel]; ok && !existing.closed {
		b.mu.Unlock()
		return nil, ErrSubscriptionExists
	}
	b.mu.Unlock()

	opts := []nats.SubOpt{
		nats.ManualAck(),
		nats.AckWait(b.cfg.AckWait),
		nats.MaxAckPending(b.cfg.MaxAckPending),
	}
	if pos.Seq == NewOnly {
		opts = append(opts, nats.DeliverNew())
	} else {
		opts = append(opts, nats.StartSequence(uint64(pos.Seq)+1))
	}
	if b.cfg.Durable != "" {
		opts = append(opts, nats.Durable(b.cfg.Durable+"-"+sanitizeDurable(channel)))
	}

	cb := func(m *nats.Msg) {
		meta, err := m.Metadata()
		if err != nil {
			b.log.Warn().Err(err).Str("channel", channel).Msg("message without jetstream metadata")
			_ = m.Ack()
			return
		}
		msg, err := models.DecodeMessage(channel, int64(meta.Sequence.Stream), m.Data)
		if err != nil {
			// Malformed frames are dropped, not redelivered: a frame that
			// failed to decode once will fail every time.
			b.log.Warn().Err(err).Str("channel", channel).Msg("dropping malformed bus frame")
			_ = m.Ack()
			return
		}
		h(msg)
		_ = m.Ack()
	}

	sub, err := b.js.Subscribe(b.Subject(channel), cb, opts...)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)

	ns := &natsSub{bus: b, channel: channel, sub: sub}
	b.mu.Lock()
	b.subs[channel] = ns
	b.mu.Unlock()
	return ns, nil
}

// Close unsubscribes everything and, when the bus owns the connection,
// closes it.
func (b *NATS) Close() error {
	b.mu.Lock()
	subs := make([]*natsSub, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	if b.ownsNC {
		b.nc.Close()
	}
	return nil
}

func (s *natsSub) Channel() string { return s.channel }

func (s *natsSub) Unsubscribe() error {
	s.bus.mu.Lock()
	if s.closed {
		s.bus.mu.Unlock()
		return nil
	}
	s.closed = true
	delete(s.bus.subs, s.channel)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

func sanitizeDurable(channel string) string {
	out := strings.Trim(channel, "/")
	out = strings.ReplaceAll(out, "/", "-")
	return out
}
