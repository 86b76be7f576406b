package bus

import (
	"sync"

	"github.com/driftwood-forum/driftwood/internal/models"
)

const defaultHistoryLimit = 1000

// Memory is an in-process Bus used by tests and by embedded deployments.
// Each channel keeps a bounded history so late subscribers can replay from
// a resume position, mirroring what the server-side bus retains.
type Memory struct {
	mu           sync.Mutex
	channels     map[string]*memoryChannel
	subs         map[string]map[int]*memorySub
	nextSubID    int
	historyLimit int
}

type memoryChannel struct {
	lastSeq int64
	history []models.Message
}

type memorySub struct {
	bus     *Memory
	channel string
	id      int
	handler Handler
	closed  bool
}

// NewMemory creates an in-memory bus.
func NewMemory() *Memory {
	return &Memory{
		channels:     make(map[string]*memoryChannel),
		subs:         make(map[string]map[int]*memorySub),
		historyLimit: defaultHistoryLimit,
	}
}

// Publish encodes and delivers a message on the channel, assigning the next
// sequence id. It returns the assigned sequence.
func (m *Memory) Publish(channel string, kind models.MessageKind, topicID int, payload models.Payload) (int64, error) {
	data, err := models.EncodeMessage(kind, topicID, payload)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	ch := m.channels[channel]
	if ch == nil {
		ch = &memoryChannel{}
		m.channels[channel] = ch
	}
	ch.lastSeq++
	seq := ch.lastSeq

	msg, err := models.DecodeMessage(channel, seq, data)
	if err != nil {
		ch.lastSeq--
		m.mu.Unlock()
		return 0, err
	}

	ch.history = append(ch.history, msg)
	if len(ch.history) > m.historyLimit {
		ch.history = ch.history[len(ch.history)-m.historyLimit:]
	}

	// Collect handlers under the lock, invoke outside it so a handler that
	// re-enters the bus does not deadlock.
	var handlers []Handler
	for _, sub := range m.subs[channel] {
		if !sub.closed {
			handlers = append(handlers, sub.handler)
		}
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
	return seq, nil
}

// LastSeq returns the last sequence id published on the channel.
func (m *Memory) LastSeq(channel string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch := m.channels[channel]; ch != nil {
		return ch.lastSeq
	}
	return 0
}

// Subscribe implements Bus. Messages retained in the channel history with a
// sequence greater than pos.Seq are replayed synchronously before the
// subscription goes live.
func (m *Memory) Subscribe(channel string, pos Position, h Handler) (Subscription, error) {
	if h == nil {
		return nil, ErrNilHandler
	}

	m.mu.Lock()
	sub := &memorySub{bus: m, channel: channel, handler: h}
	m.nextSubID++
	sub.id = m.nextSubID
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[int]*memorySub)
	}
	m.subs[channel][sub.id] = sub

	var replay []models.Message
	if pos.Seq != NewOnly {
		if ch := m.channels[channel]; ch != nil {
			for _, msg := range ch.history {
				if msg.Seq > pos.Seq {
					replay = append(replay, msg)
				}
			}
		}
	}
	m.mu.Unlock()

	for _, msg := range replay {
		h(msg)
	}
	return sub, nil
}

func (s *memorySub) Channel() string { return s.channel }

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	delete(s.bus.subs[s.channel], s.id)
	return nil
}
