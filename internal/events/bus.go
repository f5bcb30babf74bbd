// Package events broadcasts pipeline progress, transcript segments, and
// session snapshots to every current observer.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/acknak/pothook/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Channel names observers subscribe to.
const (
	ChannelAudioConv = "audio_conv"
	ChannelWhisper   = "whisper"
	ChannelConfig    = "config"
)

// Event is one broadcast unit. Seq is process-wide and strictly increasing.
type Event struct {
	Channel string    `json:"channel"`
	RunID   string    `json:"run_id,omitempty"`
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// Publisher is the emission capability handed to pipelines.
type Publisher interface {
	Publish(channel, runID string, payload any)
}

// NewRunID returns an identifier correlating all events of one pipeline run.
func NewRunID() string {
	return uuid.NewString()
}

// Bus is a fire-and-forget fan-out. Slow subscribers lose events rather than
// stalling the publisher; a small ring keeps recent events for late joiners.
type Bus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	bufferSize  int

	seq atomic.Uint64

	ringMu   sync.RWMutex
	ring     []Event
	ringHead int
}

type subscriber struct {
	ch       chan Event
	channels map[string]struct{}
}

// NewBus creates a bus whose subscribers buffer up to bufferSize events and
// which replays up to ringSize recent events.
func NewBus(bufferSize, ringSize int, logger *zap.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if ringSize <= 0 {
		ringSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger:      logger,
		subscribers: make(map[uint64]subscriber),
		bufferSize:  bufferSize,
		ring:        make([]Event, ringSize),
	}
}

// Subscribe registers an observer for the given channels (all channels when
// none are named). The returned cancel func closes the channel and is safe to
// call more than once.
func (b *Bus) Subscribe(channels ...string) (<-chan Event, func()) {
	filter := make(map[string]struct{}, len(channels))
	for _, c := range channels {
		filter[c] = struct{}{}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufferSize)
	b.subscribers[id] = subscriber{ch: ch, channels: filter}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish stamps and distributes one event.
func (b *Bus) Publish(channel, runID string, payload any) {
	event := Event{
		Channel: channel,
		RunID:   runID,
		Seq:     b.seq.Add(1),
		Time:    time.Now().UTC(),
		Payload: payload,
	}

	b.ringMu.Lock()
	b.ring[b.ringHead] = event
	b.ringHead = (b.ringHead + 1) % len(b.ring)
	b.ringMu.Unlock()

	metrics.EventsPublishedTotal.WithLabelValues(channel).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subscribers {
		if len(sub.channels) > 0 {
			if _, ok := sub.channels[channel]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- event:
		default:
			metrics.EventsDroppedTotal.WithLabelValues(channel).Inc()
			b.logger.Warn("dropping event for slow subscriber", zap.Uint64("subscriber", id), zap.String("channel", channel), zap.Uint64("seq", event.Seq))
		}
	}
}

// ReplaySince returns buffered events with Seq greater than after, oldest first.
func (b *Bus) ReplaySince(after uint64, channels ...string) []Event {
	filter := make(map[string]struct{}, len(channels))
	for _, c := range channels {
		filter[c] = struct{}{}
	}

	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	var out []Event
	for i := 0; i < len(b.ring); i++ {
		e := b.ring[(b.ringHead+i)%len(b.ring)]
		if e.Seq == 0 || e.Seq <= after {
			continue
		}
		if len(filter) > 0 {
			if _, ok := filter[e.Channel]; !ok {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// MarshalJSON keeps the wire shape stable even when Payload is nil.
func (e Event) MarshalJSON() ([]byte, error) {
	type wire Event
	w := wire(e)
	if w.Payload == nil {
		w.Payload = struct{}{}
	}
	return json.Marshal(w)
}
