package service

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event types pushed to stream clients.
const (
	EventQuota        = "quota"
	EventConfig       = "config"
	EventCandidates   = "candidates"
	EventPresence     = "presence"
	EventProfiles     = "profiles"
	EventAudit        = "audit"
	EventFeedError    = "feed-error"
	EventSessionEnded = "session-ended"
)

// Event notifies stream clients that a session snapshot changed.
type Event struct {
	Type string      `json:"type"`
	At   time.Time   `json:"at"`
	Data interface{} `json:"data,omitempty"`
}

// Hub fans session events out to stream subscribers. Slow subscribers lose events
// rather than block the feed goroutines.
type Hub struct {
	buffer int
	logger *zap.Logger

	mu     sync.Mutex
	next   int
	subs   map[int]chan Event
	closed bool
}

// NewHub builds a hub whose subscriber channels hold buffer events.
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{buffer: buffer, logger: logger, subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and the function that releases it. The channel
// is closed on release or when the hub closes.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers ev to every subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("stream subscriber lagging, event dropped", zap.Int("subscriber", id), zap.String("type", ev.Type))
		}
	}
}

// Subscribers counts live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
