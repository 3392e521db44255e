package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/OlaProeis/ironPad/core/metrics"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 100

// =============================================================================
// Hub
// =============================================================================

// HubConfig configures a Hub.
type HubConfig struct {
	// BufferSize is the capacity of each subscriber's queue.
	BufferSize int

	// Logger receives lag warnings. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Hub fans every published ChangeEvent out to all current subscribers.
//
// Publish never blocks: a subscriber whose queue is full loses the event and
// the loss is counted and logged. Publishes are serialised, so every
// subscriber observes events in the same order.
type Hub struct {
	// mu guards subs and closed. Publish holds it exclusively so delivery
	// order is identical across subscribers.
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	bufferSize int
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewHub creates a hub with no subscribers.
func NewHub(cfg HubConfig) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Hub{
		subs:       make(map[uint64]*Subscription),
		bufferSize: cfg.BufferSize,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// Publish delivers ev to every subscriber without waiting on any of them.
func (h *Hub) Publish(ev ChangeEvent) {
	if ev == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.metrics.EventPublished(ev.Type().String())
	for _, sub := range h.subs {
		sub.deliver(ev, h.logger, h.metrics)
	}
}

// Subscribe registers a new subscriber. Events published before the call are
// not replayed.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:  h.nextID,
		ch:  make(chan ChangeEvent, h.bufferSize),
		hub: h,
	}
	if h.closed {
		sub.closeOnce.Do(func() { close(sub.ch) })
		return sub
	}
	h.subs[sub.id] = sub
	return sub
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.closeOnce.Do(func() { close(sub.ch) })
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subs, sub.id)
	sub.closeOnce.Do(func() { close(sub.ch) })
}

// =============================================================================
// Subscription
// =============================================================================

// Subscription is one subscriber's view of the hub.
type Subscription struct {
	id  uint64
	ch  chan ChangeEvent
	hub *Hub

	closeOnce sync.Once
	dropped   atomic.Uint64
	// lagging is only touched under hub.mu.
	lagging bool
}

// Events yields published events in order. The channel is closed when the
// subscription or the hub is closed.
func (s *Subscription) Events() <-chan ChangeEvent {
	return s.ch
}

// Dropped returns how many events this subscriber lost to a full queue.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

func (s *Subscription) deliver(ev ChangeEvent, logger *slog.Logger, m *metrics.Metrics) {
	select {
	case s.ch <- ev:
		if s.lagging {
			logger.Info("subscriber caught up", "subscriber", s.id, "dropped_total", s.dropped.Load())
			s.lagging = false
		}
	default:
		total := s.dropped.Add(1)
		m.EventDropped()
		if !s.lagging {
			logger.Warn("subscriber lagging, dropping events",
				"subscriber", s.id,
				"event", ev.Type().String(),
				"dropped_total", total)
			s.lagging = true
		}
	}
}
