package broadcast

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/good-yellow-bee/lognexus/internal/metrics"
)

const defaultSubscriberBuffer = 64

// Subscription receives events from a Hub.
type Subscription struct {
	ID     string
	Events <-chan Event

	ch    chan Event
	types map[EventType]bool
}

func (s *Subscription) wants(t EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

// Hub is an in-process broadcaster. Subscribers whose buffer is full miss
// events instead of blocking publishers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	buffer int
	log    logrus.FieldLogger
	closed bool
}

// NewHub creates a Hub. buffer is the per-subscriber channel size.
func NewHub(buffer int, log logrus.FieldLogger) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Hub{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
		log:    log.WithField("component", "hub"),
	}
}

// Subscribe registers a subscriber for the given event types, or for all
// events when none are given.
func (h *Hub) Subscribe(types ...EventType) *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{ID: uuid.NewString(), Events: ch, ch: ch}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	h.subs[sub.ID] = sub
	metrics.SSEClients.Inc()
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.ID]; !ok {
		return
	}
	delete(h.subs, sub.ID)
	close(sub.ch)
	metrics.SSEClients.Dec()
}

// Publish implements Broadcaster.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.log.WithFields(logrus.Fields{"subscriber": sub.ID, "event": ev.Type}).Warn("subscriber buffer full, dropping event")
		}
	}
	return nil
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
		metrics.SSEClients.Dec()
	}
}
