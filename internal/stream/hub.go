// Package stream fans status events out to subscribers without ever
// blocking the publisher.
package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/elsanchez/smart-publish/internal/domain"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Hub is a topic-filtered broadcaster. A subscriber whose buffer is full
// when an event arrives is dropped: its channel is closed and it receives
// nothing further.
type Hub struct {
	buffer int

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription

	dropped atomic.Int64
}

// Subscription receives events for its topics (all topics when empty).
type Subscription struct {
	hub    *Hub
	id     uint64
	topics map[string]bool
	ch     chan domain.Event
	once   sync.Once
}

func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Hub{buffer: buffer, subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe(topics ...string) *Subscription {
	sub := &Subscription{
		hub: h,
		ch:  make(chan domain.Event, h.buffer),
	}
	if len(topics) > 0 {
		sub.topics = make(map[string]bool, len(topics))
		for _, t := range topics {
			sub.topics[t] = true
		}
	}

	h.mu.Lock()
	h.nextID++
	sub.id = h.nextID
	h.subs[sub.id] = sub
	h.mu.Unlock()

	return sub
}

// Publish delivers ev to every matching subscriber and returns immediately.
func (h *Hub) Publish(ev domain.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	var slow []*Subscription

	h.mu.RLock()
	for _, sub := range h.subs {
		if sub.topics != nil && !sub.topics[ev.Topic] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.dropped.Add(1)
		sub.Close()
	}
}

// Subscribers is the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts subscribers removed for being too slow.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// C is closed when the subscription ends.
func (s *Subscription) C() <-chan domain.Event {
	return s.ch
}

// Close unsubscribes. Safe to call more than once and concurrently with
// Publish.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
		close(s.ch)
	})
}
