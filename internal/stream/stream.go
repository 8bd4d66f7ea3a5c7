// Package stream fans recorded audit events out to live operator feeds.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"authority.dev/internal/audit"
)

const bufferSize = 16

type subscriber struct {
	tenantID string
	ch       chan audit.Event
}

// Hub delivers events to subscribers of the event's tenant. It implements
// audit.Sink so the recorder can publish into it.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Int64
}

// New initialises an empty hub.
func New() *Hub {
	return &Hub{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for tenantID and returns a channel which
// will receive that tenant's events. The channel is closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, tenantID string) <-chan audit.Event {
	ch := make(chan audit.Event, bufferSize)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = subscriber{tenantID: tenantID, ch: ch}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish implements audit.Sink. Events without a tenant (unknown-token
// denials) are never streamed.
func (h *Hub) Publish(_ context.Context, ev audit.Event) error {
	if ev.TenantID == "" {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.tenantID != ev.TenantID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// slow subscriber: drop rather than block the recorder
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribers reports the number of open feeds.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }
