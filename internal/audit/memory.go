package audit

import (
	"context"
	"sync"
)

// MemoryStore keeps events in process. Appended events are copied so callers
// cannot mutate stored history.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, cloneEvent(*ev))
	return nil
}

func (s *MemoryStore) ListByGrant(ctx context.Context, tenantID, grantID string, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, ev := range s.events {
		if ev.TenantID == tenantID && ev.GrantID == grantID {
			out = append(out, cloneEvent(ev))
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func cloneEvent(ev Event) Event {
	if ev.ActorID != nil {
		actor := *ev.ActorID
		ev.ActorID = &actor
	}
	meta := make(map[string]string, len(ev.Metadata))
	for k, v := range ev.Metadata {
		meta[k] = v
	}
	ev.Metadata = meta
	return ev
}
