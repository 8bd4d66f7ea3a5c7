package audit

import (
	"context"
	"errors"
	"time"

	"authority.dev/internal/ids"
	"authority.dev/internal/obs"
)

// Recorder persists events and fans them out to log and sinks.
type Recorder struct {
	store Store
	sinks []Sink
	now   func() time.Time
}

// RecorderOption configures Recorder.
type RecorderOption func(*Recorder)

// WithSink adds a best-effort downstream sink.
func WithSink(s Sink) RecorderOption {
	return func(r *Recorder) {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
}

// WithRecorderClock overrides the event timestamp source.
func WithRecorderClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder over store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends ev. Storage failures are returned; sink failures are only logged.
func (r *Recorder) Record(ctx context.Context, ev Event) (Event, error) {
	if r == nil || r.store == nil {
		return Event{}, errors.New("audit: recorder has no store")
	}
	if ev.Type == "" {
		return Event{}, errors.New("audit: event type is required")
	}
	if ev.ID == "" {
		ev.ID = ids.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = r.now().UTC()
	}
	if ev.Metadata == nil {
		ev.Metadata = map[string]string{}
	}
	if err := r.store.Append(ctx, &ev); err != nil {
		return Event{}, err
	}

	fields := map[string]any{
		"event_id":  ev.ID,
		"tenant_id": ev.TenantID,
		"grant_id":  ev.GrantID,
	}
	if ev.TokenID != "" {
		fields["token_id"] = ev.TokenID
	}
	if ev.ActorID != nil {
		fields["actor_id"] = *ev.ActorID
	}
	for k, v := range ev.Metadata {
		fields[k] = v
	}
	_ = LogEvent(ctx, string(ev.Type), fields)

	for _, sink := range r.sinks {
		if err := sink.Publish(ctx, ev); err != nil {
			obs.Error("audit sink publish failed", err, map[string]any{"event_id": ev.ID, "type": string(ev.Type)})
		}
	}
	return ev, nil
}

// List returns the most recent events of a grant, oldest first.
func (r *Recorder) List(ctx context.Context, tenantID, grantID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return r.store.ListByGrant(ctx, tenantID, grantID, limit)
}
