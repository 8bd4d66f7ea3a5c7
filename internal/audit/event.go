// Package audit records the append-only lifecycle trail of grants and tokens.
package audit

import (
	"context"
	"errors"
	"time"
)

// ErrImmutable is returned when storage refuses to modify an existing event.
var ErrImmutable = errors.New("audit: events are append-only")

// EventType names a grant or token lifecycle step.
type EventType string

const (
	EventGrantCreated   EventType = "grant.created"
	EventGrantRevoked   EventType = "grant.revoked"
	EventScopeAdded     EventType = "scope.added"
	EventTokenCreated   EventType = "token.created"
	EventTokenValidated EventType = "token.validated"
	EventTokenDenied    EventType = "token.denied"
	EventTokenRevoked   EventType = "token.revoked"
)

// Event is one immutable audit record. ActorID is nil for anonymous portal viewers.
type Event struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenant_id"`
	GrantID    string            `json:"grant_id,omitempty"`
	TokenID    string            `json:"token_id,omitempty"`
	Type       EventType         `json:"type"`
	ActorID    *string           `json:"actor_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Metadata   map[string]string `json:"metadata"`
}

// Store persists events. It deliberately has no update or delete operation.
type Store interface {
	Append(ctx context.Context, ev *Event) error
	ListByGrant(ctx context.Context, tenantID, grantID string, limit int) ([]Event, error)
}

// Sink receives a copy of every recorded event (message bus, SIEM, ...).
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Actor returns a pointer suitable for Event.ActorID; empty means anonymous.
func Actor(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
