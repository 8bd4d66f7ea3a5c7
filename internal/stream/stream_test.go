package stream

import (
	"context"
	"testing"
	"time"

	"authority.dev/internal/audit"
)

func TestHubDeliversOnlyOwnTenant(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := h.Subscribe(ctx, "tenant-a")
	b := h.Subscribe(ctx, "tenant-b")

	_ = h.Publish(ctx, audit.Event{ID: "e1", TenantID: "tenant-a", Type: audit.EventTokenValidated})
	_ = h.Publish(ctx, audit.Event{ID: "e2", Type: audit.EventTokenDenied})

	select {
	case ev := <-a:
		if ev.ID != "e1" {
			t.Fatalf("unexpected event %s", ev.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("tenant-a did not receive its event")
	}
	select {
	case ev := <-b:
		t.Fatalf("tenant-b received foreign event %s", ev.ID)
	case ev := <-a:
		t.Fatalf("tenantless event was streamed: %s", ev.ID)
	default:
	}
}

func TestHubUnsubscribesOnCancel(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Subscribe(ctx, "tenant-a")
	if h.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber")
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	if h.Subscribers() != 0 {
		t.Fatalf("subscriber not removed")
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = h.Subscribe(ctx, "tenant-a")

	for i := 0; i < bufferSize+5; i++ {
		if err := h.Publish(ctx, audit.Event{TenantID: "tenant-a", Type: audit.EventScopeAdded}); err != nil {
			t.Fatal(err)
		}
	}
	if h.Dropped() != 5 {
		t.Fatalf("dropped %d, want 5", h.Dropped())
	}
}
