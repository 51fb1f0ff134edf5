package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/models"
)

func locationEvent(agentID int64) models.Event {
	return models.NewEvent(models.EventTypeLocationUpdated, models.LocationUpdatedEvent{AgentID: agentID})
}

func agentIDOf(t *testing.T, e models.Event) int64 {
	t.Helper()
	data, ok := e.Data.(models.LocationUpdatedEvent)
	if !ok {
		t.Fatalf("unexpected payload %T", e.Data)
	}
	return data.AgentID
}

func TestSubscribeIsIdempotent(t *testing.T) {
	h := New(4, logger.NewDiscard())

	first := h.Subscribe("dash-1")
	second := h.Subscribe("dash-1")
	if first != second {
		t.Fatalf("second Subscribe returned a different subscriber")
	}
	if got := h.Stats().Subscribers; got != 1 {
		t.Fatalf("subscribers = %d, want 1", got)
	}

	h.Unsubscribe("dash-1")
	h.Unsubscribe("dash-1")
	h.Unsubscribe("never-subscribed")
	if got := h.Stats().Subscribers; got != 0 {
		t.Fatalf("subscribers = %d, want 0", got)
	}
	select {
	case <-first.Done():
	default:
		t.Fatalf("Done not closed after Unsubscribe")
	}
}

func TestPublishPreservesOrderPerSubscriber(t *testing.T) {
	h := New(16, logger.NewDiscard())
	sub := h.Subscribe("dash")

	for i := int64(1); i <= 10; i++ {
		h.Publish(locationEvent(i))
	}

	events := sub.Drain()
	if len(events) != 10 {
		t.Fatalf("got %d events, want 10", len(events))
	}
	for i, e := range events {
		if got := agentIDOf(t, e); got != int64(i+1) {
			t.Fatalf("event %d has agent %d", i, got)
		}
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	h := New(3, logger.NewDiscard())
	sub := h.Subscribe("slow")

	for i := int64(1); i <= 5; i++ {
		h.Publish(locationEvent(i))
	}

	if sub.Dropped() != 2 {
		t.Fatalf("dropped = %d, want 2", sub.Dropped())
	}
	events := sub.Drain()
	if len(events) != 3 {
		t.Fatalf("queue length = %d, want 3", len(events))
	}
	for i, want := range []int64{3, 4, 5} {
		if got := agentIDOf(t, events[i]); got != want {
			t.Fatalf("event %d agent = %d, want %d", i, got, want)
		}
	}
	if h.Stats().Dropped != 2 {
		t.Fatalf("hub dropped = %d, want 2", h.Stats().Dropped)
	}
}

func TestSaturatedSubscriberDoesNotBlockHealthyOne(t *testing.T) {
	h := New(2, logger.NewDiscard())
	saturated := h.Subscribe("saturated")
	healthy := h.Subscribe("healthy")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const total = 500
	var (
		mu       sync.Mutex
		received []int64
	)
	allDelivered := make(chan struct{})
	go Pump(ctx, healthy, func(events []models.Event) {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			received = append(received, agentIDOf(t, e))
		}
		if len(received) == total {
			close(allDelivered)
		}
	})

	published := make(chan struct{})
	go func() {
		for i := int64(1); i <= total; i++ {
			h.Publish(locationEvent(i))
			// даём здоровому подписчику успевать за публикацией
			for healthy.Len() > 1 {
				time.Sleep(time.Microsecond)
			}
		}
		close(published)
	}()

	select {
	case <-published:
	case <-time.After(5 * time.Second):
		t.Fatalf("publisher blocked by saturated subscriber")
	}
	select {
	case <-allDelivered:
	case <-time.After(5 * time.Second):
		mu.Lock()
		t.Fatalf("healthy subscriber received %d of %d", len(received), total)
	}

	mu.Lock()
	for i, id := range received {
		if id != int64(i+1) {
			t.Fatalf("healthy subscriber out of order at %d: %d", i, id)
		}
	}
	mu.Unlock()

	if saturated.Len() != 2 {
		t.Fatalf("saturated queue length = %d, want bound 2", saturated.Len())
	}
	if saturated.Dropped() != total-2 {
		t.Fatalf("saturated dropped = %d, want %d", saturated.Dropped(), total-2)
	}
	if healthy.Dropped() != 0 {
		t.Fatalf("healthy subscriber dropped %d events", healthy.Dropped())
	}
}

func TestPublishAfterUnsubscribeIsDiscarded(t *testing.T) {
	h := New(4, logger.NewDiscard())
	sub := h.Subscribe("gone")
	h.Publish(locationEvent(1))
	h.Unsubscribe("gone")
	h.Publish(locationEvent(2))

	if events := sub.Drain(); len(events) != 0 {
		t.Fatalf("queue not discarded: %d events", len(events))
	}
}

func TestPumpStopsOnUnsubscribe(t *testing.T) {
	h := New(4, logger.NewDiscard())
	sub := h.Subscribe("internal")

	stopped := make(chan struct{})
	go func() {
		Pump(context.Background(), sub, func([]models.Event) {})
		close(stopped)
	}()

	h.Unsubscribe("internal")
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("Pump did not return after Unsubscribe")
	}
}
