package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPublishReachesAllHandlers(t *testing.T) {
	bus := NewWithConfig(2, 16)
	defer closeBus(t, bus)

	var mu sync.Mutex
	var got []Event
	done := make(chan struct{}, 2)

	for i := 0; i < 2; i++ {
		bus.Subscribe(func(e Event) {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
			done <- struct{}{}
		})
	}

	bus.Publish(EventTypeLightState, "bedroom", map[string]interface{}{"power": true})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("handler not invoked")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for _, e := range got {
		if e.Type != EventTypeLightState || e.Device != "bedroom" {
			t.Errorf("unexpected event: %+v", e)
		}
		if e.ID == "" {
			t.Error("event missing ID")
		}
	}
	// Both handlers must see the same event ID.
	if got[0].ID != got[1].ID {
		t.Errorf("handlers saw different event IDs: %s vs %s", got[0].ID, got[1].ID)
	}
}

func TestHandlerPanicDoesNotKillWorkers(t *testing.T) {
	bus := NewWithConfig(1, 16)
	defer closeBus(t, bus)

	done := make(chan struct{}, 1)
	bus.Subscribe(func(e Event) {
		if e.Device == "boom" {
			panic("handler panic")
		}
		done <- struct{}{}
	})

	bus.Publish(EventTypeMicState, "boom", nil)
	bus.Publish(EventTypeMicState, "ok", nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after handler panic")
	}
}

func TestPublishAfterCloseDropsEvent(t *testing.T) {
	bus := NewWithConfig(1, 16)
	bus.Subscribe(func(Event) { t.Error("handler invoked after close") })
	closeBus(t, bus)

	bus.Publish(EventTypeLightState, "bedroom", nil)
	time.Sleep(50 * time.Millisecond)
}

func closeBus(t *testing.T, bus *Bus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bus.Close(ctx)
}
