package events

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestEmitReachesSubscribers(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	got := map[string][]EventType{}
	record := func(name string) HandlerFunc {
		return func(ctx context.Context, e Event) error {
			mu.Lock()
			got[name] = append(got[name], e.Type)
			mu.Unlock()
			return nil
		}
	}
	bus.Subscribe("a", record("a"), EventClientConnected, EventClientReset)
	bus.Subscribe("b", record("b"), EventClientReset)
	bus.Subscribe("broken", func(context.Context, Event) error { return errors.New("boom") }, EventClientReset)
	bus.Subscribe("panics", func(context.Context, Event) error { panic("boom") }, EventClientReset)

	ctx := context.Background()
	bus.Emit(ctx, NewEvent(EventClientConnected, "test", ClientPayload{ID: 1}))
	bus.Emit(ctx, NewEvent(EventClientReset, "test", ClientPayload{ID: 1}))
	bus.Stop()

	if len(got["a"]) != 2 || len(got["b"]) != 1 {
		t.Fatalf("deliveries: %v", got)
	}

	bus.Emit(ctx, NewEvent(EventClientReset, "test", nil))
	if len(got["b"]) != 1 {
		t.Fatalf("stopped bus still delivers")
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	noop := func(context.Context, Event) error { return nil }
	bus.Subscribe("x", noop, EventAnnounce, EventShutdown)
	bus.Subscribe("y", noop, EventAnnounce)
	bus.Unsubscribe("x")

	if bus.HandlerCount(EventAnnounce) != 1 || bus.HandlerCount(EventShutdown) != 0 {
		t.Fatalf("unsubscribe left %d/%d handlers", bus.HandlerCount(EventAnnounce), bus.HandlerCount(EventShutdown))
	}
}

func TestNilBusDropsEvents(t *testing.T) {
	var bus *EventBus
	bus.Emit(context.Background(), NewEvent(EventAnnounce, "test", nil))
}

func TestWaitKeepsBusOpen(t *testing.T) {
	bus := NewEventBus()
	var mu sync.Mutex
	n := 0
	bus.Subscribe("count", func(context.Context, Event) error {
		mu.Lock()
		n++
		mu.Unlock()
		return nil
	}, EventShutdown)

	bus.Emit(context.Background(), NewEvent(EventShutdown, "test", nil))
	bus.Wait()
	bus.Emit(context.Background(), NewEvent(EventShutdown, "test", nil))
	bus.Stop()

	if n != 2 {
		t.Fatalf("handled %d events, want 2", n)
	}
}
