package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus delivers events to subscribers on their own goroutines, so a slow
// subscriber never holds up the loop that emits.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopped  bool
	wg       sync.WaitGroup
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
	}
}

// Subscribe registers a handler for one or more event types. The name is used
// for logging and Unsubscribe.
func (eb *EventBus) Subscribe(name string, handler HandlerFunc, types ...EventType) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, t := range types {
		eb.handlers[t] = append(eb.handlers[t], handlerEntry{name: name, handler: handler})
		log.Debug().Str("event", string(t)).Str("handler", name).Msg("subscribed to event")
	}
}

// Unsubscribe removes a named handler from every event type.
func (eb *EventBus) Unsubscribe(name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for t, handlers := range eb.handlers {
		filtered := handlers[:0:0]
		for _, h := range handlers {
			if h.name != name {
				filtered = append(filtered, h)
			}
		}
		eb.handlers[t] = filtered
	}
}

// Emit publishes an event to all subscribed handlers asynchronously. A nil
// bus drops the event.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return
	}

	for _, h := range eb.handlers[event.Type] {
		eb.wg.Add(1)
		go eb.dispatch(ctx, h, event)
	}
}

func (eb *EventBus) dispatch(ctx context.Context, h handlerEntry, event Event) {
	defer eb.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err := h.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("handler returned error")
	}
}

// Wait blocks until every handler started so far has returned.
func (eb *EventBus) Wait() {
	eb.wg.Wait()
}

// Stop stops accepting new events and waits for in-flight handlers.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	eb.stopped = true
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// HandlerCount returns the number of handlers registered for an event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
