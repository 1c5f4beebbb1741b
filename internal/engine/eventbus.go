package engine

import (
	"context"
	"sync"
	"time"
)

// EventType identifies an observability event emitted by the engine.
type EventType string

const (
	EventRunStarted    EventType = "run.started"
	EventRunSucceeded  EventType = "run.succeeded"
	EventRunFailed     EventType = "run.failed"
	EventRunCancelled  EventType = "run.cancelled"
	EventNodeDispatch  EventType = "node.dispatched"
	EventNodeCompleted EventType = "node.completed"
	EventNodeFailed    EventType = "node.failed"
	EventNodeSkipped   EventType = "node.skipped"
	EventInvocation    EventType = "invocation.record"
)

// Event is a structured observability event. Consumed by an external
// telemetry collaborator; the engine mandates the field set, not the format.
type Event struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	PlanID    string         `json:"plan_id"`
	NodeID    string         `json:"node_id,omitempty"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventHandler receives published events.
type EventHandler func(Event)

// EventBus fans events out to subscribers.
type EventBus struct {
	mu       sync.RWMutex
	handlers []EventHandler
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

func (b *EventBus) Subscribe(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}

// Channel returns a channel fed by the bus until ctx is done. Events are
// dropped rather than blocking a slow consumer.
func (b *EventBus) Channel(ctx context.Context, bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	var mu sync.Mutex
	closed := false

	b.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default: // slow consumer, drop
		}
	})
	go func() {
		<-ctx.Done()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch
}
