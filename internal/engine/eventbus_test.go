package engine

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestEventBus_FanOut(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	counts := make(map[string]int)
	for _, name := range []string{"first", "second"} {
		name := name
		bus.Subscribe(func(e Event) {
			mu.Lock()
			counts[name]++
			mu.Unlock()
		})
	}

	bus.Publish(Event{Type: EventRunStarted, RunID: "r1"})
	bus.Publish(Event{Type: EventRunSucceeded, RunID: "r1"})

	mu.Lock()
	defer mu.Unlock()
	if counts["first"] != 2 || counts["second"] != 2 {
		t.Fatalf("expected both subscribers to see 2 events, got %v", counts)
	}
}

func TestEventBus_ChannelDeliversUntilCancel(t *testing.T) {
	bus := NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch := bus.Channel(ctx, 8)
	bus.Publish(Event{Type: EventNodeCompleted, RunID: "r1", NodeID: "n1"})

	select {
	case e := <-ch:
		if e.NodeID != "n1" {
			t.Fatalf("expected n1, got %s", e.NodeID)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	// After cancellation the channel closes; publishing must not panic.
	time.Sleep(10 * time.Millisecond)
	bus.Publish(Event{Type: EventRunFailed, RunID: "r1"})

	for {
		if _, ok := <-ch; !ok {
			return
		}
	}
}
