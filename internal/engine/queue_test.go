package engine

import (
	"sync"
	"testing"
	"time"
)

func TestReadyQueue_FIFOOrder(t *testing.T) {
	q := newReadyQueue()
	for _, id := range []string{"n1", "n2", "n3"} {
		q.push(dispatchItem{runID: "r", nodeID: id})
	}

	for _, want := range []string{"n1", "n2", "n3"} {
		item, ok := q.pop()
		if !ok {
			t.Fatal("expected item")
		}
		if item.nodeID != want {
			t.Fatalf("expected %s, got %s", want, item.nodeID)
		}
	}
	if q.depth() != 0 {
		t.Fatalf("expected empty queue, depth %d", q.depth())
	}
}

func TestReadyQueue_PopBlocksUntilPush(t *testing.T) {
	q := newReadyQueue()

	got := make(chan dispatchItem, 1)
	go func() {
		item, ok := q.pop()
		if ok {
			got <- item
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.push(dispatchItem{runID: "r", nodeID: "n1"})

	select {
	case item := <-got:
		if item.nodeID != "n1" {
			t.Fatalf("expected n1, got %s", item.nodeID)
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not wake after push")
	}
}

func TestReadyQueue_CloseReleasesAllWaiters(t *testing.T) {
	q := newReadyQueue()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := q.pop(); ok {
				t.Error("expected ok=false after close")
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	q.close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiters not released by close")
	}
}

func TestReadyQueue_PushAfterCloseIgnored(t *testing.T) {
	q := newReadyQueue()
	q.close()
	q.push(dispatchItem{runID: "r", nodeID: "n1"})
	if q.depth() != 0 {
		t.Fatalf("push after close must be ignored, depth %d", q.depth())
	}
}

func TestReadyQueue_ConcurrentPushersDrainCompletely(t *testing.T) {
	q := newReadyQueue()
	const pushers, perPusher = 8, 50

	var pushWG sync.WaitGroup
	for p := 0; p < pushers; p++ {
		pushWG.Add(1)
		go func() {
			defer pushWG.Done()
			for i := 0; i < perPusher; i++ {
				q.push(dispatchItem{runID: "r", nodeID: "n"})
			}
		}()
	}

	var mu sync.Mutex
	popped := 0
	var popWG sync.WaitGroup
	for w := 0; w < 4; w++ {
		popWG.Add(1)
		go func() {
			defer popWG.Done()
			for {
				if _, ok := q.pop(); !ok {
					return
				}
				mu.Lock()
				popped++
				mu.Unlock()
			}
		}()
	}

	pushWG.Wait()
	// Wait for the queue to drain before closing.
	deadline := time.Now().Add(5 * time.Second)
	for q.depth() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("queue did not drain")
		}
		time.Sleep(time.Millisecond)
	}
	q.close()
	popWG.Wait()

	if popped != pushers*perPusher {
		t.Fatalf("expected %d pops, got %d", pushers*perPusher, popped)
	}
}
