package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soochol/graphrun/internal/compiler"
	"github.com/soochol/graphrun/internal/gateway"
	"github.com/soochol/graphrun/internal/graphrun"
	"github.com/soochol/graphrun/internal/repository"
)

// funcAgent adapts a function to the Agent interface.
type funcAgent struct {
	fn func(ctx context.Context, spec graphrun.InvocationSpec) (map[string]any, error)
}

func (a *funcAgent) Invoke(ctx context.Context, spec graphrun.InvocationSpec) (map[string]any, error) {
	return a.fn(ctx, spec)
}

// passAgent succeeds and emits its node ID on the "out" port.
func passAgent() graphrun.Agent {
	return &funcAgent{fn: func(_ context.Context, spec graphrun.InvocationSpec) (map[string]any, error) {
		return map[string]any{"out": spec.NodeID}, nil
	}}
}

// failForAgent fails permanently for the given node and passes otherwise.
func failForAgent(nodeID string) graphrun.Agent {
	return &funcAgent{fn: func(_ context.Context, spec graphrun.InvocationSpec) (map[string]any, error) {
		if spec.NodeID == nodeID {
			return nil, graphrun.NewAgentError(graphrun.FailurePermanent, errors.New("boom"))
		}
		return map[string]any{"out": spec.NodeID}, nil
	}}
}

func newTestEngine(t *testing.T, agent graphrun.Agent, limits graphrun.EngineLimits) (*Engine, repository.RunRepository) {
	t.Helper()
	reg := gateway.NewRegistry()
	reg.Register("stub", agent)
	gw := gateway.New(reg, graphrun.RetryPolicy{
		MaxRetries:    0,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 1.0,
	}, 5*time.Second, nil)

	repo := repository.NewMemoryRunRepository()
	eng := New(gw, repo, NewEventBus(), limits)
	eng.Start()
	t.Cleanup(eng.Stop)
	return eng, repo
}

func compileDiamond(t *testing.T) *graphrun.Plan {
	t.Helper()
	plan, err := compiler.New(nil).Compile(&graphrun.GraphDefinition{
		Name: "diamond",
		Nodes: []graphrun.NodeDefinition{
			{ID: "a", Kind: "stub", Outputs: []graphrun.PortDefinition{{Name: "out"}}},
			{ID: "b", Kind: "stub",
				Inputs:  []graphrun.PortDefinition{{Name: "in", Required: true}},
				Outputs: []graphrun.PortDefinition{{Name: "out"}}},
			{ID: "c", Kind: "stub",
				Inputs:  []graphrun.PortDefinition{{Name: "in", Required: true}},
				Outputs: []graphrun.PortDefinition{{Name: "out"}}},
			{ID: "d", Kind: "stub",
				Inputs: []graphrun.PortDefinition{
					{Name: "left", Required: true},
					{Name: "right", Required: true},
				},
				Outputs: []graphrun.PortDefinition{{Name: "out"}}},
		},
		Edges: []graphrun.EdgeDefinition{
			{From: "a", FromPort: "out", To: "b", ToPort: "in"},
			{From: "a", FromPort: "out", To: "c", ToPort: "in"},
			{From: "b", FromPort: "out", To: "d", ToPort: "left"},
			{From: "c", FromPort: "out", To: "d", ToPort: "right"},
		},
	})
	if err != nil {
		t.Fatalf("compile diamond: %v", err)
	}
	return plan
}

func waitForRun(t *testing.T, eng *Engine, runID string) *graphrun.RunRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Wait(ctx, runID); err != nil {
		t.Fatalf("wait for run: %v", err)
	}
	record, err := eng.Snapshot(context.Background(), runID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return record
}

func TestEngine_DiamondSucceeds(t *testing.T) {
	eng, _ := newTestEngine(t, passAgent(), graphrun.EngineLimits{MaxInFlight: 4})
	plan := compileDiamond(t)

	record, err := eng.Submit(context.Background(), plan, nil, graphrun.TriggerManual, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	final := waitForRun(t, eng, record.ID)
	if final.Status != graphrun.RunStatusSucceeded {
		t.Fatalf("expected succeeded, got %s (err: %v)", final.Status, final.Error)
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		if final.NodeStates[id] != graphrun.NodeSucceeded {
			t.Fatalf("node %s: expected succeeded, got %s", id, final.NodeStates[id])
		}
	}
	if final.Outputs["d"]["out"] != "d" {
		t.Fatalf("expected terminal output from d, got %v", final.Outputs["d"])
	}
	if final.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}
}

func TestEngine_FailurePropagationSkipsDependents(t *testing.T) {
	eng, _ := newTestEngine(t, failForAgent("c"), graphrun.EngineLimits{MaxInFlight: 4})
	plan := compileDiamond(t)

	record, err := eng.Submit(context.Background(), plan, nil, graphrun.TriggerManual, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	final := waitForRun(t, eng, record.ID)
	if final.Status != graphrun.RunStatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.NodeStates["c"] != graphrun.NodeFailed {
		t.Fatalf("expected c failed, got %s", final.NodeStates["c"])
	}
	if final.NodeStates["d"] != graphrun.NodeSkipped {
		t.Fatalf("expected d skipped, got %s", final.NodeStates["d"])
	}
	// b does not depend on c and must still complete.
	if final.NodeStates["b"] != graphrun.NodeSucceeded {
		t.Fatalf("expected b succeeded, got %s", final.NodeStates["b"])
	}
	if final.Error == nil || final.Error.Kind != graphrun.RunErrNodeFailedPropagation {
		t.Fatalf("expected node_failed_propagation error, got %v", final.Error)
	}
	if final.Error.NodeID != "c" {
		t.Fatalf("run error must name the originating node c, got %q", final.Error.NodeID)
	}
	// Partial outputs are retained.
	if final.Outputs["b"]["out"] != "b" {
		t.Fatalf("expected b's output to be retained, got %v", final.Outputs["b"])
	}
}

func TestEngine_SkipCascadesTransitively(t *testing.T) {
	// a -> b -> c, a fails: both b and c skip, and the error names a.
	plan, err := compiler.New(nil).Compile(&graphrun.GraphDefinition{
		Name: "chain",
		Nodes: []graphrun.NodeDefinition{
			{ID: "a", Kind: "stub", Outputs: []graphrun.PortDefinition{{Name: "out"}}},
			{ID: "b", Kind: "stub",
				Inputs:  []graphrun.PortDefinition{{Name: "in", Required: true}},
				Outputs: []graphrun.PortDefinition{{Name: "out"}}},
			{ID: "c", Kind: "stub",
				Inputs: []graphrun.PortDefinition{{Name: "in", Required: true}}},
		},
		Edges: []graphrun.EdgeDefinition{
			{From: "a", FromPort: "out", To: "b", ToPort: "in"},
			{From: "b", FromPort: "out", To: "c", ToPort: "in"},
		},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	eng, _ := newTestEngine(t, failForAgent("a"), graphrun.EngineLimits{MaxInFlight: 2})
	record, err := eng.Submit(context.Background(), plan, nil, graphrun.TriggerManual, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	final := waitForRun(t, eng, record.ID)
	if final.Status != graphrun.RunStatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.NodeStates["b"] != graphrun.NodeSkipped || final.NodeStates["c"] != graphrun.NodeSkipped {
		t.Fatalf("expected b and c skipped, got b=%s c=%s",
			final.NodeStates["b"], final.NodeStates["c"])
	}
	if final.Error.NodeID != "a" {
		t.Fatalf("expected origin a, got %q", final.Error.NodeID)
	}
}

func TestEngine_OptionalFailureUsesDefault(t *testing.T) {
	var def any = "fallback"
	plan, err := compiler.New(nil).Compile(&graphrun.GraphDefinition{
		Name: "optional",
		Nodes: []graphrun.NodeDefinition{
			{ID: "a", Kind: "stub", Optional: true,
				Outputs: []graphrun.PortDefinition{{Name: "out"}}},
			{ID: "b", Kind: "stub",
				Inputs:  []graphrun.PortDefinition{{Name: "in", Required: true, Default: &def}},
				Outputs: []graphrun.PortDefinition{{Name: "out"}}},
		},
		Edges: []graphrun.EdgeDefinition{
			{From: "a", FromPort: "out", To: "b", ToPort: "in"},
		},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	var mu sync.Mutex
	var bInputs map[string]any
	agent := &funcAgent{fn: func(_ context.Context, spec graphrun.InvocationSpec) (map[string]any, error) {
		if spec.NodeID == "a" {
			return nil, graphrun.NewAgentError(graphrun.FailurePermanent, errors.New("flaky optional step"))
		}
		mu.Lock()
		bInputs = spec.Inputs
		mu.Unlock()
		return map[string]any{"out": "done"}, nil
	}}

	eng, _ := newTestEngine(t, agent, graphrun.EngineLimits{MaxInFlight: 2})
	record, err := eng.Submit(context.Background(), plan, nil, graphrun.TriggerManual, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	final := waitForRun(t, eng, record.ID)
	if final.Status != graphrun.RunStatusSucceeded {
		t.Fatalf("optional failure must not fail the run, got %s (err: %v)", final.Status, final.Error)
	}
	if final.NodeStates["a"] != graphrun.NodeFailed {
		t.Fatalf("expected a failed, got %s", final.NodeStates["a"])
	}
	if final.NodeStates["b"] != graphrun.NodeSucceeded {
		t.Fatalf("expected b succeeded, got %s", final.NodeStates["b"])
	}

	mu.Lock()
	defer mu.Unlock()
	if bInputs["in"] != "fallback" {
		t.Fatalf("expected b to receive the port default, got %v", bInputs["in"])
	}
}

func TestEngine_OptionalFailureWithoutDefaultSkipsRequired(t *testing.T) {
	plan, err := compiler.New(nil).Compile(&graphrun.GraphDefinition{
		Name: "optional-no-default",
		Nodes: []graphrun.NodeDefinition{
			{ID: "a", Kind: "stub", Optional: true,
				Outputs: []graphrun.PortDefinition{{Name: "out"}}},
			{ID: "b", Kind: "stub",
				Inputs: []graphrun.PortDefinition{{Name: "in", Required: true}}},
		},
		Edges: []graphrun.EdgeDefinition{
			{From: "a", FromPort: "out", To: "b", ToPort: "in"},
		},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	eng, _ := newTestEngine(t, failForAgent("a"), graphrun.EngineLimits{MaxInFlight: 2})
	record, err := eng.Submit(context.Background(), plan, nil, graphrun.TriggerManual, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	final := waitForRun(t, eng, record.ID)
	if final.NodeStates["b"] != graphrun.NodeSkipped {
		t.Fatalf("required input without default must skip, got %s", final.NodeStates["b"])
	}
	if final.Status != graphrun.RunStatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
}

func TestEngine_RunInputsFeedEntryPorts(t *testing.T) {
	plan, err := compiler.New(nil).Compile(&graphrun.GraphDefinition{
		Name: "entry",
		Nodes: []graphrun.NodeDefinition{
			{ID: "a", Kind: "stub",
				Inputs:  []graphrun.PortDefinition{{Name: "name", Required: true}},
				Outputs: []graphrun.PortDefinition{{Name: "out"}}},
		},
	})
	if err == nil {
		t.Fatal("expected unresolved input error without a default")
	}

	// A non-required entry port resolves from the run inputs at dispatch.
	plan, err = compiler.New(nil).Compile(&graphrun.GraphDefinition{
		Name: "entry",
		Nodes: []graphrun.NodeDefinition{
			{ID: "a", Kind: "stub",
				Inputs:  []graphrun.PortDefinition{{Name: "name"}},
				Outputs: []graphrun.PortDefinition{{Name: "out"}}},
		},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	var mu sync.Mutex
	var got map[string]any
	agent := &funcAgent{fn: func(_ context.Context, spec graphrun.InvocationSpec) (map[string]any, error) {
		mu.Lock()
		got = spec.Inputs
		mu.Unlock()
		return map[string]any{"out": "ok"}, nil
	}}

	eng, _ := newTestEngine(t, agent, graphrun.EngineLimits{MaxInFlight: 1})
	record, err := eng.Submit(context.Background(), plan,
		map[string]any{"name": "world"}, graphrun.TriggerManual, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitForRun(t, eng, record.ID)

	mu.Lock()
	defer mu.Unlock()
	if got["name"] != "world" {
		t.Fatalf("expected run input to feed the entry port, got %v", got["name"])
	}
}

func TestEngine_CancelPreservesPartialOutputs(t *testing.T) {
	release := make(chan struct{})
	agent := &funcAgent{fn: func(ctx context.Context, spec graphrun.InvocationSpec) (map[string]any, error) {
		if spec.NodeID == "a" {
			return map[string]any{"out": "a"}, nil
		}
		select {
		case <-release:
			return map[string]any{"out": spec.NodeID}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	defer close(release)

	eng, _ := newTestEngine(t, agent, graphrun.EngineLimits{MaxInFlight: 4})
	plan := compileDiamond(t)

	record, err := eng.Submit(context.Background(), plan, nil, graphrun.TriggerManual, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Wait until a's output is recorded before cancelling.
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, err := eng.Snapshot(context.Background(), record.ID)
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if snap.NodeStates["a"] == graphrun.NodeSucceeded {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("a never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := eng.Cancel(record.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	final := waitForRun(t, eng, record.ID)
	if final.Status != graphrun.RunStatusCancelled {
		t.Fatalf("expected cancelled, got %s", final.Status)
	}
	if final.Error == nil || final.Error.Kind != graphrun.RunErrCancelled {
		t.Fatalf("expected cancelled error kind, got %v", final.Error)
	}
	if final.Outputs["a"]["out"] != "a" {
		t.Fatalf("expected a's output retained after cancel, got %v", final.Outputs["a"])
	}

	// Cancelling again reports not found: the run is terminal and evicted.
	if err := eng.Cancel(record.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second cancel, got %v", err)
	}
}

func TestEngine_RunDeadline(t *testing.T) {
	agent := &funcAgent{fn: func(ctx context.Context, spec graphrun.InvocationSpec) (map[string]any, error) {
		if spec.NodeID == "a" {
			return map[string]any{"out": "a"}, nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	eng, _ := newTestEngine(t, agent, graphrun.EngineLimits{
		MaxInFlight: 4,
		RunDeadline: 50 * time.Millisecond,
	})
	plan := compileDiamond(t)

	record, err := eng.Submit(context.Background(), plan, nil, graphrun.TriggerManual, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	final := waitForRun(t, eng, record.ID)
	if final.Status != graphrun.RunStatusCancelled {
		t.Fatalf("expected cancelled on deadline, got %s", final.Status)
	}
	if final.Error == nil || final.Error.Kind != graphrun.RunErrDeadlineExceeded {
		t.Fatalf("expected deadline_exceeded, got %v", final.Error)
	}
}

func TestEngine_RevisionIncreasesMonotonically(t *testing.T) {
	eng, _ := newTestEngine(t, passAgent(), graphrun.EngineLimits{MaxInFlight: 4})
	plan := compileDiamond(t)

	record, err := eng.Submit(context.Background(), plan, nil, graphrun.TriggerManual, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	final := waitForRun(t, eng, record.ID)
	if final.Revision <= record.Revision {
		t.Fatalf("revision must increase: initial %d, final %d", record.Revision, final.Revision)
	}
	// Repeated snapshots of a terminal run are idempotent.
	again, err := eng.Snapshot(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if again.Revision != final.Revision {
		t.Fatalf("terminal snapshot revision changed: %d vs %d", again.Revision, final.Revision)
	}
}

func TestEngine_MaxInFlightBoundsConcurrency(t *testing.T) {
	// Wide graph of 6 independent nodes with a pool of 2.
	nodes := make([]graphrun.NodeDefinition, 6)
	for i := range nodes {
		nodes[i] = graphrun.NodeDefinition{
			ID: string(rune('a' + i)), Kind: "stub",
			Outputs: []graphrun.PortDefinition{{Name: "out"}},
		}
	}
	plan, err := compiler.New(nil).Compile(&graphrun.GraphDefinition{Name: "wide", Nodes: nodes})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	var mu sync.Mutex
	inFlight, peak := 0, 0
	agent := &funcAgent{fn: func(_ context.Context, spec graphrun.InvocationSpec) (map[string]any, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return map[string]any{"out": spec.NodeID}, nil
	}}

	eng, _ := newTestEngine(t, agent, graphrun.EngineLimits{MaxInFlight: 2})
	record, err := eng.Submit(context.Background(), plan, nil, graphrun.TriggerManual, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitForRun(t, eng, record.ID)

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Fatalf("in-flight invocations exceeded the bound: peak %d", peak)
	}
}

func TestEngine_ReleaseIntermediates(t *testing.T) {
	eng, _ := newTestEngine(t, passAgent(), graphrun.EngineLimits{
		MaxInFlight:          4,
		ReleaseIntermediates: true,
	})
	plan := compileDiamond(t)

	record, err := eng.Submit(context.Background(), plan, nil, graphrun.TriggerManual, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	final := waitForRun(t, eng, record.ID)
	if final.Status != graphrun.RunStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", final.Status)
	}
	// Intermediate outputs were consumed and dropped; the sink's remain.
	if _, ok := final.Outputs["a"]; ok {
		t.Fatal("expected a's outputs released after consumption")
	}
	if final.Outputs["d"]["out"] != "d" {
		t.Fatalf("expected d's outputs retained, got %v", final.Outputs["d"])
	}
}

func TestEngine_WaitOnEvictedRun(t *testing.T) {
	eng, _ := newTestEngine(t, passAgent(), graphrun.EngineLimits{MaxInFlight: 2})
	plan := compileDiamond(t)

	record, err := eng.Submit(context.Background(), plan, nil, graphrun.TriggerManual, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitForRun(t, eng, record.ID)

	// A second Wait finds the run evicted but still resolvable.
	if err := eng.Wait(context.Background(), record.ID); err != nil {
		t.Fatalf("wait on terminal run: %v", err)
	}
	if err := eng.Wait(context.Background(), "run-unknown"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown run, got %v", err)
	}
}

func TestEngine_SiblingCompletionDispatchesSuccessorOnce(t *testing.T) {
	var successorCalls atomic.Int32
	var gate sync.WaitGroup
	agent := &funcAgent{fn: func(_ context.Context, spec graphrun.InvocationSpec) (map[string]any, error) {
		switch spec.NodeID {
		case "b", "c":
			// Hold both siblings until each has arrived so they complete
			// concurrently, racing to admit the shared successor.
			gate.Done()
			gate.Wait()
		case "d":
			successorCalls.Add(1)
		}
		return map[string]any{"out": spec.NodeID}, nil
	}}
	eng, _ := newTestEngine(t, agent, graphrun.EngineLimits{MaxInFlight: 4})
	plan := compileDiamond(t)

	for i := 0; i < 25; i++ {
		successorCalls.Store(0)
		gate.Add(2)

		record, err := eng.Submit(context.Background(), plan, nil, graphrun.TriggerManual, "")
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		final := waitForRun(t, eng, record.ID)
		if final.Status != graphrun.RunStatusSucceeded {
			t.Fatalf("iteration %d: expected succeeded, got %s (err: %v)", i, final.Status, final.Error)
		}
		if n := successorCalls.Load(); n != 1 {
			t.Fatalf("iteration %d: siblings completing together dispatched successor %d times, want 1", i, n)
		}
	}
}

// failingRunRepo rejects every Create to exercise the persist-failure path.
type failingRunRepo struct {
	repository.RunRepository
}

func (f *failingRunRepo) Create(context.Context, *graphrun.RunRecord) error {
	return errors.New("db down")
}

func TestEngine_SubmitPersistFailureReleasesRun(t *testing.T) {
	repo := &failingRunRepo{RunRepository: repository.NewMemoryRunRepository()}
	reg := gateway.NewRegistry()
	reg.Register("stub", passAgent())
	gw := gateway.New(reg, graphrun.RetryPolicy{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1.0}, time.Second, nil)
	eng := New(gw, repo, NewEventBus(), graphrun.EngineLimits{MaxInFlight: 2})
	eng.Start()
	t.Cleanup(eng.Stop)

	plan := compileDiamond(t)
	if _, err := eng.Submit(context.Background(), plan, nil, graphrun.TriggerManual, ""); err == nil {
		t.Fatal("expected submit to fail when the run cannot be persisted")
	}
	if stats := eng.Stats(); stats.ActiveRuns != 0 {
		t.Fatalf("failed submit must not leave a live run, got %d", stats.ActiveRuns)
	}
}
