package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/soochol/graphrun/internal/gateway"
	"github.com/soochol/graphrun/internal/graphrun"
	"github.com/soochol/graphrun/internal/repository"
)

// Engine executes plan runs: it schedules ready nodes, tracks per-node state,
// propagates data along edges, and handles partial failure. Each run is
// exclusively owned and mutated by this engine for its lifetime.
type Engine struct {
	gw     *gateway.Gateway
	repo   repository.RunRepository
	bus    *EventBus
	limits graphrun.EngineLimits
	queue  *readyQueue

	mu      sync.RWMutex
	runs    map[string]*run
	workers sync.WaitGroup
	started bool
}

// Stats reports current engine load.
type Stats struct {
	ActiveRuns  int `json:"active_runs"`
	QueueDepth  int `json:"queue_depth"`
	MaxInFlight int `json:"max_in_flight"`
}

// New creates an Engine. Call Start before submitting runs.
func New(gw *gateway.Gateway, repo repository.RunRepository, bus *EventBus, limits graphrun.EngineLimits) *Engine {
	if limits.MaxInFlight <= 0 {
		limits.MaxInFlight = graphrun.DefaultEngineLimits().MaxInFlight
	}
	return &Engine{
		gw:     gw,
		repo:   repo,
		bus:    bus,
		limits: limits,
		queue:  newReadyQueue(),
		runs:   make(map[string]*run),
	}
}

// SetGateway configures the invocation gateway. Used when the gateway's
// record sink feeds this engine's event bus, which makes the two mutually
// dependent at construction time. Must be called before Start.
func (e *Engine) SetGateway(gw *gateway.Gateway) {
	e.gw = gw
}

// Start launches the worker pool. The pool size is the maximum number of
// concurrently in-flight node invocations; ready nodes beyond it queue FIFO.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	for i := 0; i < e.limits.MaxInFlight; i++ {
		e.workers.Add(1)
		go e.worker()
	}
	slog.Info("engine: started", "workers", e.limits.MaxInFlight)
}

// Stop drains the admission queue and waits for in-flight work.
func (e *Engine) Stop() {
	e.queue.close()
	e.workers.Wait()
	slog.Info("engine: stopped")
}

// Submit creates a run for plan in Created state, persists it, and begins
// execution. It returns the initial run record immediately.
func (e *Engine) Submit(ctx context.Context, plan *graphrun.Plan, inputs map[string]any, triggerType graphrun.TriggerType, triggerRef string) (*graphrun.RunRecord, error) {
	r := newRun(plan, inputs, triggerType, triggerRef, e.limits.ReleaseIntermediates)

	e.mu.Lock()
	e.runs[r.id] = r
	e.mu.Unlock()

	if err := e.repo.Create(ctx, r.record()); err != nil {
		r.cancel()
		e.drop(r.id)
		return nil, fmt.Errorf("persist run: %w", err)
	}

	record := e.begin(r)
	return record, nil
}

// begin moves the run to Running, queues the initial ready set, and arms the
// optional run deadline.
func (e *Engine) begin(r *run) *graphrun.RunRecord {
	r.mu.Lock()
	now := time.Now()
	r.status = graphrun.RunStatusRunning
	r.startedAt = &now
	r.bump()
	ready, events := r.advance()
	record := r.record()
	r.mu.Unlock()

	e.publish(r.event(EventRunStarted, "", map[string]any{"plan": r.plan.ID}))
	for _, ev := range events {
		e.publish(ev)
	}
	for _, nodeID := range ready {
		e.queue.push(dispatchItem{runID: r.id, nodeID: nodeID})
	}
	// A plan with zero dispatchable nodes settles immediately.
	e.maybeFinalize(r)

	if e.limits.RunDeadline > 0 {
		go e.watchDeadline(r)
	}
	return record
}

func (e *Engine) watchDeadline(r *run) {
	timer := time.NewTimer(e.limits.RunDeadline)
	defer timer.Stop()
	select {
	case <-timer.C:
		e.abort(r, graphrun.RunErrDeadlineExceeded,
			fmt.Sprintf("run exceeded deadline %s", e.limits.RunDeadline))
	case <-r.done:
	}
}

// Cancel moves a running run to Cancelled immediately. In-flight invocations
// receive a best-effort cancellation signal; outputs recorded before the
// cancellation are retained for partial-result inspection.
func (e *Engine) Cancel(runID string) error {
	r, ok := e.liveRun(runID)
	if !ok {
		return repository.ErrNotFound
	}
	e.abort(r, graphrun.RunErrCancelled, "cancelled by external request")
	return nil
}

// abort marks the run Cancelled with the given cause, unless it is already
// terminal.
func (e *Engine) abort(r *run, kind graphrun.RunErrorKind, detail string) {
	r.mu.Lock()
	if r.status.Terminal() {
		r.mu.Unlock()
		return
	}
	now := time.Now()
	r.status = graphrun.RunStatusCancelled
	r.runErr = &graphrun.RunError{Kind: kind, Detail: detail}
	r.completedAt = &now
	r.bump()
	record := r.record()
	r.mu.Unlock()

	r.cancel()
	close(r.done)
	e.persist(record)
	e.publish(r.event(EventRunCancelled, "", map[string]any{"kind": string(kind)}))
	e.drop(r.id)
}

// Snapshot returns an idempotent, revision-tagged view of a run, falling
// back to the repository for completed or evicted runs.
func (e *Engine) Snapshot(ctx context.Context, runID string) (*graphrun.RunRecord, error) {
	if r, ok := e.liveRun(runID); ok {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.record(), nil
	}
	return e.repo.Get(ctx, runID)
}

// Wait blocks until the run reaches a terminal state or ctx is done.
func (e *Engine) Wait(ctx context.Context, runID string) error {
	r, ok := e.liveRun(runID)
	if !ok {
		// Already terminal and evicted; confirm it exists at all.
		_, err := e.repo.Get(ctx, runID)
		return err
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current engine load.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	active := len(e.runs)
	e.mu.RUnlock()
	return Stats{
		ActiveRuns:  active,
		QueueDepth:  e.queue.depth(),
		MaxInFlight: e.limits.MaxInFlight,
	}
}

// worker consumes the FIFO admission queue.
func (e *Engine) worker() {
	defer e.workers.Done()
	for {
		item, ok := e.queue.pop()
		if !ok {
			return
		}
		e.executeNode(item)
	}
}

// executeNode dispatches one admitted node: resolve inputs inside the
// critical section, invoke the agent outside it, then record the outcome and
// recompute the ready set atomically.
func (e *Engine) executeNode(item dispatchItem) {
	r, ok := e.liveRun(item.runID)
	if !ok {
		return // run cancelled or finished while queued
	}
	r.mu.Lock()
	if r.status.Terminal() || r.states[item.nodeID] != graphrun.NodeReady {
		r.mu.Unlock()
		return
	}
	r.states[item.nodeID] = graphrun.NodeRunning
	r.bump()
	inputs, err := r.resolveInputs(item.nodeID)
	def := r.plan.Nodes[item.nodeID].Def
	r.mu.Unlock()

	e.publish(r.event(EventNodeDispatch, item.nodeID, nil))

	if err != nil {
		e.completeNode(r, item.nodeID, graphrun.AgentResult{
			Failure: graphrun.NewAgentError(graphrun.FailurePermanent, err),
		})
		return
	}

	timeout := time.Duration(def.TimeoutSec) * time.Second
	result := e.gw.Invoke(r.ctx, graphrun.InvocationSpec{
		RunID:  r.id,
		NodeID: item.nodeID,
		Kind:   def.Kind,
		Config: def.Config,
		Inputs: inputs,
	}, timeout)

	e.completeNode(r, item.nodeID, result)
}

// completeNode records an invocation outcome, recomputes the ready set under
// the per-run critical section, and finalizes the run if nothing can still
// make progress.
func (e *Engine) completeNode(r *run, nodeID string, result graphrun.AgentResult) {
	r.mu.Lock()
	if r.status.Terminal() {
		// Late completion after cancellation: the run state is frozen.
		r.mu.Unlock()
		return
	}

	var events []Event
	if result.Failure == nil {
		r.states[nodeID] = graphrun.NodeSucceeded
		r.values[nodeID] = result.Output
		r.bump()
		events = append(events, r.event(EventNodeCompleted, nodeID, map[string]any{
			"attempts": result.Attempts,
			"duration": result.Duration.String(),
		}))
	} else {
		r.states[nodeID] = graphrun.NodeFailed
		r.origin[nodeID] = nodeID
		r.bump()
		events = append(events, r.event(EventNodeFailed, nodeID, map[string]any{
			"kind":     string(result.Failure.Kind),
			"error":    result.Failure.Detail,
			"attempts": result.Attempts,
			// Downstream nodes whose inputs this failure jeopardizes.
			"affects": r.plan.ChildIDs(nodeID),
		}))
	}
	r.releaseParents(nodeID)

	ready, advEvents := r.advance()
	events = append(events, advEvents...)
	r.mu.Unlock()

	for _, ev := range events {
		e.publish(ev)
	}
	for _, id := range ready {
		e.queue.push(dispatchItem{runID: r.id, nodeID: id})
	}
	e.maybeFinalize(r)
}

// maybeFinalize settles the run once every node is terminal.
func (e *Engine) maybeFinalize(r *run) {
	r.mu.Lock()
	if r.status.Terminal() || !r.complete() {
		r.mu.Unlock()
		return
	}
	status, runErr := r.finalStatus()
	now := time.Now()
	r.status = status
	r.runErr = runErr
	r.completedAt = &now
	r.bump()
	record := r.record()
	r.mu.Unlock()

	r.cancel()
	close(r.done)
	e.persist(record)

	switch status {
	case graphrun.RunStatusSucceeded:
		e.publish(r.event(EventRunSucceeded, "", nil))
		slog.Info("engine: run succeeded", "run", r.id, "plan", r.plan.ID)
	default:
		payload := map[string]any{}
		if runErr != nil {
			payload["kind"] = string(runErr.Kind)
			payload["node"] = runErr.NodeID
		}
		e.publish(r.event(EventRunFailed, "", payload))
		slog.Warn("engine: run failed", "run", r.id, "plan", r.plan.ID, "err", runErr)
	}
	e.drop(r.id)
}

// InvocationSink returns a gateway record sink that republishes invocation
// records on the engine's event bus.
func (e *Engine) InvocationSink() gateway.RecordSink {
	return func(rec gateway.InvocationRecord) {
		e.bus.Publish(Event{
			ID:     graphrun.GenerateID("ev"),
			RunID:  rec.RunID,
			NodeID: rec.NodeID,
			Type:   EventInvocation,
			Payload: map[string]any{
				"kind":     rec.Kind,
				"attempt":  rec.Attempt,
				"duration": rec.Duration.String(),
				"outcome":  rec.Outcome,
				"error":    rec.Error,
			},
			Timestamp: time.Now(),
		})
	}
}

func (e *Engine) publish(ev Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func (e *Engine) persist(record *graphrun.RunRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.repo.Update(ctx, record); err != nil {
		slog.Warn("engine: failed to persist run", "run", record.ID, "err", err)
	}
}

func (e *Engine) liveRun(runID string) (*run, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[runID]
	return r, ok
}

// drop evicts a terminal run from the live set; its record lives on in the
// repository.
func (e *Engine) drop(runID string) {
	e.mu.Lock()
	delete(e.runs, runID)
	e.mu.Unlock()
}
