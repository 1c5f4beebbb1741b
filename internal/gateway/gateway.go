package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strings"
	"time"

	"github.com/soochol/graphrun/internal/graphrun"
)

// InvocationRecord is the structured observability record emitted for every
// agent call attempt.
type InvocationRecord struct {
	RunID    string        `json:"run_id"`
	NodeID   string        `json:"node_id"`
	Kind     string        `json:"kind"`
	Attempt  int           `json:"attempt"`
	Duration time.Duration `json:"duration"`
	Outcome  string        `json:"outcome"` // "success" | failure kind
	Error    string        `json:"error,omitempty"`
}

// RecordSink receives invocation records. The engine wires the sink into its
// event bus; the gateway itself never touches run state.
type RecordSink func(InvocationRecord)

// Gateway is the sole interface through which the engine calls out to agent
// implementations. It wraps exactly one underlying call per node dispatch,
// applying the per-call timeout and bounded retry with exponential backoff
// for transient failures.
type Gateway struct {
	registry       *Registry
	policy         graphrun.RetryPolicy
	defaultTimeout time.Duration
	sink           RecordSink
}

// New creates a Gateway. sink may be nil.
func New(registry *Registry, policy graphrun.RetryPolicy, defaultTimeout time.Duration, sink RecordSink) *Gateway {
	if defaultTimeout <= 0 {
		defaultTimeout = 60 * time.Second
	}
	return &Gateway{
		registry:       registry,
		policy:         policy,
		defaultTimeout: defaultTimeout,
		sink:           sink,
	}
}

// Invoke resolves the agent for spec.Kind and invokes it with the given
// per-call timeout (zero means the gateway default). Transient failures are
// retried per the gateway's policy; permanent failures and timeouts are not.
func (g *Gateway) Invoke(ctx context.Context, spec graphrun.InvocationSpec, timeout time.Duration) graphrun.AgentResult {
	start := time.Now()
	if timeout <= 0 {
		timeout = g.defaultTimeout
	}

	agent, ok := g.registry.Lookup(spec.Kind)
	if !ok {
		failure := graphrun.NewAgentError(graphrun.FailurePermanent,
			fmt.Errorf("no agent registered for kind %q", spec.Kind))
		g.record(spec, 1, 0, failure)
		return graphrun.AgentResult{Failure: failure, Attempts: 1, Duration: time.Since(start)}
	}

	var failure *graphrun.AgentError
	attempts := 0
	for attempt := 0; attempt <= g.policy.MaxRetries; attempt++ {
		attempts++
		callStart := time.Now()
		output, err := g.invokeOnce(ctx, agent, spec, timeout)
		if err == nil {
			g.record(spec, attempts, time.Since(callStart), nil)
			return graphrun.AgentResult{Output: output, Attempts: attempts, Duration: time.Since(start)}
		}

		failure = classify(err)
		g.record(spec, attempts, time.Since(callStart), failure)

		if failure.Kind != graphrun.FailureTransient || attempt >= g.policy.MaxRetries {
			break
		}
		if !sleepWithBackoff(ctx, g.policy, attempt) {
			break
		}
	}

	return graphrun.AgentResult{Failure: failure, Attempts: attempts, Duration: time.Since(start)}
}

// invokeOnce runs a single agent call under the per-call timeout. On timeout
// the cancellation signal is forwarded best-effort, but the collaborator may
// still complete asynchronously; a late result arriving after the timeout has
// been reported is discarded.
func (g *Gateway) invokeOnce(ctx context.Context, agent graphrun.Agent, spec graphrun.InvocationSpec, timeout time.Duration) (map[string]any, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)

	type callResult struct {
		output map[string]any
		err    error
	}
	// Buffered so a late completion never blocks the abandoned goroutine.
	ch := make(chan callResult, 1)

	go func() {
		output, err := agent.Invoke(callCtx, spec)
		ch <- callResult{output: output, err: err}
	}()

	select {
	case res := <-ch:
		cancel()
		return res.output, res.err
	case <-callCtx.Done():
		cancel()
		if ctx.Err() != nil {
			// Caller cancelled, not a per-call timeout.
			return nil, ctx.Err()
		}
		return nil, graphrun.NewAgentError(graphrun.FailureTimeout,
			fmt.Errorf("invocation exceeded %s", timeout))
	}
}

func (g *Gateway) record(spec graphrun.InvocationSpec, attempt int, duration time.Duration, failure *graphrun.AgentError) {
	outcome := "success"
	errMsg := ""
	if failure != nil {
		outcome = string(failure.Kind)
		errMsg = failure.Detail
	}
	rec := InvocationRecord{
		RunID:    spec.RunID,
		NodeID:   spec.NodeID,
		Kind:     spec.Kind,
		Attempt:  attempt,
		Duration: duration,
		Outcome:  outcome,
		Error:    errMsg,
	}
	if failure != nil {
		slog.Warn("gateway: invocation failed",
			"run", spec.RunID, "node", spec.NodeID, "kind", spec.Kind,
			"attempt", attempt, "duration", duration, "outcome", outcome, "err", errMsg)
	} else {
		slog.Info("gateway: invocation succeeded",
			"run", spec.RunID, "node", spec.NodeID, "kind", spec.Kind,
			"attempt", attempt, "duration", duration)
	}
	if g.sink != nil {
		g.sink(rec)
	}
}

// classify maps an arbitrary agent error to a classified AgentError.
// Agents that return *graphrun.AgentError keep their own classification.
func classify(err error) *graphrun.AgentError {
	var aerr *graphrun.AgentError
	if errors.As(err, &aerr) {
		return aerr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return graphrun.NewAgentError(graphrun.FailureTimeout, err)
	}
	// Caller cancellation is never retried.
	if errors.Is(err, context.Canceled) {
		return graphrun.NewAgentError(graphrun.FailurePermanent, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return graphrun.NewAgentError(graphrun.FailureTransient, err)
	}
	if isRetryableMsg(err.Error()) {
		return graphrun.NewAgentError(graphrun.FailureTransient, err)
	}
	return graphrun.NewAgentError(graphrun.FailurePermanent, err)
}

// sleepWithBackoff waits for the backoff duration, respecting context
// cancellation. Returns false if the context was cancelled during the wait.
func sleepWithBackoff(ctx context.Context, policy graphrun.RetryPolicy, attempt int) bool {
	delay := calculateBackoff(policy, attempt)
	slog.Info("gateway: backing off", "attempt", attempt+1, "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// calculateBackoff computes the delay for a given attempt using exponential backoff.
func calculateBackoff(policy graphrun.RetryPolicy, attempt int) time.Duration {
	delay := float64(policy.InitialDelay) * math.Pow(policy.BackoffFactor, float64(attempt))
	if time.Duration(delay) > policy.MaxDelay {
		return policy.MaxDelay
	}
	return time.Duration(delay)
}

// isRetryableMsg checks if an error message indicates a retryable condition.
func isRetryableMsg(msg string) bool {
	lower := strings.ToLower(msg)
	retryablePatterns := []string{
		"timeout", "rate_limit", "rate limit", "too many requests",
		"429", "500", "502", "503", "504",
		"connection reset", "connection refused", "eof",
		"overloaded", "capacity",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
