package graphrun

import (
	"fmt"
	"time"
)

// RunStatus represents the lifecycle state of a plan run.
// Terminal states (succeeded, failed, cancelled) are absorbing.
type RunStatus string

const (
	RunStatusCreated   RunStatus = "created"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is absorbing.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// NodeState represents the execution state of a node within a run.
// Mutated only by the engine, single-writer per node.
type NodeState string

const (
	NodePending   NodeState = "pending"
	NodeReady     NodeState = "ready"
	NodeRunning   NodeState = "running"
	NodeSucceeded NodeState = "succeeded"
	NodeFailed    NodeState = "failed"
	NodeSkipped   NodeState = "skipped"
)

// RunErrorKind classifies a run-level failure.
type RunErrorKind string

const (
	RunErrNodeFailedPropagation RunErrorKind = "node_failed_propagation"
	RunErrDeadlineExceeded      RunErrorKind = "deadline_exceeded"
	RunErrCancelled             RunErrorKind = "cancelled"
)

// RunError carries the originating node so a caller can distinguish
// "my agent logic failed" from "the orchestration itself failed".
type RunError struct {
	Kind   RunErrorKind `json:"kind"`
	NodeID string       `json:"node_id,omitempty"`
	Detail string       `json:"detail,omitempty"`
}

func (e *RunError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("run error %s (node %s): %s", e.Kind, e.NodeID, e.Detail)
	}
	return fmt.Sprintf("run error %s: %s", e.Kind, e.Detail)
}

// RunRecord is the persisted view of a single plan execution. Once the run
// reaches a terminal status the record is never mutated again; it is retained
// for result retrieval and eventually evicted by the repository.
type RunRecord struct {
	ID          string    `json:"id"`
	PlanID      string    `json:"plan_id"`
	TriggerType string    `json:"trigger_type"` // "manual" | "schedule" | "event"
	TriggerRef  string    `json:"trigger_ref,omitempty"`
	Status      RunStatus `json:"status"`
	// Revision increases on every state transition; pollers use it for
	// idempotent status checks.
	Revision   int64                `json:"revision"`
	Inputs     map[string]any       `json:"inputs,omitempty"`
	NodeStates map[string]NodeState `json:"node_states"`
	// Outputs maps node ID → output port → produced value. Partial outputs
	// of cancelled or failed runs are retained for inspection.
	Outputs     map[string]map[string]any `json:"outputs,omitempty"`
	Error       *RunError                 `json:"error,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
	StartedAt   *time.Time                `json:"started_at,omitempty"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
}

// RetryPolicy defines how transient agent failures are retried.
type RetryPolicy struct {
	MaxRetries    int           `json:"max_retries"    yaml:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay"  yaml:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"      yaml:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor"`
}

// DefaultRetryPolicy returns a sensible default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      5 * time.Minute,
		BackoffFactor: 2.0,
	}
}

// EngineLimits bounds concurrent node dispatch within the engine.
type EngineLimits struct {
	// MaxInFlight is the maximum number of concurrently running node
	// invocations across all runs. Ready nodes beyond the bound queue FIFO.
	MaxInFlight int `json:"max_in_flight" yaml:"max_in_flight"`
	// RunDeadline is an optional wall-clock budget per run; zero disables it.
	// On expiry the run behaves as if externally cancelled.
	RunDeadline time.Duration `json:"run_deadline" yaml:"run_deadline"`
	// ReleaseIntermediates drops a node's recorded outputs once every
	// dependent edge has consumed them (plan reference counts reach zero).
	// Meant for long-running graphs with large intermediate results.
	ReleaseIntermediates bool `json:"release_intermediates" yaml:"release_intermediates"`
}

// DefaultEngineLimits returns sensible defaults.
func DefaultEngineLimits() EngineLimits {
	return EngineLimits{MaxInFlight: 10}
}
