package graphrun

import (
	"context"
	"fmt"
	"time"
)

// FailureKind classifies an agent invocation failure. The classification is
// supplied by the agent collaborator; only Transient failures are retried.
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailurePermanent FailureKind = "permanent"
	FailureTimeout   FailureKind = "timeout"
)

// AgentError is a classified failure returned by an agent or the gateway.
type AgentError struct {
	Kind   FailureKind `json:"kind"`
	Detail string      `json:"detail"`
	Cause  error       `json:"-"`
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent failure (%s): %s", e.Kind, e.Detail)
}

func (e *AgentError) Unwrap() error { return e.Cause }

// NewAgentError builds a classified agent failure wrapping cause.
func NewAgentError(kind FailureKind, cause error) *AgentError {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	return &AgentError{Kind: kind, Detail: detail, Cause: cause}
}

// InvocationSpec is everything an agent needs for one node invocation.
type InvocationSpec struct {
	RunID  string
	NodeID string
	Kind   string
	Config map[string]any
	Inputs map[string]any
}

// AgentResult is the outcome of one gateway invocation, after retries.
// Exactly one of Output or Failure is set.
type AgentResult struct {
	Output   map[string]any `json:"output,omitempty"`
	Failure  *AgentError    `json:"failure,omitempty"`
	Attempts int            `json:"attempts"`
	Duration time.Duration  `json:"duration"`
}

// Agent is the capability interface the engine consumes: invoke with
// resolved inputs, get an output map or a classified error. The agent's
// internal reasoning is out of scope here.
type Agent interface {
	Invoke(ctx context.Context, spec InvocationSpec) (map[string]any, error)
}

// missingInput is the sentinel recorded on an input port whose upstream node
// was skipped. Dependents with a Default or Fallback on that port resolve it;
// a required port left with the sentinel fails the run.
type missingInput struct{}

func (missingInput) String() string { return "<missing input>" }

// MissingInput is the shared missing-input sentinel value.
var MissingInput = missingInput{}

// IsMissing reports whether v is the missing-input sentinel.
func IsMissing(v any) bool {
	_, ok := v.(missingInput)
	return ok
}
