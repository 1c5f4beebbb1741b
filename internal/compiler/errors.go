package compiler

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a compile failure.
type ErrorKind string

const (
	KindCycleDetected   ErrorKind = "cycle_detected"
	KindDanglingEdge    ErrorKind = "dangling_edge"
	KindUnresolvedInput ErrorKind = "unresolved_input"
	KindDuplicateNodeID ErrorKind = "duplicate_node_id"
	KindInvalidConfig   ErrorKind = "invalid_config"
)

// CompileError is a compile-time rejection of a graph. Compilation is a pure
// function; a graph that fails to compile never produces a run.
type CompileError struct {
	Kind   ErrorKind `json:"kind"`
	NodeID string    `json:"node_id,omitempty"`
	// Chain is the offending node chain for cycle errors, ending at the
	// node whose back-edge closed the cycle.
	Chain  []string `json:"chain,omitempty"`
	Detail string   `json:"detail"`
}

func (e *CompileError) Error() string {
	if len(e.Chain) > 0 {
		return fmt.Sprintf("compile error %s: %s (chain: %s)", e.Kind, e.Detail, strings.Join(e.Chain, " -> "))
	}
	if e.NodeID != "" {
		return fmt.Sprintf("compile error %s (node %s): %s", e.Kind, e.NodeID, e.Detail)
	}
	return fmt.Sprintf("compile error %s: %s", e.Kind, e.Detail)
}

func errf(kind ErrorKind, nodeID, format string, args ...any) *CompileError {
	return &CompileError{Kind: kind, NodeID: nodeID, Detail: fmt.Sprintf(format, args...)}
}
