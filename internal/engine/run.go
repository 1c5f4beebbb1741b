package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/soochol/graphrun/internal/graphrun"
)

// run is the live, mutable state of one plan execution. It is owned
// exclusively by the engine; all mutation happens under mu (the per-run
// critical section), and the actual agent invocations happen outside it.
type run struct {
	id          string
	plan        *graphrun.Plan
	triggerType graphrun.TriggerType
	triggerRef  string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// mu is the per-run critical section: ready-set recomputation and all
	// state mutation happen under it, never the agent invocation itself.
	mu sync.Mutex

	status   graphrun.RunStatus
	revision int64
	inputs   map[string]any
	states   map[string]graphrun.NodeState
	values   map[string]map[string]any // node ID -> output port -> value
	refs     map[string]int            // node ID -> unconsumed dependent edges
	origin   map[string]string         // skipped/failed node -> originating failure
	release  bool                      // drop intermediate values at refcount zero
	runErr   *graphrun.RunError

	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time
}

func newRun(plan *graphrun.Plan, inputs map[string]any, triggerType graphrun.TriggerType, triggerRef string, release bool) *run {
	ctx, cancel := context.WithCancel(context.Background())
	states := make(map[string]graphrun.NodeState, len(plan.Nodes))
	refs := make(map[string]int, len(plan.Nodes))
	for id, pn := range plan.Nodes {
		states[id] = graphrun.NodePending
		refs[id] = pn.RefCount
	}
	return &run{
		id:          graphrun.GenerateID("run"),
		plan:        plan,
		triggerType: triggerType,
		triggerRef:  triggerRef,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		status:      graphrun.RunStatusCreated,
		inputs:      inputs,
		states:      states,
		values:      make(map[string]map[string]any),
		refs:        refs,
		release:     release,
		origin:      make(map[string]string),
		createdAt:   time.Now(),
	}
}

// bump increments the revision counter. Called on every state transition.
func (r *run) bump() { r.revision++ }

func (r *run) event(t EventType, nodeID string, payload map[string]any) Event {
	return Event{
		ID:        graphrun.GenerateID("ev"),
		RunID:     r.id,
		PlanID:    r.plan.ID,
		NodeID:    nodeID,
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// record builds the persistable snapshot of the run. Maps are copied so the
// caller can hand the record out without racing the engine.
func (r *run) record() *graphrun.RunRecord {
	states := make(map[string]graphrun.NodeState, len(r.states))
	for k, v := range r.states {
		states[k] = v
	}
	outputs := make(map[string]map[string]any, len(r.values))
	for node, ports := range r.values {
		cp := make(map[string]any, len(ports))
		for p, v := range ports {
			cp[p] = v
		}
		outputs[node] = cp
	}
	return &graphrun.RunRecord{
		ID:          r.id,
		PlanID:      r.plan.ID,
		TriggerType: string(r.triggerType),
		TriggerRef:  r.triggerRef,
		Status:      r.status,
		Revision:    r.revision,
		Inputs:      r.inputs,
		NodeStates:  states,
		Outputs:     outputs,
		Error:       r.runErr,
		CreatedAt:   r.createdAt,
		StartedAt:   r.startedAt,
		CompletedAt: r.completedAt,
	}
}

type decision int

const (
	decideWait decision = iota
	decideReady
	decideSkip
)

// evaluate decides whether a pending node can run. A node is ready the
// instant every edge feeding it has a recorded value or a satisfied
// skip/default; it is skipped when an upstream failure propagates to it.
func (r *run) evaluate(nodeID string) (decision, string) {
	pn := r.plan.Nodes[nodeID]
	for _, port := range pn.Def.Inputs {
		edge, fed := pn.Parents[port.Name]
		if !fed {
			continue // resolved from run inputs or defaults at dispatch
		}
		switch r.states[edge.From] {
		case graphrun.NodeSucceeded:
			// value recorded
		case graphrun.NodeFailed:
			if !r.plan.Nodes[edge.From].Def.Optional {
				return decideSkip, r.originOf(edge.From)
			}
			if !r.portSatisfiable(port) {
				return decideSkip, r.originOf(edge.From)
			}
		case graphrun.NodeSkipped:
			if !r.portSatisfiable(port) {
				return decideSkip, r.originOf(edge.From)
			}
		default:
			return decideWait, ""
		}
	}
	return decideReady, ""
}

// portSatisfiable reports whether an input port can absorb a missing
// upstream value: a default, a fallback expression, or not being required.
func (r *run) portSatisfiable(port graphrun.PortDefinition) bool {
	return port.Default != nil || port.Fallback != "" || !port.Required
}

// originOf resolves the originating failed node for propagation chains.
func (r *run) originOf(nodeID string) string {
	if o, ok := r.origin[nodeID]; ok {
		return o
	}
	return nodeID
}

// advance re-evaluates all pending nodes, marking newly ready ones and
// cascading skips. It must be called inside the per-run critical section so
// two concurrently completing siblings cannot double-admit a successor: the
// Pending -> Ready transition happens exactly once.
func (r *run) advance() (ready []string, events []Event) {
	changed := true
	for changed {
		changed = false
		for _, tier := range r.plan.Tiers {
			for _, id := range tier {
				if r.states[id] != graphrun.NodePending {
					continue
				}
				switch dec, origin := r.evaluate(id); dec {
				case decideReady:
					r.states[id] = graphrun.NodeReady
					r.bump()
					ready = append(ready, id)
				case decideSkip:
					r.states[id] = graphrun.NodeSkipped
					r.origin[id] = origin
					r.bump()
					r.releaseParents(id)
					events = append(events, r.event(EventNodeSkipped, id,
						map[string]any{"origin": origin}))
					changed = true
				}
			}
		}
	}
	return ready, events
}

// resolveInputs builds the input map for a node about to be dispatched.
// Feeding values win; skipped feeds fall back to the port default, then the
// fallback expression, then nil for non-required ports.
func (r *run) resolveInputs(nodeID string) (map[string]any, error) {
	pn := r.plan.Nodes[nodeID]
	inputs := make(map[string]any, len(pn.Def.Inputs))
	for _, port := range pn.Def.Inputs {
		edge, fed := pn.Parents[port.Name]
		if fed && r.states[edge.From] == graphrun.NodeSucceeded {
			if ports, ok := r.values[edge.From]; ok {
				if v, ok := ports[edge.FromPort]; ok {
					inputs[port.Name] = v
					continue
				}
			}
			return nil, fmt.Errorf("output %s.%s consumed by %s.%s was not recorded",
				edge.From, edge.FromPort, nodeID, port.Name)
		}
		if !fed {
			if v, ok := r.inputs[port.Name]; ok {
				inputs[port.Name] = v
				continue
			}
		}
		// Upstream skipped (or unfed with no run input): apply the
		// missing-input policy.
		switch {
		case port.Default != nil:
			inputs[port.Name] = *port.Default
		case port.Fallback != "":
			v, err := evalFallback(port.Fallback, r.inputs)
			if err != nil {
				return nil, fmt.Errorf("fallback for %s.%s: %w", nodeID, port.Name, err)
			}
			inputs[port.Name] = v
		default:
			inputs[port.Name] = graphrun.MissingInput
		}
	}
	return inputs, nil
}

// evalFallback evaluates a port fallback expression against the run inputs.
func evalFallback(expression string, inputs map[string]any) (any, error) {
	env := map[string]any{"inputs": inputs}
	program, err := expr.Compile(expression, expr.Env(env))
	if err != nil {
		return nil, err
	}
	return expr.Run(program, env)
}

// releaseParents decrements the unconsumed-edge count of every edge feeding
// nodeID and, when releasing is enabled, drops the recorded outputs of
// upstream nodes whose every dependent edge has now been consumed. Used for
// intermediate-result release in long-running graphs.
func (r *run) releaseParents(nodeID string) {
	for _, edge := range r.plan.Nodes[nodeID].Parents {
		if r.refs[edge.From] > 0 {
			r.refs[edge.From]--
		}
		if r.release && r.refs[edge.From] == 0 {
			delete(r.values, edge.From)
		}
	}
}

// complete reports whether no node can still make progress.
func (r *run) complete() bool {
	for _, st := range r.states {
		switch st {
		case graphrun.NodePending, graphrun.NodeReady, graphrun.NodeRunning:
			return false
		}
	}
	return true
}

// finalStatus computes the terminal run status once complete() holds.
// The run succeeds when every node succeeded or was skipped while marked
// optional; any required node failed or skipped fails the run, reporting the
// originating node.
func (r *run) finalStatus() (graphrun.RunStatus, *graphrun.RunError) {
	for _, tier := range r.plan.Tiers {
		for _, id := range tier {
			st := r.states[id]
			optional := r.plan.Nodes[id].Def.Optional
			if (st == graphrun.NodeFailed || st == graphrun.NodeSkipped) && !optional {
				return graphrun.RunStatusFailed, &graphrun.RunError{
					Kind:   graphrun.RunErrNodeFailedPropagation,
					NodeID: r.originOf(id),
					Detail: fmt.Sprintf("node %s %s", id, st),
				}
			}
		}
	}
	return graphrun.RunStatusSucceeded, nil
}
