package graphrun

// GraphDefinition is the declarative, user-authored form of an app graph.
// It is treated as immutable once it has been compiled into a Plan.
type GraphDefinition struct {
	Name    string           `json:"name" yaml:"name"`
	Version int              `json:"version" yaml:"version"`
	Nodes   []NodeDefinition `json:"nodes" yaml:"nodes"`
	Edges   []EdgeDefinition `json:"edges" yaml:"edges"`
}

// NodeDefinition is a single step in a graph, bound to one agent kind.
type NodeDefinition struct {
	ID       string           `json:"id" yaml:"id"`
	Kind     string           `json:"kind" yaml:"kind"`
	Config   map[string]any   `json:"config,omitempty" yaml:"config,omitempty"`
	Inputs   []PortDefinition `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs  []PortDefinition `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	// Optional marks the node fault-tolerant: its failure does not skip
	// dependents; they see a missing-input marker instead.
	Optional bool `json:"optional,omitempty" yaml:"optional,omitempty"`
	// TimeoutSec overrides the gateway's per-invocation timeout; zero uses
	// the gateway default.
	TimeoutSec int `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`
}

// PortDefinition declares a named input or output slot on a node.
// For input ports, Default supplies a value when no edge feeds the port and
// Fallback is an expression evaluated against the run inputs when the feeding
// node was skipped. A required input port with neither bound is a compile
// error (unbound) or a run failure (skipped upstream).
type PortDefinition struct {
	Name     string `json:"name" yaml:"name"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Default  *any   `json:"default,omitempty" yaml:"default,omitempty"`
	Fallback string `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// EdgeDefinition connects an output port of one node to an input port of
// another. Nodes are referenced by ID, never by pointer.
type EdgeDefinition struct {
	From     string `json:"from" yaml:"from"`
	FromPort string `json:"from_port" yaml:"from_port"`
	To       string `json:"to" yaml:"to"`
	ToPort   string `json:"to_port" yaml:"to_port"`
}

// InputPort returns the input port declaration with the given name.
func (n *NodeDefinition) InputPort(name string) (PortDefinition, bool) {
	for _, p := range n.Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return PortDefinition{}, false
}

// OutputPort returns the output port declaration with the given name.
func (n *NodeDefinition) OutputPort(name string) (PortDefinition, bool) {
	for _, p := range n.Outputs {
		if p.Name == name {
			return p, true
		}
	}
	return PortDefinition{}, false
}
