package graphrun

import "time"

// Plan is the compiled, immutable, executable form of a GraphDefinition.
// It is shared read-only across all runs and workers; nothing in a Plan is
// mutated after Compile returns it.
type Plan struct {
	// ID is a content hash of the canonical graph JSON, so compiling the
	// same graph twice yields the same plan ID.
	ID      string               `json:"id"`
	Name    string               `json:"name"`
	Version int                  `json:"version"`
	Nodes   map[string]*PlanNode `json:"nodes"`
	// Tiers groups node IDs by dependency depth: tier 0 has no unresolved
	// inputs, tier k depends only on tiers < k. Node IDs within a tier are
	// sorted, making the tiering deterministic.
	Tiers     [][]string `json:"tiers"`
	CreatedAt time.Time  `json:"created_at"`
}

// PlanNode is a node with its dependency bookkeeping resolved.
type PlanNode struct {
	Def  NodeDefinition `json:"def"`
	Tier int            `json:"tier"`
	// Parents maps each input port to the edge feeding it. An input port
	// receives exactly one edge; fan-in requires an explicit merge node.
	Parents map[string]EdgeDefinition `json:"parents,omitempty"`
	// Children lists outgoing edges grouped by output port.
	Children map[string][]EdgeDefinition `json:"children,omitempty"`
	// RefCount is how many dependent edges consume this node's outputs,
	// used to release intermediate results in long-running graphs.
	RefCount int `json:"ref_count"`
}

// ParentIDs returns the distinct upstream node IDs of node id.
func (p *Plan) ParentIDs(id string) []string {
	node, ok := p.Nodes[id]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var parents []string
	for _, e := range node.Parents {
		if !seen[e.From] {
			seen[e.From] = true
			parents = append(parents, e.From)
		}
	}
	return parents
}

// ChildIDs returns the distinct downstream node IDs of node id.
func (p *Plan) ChildIDs(id string) []string {
	node, ok := p.Nodes[id]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var children []string
	for _, edges := range node.Children {
		for _, e := range edges {
			if !seen[e.To] {
				seen[e.To] = true
				children = append(children, e.To)
			}
		}
	}
	return children
}
