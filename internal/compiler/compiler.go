package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/soochol/graphrun/internal/graphrun"
)

// Compiler validates graph definitions and lowers them into executable plans.
// Compilation is pure: no side effects, repeatable, and cacheable by the
// content-hash plan ID.
type Compiler struct {
	schemas *SchemaRegistry
}

// New creates a Compiler. schemas may be nil to skip per-kind config
// validation (used by tests that exercise structural checks only).
func New(schemas *SchemaRegistry) *Compiler {
	return &Compiler{schemas: schemas}
}

// Compile validates g and produces an immutable Plan, or a *CompileError.
func (c *Compiler) Compile(g *graphrun.GraphDefinition) (*graphrun.Plan, error) {
	if len(g.Nodes) == 0 {
		return nil, errf(KindUnresolvedInput, "", "graph has no nodes")
	}

	nodes := make(map[string]*graphrun.PlanNode, len(g.Nodes))
	for i := range g.Nodes {
		n := g.Nodes[i]
		if _, exists := nodes[n.ID]; exists {
			return nil, errf(KindDuplicateNodeID, n.ID, "duplicate node ID %q", n.ID)
		}
		nodes[n.ID] = &graphrun.PlanNode{
			Def:      n,
			Parents:  make(map[string]graphrun.EdgeDefinition),
			Children: make(map[string][]graphrun.EdgeDefinition),
		}
	}

	// Per-kind config validation.
	if c.schemas != nil {
		for _, pn := range nodes {
			if err := c.schemas.ValidateConfig(pn.Def.Kind, pn.Def.Config); err != nil {
				return nil, &CompileError{Kind: KindInvalidConfig, NodeID: pn.Def.ID, Detail: err.Error()}
			}
		}
	}

	for _, e := range g.Edges {
		src, ok := nodes[e.From]
		if !ok {
			return nil, errf(KindDanglingEdge, e.From, "edge references unknown node %q", e.From)
		}
		dst, ok := nodes[e.To]
		if !ok {
			return nil, errf(KindDanglingEdge, e.To, "edge references unknown node %q", e.To)
		}
		if _, ok := src.Def.OutputPort(e.FromPort); !ok {
			return nil, errf(KindDanglingEdge, e.From, "edge references unknown output port %s.%s", e.From, e.FromPort)
		}
		if _, ok := dst.Def.InputPort(e.ToPort); !ok {
			return nil, errf(KindDanglingEdge, e.To, "edge references unknown input port %s.%s", e.To, e.ToPort)
		}
		// An input port receives exactly one edge; fan-in needs an
		// explicit merge node.
		if prev, bound := dst.Parents[e.ToPort]; bound {
			return nil, errf(KindDanglingEdge, e.To,
				"input port %s.%s already fed by %s.%s", e.To, e.ToPort, prev.From, prev.FromPort)
		}
		dst.Parents[e.ToPort] = e
		src.Children[e.FromPort] = append(src.Children[e.FromPort], e)
	}

	// Every required input port needs exactly one incoming edge or a default.
	for _, pn := range nodes {
		for _, port := range pn.Def.Inputs {
			if !port.Required {
				continue
			}
			if _, fed := pn.Parents[port.Name]; fed {
				continue
			}
			if port.Default != nil {
				continue
			}
			return nil, errf(KindUnresolvedInput, pn.Def.ID,
				"required input port %s.%s has no incoming edge and no default", pn.Def.ID, port.Name)
		}
	}

	if err := detectCycle(nodes); err != nil {
		return nil, err
	}

	tiers := computeTiers(nodes)

	for _, pn := range nodes {
		for _, edges := range pn.Children {
			pn.RefCount += len(edges)
		}
	}

	hash, err := contentHash(g)
	if err != nil {
		return nil, err
	}

	return &graphrun.Plan{
		ID:        hash,
		Name:      g.Name,
		Version:   g.Version,
		Nodes:     nodes,
		Tiers:     tiers,
		CreatedAt: time.Now(),
	}, nil
}

// detectCycle runs an iterative depth-first traversal with an explicit
// recursion stack. An edge back to a node currently on the stack is a cycle;
// the error carries the offending node chain.
func detectCycle(nodes map[string]*graphrun.PlanNode) error {
	const (
		white = 0 // unvisited
		gray  = 1 // on recursion stack
		black = 2 // fully explored
	)
	color := make(map[string]int, len(nodes))

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	type frame struct {
		id   string
		next int
	}

	for _, start := range ids {
		if color[start] != white {
			continue
		}
		stack := []frame{{id: start}}
		color[start] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			children := childIDs(nodes[top.id])
			if top.next >= len(children) {
				color[top.id] = black
				stack = stack[:len(stack)-1]
				continue
			}
			child := children[top.next]
			top.next++

			switch color[child] {
			case white:
				color[child] = gray
				stack = append(stack, frame{id: child})
			case gray:
				// Back-edge: reconstruct the chain from the stack.
				chain := make([]string, 0, len(stack)+1)
				seen := false
				for _, f := range stack {
					if f.id == child {
						seen = true
					}
					if seen {
						chain = append(chain, f.id)
					}
				}
				chain = append(chain, child)
				return &CompileError{
					Kind:   KindCycleDetected,
					NodeID: child,
					Chain:  chain,
					Detail: "graph contains a cycle",
				}
			}
		}
	}
	return nil
}

// computeTiers assigns each node the smallest tier greater than all of its
// parents' tiers. Tier membership is sorted by node ID so the tiering is
// deterministic for a given graph.
func computeTiers(nodes map[string]*graphrun.PlanNode) [][]string {
	tierOf := make(map[string]int, len(nodes))

	var resolve func(id string) int
	resolve = func(id string) int {
		if t, ok := tierOf[id]; ok {
			return t
		}
		tier := 0
		for _, e := range nodes[id].Parents {
			if pt := resolve(e.From) + 1; pt > tier {
				tier = pt
			}
		}
		tierOf[id] = tier
		return tier
	}

	maxTier := 0
	for id := range nodes {
		if t := resolve(id); t > maxTier {
			maxTier = t
		}
	}

	tiers := make([][]string, maxTier+1)
	for id, t := range tierOf {
		tiers[t] = append(tiers[t], id)
	}
	for _, tier := range tiers {
		sort.Strings(tier)
	}
	for id, t := range tierOf {
		nodes[id].Tier = t
	}
	return tiers
}

func childIDs(pn *graphrun.PlanNode) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, edges := range pn.Children {
		for _, e := range edges {
			if !seen[e.To] {
				seen[e.To] = true
				ids = append(ids, e.To)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// contentHash returns the sha256 hex digest of the canonical JSON encoding
// of the graph. Compiling an identical graph yields an identical plan ID.
func contentHash(g *graphrun.GraphDefinition) (string, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return "", errf(KindInvalidConfig, "", "canonicalize graph: %v", err)
	}
	sum := sha256.Sum256(data)
	return "plan-" + hex.EncodeToString(sum[:16]), nil
}
