package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/soochol/graphrun/internal/compiler"
	"github.com/soochol/graphrun/internal/graphrun"
)

// compileGraph validates a graph definition, compiles it into a plan, and
// registers the plan. Compiling the same graph twice returns the same plan.
// POST /api/graphs
func (s *Server) compileGraph(w http.ResponseWriter, r *http.Request) {
	var graph graphrun.GraphDefinition
	if err := json.NewDecoder(r.Body).Decode(&graph); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if graph.Name == "" || len(graph.Nodes) == 0 {
		http.Error(w, "name and at least one node are required", http.StatusBadRequest)
		return
	}

	plan, err := s.compiler.Compile(&graph)
	if err != nil {
		var cerr *compiler.CompileError
		if errors.As(err, &cerr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":   cerr.Error(),
				"kind":    string(cerr.Kind),
				"node_id": cerr.NodeID,
				"chain":   cerr.Chain,
			})
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.planRepo.Create(r.Context(), plan); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, plan)
}
