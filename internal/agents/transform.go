package agents

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/soochol/graphrun/internal/graphrun"
)

// TransformAgent evaluates an expr-lang expression against the node's
// resolved inputs and returns the result on a single output port.
//
// Config:
//   - expression: expr-lang expression; input ports are available as variables
//   - output_port: name of the output port (default "result")
type TransformAgent struct{}

func (a *TransformAgent) Invoke(_ context.Context, spec graphrun.InvocationSpec) (map[string]any, error) {
	expression, _ := spec.Config["expression"].(string)
	if expression == "" {
		return nil, graphrun.NewAgentError(graphrun.FailurePermanent,
			fmt.Errorf("transform node %q: expression is required", spec.NodeID))
	}

	outputPort, _ := spec.Config["output_port"].(string)
	if outputPort == "" {
		outputPort = "result"
	}

	env := make(map[string]any, len(spec.Inputs))
	for k, v := range spec.Inputs {
		if graphrun.IsMissing(v) {
			v = nil
		}
		env[k] = v
	}

	program, err := expr.Compile(expression, expr.Env(env))
	if err != nil {
		return nil, graphrun.NewAgentError(graphrun.FailurePermanent,
			fmt.Errorf("compile expression %q: %w", expression, err))
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return nil, graphrun.NewAgentError(graphrun.FailurePermanent,
			fmt.Errorf("evaluate expression %q: %w", expression, err))
	}

	return map[string]any{outputPort: result}, nil
}
