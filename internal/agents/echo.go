package agents

import (
	"context"

	"github.com/soochol/graphrun/internal/graphrun"
)

// EchoAgent returns its resolved inputs merged with its static config.
// Config keys win over input ports of the same name.
type EchoAgent struct{}

func (a *EchoAgent) Invoke(_ context.Context, spec graphrun.InvocationSpec) (map[string]any, error) {
	out := stripMissing(spec.Inputs)
	for k, v := range spec.Config {
		out[k] = v
	}
	return out, nil
}
