package engine

import (
	"context"
	"encoding/json"

	"github.com/oychao1988/content-pipeline/internal/errkind"
)

// JSONGraph adapts a generic *Engine[S] into a structural, non-generic
// Run(ctx, taskID, json.RawMessage, string) (json.RawMessage, error)
// method — matching internal/registry.Graph without either package
// importing the other — so workflows with differing concrete state types
// can be registered in one process-wide map (spec.md §9's "tagged record"
// state model; see graph/engine.go's single generic Engine[S] for
// contrast, which this system cannot use directly once S varies by
// workflowType at runtime).
type JSONGraph[S Stateful] struct {
	Engine   *Engine[S]
	NewState func() S
}

// Run implements the registry's Graph interface.
func (g JSONGraph[S]) Run(ctx context.Context, taskID string, initialStateJSON json.RawMessage, resumeFromNode string) (json.RawMessage, error) {
	state := g.NewState()
	if err := json.Unmarshal(initialStateJSON, state); err != nil {
		return nil, errkind.Wrap(errkind.Internal, "unmarshal initial state", err)
	}

	final, runErr := g.Engine.Run(ctx, taskID, state, resumeFromNode)

	out, marshalErr := json.Marshal(final)
	if marshalErr != nil {
		if runErr != nil {
			return nil, runErr
		}
		return nil, errkind.Wrap(errkind.Internal, "marshal final state", marshalErr)
	}
	return out, runErr
}
