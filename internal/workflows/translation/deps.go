package translation

import (
	"github.com/oychao1988/content-pipeline/internal/engine"
	"github.com/oychao1988/content-pipeline/internal/llm"
	"github.com/oychao1988/content-pipeline/internal/task"
)

// Deps bundles the external collaborator this workflow's nodes call
// through (spec.md §9's resolved Open Question on injected interfaces).
type Deps struct {
	Model llm.ChatModel

	// RetryBudget defaults to DefaultRetryBudget when zero.
	RetryBudget int

	// Store, when non-nil, backs a checkpoint.Manager the engine saves
	// state to after every node. Left nil in tests that only exercise the
	// graph in-process.
	Store task.Store

	// Emitter, when non-nil, receives the engine's node lifecycle events.
	// Left nil in tests.
	Emitter engine.Emitter
}

func (d Deps) retryBudget() int {
	if d.RetryBudget > 0 {
		return d.RetryBudget
	}
	return DefaultRetryBudget
}
