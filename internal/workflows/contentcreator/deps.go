package contentcreator

import (
	"github.com/oychao1988/content-pipeline/internal/engine"
	"github.com/oychao1988/content-pipeline/internal/imagesvc"
	"github.com/oychao1988/content-pipeline/internal/llm"
	"github.com/oychao1988/content-pipeline/internal/quality"
	"github.com/oychao1988/content-pipeline/internal/searchsvc"
	"github.com/oychao1988/content-pipeline/internal/task"
)

// Deps bundles every external collaborator the workflow's nodes call
// through, injected once at Factory construction so nodes never reach for a
// package-level singleton (spec.md §9's resolved Open Question: "no
// test-environment sniffing — constructors take injected
// model.ChatModel/search.Client/image.Client interfaces exclusively").
type Deps struct {
	Model  llm.ChatModel
	Search searchsvc.Client
	Images imagesvc.Client

	// TextRetryBudget and ImageRetryBudget default to DefaultRetryBudget
	// when zero.
	TextRetryBudget  int
	ImageRetryBudget int

	// ImageConcurrency bounds the parallel image-quality evaluation fan-out
	// (spec.md §4.6, "bounded to 4"). Defaults to 4 when zero.
	ImageConcurrency int

	// ImageCount is how many images generateImage requests per call.
	// Defaults to 1.
	ImageCount int

	// Store, when non-nil, backs a checkpoint.Manager that the engine
	// saves the accumulated state to after every node, so a crashed
	// worker can resume the task from its last completed step. Left nil
	// in tests that only exercise the graph in-process.
	Store task.Store

	// Emitter, when non-nil, receives the engine's node lifecycle events
	// (typically an engine.MultiEmitter fanning out to metrics and
	// tracing). Left nil in tests.
	Emitter engine.Emitter
}

func (d Deps) textRetryBudget() int {
	if d.TextRetryBudget > 0 {
		return d.TextRetryBudget
	}
	return DefaultRetryBudget
}

func (d Deps) imageRetryBudget() int {
	if d.ImageRetryBudget > 0 {
		return d.ImageRetryBudget
	}
	return DefaultRetryBudget
}

func (d Deps) imageConcurrency() int {
	if d.ImageConcurrency > 0 {
		return d.ImageConcurrency
	}
	return 4
}

func (d Deps) imageCount() int {
	if d.ImageCount > 0 {
		return d.ImageCount
	}
	return 1
}

func hardRuleConfig(hc HardConstraints) quality.HardRuleConfig {
	return quality.HardRuleConfig{
		MinWords:          hc.MinWords,
		MaxWords:          hc.MaxWords,
		RequiredKeywords:  hc.Keywords,
		ForbiddenWords:    hc.ForbiddenWords,
		RequireStructure:  hc.RequireStructure,
		ConclusionMarkers: hc.ConclusionMarkers,
		MinSections:       hc.MinSections,
	}
}
