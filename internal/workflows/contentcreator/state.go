// Package contentcreator implements the content-creator reference workflow
// (spec.md §4.3): search -> organize -> write -> checkText ->
// (generateImage -> checkImage -> postProcess), with quality-gated retry
// loops around write and generateImage. Grounded on the teacher's
// examples/research-pipeline wiring style, rebuilt against this repo's
// engine/quality/llm/searchsvc/imagesvc packages instead of the teacher's
// graph/model/tool stack directly.
package contentcreator

import (
	"time"

	"github.com/oychao1988/content-pipeline/internal/engine"
	"github.com/oychao1988/content-pipeline/internal/imagesvc"
	"github.com/oychao1988/content-pipeline/internal/quality"
	"github.com/oychao1988/content-pipeline/internal/searchsvc"
	"github.com/oychao1988/content-pipeline/internal/task"
)

// DefaultImageSize is applied when a request omits imageSize (spec.md §9's
// resolved Open Question).
const DefaultImageSize = "1920x1920"

// DefaultRetryBudget is the per-class cap on quality-gated regenerations
// before the graph takes the accept-and-proceed edge (spec.md §4.5).
const DefaultRetryBudget = 3

// HardConstraints carries the caller-supplied quality bar for the article
// (spec.md §3, the content-creator workflow's hardConstraints input).
type HardConstraints struct {
	MinWords          int      `json:"minWords"`
	MaxWords          int      `json:"maxWords"`
	Keywords          []string `json:"keywords,omitempty"`
	ForbiddenWords    []string `json:"forbiddenWords,omitempty"`
	RequireStructure  bool     `json:"requireStructure,omitempty"`
	ConclusionMarkers []string `json:"conclusionMarkers,omitempty"`
	MinSections       int      `json:"minSections,omitempty"`
}

// Params is the create-task input this workflow validates and converts into
// State (spec.md §6, POST /api/tasks).
type Params struct {
	Topic           string          `json:"topic"`
	Requirements    string          `json:"requirements"`
	HardConstraints HardConstraints `json:"hardConstraints"`
	ImageSize       string          `json:"imageSize,omitempty"`
}

// State is the content-creator workflow's tagged record (spec.md §3):
// engine.BaseState plus every field spec.md names for this workflow, plus
// the Results/QualityReports envelope every workflow exposes for the Sync
// Executor and Worker to extract (internal/executor's resultsEnvelope
// convention).
type State struct {
	engine.BaseState

	Topic           string          `json:"topic"`
	Requirements    string          `json:"requirements"`
	HardConstraints HardConstraints `json:"hardConstraints"`
	ImageSize       string          `json:"imageSize"`

	SearchResults   []searchsvc.Result `json:"searchResults,omitempty"`
	OrganizedInfo   string             `json:"organizedInfo,omitempty"`
	ArticleContent  string             `json:"articleContent,omitempty"`
	PreviousContent string             `json:"previousContent,omitempty"`

	Images []imagesvc.Image `json:"images,omitempty"`

	TextQualityReport  *task.QualityReport `json:"textQualityReport,omitempty"`
	ImageQualityReport *task.QualityReport `json:"imageQualityReport,omitempty"`

	TextRetryCount  int `json:"textRetryCount"`
	ImageRetryCount int `json:"imageRetryCount"`

	FinalArticleContent string `json:"finalArticleContent,omitempty"`

	Results        []task.Result        `json:"results,omitempty"`
	QualityReports []task.QualityReport `json:"qualityReports,omitempty"`
}

// Base implements engine.Stateful.
func (s *State) Base() engine.BaseState { return s.BaseState }

// SetBase implements engine.Stateful.
func (s *State) SetBase(b engine.BaseState) { s.BaseState = b }

// reduce merges a node's patch into the accumulated state. Every node in
// this workflow builds its patch as a full copy of the state it was given
// (next := *s) with only the fields it changed overwritten, so the patch
// already carries every untouched field forward correctly — including
// fields like previousContent and the retry counters that must sometimes
// reset to their zero value. The reducer's job then reduces to taking the
// patch as the new accumulated state.
func reduce(_, delta *State) *State {
	return delta
}

func newQualityReport(phase string, d quality.Decision) task.QualityReport {
	return task.QualityReport{
		Phase:                 phase,
		Score:                 d.Score,
		Passed:                d.Passed,
		HardConstraintsPassed: d.HardConstraintsPassed,
		Details:               d.Details,
		FixSuggestions:        d.Suggestions,
		CheckedAt:             time.Now(),
	}
}
