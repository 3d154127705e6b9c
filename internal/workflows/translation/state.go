// Package translation implements the translation reference workflow
// (spec.md §4.3): translate -> checkQuality, with a quality-gated retry
// loop around translate. Deliberately small relative to contentcreator: it
// exercises the same engine/quality-gate machinery against a single
// regenerate/re-check pair, rather than two independent loops.
package translation

import (
	"time"

	"github.com/oychao1988/content-pipeline/internal/engine"
	"github.com/oychao1988/content-pipeline/internal/quality"
	"github.com/oychao1988/content-pipeline/internal/task"
)

// DefaultRetryBudget mirrors contentcreator.DefaultRetryBudget; kept as its
// own constant since the two workflows are independently versioned.
const DefaultRetryBudget = 3

// HardConstraints parameterizes the quality gate's hard rules for a
// translation (e.g. preserved proper nouns as required keywords).
type HardConstraints struct {
	MinWords       int      `json:"minWords,omitempty"`
	MaxWords       int      `json:"maxWords,omitempty"`
	PreservedTerms []string `json:"preservedTerms,omitempty"`
	ForbiddenWords []string `json:"forbiddenWords,omitempty"`
}

// Params is the create-task input this workflow validates and converts
// into State.
type Params struct {
	SourceText      string          `json:"sourceText"`
	SourceLang      string          `json:"sourceLang"`
	TargetLang      string          `json:"targetLang"`
	Requirements    string          `json:"requirements"`
	HardConstraints HardConstraints `json:"hardConstraints"`
}

// State is the translation workflow's tagged record.
type State struct {
	engine.BaseState

	SourceText      string          `json:"sourceText"`
	SourceLang      string          `json:"sourceLang"`
	TargetLang      string          `json:"targetLang"`
	Requirements    string          `json:"requirements"`
	HardConstraints HardConstraints `json:"hardConstraints"`

	TranslatedText      string `json:"translatedText,omitempty"`
	PreviousTranslation string `json:"previousTranslation,omitempty"`

	QualityReport *task.QualityReport `json:"qualityReport,omitempty"`
	RetryCount    int                 `json:"retryCount"`

	Results        []task.Result        `json:"results,omitempty"`
	QualityReports []task.QualityReport `json:"qualityReports,omitempty"`
}

// Base implements engine.Stateful.
func (s *State) Base() engine.BaseState { return s.BaseState }

// SetBase implements engine.Stateful.
func (s *State) SetBase(b engine.BaseState) { s.BaseState = b }

// reduce is a passthrough: every node builds its patch as a full copy of
// the state it was given (next := *s), so the patch already is the next
// accumulated state (see contentcreator.reduce for the same convention).
func reduce(_, delta *State) *State {
	return delta
}

func hardRuleConfig(hc HardConstraints) quality.HardRuleConfig {
	return quality.HardRuleConfig{
		MinWords:         hc.MinWords,
		MaxWords:         hc.MaxWords,
		RequiredKeywords: hc.PreservedTerms,
		ForbiddenWords:   hc.ForbiddenWords,
	}
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
