package translation

import (
	"encoding/json"

	"github.com/oychao1988/content-pipeline/internal/checkpoint"
	"github.com/oychao1988/content-pipeline/internal/engine"
	"github.com/oychao1988/content-pipeline/internal/errkind"
	"github.com/oychao1988/content-pipeline/internal/registry"
)

const WorkflowType = "translation"

// Factory wires the translation graph: translate -> checkQuality, looping
// back to translate while the retry budget allows (spec.md §4.3).
type Factory struct {
	Deps Deps
}

func (f Factory) Metadata() registry.Metadata {
	return registry.Metadata{
		Type:             WorkflowType,
		Version:          "1",
		Name:             "Translation",
		Description:      "Translates text into a target language, gated on a quality review with feedback-driven retries.",
		Category:         "content",
		Tags:             []string{"translation", "language"},
		Inputs:           []string{"sourceText", "targetLang"},
		OptionalInputs:   []string{"sourceLang", "requirements", "hardConstraints"},
		Steps:            []string{"translate", "checkQuality"},
		RetryClassFields: []string{"retryCount"},
	}
}

func (f Factory) ValidateParams(params json.RawMessage) error {
	var p Params
	if err := json.Unmarshal(params, &p); err != nil {
		return errkind.Wrap(errkind.Validation, "invalid translation params", err)
	}
	if p.SourceText == "" {
		return errkind.New(errkind.Validation, "sourceText is required")
	}
	if p.TargetLang == "" {
		return errkind.New(errkind.Validation, "targetLang is required")
	}
	if p.HardConstraints.MaxWords > 0 && p.HardConstraints.MinWords > p.HardConstraints.MaxWords {
		return errkind.New(errkind.Validation, "hardConstraints.minWords must not exceed maxWords")
	}
	return nil
}

func (f Factory) CreateState(params json.RawMessage) (json.RawMessage, error) {
	var p Params
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errkind.Wrap(errkind.Validation, "invalid translation params", err)
	}
	state := &State{
		SourceText:      p.SourceText,
		SourceLang:      p.SourceLang,
		TargetLang:      p.TargetLang,
		Requirements:    p.Requirements,
		HardConstraints: p.HardConstraints,
	}
	return json.Marshal(state)
}

func (f Factory) CreateGraph() (registry.Graph, error) {
	deps := f.Deps

	var checkpointer engine.Checkpointer[*State]
	if deps.Store != nil {
		checkpointer = checkpoint.Adapter[*State]{Manager: checkpoint.New(deps.Store), WorkflowType: WorkflowType}
	}

	eng, err := engine.New[*State](reduce, checkpointer, deps.Emitter)
	if err != nil {
		return nil, err
	}

	eng.Add(translateNode(deps))
	eng.Add(checkQualityNode(deps))
	eng.StartAt("translate")

	eng.Connect("translate", "checkQuality", nil)

	budget := deps.retryBudget()
	eng.Connect("checkQuality", "translate", func(s *State) bool {
		return s.QualityReport != nil && !s.QualityReport.Passed && s.RetryCount < budget
	})
	// No fallback edge needed: Connect's absence of a further match means
	// route() returns Terminal automatically once the budget is exhausted.

	return engine.JSONGraph[*State]{Engine: eng, NewState: func() *State { return &State{} }}, nil
}

var _ registry.Factory = Factory{}
