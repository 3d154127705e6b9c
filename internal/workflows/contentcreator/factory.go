package contentcreator

import (
	"encoding/json"

	"github.com/oychao1988/content-pipeline/internal/checkpoint"
	"github.com/oychao1988/content-pipeline/internal/engine"
	"github.com/oychao1988/content-pipeline/internal/errkind"
	"github.com/oychao1988/content-pipeline/internal/registry"
)

const WorkflowType = "content-creator"

// Factory wires the content-creator graph: search -> organize -> write ->
// checkText -> (loop back to write, or fall through to generateImage) ->
// checkImage -> (loop back to generateImage, or fall through to
// postProcess) (spec.md §4.3).
type Factory struct {
	Deps Deps
}

func (f Factory) Metadata() registry.Metadata {
	return registry.Metadata{
		Type:        WorkflowType,
		Version:     "1",
		Name:        "Content Creator",
		Description: "Researches a topic, writes an article, and illustrates it, gated on quality review at each stage.",
		Category:    "content",
		Tags:        []string{"writing", "images", "research"},
		Inputs:      []string{"topic"},
		OptionalInputs: []string{
			"requirements", "hardConstraints", "imageSize",
		},
		Steps: []string{
			"search", "organize", "write", "checkText", "generateImage", "checkImage", "postProcess",
		},
		RetryClassFields: []string{"textRetryCount", "imageRetryCount"},
	}
}

func (f Factory) ValidateParams(params json.RawMessage) error {
	var p Params
	if err := json.Unmarshal(params, &p); err != nil {
		return errkind.Wrap(errkind.Validation, "invalid content-creator params", err)
	}
	if p.Topic == "" {
		return errkind.New(errkind.Validation, "topic is required")
	}
	if p.HardConstraints.MaxWords > 0 && p.HardConstraints.MinWords > p.HardConstraints.MaxWords {
		return errkind.New(errkind.Validation, "hardConstraints.minWords must not exceed maxWords")
	}
	return nil
}

func (f Factory) CreateState(params json.RawMessage) (json.RawMessage, error) {
	var p Params
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errkind.Wrap(errkind.Validation, "invalid content-creator params", err)
	}
	size := p.ImageSize
	if size == "" {
		size = DefaultImageSize
	}
	state := &State{
		Topic:           p.Topic,
		Requirements:    p.Requirements,
		HardConstraints: p.HardConstraints,
		ImageSize:       size,
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

	eng.Add(searchNode(deps))
	eng.Add(organizeNode(deps))
	eng.Add(writeNode(deps))
	eng.Add(checkTextNode(deps))
	eng.Add(generateImageNode(deps))
	eng.Add(checkImageNode(deps))
	eng.Add(postProcessNode(deps))
	eng.StartAt("search")

	eng.Connect("search", "organize", nil)
	eng.Connect("organize", "write", nil)
	eng.Connect("write", "checkText", nil)

	// checkText: loop back to write while the text budget still has room,
	// otherwise fall through to generateImage regardless of verdict
	// (spec.md §9, "accept-and-proceed").
	textBudget := deps.textRetryBudget()
	eng.Connect("checkText", "write", func(s *State) bool {
		return s.TextQualityReport != nil && !s.TextQualityReport.Passed && s.TextRetryCount < textBudget
	})
	eng.Connect("checkText", "generateImage", nil)

	eng.Connect("generateImage", "checkImage", nil)

	// checkImage: symmetric retry loop around generateImage.
	imageBudget := deps.imageRetryBudget()
	eng.Connect("checkImage", "generateImage", func(s *State) bool {
		return s.ImageQualityReport != nil && !s.ImageQualityReport.Passed && s.ImageRetryCount < imageBudget
	})
	eng.Connect("checkImage", "postProcess", nil)

	return engine.JSONGraph[*State]{Engine: eng, NewState: func() *State { return &State{} }}, nil
}

var _ registry.Factory = Factory{}
