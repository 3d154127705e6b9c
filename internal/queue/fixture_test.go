package queue

import (
	"context"
	"encoding/json"

	"github.com/oychao1988/content-pipeline/internal/engine"
	"github.com/oychao1988/content-pipeline/internal/registry"
	"github.com/oychao1988/content-pipeline/internal/task"
)

type fixtureState struct {
	engine.BaseState
	Topic string `json:"topic"`
}

func (s *fixtureState) Base() engine.BaseState     { return s.BaseState }
func (s *fixtureState) SetBase(b engine.BaseState) { s.BaseState = b }

func fixtureReducer(prev, delta *fixtureState) *fixtureState {
	prev.BaseState = delta.BaseState
	if delta.Topic != "" {
		prev.Topic = delta.Topic
	}
	return prev
}

// fixtureFactory builds a one-node graph used to exercise the worker pool
// without depending on a concrete workflow package.
type fixtureFactory struct {
	blockUntil chan struct{}
}

func (f fixtureFactory) Metadata() registry.Metadata {
	return registry.Metadata{Type: "fixture", Version: "1"}
}

func (f fixtureFactory) ValidateParams(json.RawMessage) error { return nil }

func (f fixtureFactory) CreateState(params json.RawMessage) (json.RawMessage, error) {
	var p struct {
		Topic string `json:"topic"`
	}
	_ = json.Unmarshal(params, &p)
	return json.Marshal(&fixtureState{Topic: p.Topic})
}

func (f fixtureFactory) CreateGraph() (registry.Graph, error) {
	eng, err := engine.New[*fixtureState](fixtureReducer, nil, nil)
	if err != nil {
		return nil, err
	}
	block := f.blockUntil
	eng.Add(engine.NodeFunc[*fixtureState]{
		NodeName: "write",
		Execute: func(ctx context.Context, s *fixtureState) (*fixtureState, error) {
			if block != nil {
				select {
				case <-block:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return &fixtureState{BaseState: s.BaseState, Topic: s.Topic}, nil
		},
	})
	eng.StartAt("write")
	return engine.JSONGraph[*fixtureState]{Engine: eng, NewState: func() *fixtureState { return &fixtureState{} }}, nil
}

var _ registry.Factory = fixtureFactory{}
