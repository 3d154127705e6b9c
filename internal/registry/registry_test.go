package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oychao1988/content-pipeline/internal/engine"
	"github.com/oychao1988/content-pipeline/internal/errkind"
)

type echoState struct {
	engine.BaseState
	Echo string `json:"echo"`
}

func (s *echoState) Base() engine.BaseState     { return s.BaseState }
func (s *echoState) SetBase(b engine.BaseState) { s.BaseState = b }

func echoReducer(prev, delta *echoState) *echoState {
	prev.BaseState = delta.BaseState
	if delta.Echo != "" {
		prev.Echo = delta.Echo
	}
	return prev
}

type echoFactory struct{}

func (echoFactory) Metadata() Metadata {
	return Metadata{Type: "echo", Version: "1", Name: "Echo", Category: "test", Tags: []string{"demo"}}
}

func (echoFactory) ValidateParams(params json.RawMessage) error {
	var p struct {
		Echo string `json:"echo"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Echo == "" {
		return errkind.New(errkind.Validation, "echo param required")
	}
	return nil
}

func (echoFactory) CreateState(params json.RawMessage) (json.RawMessage, error) {
	var p struct {
		Echo string `json:"echo"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	return json.Marshal(&echoState{Echo: p.Echo})
}

func (echoFactory) CreateGraph() (Graph, error) {
	eng, err := engine.New[*echoState](echoReducer, nil, nil)
	if err != nil {
		return nil, err
	}
	eng.Add(engine.NodeFunc[*echoState]{
		NodeName: "echo",
		Execute: func(_ context.Context, s *echoState) (*echoState, error) {
			return &echoState{BaseState: s.BaseState, Echo: s.Echo}, nil
		},
	})
	eng.StartAt("echo")
	return engine.JSONGraph[*echoState]{Engine: eng, NewState: func() *echoState { return &echoState{} }}, nil
}

func TestRegistryRoundTripsThroughJSONGraph(t *testing.T) {
	r := New()
	r.Register(echoFactory{})

	f, err := r.Get("echo")
	require.NoError(t, err)

	params := json.RawMessage(`{"echo":"hello"}`)
	require.NoError(t, f.ValidateParams(params))

	initial, err := f.CreateState(params)
	require.NoError(t, err)

	g, err := f.CreateGraph()
	require.NoError(t, err)

	final, err := g.Run(context.Background(), "t1", initial, "")
	require.NoError(t, err)

	var got echoState
	require.NoError(t, json.Unmarshal(final, &got))
	assert.Equal(t, "hello", got.Echo)
}

func TestRegistryUnknownWorkflowType(t *testing.T) {
	r := New()
	_, err := r.Get("nope")
	require.Error(t, err)
	assert.Equal(t, errkind.UnknownWorkflow, errkind.KindOf(err))
}

func TestRegistryListFiltersByCategoryAndTag(t *testing.T) {
	r := New()
	r.Register(echoFactory{})

	all := r.List("", "")
	assert.Len(t, all, 1)

	byCategory := r.List("test", "")
	assert.Len(t, byCategory, 1)

	none := r.List("other", "")
	assert.Len(t, none, 0)

	byTag := r.List("", "demo")
	assert.Len(t, byTag, 1)
}
