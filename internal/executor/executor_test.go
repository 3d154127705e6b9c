package executor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oychao1988/content-pipeline/internal/engine"
	"github.com/oychao1988/content-pipeline/internal/registry"
	"github.com/oychao1988/content-pipeline/internal/task"
)

type fixtureState struct {
	engine.BaseState
	Topic          string               `json:"topic"`
	Results        []task.Result        `json:"results,omitempty"`
	QualityReports []task.QualityReport `json:"qualityReports,omitempty"`
	fail           bool
}

func (s *fixtureState) Base() engine.BaseState     { return s.BaseState }
func (s *fixtureState) SetBase(b engine.BaseState) { s.BaseState = b }

func fixtureReducer(prev, delta *fixtureState) *fixtureState {
	prev.BaseState = delta.BaseState
	if delta.Topic != "" {
		prev.Topic = delta.Topic
	}
	if delta.Results != nil {
		prev.Results = delta.Results
	}
	if delta.QualityReports != nil {
		prev.QualityReports = delta.QualityReports
	}
	return prev
}

type fixtureFactory struct{ shouldFail bool }

func (f fixtureFactory) Metadata() registry.Metadata {
	return registry.Metadata{Type: "fixture", Version: "1"}
}

func (f fixtureFactory) ValidateParams(params json.RawMessage) error {
	return nil
}

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
	shouldFail := f.shouldFail
	eng.Add(engine.NodeFunc[*fixtureState]{
		NodeName: "write",
		Execute: func(_ context.Context, s *fixtureState) (*fixtureState, error) {
			if shouldFail {
				return nil, assertErr{}
			}
			return &fixtureState{
				BaseState: s.BaseState,
				Topic:     s.Topic,
				Results:   []task.Result{{ResultType: "article", Content: "body about " + s.Topic}},
				QualityReports: []task.QualityReport{
					{Phase: "text", Score: 8, Passed: true, HardConstraintsPassed: true},
				},
			}, nil
		},
	})
	eng.StartAt("write")
	return engine.JSONGraph[*fixtureState]{Engine: eng, NewState: func() *fixtureState { return &fixtureState{} }}, nil
}

type assertErr struct{}

func (assertErr) Error() string { return "forced failure" }

// blockingFactory's single node signals started once it begins executing
// and then blocks until its context is cancelled, letting tests exercise
// Executor.Cancel against a run genuinely in flight.
type blockingFactory struct {
	started chan struct{}
}

func (f blockingFactory) Metadata() registry.Metadata {
	return registry.Metadata{Type: "blocking", Version: "1"}
}

func (f blockingFactory) ValidateParams(params json.RawMessage) error { return nil }

func (f blockingFactory) CreateState(params json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(&fixtureState{})
}

func (f blockingFactory) CreateGraph() (registry.Graph, error) {
	eng, err := engine.New[*fixtureState](fixtureReducer, nil, nil)
	if err != nil {
		return nil, err
	}
	eng.Add(engine.NodeFunc[*fixtureState]{
		NodeName: "block",
		Execute: func(ctx context.Context, s *fixtureState) (*fixtureState, error) {
			close(f.started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	eng.StartAt("block")
	return engine.JSONGraph[*fixtureState]{Engine: eng, NewState: func() *fixtureState { return &fixtureState{} }}, nil
}

func newExecutor(factory registry.Factory) *Executor {
	reg := registry.New()
	reg.Register(factory)
	store := task.NewMemoryStore()
	results := task.NewMemoryResultRepository()
	qc := task.NewMemoryQualityCheckRepository()
	return New(reg, store, results, qc)
}

func TestExecutorRunHappyPathPersistsOutputs(t *testing.T) {
	ex := newExecutor(fixtureFactory{})

	result := ex.Run(context.Background(), Request{WorkflowType: "fixture", Params: json.RawMessage(`{"topic":"golang"}`)})

	require.Equal(t, task.StatusCompleted, result.Status)
	assert.Empty(t, result.Error)
	assert.NotEmpty(t, result.FinalState)

	results, err := ex.Results.FindByTaskID(context.Background(), result.TaskID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "golang")

	reports, err := ex.QualityChecks.FindByTaskID(context.Background(), result.TaskID)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Passed)

	stored, err := ex.Store.FindByID(context.Background(), result.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, stored.Status)
}

func TestExecutorRunNodeFailureMarksTaskFailed(t *testing.T) {
	ex := newExecutor(fixtureFactory{shouldFail: true})

	result := ex.Run(context.Background(), Request{WorkflowType: "fixture", Params: json.RawMessage(`{"topic":"x"}`)})

	assert.Equal(t, task.StatusFailed, result.Status)
	assert.NotEmpty(t, result.Error)

	stored, err := ex.Store.FindByID(context.Background(), result.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, stored.Status)
	assert.NotEmpty(t, stored.ErrorMessage)
}

func TestExecutorRunUnknownWorkflowType(t *testing.T) {
	ex := newExecutor(fixtureFactory{})

	result := ex.Run(context.Background(), Request{WorkflowType: "nope"})
	assert.Equal(t, task.StatusFailed, result.Status)
	assert.NotEmpty(t, result.Error)
}

func TestExecutorCancelStopsInFlightRunAndReachesCancelled(t *testing.T) {
	started := make(chan struct{})
	ex := newExecutor(blockingFactory{started: started})

	resultCh := make(chan *ExecutionResult, 1)
	go func() {
		resultCh <- ex.Run(context.Background(), Request{
			TaskID: "cancel-me", WorkflowType: "blocking", WallClockBudget: time.Minute,
		})
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("node never started")
	}

	require.True(t, ex.Cancel("cancel-me"), "expected an in-flight run to be tracked")

	select {
	case result := <-resultCh:
		assert.Equal(t, task.StatusCancelled, result.Status)
	case <-time.After(time.Second):
		t.Fatal("cancel did not stop the in-flight run")
	}

	stored, err := ex.Store.FindByID(context.Background(), "cancel-me")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, stored.Status)
}

func TestExecutorCancelOfUnknownTaskIsNoop(t *testing.T) {
	ex := newExecutor(fixtureFactory{})
	assert.False(t, ex.Cancel("does-not-exist"))
}

func TestFinalizeTerminalDoesNotClobberAlreadyCancelledTask(t *testing.T) {
	ex := newExecutor(fixtureFactory{})

	created, err := ex.Store.Create(context.Background(), task.CreateInput{TaskID: "already-cancelled", WorkflowType: "fixture"})
	require.NoError(t, err)
	running, err := ex.Store.UpdateStatus(context.Background(), created.TaskID, task.StatusRunning, created.Version)
	require.NoError(t, err)
	cancelled, err := ex.Store.UpdateStatus(context.Background(), created.TaskID, task.StatusCancelled, running.Version)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, cancelled.Status)

	ex.finalizeTerminal(context.Background(), created.TaskID, task.StatusCompleted, "")

	stored, err := ex.Store.FindByID(context.Background(), created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, stored.Status, "a task already terminal must not be clobbered by a late finalize")
}

func TestExecutorRunIdempotencyKeyReplaysWithoutReexecuting(t *testing.T) {
	ex := newExecutor(fixtureFactory{})

	first := ex.Run(context.Background(), Request{
		WorkflowType: "fixture", Params: json.RawMessage(`{"topic":"first"}`), IdempotencyKey: "dup-1",
	})
	require.Equal(t, task.StatusCompleted, first.Status)

	second := ex.Run(context.Background(), Request{
		WorkflowType: "fixture", Params: json.RawMessage(`{"topic":"second"}`), IdempotencyKey: "dup-1",
	})

	assert.Equal(t, first.TaskID, second.TaskID)

	results, err := ex.Results.FindByTaskID(context.Background(), first.TaskID)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}
