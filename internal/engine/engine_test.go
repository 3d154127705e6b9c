package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oychao1988/content-pipeline/internal/errkind"
)

// testState is used with S instantiated as *testState: SetBase mutates the
// pointee, which is what lets the engine thread CurrentStep/Version updates
// through a value-typed Reducer without every workflow reimplementing
// copy-on-write bookkeeping.
type testState struct {
	BaseState
	Counter int
	Note    string
}

func (s *testState) Base() BaseState     { return s.BaseState }
func (s *testState) SetBase(b BaseState) { s.BaseState = b }

func testReducer(prev *testState, delta *testState) *testState {
	if delta.Counter != 0 {
		prev.Counter = delta.Counter
	}
	if delta.Note != "" {
		prev.Note = delta.Note
	}
	prev.BaseState = delta.BaseState
	return prev
}

func cloneState(s *testState) *testState {
	cp := *s
	return &cp
}

func stepNode(name string) NodeFunc[*testState] {
	return NodeFunc[*testState]{
		NodeName: name,
		Execute: func(_ context.Context, state *testState) (*testState, error) {
			out := cloneState(state)
			out.Counter = state.Counter + 1
			return out, nil
		},
	}
}

type fakeCheckpointer struct {
	saves []string
}

func (f *fakeCheckpointer) Save(_ context.Context, taskID string, _ *testState) error {
	f.saves = append(f.saves, taskID)
	return nil
}

func newTestState() *testState {
	return &testState{BaseState: BaseState{TaskID: "t1", WorkflowType: "test", StartTime: time.Now()}}
}

func TestEngineRunsLinearGraphToTermination(t *testing.T) {
	cp := &fakeCheckpointer{}
	eng, err := New[*testState](testReducer, cp, nil, WithMaxSteps(10))
	require.NoError(t, err)

	eng.Add(stepNode("a"))
	eng.Add(stepNode("b"))
	eng.Add(stepNode("c"))
	eng.StartAt("a")
	eng.Connect("a", "b", nil)
	eng.Connect("b", "c", nil)

	final, err := eng.Run(context.Background(), "t1", newTestState(), "")
	require.NoError(t, err)
	assert.Equal(t, 3, final.Counter)
	assert.Equal(t, "c", final.Base().CurrentStep)
	assert.Len(t, cp.saves, 3)
}

func TestEngineConditionalEdgeRoutesByState(t *testing.T) {
	eng, err := New[*testState](testReducer, nil, nil, WithMaxSteps(10))
	require.NoError(t, err)

	eng.Add(stepNode("start"))
	eng.Add(stepNode("retry"))
	eng.Add(stepNode("done"))
	eng.StartAt("start")
	eng.Connect("start", "retry", func(s *testState) bool { return s.Counter < 2 })
	eng.Connect("start", "done", nil)
	eng.Connect("retry", "start", nil)

	final, err := eng.Run(context.Background(), "t1", newTestState(), "")
	require.NoError(t, err)
	assert.Equal(t, "done", final.Base().CurrentStep)
}

func TestEngineResumesFromCheckpointNode(t *testing.T) {
	eng, err := New[*testState](testReducer, nil, nil, WithMaxSteps(10))
	require.NoError(t, err)

	eng.Add(stepNode("a"))
	eng.Add(stepNode("b"))
	eng.StartAt("a")
	eng.Connect("a", "b", nil)

	state := newTestState()
	state.Counter = 5
	final, err := eng.Run(context.Background(), "t1", state, "b")
	require.NoError(t, err)
	assert.Equal(t, 6, final.Counter)
}

func TestEngineResumeFromUnknownNodeIsIncompatibleCheckpoint(t *testing.T) {
	eng, err := New[*testState](testReducer, nil, nil)
	require.NoError(t, err)
	eng.Add(stepNode("a"))
	eng.StartAt("a")

	_, err = eng.Run(context.Background(), "t1", newTestState(), "ghost")
	require.Error(t, err)
	assert.Equal(t, errkind.IncompatibleCheckpoint, errkind.KindOf(err))
}

func TestEngineMaxStepsExceeded(t *testing.T) {
	eng, err := New[*testState](testReducer, nil, nil, WithMaxSteps(2))
	require.NoError(t, err)
	eng.Add(stepNode("loop"))
	eng.StartAt("loop")
	eng.Connect("loop", "loop", nil)

	_, err = eng.Run(context.Background(), "t1", newTestState(), "")
	require.Error(t, err)
	assert.Equal(t, errkind.Internal, errkind.KindOf(err))
}

func TestEngineValidationErrorIsNeverRetried(t *testing.T) {
	calls := 0
	node := NodeFunc[*testState]{
		NodeName: "guarded",
		Validate: func(_ context.Context, _ *testState) error {
			calls++
			return errkind.New(errkind.Validation, "precondition not met")
		},
		Execute: func(_ context.Context, s *testState) (*testState, error) { return s, nil },
		Pol:     NodePolicy{RetryCount: 5},
	}
	eng, err := New[*testState](testReducer, nil, nil)
	require.NoError(t, err)
	eng.Add(node)
	eng.StartAt("guarded")

	_, err = eng.Run(context.Background(), "t1", newTestState(), "")
	require.Error(t, err)
	assert.Equal(t, errkind.Validation, errkind.KindOf(err))
	assert.Equal(t, 1, calls)
}

func TestEngineRetriesTransientExternalUpToRetryCount(t *testing.T) {
	attempts := 0
	node := NodeFunc[*testState]{
		NodeName: "flaky",
		Execute: func(_ context.Context, s *testState) (*testState, error) {
			attempts++
			if attempts < 3 {
				return nil, errkind.New(errkind.TransientExternal, "temporary failure")
			}
			return s, nil
		},
		Pol: NodePolicy{RetryCount: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}
	eng, err := New[*testState](testReducer, nil, nil)
	require.NoError(t, err)
	eng.Add(node)
	eng.StartAt("flaky")

	_, err = eng.Run(context.Background(), "t1", newTestState(), "")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestEngineExhaustsRetryBudgetAndFails(t *testing.T) {
	node := NodeFunc[*testState]{
		NodeName: "alwaysFails",
		Execute: func(_ context.Context, _ *testState) (*testState, error) {
			return nil, errkind.New(errkind.TransientExternal, "down")
		},
		Pol: NodePolicy{RetryCount: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}
	eng, err := New[*testState](testReducer, nil, nil)
	require.NoError(t, err)
	eng.Add(node)
	eng.StartAt("alwaysFails")

	_, err = eng.Run(context.Background(), "t1", newTestState(), "")
	require.Error(t, err)
	assert.Equal(t, errkind.TransientExternal, errkind.KindOf(err))
}

func TestEngineNodeTimeout(t *testing.T) {
	node := NodeFunc[*testState]{
		NodeName: "slow",
		Execute: func(ctx context.Context, _ *testState) (*testState, error) {
			select {
			case <-time.After(50 * time.Millisecond):
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
		Pol: NodePolicy{Timeout: 5 * time.Millisecond},
	}
	eng, err := New[*testState](testReducer, nil, nil)
	require.NoError(t, err)
	eng.Add(node)
	eng.StartAt("slow")

	_, err = eng.Run(context.Background(), "t1", newTestState(), "")
	require.Error(t, err)
	assert.Equal(t, errkind.NodeTimeout, errkind.KindOf(err))
}

func TestEngineNodeErrorIsReclassifiedAsCancelledWhenRunContextIsCancelled(t *testing.T) {
	started := make(chan struct{})
	node := NodeFunc[*testState]{
		NodeName: "blocked",
		Execute: func(ctx context.Context, _ *testState) (*testState, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	eng, err := New[*testState](testReducer, nil, nil)
	require.NoError(t, err)
	eng.Add(node)
	eng.StartAt("blocked")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, runErr := eng.Run(ctx, "t1", newTestState(), "")
		errCh <- runErr
	}()

	<-started
	cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Equal(t, errkind.Cancelled, errkind.KindOf(err))
	case <-time.After(time.Second):
		t.Fatal("run did not observe cancellation")
	}
}

func TestEngineRunFinishedNotifiesEmitterOnSuccessAndError(t *testing.T) {
	emitter := &recordingEmitter{}
	eng, err := New[*testState](testReducer, nil, emitter)
	require.NoError(t, err)
	eng.Add(stepNode("a"))
	eng.StartAt("a")

	_, err = eng.Run(context.Background(), "t1", newTestState(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, emitter.runFinished)

	failing, err := New[*testState](testReducer, nil, emitter)
	require.NoError(t, err)
	failing.Add(NodeFunc[*testState]{
		NodeName: "boom",
		Execute: func(context.Context, *testState) (*testState, error) {
			return nil, errors.New("boom")
		},
	})
	failing.StartAt("boom")

	_, err = failing.Run(context.Background(), "t2", newTestState(), "")
	require.Error(t, err)
	assert.Equal(t, []string{"t1", "t2"}, emitter.runFinished)
}

type recordingEmitter struct {
	runFinished []string
}

func (e *recordingEmitter) NodeStarted(string, string, int)        {}
func (e *recordingEmitter) NodeFinished(string, string, int, error) {}
func (e *recordingEmitter) RunFinished(taskID string) {
	e.runFinished = append(e.runFinished, taskID)
}

func TestEngineUnclassifiedErrorDefaultsToInternal(t *testing.T) {
	node := NodeFunc[*testState]{
		NodeName: "buggy",
		Execute: func(_ context.Context, _ *testState) (*testState, error) {
			return nil, errors.New("boom")
		},
	}
	eng, err := New[*testState](testReducer, nil, nil)
	require.NoError(t, err)
	eng.Add(node)
	eng.StartAt("buggy")

	_, err = eng.Run(context.Background(), "t1", newTestState(), "")
	require.Error(t, err)
	assert.Equal(t, errkind.Internal, errkind.KindOf(err))
}
