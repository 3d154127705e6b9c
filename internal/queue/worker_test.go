package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oychao1988/content-pipeline/internal/executor"
	"github.com/oychao1988/content-pipeline/internal/registry"
	"github.com/oychao1988/content-pipeline/internal/task"
)

func newTestExecutor(store task.Store, factory registry.Factory) *executor.Executor {
	reg := registry.New()
	reg.Register(factory)
	return executor.New(reg, store, task.NewMemoryResultRepository(), task.NewMemoryQualityCheckRepository())
}

func TestPoolHandleTaskCompletesTask(t *testing.T) {
	store := task.NewMemoryStore()
	q := NewMemoryQueue(10)
	exec := newTestExecutor(store, fixtureFactory{})

	created, err := store.Create(context.Background(), task.CreateInput{
		WorkflowType: "fixture", TypedInputs: json.RawMessage(`{"topic":"x"}`),
	})
	require.NoError(t, err)

	pool := NewPool(q, store, exec, nil, nil, nil)
	pool.handleTask(context.Background(), "worker-1", Envelope{TaskID: created.TaskID, WorkflowType: "fixture"})

	stored, err := store.FindByID(context.Background(), created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, stored.Status)
}

func TestPoolHandleTaskSkipsAlreadyClaimedTask(t *testing.T) {
	store := task.NewMemoryStore()
	q := NewMemoryQueue(10)
	exec := newTestExecutor(store, fixtureFactory{})

	created, err := store.Create(context.Background(), task.CreateInput{
		WorkflowType: "fixture", TypedInputs: json.RawMessage(`{"topic":"x"}`),
	})
	require.NoError(t, err)

	// Simulate a second worker having already claimed the task before this
	// one reads it.
	_, err = store.ClaimTask(context.Background(), created.TaskID, "other-worker", created.Version)
	require.NoError(t, err)

	pool := NewPool(q, store, exec, nil, nil, nil)
	pool.handleTask(context.Background(), "worker-1", Envelope{TaskID: created.TaskID, WorkflowType: "fixture"})

	stored, err := store.FindByID(context.Background(), created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "other-worker", stored.WorkerID, "the other worker's claim must not be overwritten")
}

func TestPoolStartDrainsQueueAndShutsDownCleanly(t *testing.T) {
	store := task.NewMemoryStore()
	q := NewMemoryQueue(10)
	exec := newTestExecutor(store, fixtureFactory{})
	dispatcher := NewDispatcher(store, q)

	created, err := store.Create(context.Background(), task.CreateInput{
		WorkflowType: "fixture", TypedInputs: json.RawMessage(`{"topic":"x"}`),
	})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), Envelope{TaskID: created.TaskID, WorkflowType: "fixture"}))

	pool := NewPool(q, store, exec, dispatcher, nil, nil)
	pool.Concurrency = 1
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stored, err := store.FindByID(context.Background(), created.TaskID)
		require.NoError(t, err)
		if stored.Status == task.StatusCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	stored, err := store.FindByID(context.Background(), created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, stored.Status)

	cancel()
	pool.Shutdown()
}
