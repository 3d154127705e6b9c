package statussync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oychao1988/content-pipeline/internal/task"
)

func newRunningTask(t *testing.T, store task.Store, taskID string) *task.Task {
	t.Helper()
	created, err := store.Create(context.Background(), task.CreateInput{TaskID: taskID, WorkflowType: "fixture"})
	require.NoError(t, err)
	running, err := store.UpdateStatus(context.Background(), taskID, task.StatusRunning, created.Version)
	require.NoError(t, err)
	return running
}

func TestNodeStartedFirstVisitLeavesStatusAlone(t *testing.T) {
	store := task.NewMemoryStore()
	newRunningTask(t, store, "t1")
	e := New(store, nil)

	e.NodeStarted("t1", "write", 0)

	stored, err := store.FindByID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, stored.Status)
}

func TestNodeStartedSecondVisitCyclesThroughWaiting(t *testing.T) {
	store := task.NewMemoryStore()
	running := newRunningTask(t, store, "t1")
	e := New(store, nil)

	e.NodeStarted("t1", "write", 0)
	e.NodeStarted("t1", "checkText", 1)
	e.NodeStarted("t1", "write", 2) // retry loop-back: second visit to "write"

	stored, err := store.FindByID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, stored.Status, "must land back on running, not stay on waiting")
	assert.True(t, stored.Version >= running.Version+2, "waiting->running cycle must bump the version at least twice")
}

func TestNodeStartedIgnoresNonRunningTask(t *testing.T) {
	store := task.NewMemoryStore()
	created, err := store.Create(context.Background(), task.CreateInput{TaskID: "t1", WorkflowType: "fixture"})
	require.NoError(t, err)
	_, err = store.UpdateStatus(context.Background(), "t1", task.StatusCancelled, created.Version)
	require.NoError(t, err)
	e := New(store, nil)

	e.NodeStarted("t1", "write", 0)
	e.NodeStarted("t1", "checkText", 1)
	e.NodeStarted("t1", "write", 2)

	stored, err := store.FindByID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, stored.Status)
}

func TestRunFinishedDropsVisitedSet(t *testing.T) {
	store := task.NewMemoryStore()
	newRunningTask(t, store, "t1")
	e := New(store, nil)

	e.NodeStarted("t1", "write", 0)
	e.RunFinished("t1")

	e.mu.Lock()
	_, ok := e.visited["t1"]
	e.mu.Unlock()
	assert.False(t, ok)
}
