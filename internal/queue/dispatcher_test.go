package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oychao1988/content-pipeline/internal/task"
)

func TestDispatcherTickEnqueuesPendingTasksOnce(t *testing.T) {
	store := task.NewMemoryStore()
	q := NewMemoryQueue(10)
	d := NewDispatcher(store, q)

	created, err := store.Create(context.Background(), task.CreateInput{WorkflowType: "fixture", TypedInputs: json.RawMessage(`{}`)})
	require.NoError(t, err)

	d.tick(context.Background())
	d.tick(context.Background())

	stats, err := q.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Depth)

	env, ok, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created.TaskID, env.TaskID)
}

func TestDispatcherForgetAllowsReenqueue(t *testing.T) {
	store := task.NewMemoryStore()
	q := NewMemoryQueue(10)
	d := NewDispatcher(store, q)

	created, err := store.Create(context.Background(), task.CreateInput{WorkflowType: "fixture", TypedInputs: json.RawMessage(`{}`)})
	require.NoError(t, err)

	d.tick(context.Background())
	_, _, _ = q.Dequeue(context.Background())

	d.tick(context.Background())
	stats, _ := q.GetStats(context.Background())
	assert.Equal(t, 0, stats.Depth, "task still tracked as enqueued until Forget is called")

	d.Forget(created.TaskID)
	d.tick(context.Background())
	stats, _ = q.GetStats(context.Background())
	assert.Equal(t, 1, stats.Depth)
}
