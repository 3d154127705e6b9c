package task

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oychao1988/content-pipeline/internal/errkind"
)

func TestMemoryStoreCreateIsIdempotentOnKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a, err := s.Create(ctx, CreateInput{WorkflowType: "content-creator", IdempotencyKey: "k1"})
	require.NoError(t, err)
	b, err := s.Create(ctx, CreateInput{WorkflowType: "content-creator", IdempotencyKey: "k1"})
	require.NoError(t, err)

	assert.Equal(t, a.TaskID, b.TaskID)

	list, total, err := s.List(ctx, Filter{}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, list, 1)
}

func TestMemoryStoreConcurrentCreateSameKeyYieldsOneRow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tk, err := s.Create(ctx, CreateInput{WorkflowType: "translation", IdempotencyKey: "shared"})
			require.NoError(t, err)
			ids[i] = tk.TaskID
		}(i)
	}
	wg.Wait()

	first := ids[0]
	for _, id := range ids {
		assert.Equal(t, first, id)
	}
	_, total, err := s.List(ctx, Filter{}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestMemoryStoreOptimisticLockRejectsStaleVersion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	tk, err := s.Create(ctx, CreateInput{WorkflowType: "translation"})
	require.NoError(t, err)
	require.Equal(t, 1, tk.Version)

	updated, err := s.UpdateCurrentStep(ctx, tk.TaskID, "translate", tk.Version)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	_, err = s.UpdateCurrentStep(ctx, tk.TaskID, "checkQuality", tk.Version)
	require.Error(t, err)
	assert.Equal(t, errkind.VersionConflict, errkind.KindOf(err))
}

func TestMemoryStoreConcurrentMutationsExactlyOneWins(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tk, err := s.Create(ctx, CreateInput{WorkflowType: "translation"})
	require.NoError(t, err)

	const n = 10
	results := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateCurrentStep(ctx, tk.TaskID, "translate", tk.Version)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes, conflicts := 0, 0
	for err := range results {
		if err == nil {
			successes++
		} else {
			require.Equal(t, errkind.VersionConflict, errkind.KindOf(err))
			conflicts++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
}

func TestMemoryStoreClaimExclusivity(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tk, err := s.Create(ctx, CreateInput{WorkflowType: "translation"})
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	successes := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			workerID := "worker-" + string(rune('a'+i))
			claimed, err := s.ClaimTask(ctx, tk.TaskID, workerID, tk.Version)
			if err == nil {
				successes <- claimed.WorkerID
			}
		}(i)
	}
	wg.Wait()
	close(successes)

	count := 0
	var winner string
	for w := range successes {
		winner = w
		count++
	}
	assert.Equal(t, 1, count)

	final, err := s.FindByID(ctx, tk.TaskID)
	require.NoError(t, err)
	assert.Equal(t, winner, final.WorkerID)
	assert.Equal(t, StatusRunning, final.Status)
}

func TestMemoryStoreClaimFailsWhenNotPending(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tk, err := s.Create(ctx, CreateInput{WorkflowType: "translation"})
	require.NoError(t, err)

	claimed, err := s.ClaimTask(ctx, tk.TaskID, "w1", tk.Version)
	require.NoError(t, err)

	_, err = s.ClaimTask(ctx, tk.TaskID, "w2", claimed.Version)
	require.Error(t, err)
	assert.Equal(t, errkind.VersionConflict, errkind.KindOf(err))
}

func TestMemoryStoreReleaseWorkerRequiresLeaseOwnership(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tk, err := s.Create(ctx, CreateInput{WorkflowType: "translation"})
	require.NoError(t, err)
	claimed, err := s.ClaimTask(ctx, tk.TaskID, "w1", tk.Version)
	require.NoError(t, err)

	_, err = s.ReleaseWorker(ctx, tk.TaskID, "impostor", claimed.Version)
	require.Error(t, err)

	released, err := s.ReleaseWorker(ctx, tk.TaskID, "w1", claimed.Version)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, released.Status)
	assert.Empty(t, released.WorkerID)
}

func TestMemoryStoreSoftDeleteHidesFromQueries(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tk, err := s.Create(ctx, CreateInput{WorkflowType: "translation"})
	require.NoError(t, err)

	require.NoError(t, s.SoftDelete(ctx, tk.TaskID))

	_, err = s.FindByID(ctx, tk.TaskID)
	require.Error(t, err)
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))

	_, total, err := s.List(ctx, Filter{}, Pagination{})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestMemoryStoreGetPendingTasksOrdering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	low, err := s.Create(ctx, CreateInput{WorkflowType: "translation", Priority: 1})
	require.NoError(t, err)
	high, err := s.Create(ctx, CreateInput{WorkflowType: "translation", Priority: 10})
	require.NoError(t, err)

	pending, err := s.GetPendingTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, high.TaskID, pending[0].TaskID)
	assert.Equal(t, low.TaskID, pending[1].TaskID)
}
