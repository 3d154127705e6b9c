package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryResultRepositoryOrdersNewestFirst(t *testing.T) {
	repo := NewMemoryResultRepository()
	ctx := context.Background()

	first, err := repo.Create(ctx, &Result{TaskID: "t1", ResultType: "article", Content: "draft"})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	second, err := repo.Create(ctx, &Result{TaskID: "t1", ResultType: "finalArticle", Content: "final"})
	require.NoError(t, err)

	rows, err := repo.FindByTaskID(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, second.ID, rows[0].ID)
	assert.Equal(t, first.ID, rows[1].ID)
}

func TestMemoryQualityCheckRepositoryFindLatestByPhase(t *testing.T) {
	repo := NewMemoryQualityCheckRepository()
	ctx := context.Background()

	_, err := repo.Create(ctx, &QualityReport{TaskID: "t1", Phase: "text", Score: 6, Passed: false})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	latest, err := repo.Create(ctx, &QualityReport{TaskID: "t1", Phase: "text", Score: 8, Passed: true})
	require.NoError(t, err)

	found, err := repo.FindLatest(ctx, "t1", "text")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, latest.ID, found.ID)
	assert.True(t, found.Passed)
}

func TestMemoryQualityCheckRepositoryUnknownPhaseReturnsNil(t *testing.T) {
	repo := NewMemoryQualityCheckRepository()
	found, err := repo.FindLatest(context.Background(), "t1", "image")
	require.NoError(t, err)
	assert.Nil(t, found)
}
