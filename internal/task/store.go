package task

import (
	"context"
	"time"
)

// Store is the Task Repository contract every backend (memory, sqlite,
// mysql) implements identically (spec.md §4.1). Every mutating method
// reports errkind.VersionConflict when the supplied version is stale and
// errkind.NotFound when the task is missing or soft-deleted.
type Store interface {
	// Create creates a new task, or idempotently returns the existing task
	// sharing the same IdempotencyKey (spec.md §4.1, §8 property 2).
	Create(ctx context.Context, input CreateInput) (*Task, error)

	FindByID(ctx context.Context, taskID string) (*Task, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*Task, error)

	List(ctx context.Context, filter Filter, page Pagination) ([]*Task, int, error)

	UpdateStatus(ctx context.Context, taskID string, status Status, version int) (*Task, error)
	UpdateCurrentStep(ctx context.Context, taskID, step string, version int) (*Task, error)

	// ClaimTask atomically transitions a pending task to running under a
	// worker's lease (spec.md §8 property 3).
	ClaimTask(ctx context.Context, taskID, workerID string, version int) (*Task, error)

	// ReleaseWorker returns a leased task to pending. Used for crash
	// recovery (spec.md §4.8 "Lease recovery").
	ReleaseWorker(ctx context.Context, taskID, workerID string, version int) (*Task, error)

	SaveStateSnapshot(ctx context.Context, taskID string, snapshot []byte, version int) (*Task, error)
	IncrementRetryCount(ctx context.Context, taskID, class string, version int) (*Task, error)

	MarkAsCompleted(ctx context.Context, taskID string, version int) (*Task, error)
	MarkAsFailed(ctx context.Context, taskID, message string, version int) (*Task, error)

	// GetPendingTasks returns tasks ordered by priority DESC, createdAt ASC,
	// skipping soft-deleted rows. Used by the Dispatcher.
	GetPendingTasks(ctx context.Context, limit int) ([]*Task, error)

	// GetStaleRunning returns tasks stuck in running whose UpdatedAt is
	// older than cutoff. Used by the lease-recovery supervisor.
	GetStaleRunning(ctx context.Context, cutoff time.Time) ([]*Task, error)

	SoftDelete(ctx context.Context, taskID string) error
	Delete(ctx context.Context, taskID string) error

	Close() error
}
