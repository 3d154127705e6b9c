package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oychao1988/content-pipeline/internal/errkind"
)

// MemoryStore is an in-memory Store implementation for tests and the
// single-process example server. Grounded on graph/store/memory.go's
// MemStore, replacing its run/step/checkpoint maps with one task map plus a
// secondary idempotency-key index, since a task IS its own checkpoint here.
type MemoryStore struct {
	mu             sync.RWMutex
	tasks          map[string]*Task
	idempotencyIdx map[string]string // idempotencyKey -> taskID
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:          make(map[string]*Task),
		idempotencyIdx: make(map[string]string),
	}
}

func cloneTask(t *Task) *Task {
	cp := *t
	if t.RetryCounts != nil {
		cp.RetryCounts = make(map[string]int, len(t.RetryCounts))
		for k, v := range t.RetryCounts {
			cp.RetryCounts[k] = v
		}
	}
	if t.CallbackEvents != nil {
		cp.CallbackEvents = append([]CallbackEvent(nil), t.CallbackEvents...)
	}
	if t.StateSnapshot != nil {
		cp.StateSnapshot = append([]byte(nil), t.StateSnapshot...)
	}
	if t.TypedInputs != nil {
		cp.TypedInputs = append([]byte(nil), t.TypedInputs...)
	}
	return &cp
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, input CreateInput) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if input.IdempotencyKey != "" {
		if existingID, ok := m.idempotencyIdx[input.IdempotencyKey]; ok {
			return cloneTask(m.tasks[existingID]), nil
		}
	}

	taskID := input.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	now := time.Now()
	t := &Task{
		TaskID:          taskID,
		WorkflowType:    input.WorkflowType,
		Mode:            input.Mode,
		Status:          StatusPending,
		Priority:        input.Priority,
		Version:         1,
		RetryCounts:     make(map[string]int),
		IdempotencyKey:  input.IdempotencyKey,
		CallbackURL:     input.CallbackURL,
		CallbackEnabled: input.CallbackEnabled,
		CallbackEvents:  input.CallbackEvents,
		TypedInputs:     input.TypedInputs,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.tasks[taskID] = t
	if input.IdempotencyKey != "" {
		m.idempotencyIdx[input.IdempotencyKey] = taskID
	}
	return cloneTask(t), nil
}

func (m *MemoryStore) lookup(taskID string) (*Task, error) {
	t, ok := m.tasks[taskID]
	if !ok || t.DeletedAt != nil {
		return nil, errkind.New(errkind.NotFound, "task not found").WithDetails(map[string]any{"taskId": taskID})
	}
	return t, nil
}

// FindByID implements Store.
func (m *MemoryStore) FindByID(_ context.Context, taskID string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.lookup(taskID)
	if err != nil {
		return nil, err
	}
	return cloneTask(t), nil
}

// FindByIdempotencyKey implements Store.
func (m *MemoryStore) FindByIdempotencyKey(_ context.Context, key string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.idempotencyIdx[key]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "task not found")
	}
	t, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return cloneTask(t), nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, filter Filter, page Pagination) ([]*Task, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	page = page.normalize()

	matched := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if t.DeletedAt != nil {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.WorkflowType != "" && t.WorkflowType != filter.WorkflowType {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].TaskID < matched[j].TaskID
	})

	total := len(matched)
	start := page.offset()
	if start > total {
		start = total
	}
	end := start + page.Limit
	if end > total {
		end = total
	}
	out := make([]*Task, 0, end-start)
	for _, t := range matched[start:end] {
		out = append(out, cloneTask(t))
	}
	return out, total, nil
}

// mutate applies fn to the task under the write lock, enforcing the
// optimistic-concurrency fence shared by every mutating operation
// (spec.md §4.1: "every mutating operation... reports rows-affected").
func (m *MemoryStore) mutate(taskID string, version int, fn func(t *Task)) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.lookup(taskID)
	if err != nil {
		return nil, err
	}
	if t.Version != version {
		return nil, errkind.New(errkind.VersionConflict, "stale version").
			WithDetails(map[string]any{"taskId": taskID, "expected": t.Version, "supplied": version})
	}
	fn(t)
	t.Version++
	t.UpdatedAt = time.Now()
	return cloneTask(t), nil
}

// UpdateStatus implements Store.
func (m *MemoryStore) UpdateStatus(_ context.Context, taskID string, status Status, version int) (*Task, error) {
	return m.mutate(taskID, version, func(t *Task) {
		now := time.Now()
		if status == StatusRunning && t.StartedAt == nil {
			t.StartedAt = &now
		}
		if status.Terminal() {
			t.CompletedAt = &now
		}
		t.Status = status
	})
}

// UpdateCurrentStep implements Store.
func (m *MemoryStore) UpdateCurrentStep(_ context.Context, taskID, step string, version int) (*Task, error) {
	return m.mutate(taskID, version, func(t *Task) {
		t.CurrentStep = step
	})
}

// ClaimTask implements Store.
func (m *MemoryStore) ClaimTask(_ context.Context, taskID, workerID string, version int) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.lookup(taskID)
	if err != nil {
		return nil, err
	}
	if t.Version != version || t.Status != StatusPending {
		return nil, errkind.New(errkind.VersionConflict, "task not claimable at supplied version").
			WithDetails(map[string]any{"taskId": taskID})
	}
	now := time.Now()
	t.WorkerID = workerID
	t.Status = StatusRunning
	t.StartedAt = &now
	t.CurrentStep = "claimed"
	t.Version++
	t.UpdatedAt = now
	return cloneTask(t), nil
}

// ReleaseWorker implements Store.
func (m *MemoryStore) ReleaseWorker(_ context.Context, taskID, workerID string, version int) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.lookup(taskID)
	if err != nil {
		return nil, err
	}
	if t.Version != version || t.WorkerID != workerID {
		return nil, errkind.New(errkind.VersionConflict, "caller does not hold the lease").
			WithDetails(map[string]any{"taskId": taskID})
	}
	t.WorkerID = ""
	t.Status = StatusPending
	t.Version++
	t.UpdatedAt = time.Now()
	return cloneTask(t), nil
}

// SaveStateSnapshot implements Store.
func (m *MemoryStore) SaveStateSnapshot(_ context.Context, taskID string, snapshot []byte, version int) (*Task, error) {
	return m.mutate(taskID, version, func(t *Task) {
		t.StateSnapshot = append([]byte(nil), snapshot...)
	})
}

// IncrementRetryCount implements Store.
func (m *MemoryStore) IncrementRetryCount(_ context.Context, taskID, class string, version int) (*Task, error) {
	return m.mutate(taskID, version, func(t *Task) {
		if t.RetryCounts == nil {
			t.RetryCounts = make(map[string]int)
		}
		t.RetryCounts[class]++
	})
}

// MarkAsCompleted implements Store.
func (m *MemoryStore) MarkAsCompleted(_ context.Context, taskID string, version int) (*Task, error) {
	return m.mutate(taskID, version, func(t *Task) {
		now := time.Now()
		t.Status = StatusCompleted
		t.CompletedAt = &now
	})
}

// MarkAsFailed implements Store.
func (m *MemoryStore) MarkAsFailed(_ context.Context, taskID, message string, version int) (*Task, error) {
	return m.mutate(taskID, version, func(t *Task) {
		now := time.Now()
		t.Status = StatusFailed
		t.ErrorMessage = message
		t.CompletedAt = &now
	})
}

// GetPendingTasks implements Store.
func (m *MemoryStore) GetPendingTasks(_ context.Context, limit int) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pending := make([]*Task, 0)
	for _, t := range m.tasks {
		if t.DeletedAt == nil && t.Status == StatusPending {
			pending = append(pending, t)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	out := make([]*Task, 0, len(pending))
	for _, t := range pending {
		out = append(out, cloneTask(t))
	}
	return out, nil
}

// GetStaleRunning implements Store.
func (m *MemoryStore) GetStaleRunning(_ context.Context, cutoff time.Time) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Task, 0)
	for _, t := range m.tasks {
		if t.DeletedAt == nil && t.Status == StatusRunning && t.UpdatedAt.Before(cutoff) {
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

// SoftDelete implements Store.
func (m *MemoryStore) SoftDelete(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.lookup(taskID)
	if err != nil {
		return err
	}
	now := time.Now()
	t.DeletedAt = &now
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return errkind.New(errkind.NotFound, "task not found")
	}
	if t.IdempotencyKey != "" {
		delete(m.idempotencyIdx, t.IdempotencyKey)
	}
	delete(m.tasks, taskID)
	return nil
}

// Close implements Store. MemoryStore holds no external resources.
func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
