// Package checkpoint implements the Checkpoint Manager (spec.md §4.2): a
// small, testable layer over "the latest known workflow state of a task",
// wrapping the task store's snapshot calls with a best-effort in-process
// cache. Grounded on the teacher's checkpoint.go (restore-over-initial-state
// pattern) and MemStore's locking discipline, moved from the engine-generic
// CheckpointV2 to a task-level JSON snapshot, since spec.md §3 makes
// explicit that the checkpoint is not a separate table.
package checkpoint

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/oychao1988/content-pipeline/internal/engine"
	"github.com/oychao1988/content-pipeline/internal/errkind"
	"github.com/oychao1988/content-pipeline/internal/task"
)

// Checkpoint is the stored projection of a workflow state: the base fields
// plus the opaque per-workflow payload, exactly as saved to
// tasks.stateSnapshot.
type Checkpoint struct {
	TaskID       string          `json:"taskId"`
	WorkflowType string          `json:"workflowType"`
	StepName     string          `json:"currentStep"`
	Snapshot     json.RawMessage `json:"snapshot"`
}

// Manager wraps task.Store.SaveStateSnapshot/FindByID with an optional
// best-effort cache. The zero value is not usable; construct with New.
type Manager struct {
	store task.Store

	mu    sync.RWMutex
	cache map[string]Checkpoint
}

// New constructs a Manager backed by store.
func New(store task.Store) *Manager {
	return &Manager{store: store, cache: make(map[string]Checkpoint)}
}

// Save extracts a checkpoint projection of state (any JSON-serializable
// value implementing the base-field accessors workflows use) and persists
// it via the store, fenced by version. Returns the new version, or nil
// (with no error) on a version conflict — the caller decides whether to
// retry or surface it (spec.md §4.2).
func (m *Manager) Save(ctx context.Context, taskID, workflowType, stepName string, state any, version int) (*int, error) {
	snapshot, err := json.Marshal(state)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, "marshal checkpoint state", err)
	}

	t, err := m.store.SaveStateSnapshot(ctx, taskID, snapshot, version)
	if err != nil {
		if errkind.KindOf(err) == errkind.VersionConflict {
			return nil, nil
		}
		return nil, err
	}

	m.mu.Lock()
	m.cache[taskID] = Checkpoint{TaskID: taskID, WorkflowType: workflowType, StepName: stepName, Snapshot: snapshot}
	m.mu.Unlock()

	return &t.Version, nil
}

// Load returns the most recent checkpoint for taskID, checking the cache
// first and falling back to the store. A found checkpoint is validated for
// the invariants spec.md §4.2 names: workflowType matches, snapshot is
// non-empty.
func (m *Manager) Load(ctx context.Context, taskID, expectedWorkflowType string) (*Checkpoint, error) {
	m.mu.RLock()
	cached, ok := m.cache[taskID]
	m.mu.RUnlock()
	if ok {
		if err := validate(cached, expectedWorkflowType); err != nil {
			return nil, err
		}
		return &cached, nil
	}

	t, err := m.store.FindByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if len(t.StateSnapshot) == 0 {
		return nil, nil
	}
	cp := Checkpoint{
		TaskID:       taskID,
		WorkflowType: t.WorkflowType,
		StepName:     t.CurrentStep,
		Snapshot:     t.StateSnapshot,
	}
	if err := validate(cp, expectedWorkflowType); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cache[taskID] = cp
	m.mu.Unlock()

	return &cp, nil
}

func validate(cp Checkpoint, expectedWorkflowType string) error {
	if len(cp.Snapshot) == 0 {
		return errkind.New(errkind.IncompatibleCheckpoint, "empty checkpoint snapshot")
	}
	if expectedWorkflowType != "" && cp.WorkflowType != "" && cp.WorkflowType != expectedWorkflowType {
		return errkind.New(errkind.IncompatibleCheckpoint, "checkpoint workflowType mismatch").
			WithDetails(map[string]any{"expected": expectedWorkflowType, "found": cp.WorkflowType})
	}
	return nil
}

// Restore merges a loaded checkpoint over initialState and unmarshals the
// result into out (a pointer to the workflow's concrete state type).
// restoreImmutableFields is a caller-supplied function that re-applies the
// immutable input fields from initialState onto the merged result after
// unmarshalling — taskId, mode, and the workflow's original request
// fields are always taken from initialState, never the checkpoint
// (spec.md §4.2, crash-corruption guard).
func Restore(cp *Checkpoint, initialState []byte, out any, restoreImmutableFields func()) error {
	if len(initialState) > 0 {
		if err := json.Unmarshal(initialState, out); err != nil {
			return errkind.Wrap(errkind.Internal, "unmarshal initial state", err)
		}
	}
	if cp != nil && len(cp.Snapshot) > 0 {
		if err := json.Unmarshal(cp.Snapshot, out); err != nil {
			return errkind.Wrap(errkind.Internal, "unmarshal checkpoint snapshot", err)
		}
	}
	if restoreImmutableFields != nil {
		restoreImmutableFields()
	}
	return nil
}

// SaveLatest saves state as taskID's checkpoint without the caller tracking
// a version itself: it reads the task's current version, saves fenced on
// it, and on a version conflict re-reads once and retries. Safe for the
// single worker driving one task's graph to call after every node, since
// nothing else writes that task's row concurrently (spec.md §4.8, one task
// one worker).
func (m *Manager) SaveLatest(ctx context.Context, taskID, workflowType, stepName string, state any) error {
	t, err := m.store.FindByID(ctx, taskID)
	if err != nil {
		return err
	}
	if v, err := m.Save(ctx, taskID, workflowType, stepName, state, t.Version); err != nil {
		return err
	} else if v != nil {
		return nil
	}

	t2, err := m.store.FindByID(ctx, taskID)
	if err != nil {
		return err
	}
	_, err = m.Save(ctx, taskID, workflowType, stepName, state, t2.Version)
	return err
}

// Adapter implements engine.Checkpointer[S] over a Manager, so a graph
// engine can checkpoint after every node without knowing anything about
// task rows or optimistic versions. S must satisfy engine.Stateful so the
// adapter can read the current step name off the state being saved.
type Adapter[S engine.Stateful] struct {
	Manager      *Manager
	WorkflowType string
}

// Save implements engine.Checkpointer[S].
func (a Adapter[S]) Save(ctx context.Context, taskID string, state S) error {
	return a.Manager.SaveLatest(ctx, taskID, a.WorkflowType, state.Base().CurrentStep, state)
}

// Clear drops taskID's cache entry. It does not touch persisted state; the
// store deletes that when the task itself is deleted (spec.md §4.2).
func (m *Manager) Clear(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, taskID)
}
