// Package statussync keeps a task's stored status honest about the
// quality-gate retry loop. spec.md §3 Invariant 1 requires status to
// transition only along pending -> running -> {completed, failed,
// cancelled} and running -> waiting -> running (quality retry); left to
// itself the graph engine just sits a task in running for its entire walk,
// including every regenerate-and-recheck loop, since node execution never
// touches the task row directly (internal/checkpoint.Adapter only writes
// stateSnapshot). This package observes the same NodeStarted/NodeFinished
// events internal/metrics and internal/tracing do, and derives the retry
// transition from them instead of requiring every workflow's nodes to know
// about task.Store.
package statussync

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/oychao1988/content-pipeline/internal/engine"
	"github.com/oychao1988/content-pipeline/internal/errkind"
	"github.com/oychao1988/content-pipeline/internal/task"
)

// Emitter implements engine.Emitter. It tracks which node names a taskID's
// run has already visited; a graph only ever revisits a node when a
// quality-gate edge loops back to its regenerator (write, translate, ...),
// since forward progress never repeats a name. On that second visit it
// cycles the stored status running -> waiting -> running around the
// re-entry.
type Emitter struct {
	Store  task.Store
	Logger *zap.Logger

	mu      sync.Mutex
	visited map[string]map[string]bool
}

// New builds an Emitter backed by store. A nil logger discards warnings.
func New(store task.Store, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{Store: store, Logger: logger, visited: make(map[string]map[string]bool)}
}

// NodeStarted implements engine.Emitter.
func (e *Emitter) NodeStarted(taskID, nodeID string, step int) {
	e.mu.Lock()
	seen := e.visited[taskID]
	if seen == nil {
		seen = make(map[string]bool)
		e.visited[taskID] = seen
	}
	retry := seen[nodeID]
	seen[nodeID] = true
	e.mu.Unlock()

	if !retry {
		return
	}
	e.cycleThroughWaiting(taskID)
}

// NodeFinished implements engine.Emitter. Nothing to do: the transition
// happens on the re-entry (NodeStarted), not on the node that decided to
// loop back.
func (e *Emitter) NodeFinished(taskID, nodeID string, step int, err error) {}

// RunFinished implements engine.Emitter, dropping taskID's visited-node set
// so a long-lived worker process does not accumulate one entry per task
// forever.
func (e *Emitter) RunFinished(taskID string) {
	e.mu.Lock()
	delete(e.visited, taskID)
	e.mu.Unlock()
}

// cycleThroughWaiting flips the task to waiting and immediately back to
// running. Both writes are fenced by version like any other store mutation;
// either one losing a race (e.g. a concurrent cancel) just means this
// no-ops rather than stamping over a state it shouldn't.
func (e *Emitter) cycleThroughWaiting(taskID string) {
	ctx := context.Background()

	t, err := e.Store.FindByID(ctx, taskID)
	if err != nil || t.Status != task.StatusRunning {
		return
	}

	waiting, err := e.Store.UpdateStatus(ctx, taskID, task.StatusWaiting, t.Version)
	if err != nil {
		if errkind.KindOf(err) != errkind.VersionConflict {
			e.Logger.Warn("status sync: could not mark task waiting", zap.String("taskId", taskID), zap.Error(err))
		}
		return
	}

	if _, err := e.Store.UpdateStatus(ctx, taskID, task.StatusRunning, waiting.Version); err != nil {
		if errkind.KindOf(err) != errkind.VersionConflict {
			e.Logger.Warn("status sync: could not resume task to running", zap.String("taskId", taskID), zap.Error(err))
		}
	}
}

var _ engine.Emitter = (*Emitter)(nil)
