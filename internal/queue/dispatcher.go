package queue

import (
	"context"
	"sync"
	"time"

	"github.com/oychao1988/content-pipeline/internal/task"
)

// DefaultDispatchInterval is how often the Dispatcher polls the store for
// pending tasks not yet tracked as enqueued.
const DefaultDispatchInterval = 2 * time.Second

// Dispatcher periodically reads pending tasks from the store and enqueues
// those not already tracked in-memory, so a task is never double-enqueued
// within one process's lifetime (spec.md §4.8).
type Dispatcher struct {
	Store    task.Store
	Queue    Queue
	Interval time.Duration
	Limit    int

	mu       sync.Mutex
	enqueued map[string]struct{}
}

// NewDispatcher builds a Dispatcher with the package defaults.
func NewDispatcher(store task.Store, q Queue) *Dispatcher {
	return &Dispatcher{
		Store:    store,
		Queue:    q,
		Interval: DefaultDispatchInterval,
		Limit:    50,
		enqueued: make(map[string]struct{}),
	}
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultDispatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		d.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	limit := d.Limit
	if limit <= 0 {
		limit = 50
	}
	pending, err := d.Store.GetPendingTasks(ctx, limit)
	if err != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range pending {
		if _, already := d.enqueued[t.TaskID]; already {
			continue
		}
		env := Envelope{TaskID: t.TaskID, WorkflowType: t.WorkflowType, Params: t.TypedInputs}
		if err := d.Queue.Enqueue(ctx, env); err != nil {
			continue
		}
		d.enqueued[t.TaskID] = struct{}{}
	}
}

// Forget drops a taskId from the in-memory enqueued set once a worker has
// claimed it, so a future re-pend (after lease recovery) can be
// re-enqueued.
func (d *Dispatcher) Forget(taskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.enqueued, taskID)
}
