package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oychao1988/content-pipeline/internal/errkind"
	"github.com/oychao1988/content-pipeline/internal/executor"
	"github.com/oychao1988/content-pipeline/internal/task"
	"github.com/oychao1988/content-pipeline/internal/webhook"
)

// DefaultConcurrency is the worker-pool size when unconfigured (spec.md §5,
// "default 2 per process").
const DefaultConcurrency = 2

// DefaultTaskTimeout is the per-task wall-clock budget for async execution
// (spec.md §4.5, "longer for async" — this package picks 30 minutes).
const DefaultTaskTimeout = 30 * time.Minute

// Pool runs a configured number of concurrent worker loops (spec.md §4.8).
// Every worker shares the pool's dispatcher-tracking, executor, and
// notifier.
type Pool struct {
	Queue       Queue
	Store       task.Store
	Executor    *executor.Executor
	Dispatcher  *Dispatcher
	Notifier    *webhook.Notifier
	Concurrency int
	TaskTimeout time.Duration
	Logger      *zap.Logger

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewPool builds a Pool with the spec's default concurrency and timeout.
// Notifier and Logger may be left nil; a nil Notifier skips webhook delivery.
func NewPool(q Queue, store task.Store, exec *executor.Executor, dispatcher *Dispatcher, notifier *webhook.Notifier, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		Queue:       q,
		Store:       store,
		Executor:    exec,
		Dispatcher:  dispatcher,
		Notifier:    notifier,
		Concurrency: DefaultConcurrency,
		TaskTimeout: DefaultTaskTimeout,
		Logger:      logger,
		shutdown:    make(chan struct{}),
	}
}

// Start launches Concurrency worker goroutines, each claiming and driving
// tasks until ctx is cancelled or Shutdown is called.
func (p *Pool) Start(ctx context.Context) {
	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	for i := 0; i < concurrency; i++ {
		workerID := uuid.NewString()
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.workerLoop(ctx, workerID)
		}()
	}
}

// Shutdown signals every worker to refuse new claims and blocks until
// in-flight tasks reach their cooperative cancellation point (spec.md §4.8,
// "Concurrency").
func (p *Pool) Shutdown() {
	close(p.shutdown)
	p.wg.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, workerID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		default:
		}

		env, ok, err := p.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if !ok {
			continue
		}

		select {
		case <-p.shutdown:
			// The item is already off the queue; let the next process pick
			// it back up once the dispatcher re-scans pending tasks.
			return
		default:
		}

		p.handleTask(ctx, workerID, env)
	}
}

// handleTask implements the worker step loop (spec.md §4.8 item "Worker"):
// re-read, claim, run, finalize, notify.
func (p *Pool) handleTask(ctx context.Context, workerID string, env Envelope) {
	t, err := p.Store.FindByID(ctx, env.TaskID)
	if err != nil {
		p.Logger.Warn("worker could not load dequeued task", zap.String("taskId", env.TaskID), zap.Error(err))
		return
	}
	if t.Status != task.StatusPending {
		// Another worker already claimed it, or it was cancelled/deleted
		// between enqueue and dequeue.
		if p.Dispatcher != nil {
			p.Dispatcher.Forget(env.TaskID)
		}
		return
	}

	claimed, err := p.Store.ClaimTask(ctx, env.TaskID, workerID, t.Version)
	if err != nil {
		if errkind.KindOf(err) != errkind.VersionConflict {
			p.Logger.Warn("worker failed to claim task", zap.String("taskId", env.TaskID), zap.Error(err))
		}
		return
	}

	result := p.Executor.ResumeExisting(ctx, claimed, p.TaskTimeout)

	if p.Dispatcher != nil {
		p.Dispatcher.Forget(env.TaskID)
	}

	p.notify(ctx, claimed, result)
}

func (p *Pool) notify(ctx context.Context, t *task.Task, result *executor.ExecutionResult) {
	if p.Notifier == nil {
		return
	}

	var event task.CallbackEvent
	payload := webhook.Payload{
		TaskID:       result.TaskID,
		Status:       result.Status,
		Timestamp:    time.Now().UTC(),
		WorkflowType: t.WorkflowType,
	}

	switch result.Status {
	case task.StatusCompleted:
		event = task.EventCompleted
	case task.StatusFailed, task.StatusCancelled:
		event = task.EventFailed
		payload.Error = &webhook.ErrorInfo{Message: result.Error}
	default:
		return
	}
	payload.Event = event

	if err := p.Notifier.Notify(ctx, t, event, payload); err != nil {
		p.Logger.Warn("webhook delivery exhausted retries", zap.String("taskId", t.TaskID), zap.Error(err))
	}
}
