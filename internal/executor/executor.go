// Package executor implements the Sync Executor (spec.md §4.7): the path
// for callers that want the answer in a single HTTP response. It never
// returns an error from Run — every failure mode becomes a field on the
// returned ExecutionResult, mirroring the teacher's "errors are data, not
// control flow at the boundary" convention (graph/engine.go's Run, which
// always returns a final state even on node failure).
package executor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/oychao1988/content-pipeline/internal/errkind"
	"github.com/oychao1988/content-pipeline/internal/registry"
	"github.com/oychao1988/content-pipeline/internal/task"
)

// DefaultWallClockBudget is the whole-task timeout applied when Request
// does not override it (spec.md §4.5, "5 min for sync").
const DefaultWallClockBudget = 5 * time.Minute

// Request describes a task creation request (spec.md §6, POST /api/tasks).
type Request struct {
	TaskID          string
	WorkflowType    string
	Params          json.RawMessage
	Priority        int
	IdempotencyKey  string
	CallbackURL     string
	CallbackEnabled bool
	CallbackEvents  []task.CallbackEvent
	WallClockBudget time.Duration
}

// ExecutionResult is the Sync Executor's always-returned outcome.
type ExecutionResult struct {
	TaskID     string          `json:"taskId"`
	Status     task.Status     `json:"status"`
	FinalState json.RawMessage `json:"finalState,omitempty"`
	Duration   time.Duration   `json:"duration"`
	Error      string          `json:"error,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// resultsEnvelope is the convention every workflow state obeys: whatever
// artifacts and quality reports a graph run produced are exposed under
// these two field names in the final state JSON, so the executor can
// extract them without knowing the rest of the workflow's shape (spec.md
// §9's "tagged record" model — the executor only ever reads the tag).
type resultsEnvelope struct {
	Results        []task.Result        `json:"results,omitempty"`
	QualityReports []task.QualityReport `json:"qualityReports,omitempty"`
}

// Executor wires the Registry, Store, and sibling repositories together.
// It also tracks the context.CancelFunc of every run currently in flight on
// this process, keyed by taskID, so a cancel request can reach the
// goroutine actually driving the graph rather than only flipping the store
// row (spec.md §4.5, §5: "a cancel request sets the task to cancelled and
// signals the worker").
type Executor struct {
	Registry      *registry.Registry
	Store         task.Store
	Results       task.ResultRepository
	QualityChecks task.QualityCheckRepository

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds an Executor.
func New(reg *registry.Registry, store task.Store, results task.ResultRepository, qualityChecks task.QualityCheckRepository) *Executor {
	return &Executor{
		Registry:      reg,
		Store:         store,
		Results:       results,
		QualityChecks: qualityChecks,
		cancels:       make(map[string]context.CancelFunc),
	}
}

// Cancel signals the in-flight run for taskID, if one is currently driving
// on this process, to stop at its next suspension point (spec.md §4.5,
// Testable Property #9). Returns false when no run for taskID is tracked
// here — e.g. it hasn't been claimed yet, or it is running in a different
// worker process, whose run is not interrupted by this call.
func (e *Executor) Cancel(taskID string) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[taskID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

func (e *Executor) trackCancel(taskID string, cancel context.CancelFunc) {
	e.mu.Lock()
	e.cancels[taskID] = cancel
	e.mu.Unlock()
}

func (e *Executor) forgetCancel(taskID string) {
	e.mu.Lock()
	delete(e.cancels, taskID)
	e.mu.Unlock()
}

// Run executes Request end to end: create, build initial state, drive the
// graph, persist outputs, finalize. It never returns an error; any failure
// is reported inline on the returned ExecutionResult.
func (e *Executor) Run(ctx context.Context, req Request) *ExecutionResult {
	started := time.Now()

	factory, err := e.Registry.Get(req.WorkflowType)
	if err != nil {
		return &ExecutionResult{Status: task.StatusFailed, Error: err.Error(), Duration: time.Since(started)}
	}

	if err := factory.ValidateParams(req.Params); err != nil {
		return &ExecutionResult{Status: task.StatusFailed, Error: err.Error(), Duration: time.Since(started)}
	}

	t, err := e.Store.Create(ctx, task.CreateInput{
		TaskID:          req.TaskID,
		WorkflowType:    req.WorkflowType,
		Mode:            task.ModeSync,
		Priority:        req.Priority,
		IdempotencyKey:  req.IdempotencyKey,
		CallbackURL:     req.CallbackURL,
		CallbackEnabled: req.CallbackEnabled,
		CallbackEvents:  req.CallbackEvents,
		TypedInputs:     req.Params,
	})
	if err != nil {
		return &ExecutionResult{Status: task.StatusFailed, Error: err.Error(), Duration: time.Since(started)}
	}

	// A replayed idempotency key returns a task that already left pending;
	// its result is whatever it already produced, not a fresh run.
	if t.Status != task.StatusPending {
		return e.replayResult(ctx, t, started)
	}

	initialState, err := factory.CreateState(req.Params)
	if err != nil {
		e.failTask(ctx, t.TaskID, t.Version, err.Error())
		return &ExecutionResult{TaskID: t.TaskID, Status: task.StatusFailed, Error: err.Error(), Duration: time.Since(started)}
	}

	running, err := e.Store.UpdateStatus(ctx, t.TaskID, task.StatusRunning, t.Version)
	if err != nil {
		return &ExecutionResult{TaskID: t.TaskID, Status: task.StatusFailed, Error: err.Error(), Duration: time.Since(started)}
	}

	budget := req.WallClockBudget
	if budget <= 0 {
		budget = DefaultWallClockBudget
	}

	return e.driveToCompletion(ctx, running, factory, initialState, "", budget, started)
}

// ResumeExisting drives an already-claimed task (status running, lease held
// by the caller) from its checkpoint to completion. Used by the Worker pool
// after ClaimTask (spec.md §4.8 step 4, "Run the graph (same as Sync
// Executor from step 4)").
func (e *Executor) ResumeExisting(ctx context.Context, t *task.Task, budget time.Duration) *ExecutionResult {
	started := time.Now()

	factory, err := e.Registry.Get(t.WorkflowType)
	if err != nil {
		e.finalizeTerminal(ctx, t.TaskID, task.StatusFailed, err.Error())
		return &ExecutionResult{TaskID: t.TaskID, Status: task.StatusFailed, Error: err.Error(), Duration: time.Since(started)}
	}

	var resumeFrom string
	initialState, err := factory.CreateState(t.TypedInputs)
	if err != nil {
		e.finalizeTerminal(ctx, t.TaskID, task.StatusFailed, err.Error())
		return &ExecutionResult{TaskID: t.TaskID, Status: task.StatusFailed, Error: err.Error(), Duration: time.Since(started)}
	}
	if len(t.StateSnapshot) > 0 {
		initialState = t.StateSnapshot
		resumeFrom = t.CurrentStep
	}

	if budget <= 0 {
		budget = DefaultWallClockBudget
	}

	return e.driveToCompletion(ctx, t, factory, initialState, resumeFrom, budget, started)
}

func (e *Executor) driveToCompletion(ctx context.Context, t *task.Task, factory registry.Factory, initialState json.RawMessage, resumeFrom string, budget time.Duration, started time.Time) *ExecutionResult {
	runCtx, cancel := context.WithTimeout(ctx, budget)
	e.trackCancel(t.TaskID, cancel)
	defer e.forgetCancel(t.TaskID)
	defer cancel()

	graph, err := factory.CreateGraph()
	if err != nil {
		e.failTask(ctx, t.TaskID, t.Version, err.Error())
		return &ExecutionResult{TaskID: t.TaskID, Status: task.StatusFailed, Error: err.Error(), Duration: time.Since(started)}
	}

	finalState, runErr := graph.Run(runCtx, t.TaskID, initialState, resumeFrom)

	if runErr != nil {
		e.persistOutputs(ctx, t.TaskID, finalState)
		kind := errkind.KindOf(runErr)
		status := task.StatusFailed
		if kind == errkind.Cancelled {
			status = task.StatusCancelled
		}
		e.finalizeTerminal(ctx, t.TaskID, status, runErr.Error())
		return &ExecutionResult{
			TaskID: t.TaskID, Status: status, FinalState: finalState,
			Error: runErr.Error(), Duration: time.Since(started),
		}
	}

	e.persistOutputs(ctx, t.TaskID, finalState)
	e.finalizeTerminal(ctx, t.TaskID, task.StatusCompleted, "")

	return &ExecutionResult{
		TaskID: t.TaskID, Status: task.StatusCompleted, FinalState: finalState,
		Duration: time.Since(started),
	}
}

// replayResult builds an ExecutionResult for a task that already existed
// under the supplied idempotency key.
func (e *Executor) replayResult(ctx context.Context, t *task.Task, started time.Time) *ExecutionResult {
	return &ExecutionResult{
		TaskID:     t.TaskID,
		Status:     t.Status,
		FinalState: t.StateSnapshot,
		Duration:   time.Since(started),
		Metadata:   map[string]any{"replay": true},
	}
}

// persistOutputs appends any results and quality reports the final state
// carries. Failures here are ignored and not reported anywhere; they are
// not fatal to the task outcome — the checkpoint already has the canonical
// state.
func (e *Executor) persistOutputs(ctx context.Context, taskID string, finalState json.RawMessage) {
	if len(finalState) == 0 {
		return
	}
	var envelope resultsEnvelope
	if err := json.Unmarshal(finalState, &envelope); err != nil {
		return
	}
	for _, r := range envelope.Results {
		r.TaskID = taskID
		_, _ = e.Results.Create(ctx, &r)
	}
	for _, q := range envelope.QualityReports {
		q.TaskID = taskID
		_, _ = e.QualityChecks.Create(ctx, &q)
	}
}

// finalizeTerminal marks the task terminal with a one-step retry on
// VersionConflict (spec.md §4.7 step 6): re-read the current version and
// retry the transition once. If the task is already terminal — e.g. a
// concurrent cancel request beat this run to the punch — the existing
// terminal status wins and this call is a no-op, so a worker finishing
// after its task was cancelled can never clobber `cancelled` back to
// `completed` or `failed`.
func (e *Executor) finalizeTerminal(ctx context.Context, taskID string, status task.Status, message string) {
	t, err := e.Store.FindByID(ctx, taskID)
	if err != nil {
		return
	}
	if t.Status.Terminal() {
		return
	}

	transition := func(version int) error {
		var err error
		switch status {
		case task.StatusCompleted:
			_, err = e.Store.MarkAsCompleted(ctx, taskID, version)
		case task.StatusFailed:
			_, err = e.Store.MarkAsFailed(ctx, taskID, message, version)
		case task.StatusCancelled:
			_, err = e.Store.UpdateStatus(ctx, taskID, task.StatusCancelled, version)
		}
		return err
	}

	if err := transition(t.Version); err != nil && errkind.KindOf(err) == errkind.VersionConflict {
		if t2, rerr := e.Store.FindByID(ctx, taskID); rerr == nil && !t2.Status.Terminal() {
			_ = transition(t2.Version)
		}
	}
}

func (e *Executor) failTask(ctx context.Context, taskID string, version int, message string) {
	_, _ = e.Store.MarkAsFailed(ctx, taskID, message, version)
}
