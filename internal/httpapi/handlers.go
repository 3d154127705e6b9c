package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/oychao1988/content-pipeline/internal/errkind"
	"github.com/oychao1988/content-pipeline/internal/executor"
	"github.com/oychao1988/content-pipeline/internal/queue"
	"github.com/oychao1988/content-pipeline/internal/task"
)

// createTaskRequest is POST /api/tasks' body (spec.md §6).
type createTaskRequest struct {
	WorkflowType    string               `json:"workflowType"`
	Mode            task.Mode            `json:"mode"`
	Params          json.RawMessage      `json:"params"`
	Priority        int                  `json:"priority"`
	IdempotencyKey  string               `json:"idempotencyKey"`
	CallbackURL     string               `json:"callbackUrl"`
	CallbackEnabled bool                 `json:"callbackEnabled"`
	CallbackEvents  []task.CallbackEvent `json:"callbackEvents"`
	WallClockBudget string               `json:"wallClockBudget"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, errkind.Wrap(errkind.Validation, "read request body", err))
		return
	}
	var req createTaskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, errkind.Wrap(errkind.Validation, "invalid request body", err))
		return
	}
	if req.WorkflowType == "" {
		writeError(w, errkind.New(errkind.Validation, "workflowType is required"))
		return
	}
	if req.Mode == "" {
		req.Mode = task.ModeAsync
	}
	if req.CallbackURL != "" {
		req.CallbackEnabled = true
	}

	taskID := uuid.NewString()

	var budget time.Duration
	if req.WallClockBudget != "" {
		if d, err := time.ParseDuration(req.WallClockBudget); err == nil {
			budget = d
		}
	}

	if req.Mode == task.ModeSync {
		result := s.Executor.Run(r.Context(), executor.Request{
			TaskID:          taskID,
			WorkflowType:    req.WorkflowType,
			Params:          req.Params,
			Priority:        req.Priority,
			IdempotencyKey:  req.IdempotencyKey,
			CallbackURL:     req.CallbackURL,
			CallbackEnabled: req.CallbackEnabled,
			CallbackEvents:  req.CallbackEvents,
			WallClockBudget: budget,
		})
		writeData(w, http.StatusCreated, result)
		return
	}

	factory, err := s.Registry.Get(req.WorkflowType)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := factory.ValidateParams(req.Params); err != nil {
		writeError(w, err)
		return
	}

	t, err := s.Store.Create(r.Context(), task.CreateInput{
		TaskID:          taskID,
		WorkflowType:    req.WorkflowType,
		Mode:            task.ModeAsync,
		Priority:        req.Priority,
		IdempotencyKey:  req.IdempotencyKey,
		CallbackURL:     req.CallbackURL,
		CallbackEnabled: req.CallbackEnabled,
		CallbackEvents:  req.CallbackEvents,
		TypedInputs:     req.Params,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	// The Dispatcher's own poll loop will pick this row up (spec.md §4.8);
	// nudging the queue directly here just shortens the worst-case latency
	// between create and a worker claiming it.
	if s.Queue != nil {
		_ = s.Queue.Enqueue(r.Context(), queue.Envelope{
			TaskID: t.TaskID, WorkflowType: t.WorkflowType, Params: t.TypedInputs,
		})
	}

	writeData(w, http.StatusAccepted, map[string]any{"taskId": t.TaskID, "status": t.Status})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	filter := task.Filter{
		Status:       task.Status(q.Get("status")),
		WorkflowType: q.Get("workflowType"),
	}
	tasks, total, err := s.Store.List(r.Context(), filter, task.Pagination{Page: page, Limit: limit})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"tasks": tasks, "total": total, "page": page, "limit": limit})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.Store.FindByID(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, t)
}

// handleGetStatus computes progress% per spec.md §6: (index_of_current_step
// + 1) / total_steps * 100, using the registered workflow's declared Steps.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	t, err := s.Store.FindByID(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, err)
		return
	}

	progress := 0.0
	if factory, ferr := s.Registry.Get(t.WorkflowType); ferr == nil {
		steps := factory.Metadata().Steps
		for i, step := range steps {
			if step == t.CurrentStep {
				progress = float64(i+1) / float64(len(steps)) * 100
				break
			}
		}
		if t.Status == task.StatusCompleted {
			progress = 100
		}
	}

	writeData(w, http.StatusOK, map[string]any{
		"taskId":      t.TaskID,
		"status":      t.Status,
		"currentStep": t.CurrentStep,
		"progress":    progress,
	})
}

// taskResult is GET /api/tasks/:id/result's shape (spec.md §6), mirroring
// executor.ExecutionResult for a task whose execution already finished.
type taskResult struct {
	TaskID         string                `json:"taskId"`
	Status         task.Status           `json:"status"`
	Results        []*task.Result        `json:"results,omitempty"`
	QualityReports []*task.QualityReport `json:"qualityReports,omitempty"`
	Error          string                `json:"error,omitempty"`
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	t, err := s.Store.FindByID(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !t.Status.Terminal() {
		writeError(w, errkind.New(errkind.Validation, "task has not finished running").
			WithDetails(map[string]any{"status": t.Status}))
		return
	}

	results, err := s.Results.FindByTaskID(r.Context(), t.TaskID)
	if err != nil {
		writeError(w, err)
		return
	}
	reports, err := s.QualityChecks.FindByTaskID(r.Context(), t.TaskID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeData(w, http.StatusOK, taskResult{
		TaskID: t.TaskID, Status: t.Status, Results: results, QualityReports: reports, Error: t.ErrorMessage,
	})
}

// handleRetryTask re-runs a failed task's workflow with its original inputs
// under a freshly generated taskId, per spec.md §6 ("re-creates execution;
// only for failed").
func (s *Server) handleRetryTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.Store.FindByID(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if t.Status != task.StatusFailed {
		writeError(w, errkind.New(errkind.Validation, "only failed tasks can be retried").
			WithDetails(map[string]any{"status": t.Status}))
		return
	}

	result := s.Executor.Run(r.Context(), executor.Request{
		TaskID:          uuid.NewString(),
		WorkflowType:    t.WorkflowType,
		Params:          t.TypedInputs,
		Priority:        t.Priority,
		CallbackURL:     t.CallbackURL,
		CallbackEnabled: t.CallbackEnabled,
		CallbackEvents:  t.CallbackEvents,
	})
	writeData(w, http.StatusOK, result)
}

// handleCancelTask transitions a non-terminal task to cancelled and, if the
// worker driving it is running on this process, signals its context so the
// node in flight observes the cancellation at its next suspension point
// (spec.md §4.5, §5: "a cancel signal sets an abort flag observed at every
// node boundary"). A task already terminal cannot be cancelled (spec.md §6,
// "non-cancellable task is reported as error").
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	t, err := s.Store.FindByID(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	if t.Status.Terminal() {
		writeError(w, errkind.New(errkind.Validation, "task is already terminal").
			WithDetails(map[string]any{"status": t.Status}))
		return
	}

	updated, err := s.Store.UpdateStatus(r.Context(), taskID, task.StatusCancelled, t.Version)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.Executor != nil {
		s.Executor.Cancel(taskID)
	}
	writeData(w, http.StatusOK, map[string]any{"taskId": updated.TaskID, "status": updated.Status})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeData(w, http.StatusOK, s.Registry.List(q.Get("category"), q.Get("tags")))
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	factory, err := s.Registry.Get(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, factory.Metadata())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := http.StatusOK

	if _, _, err := s.Store.List(r.Context(), task.Filter{}, task.Pagination{Page: 1, Limit: 1}); err != nil {
		checks["database"] = "unavailable: " + err.Error()
		status = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if s.Queue != nil {
		if _, err := s.Queue.GetStats(r.Context()); err != nil {
			checks["queue"] = "unavailable: " + err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["queue"] = "ok"
		}
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeData(w, status, map[string]any{"status": overall, "checks": checks})
}

// handleStats reports task counts by status and, when a queue is
// configured, its depth (spec.md §6).
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts := map[task.Status]int{}
	for _, status := range []task.Status{
		task.StatusPending, task.StatusRunning, task.StatusWaiting,
		task.StatusCompleted, task.StatusFailed, task.StatusCancelled,
	} {
		_, total, err := s.Store.List(r.Context(), task.Filter{Status: status}, task.Pagination{Page: 1, Limit: 1})
		if err != nil {
			writeError(w, err)
			return
		}
		counts[status] = total
	}

	body := map[string]any{"tasksByStatus": counts}
	if s.Queue != nil {
		if stats, err := s.Queue.GetStats(r.Context()); err == nil {
			body["queueDepth"] = stats.Depth
		}
	}
	writeData(w, http.StatusOK, body)
}
