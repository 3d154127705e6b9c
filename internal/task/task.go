// Package task is the Store (Task Repository): the durable home of every
// task's lifecycle, persisted state snapshot, and append-only results and
// quality reports. Grounded on the teacher's three-backend store split
// (graph/store/{memory,sqlite,mysql}.go), adapted from a generic workflow
// step log into the task-shaped schema spec.md §3-§4.1 describes, with
// optimistic-concurrency `version` fencing in place of the teacher's
// idempotency-key replay system.
package task

import (
	"encoding/json"
	"time"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusWaiting   Status = "waiting"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Mode selects synchronous (request blocks) or asynchronous (queued)
// execution.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// CallbackEvent names a webhook-notifiable lifecycle event.
type CallbackEvent string

const (
	EventCompleted CallbackEvent = "completed"
	EventFailed    CallbackEvent = "failed"
	EventProgress  CallbackEvent = "progress"
)

// Task is the root entity persisted by the Store (spec.md §3).
type Task struct {
	TaskID       string `json:"taskId"`
	WorkflowType string `json:"workflowType"`
	Mode         Mode   `json:"mode"`
	Status       Status `json:"status"`
	Priority     int    `json:"priority"`
	CurrentStep  string `json:"currentStep"`
	WorkerID     string `json:"workerId,omitempty"`
	Version      int    `json:"version"`

	RetryCounts map[string]int `json:"retryCounts"`

	// StateSnapshot is the opaque, last-saved workflow state (the
	// Checkpoint, spec.md §3: "not a separate table").
	StateSnapshot json.RawMessage `json:"stateSnapshot,omitempty"`

	ErrorMessage string `json:"errorMessage,omitempty"`

	IdempotencyKey string `json:"idempotencyKey,omitempty"`

	CallbackURL     string          `json:"callbackUrl,omitempty"`
	CallbackEnabled bool            `json:"callbackEnabled"`
	CallbackEvents  []CallbackEvent `json:"callbackEvents,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`

	// TypedInputs is the workflow-specific request payload, immutable
	// after create.
	TypedInputs json.RawMessage `json:"typedInputs,omitempty"`
}

// WantsEvent reports whether this task's callback configuration admits the
// given event (spec.md §4.9 step 1).
func (t *Task) WantsEvent(event CallbackEvent) bool {
	if !t.CallbackEnabled || t.CallbackURL == "" {
		return false
	}
	for _, e := range t.CallbackEvents {
		if e == event {
			return true
		}
	}
	return false
}

// Filter narrows a List query. Zero values are unconstrained.
type Filter struct {
	Status       Status
	WorkflowType string
}

// Pagination bounds a List query. Deterministic ordering is
// createdAt DESC, taskId as tie-break (spec.md §4.1).
type Pagination struct {
	Page  int
	Limit int
}

func (p Pagination) normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = 20
	}
	if p.Limit > 200 {
		p.Limit = 200
	}
	return p
}

func (p Pagination) offset() int {
	return (p.Page - 1) * p.Limit
}

// CreateInput is the request shape for Store.Create.
type CreateInput struct {
	TaskID          string
	WorkflowType    string
	Mode            Mode
	Priority        int
	IdempotencyKey  string
	CallbackURL     string
	CallbackEnabled bool
	CallbackEvents  []CallbackEvent
	TypedInputs     json.RawMessage
}
