// Package engine is the Graph Engine: it drives a workflow's node graph
// against a versioned state object, checkpointing after every node and
// supporting resume from a crashed task. It generalizes the teacher's
// graph.Engine[S] (graph/engine.go) to the spec's "tagged record" state
// model (spec.md §9): every workflow state embeds BaseState plus its own
// opaque, workflow-specific fields.
package engine

import "time"

// BaseState is the fixed, strongly-typed portion of every workflow state.
// The engine touches only these fields; everything else is opaque to it and
// owned by the workflow-specific state type that embeds BaseState. This is
// the spec's answer (§9, "Arbitrary JSON state object") to the teacher's
// fully-generic S: the shape still varies per workflow, but the fields the
// engine needs to drive execution never do.
type BaseState struct {
	TaskID       string         `json:"taskId"`
	WorkflowType string         `json:"workflowType"`
	Mode         string         `json:"mode"`
	CurrentStep  string         `json:"currentStep"`
	RetryCount   int            `json:"retryCount"`
	Version      int            `json:"version"`
	StartTime    time.Time      `json:"startTime"`
	EndTime      *time.Time     `json:"endTime,omitempty"`
	Error        string         `json:"error,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Stateful is implemented by every concrete workflow state type so the
// engine can read/write the base fields without knowing the rest of the
// struct's shape.
type Stateful interface {
	Base() BaseState
	SetBase(BaseState)
}

// Reducer merges a partial state update (delta) into accumulated state
// (prev). Grounded on graph/state.go's Reducer[S] — same contract, same
// determinism requirements (pure, deterministic, idempotent-friendly).
type Reducer[S any] func(prev S, delta S) S
