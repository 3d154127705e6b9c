// Package queue implements the async path's Queue, Dispatcher, Worker pool,
// and lease-recovery supervisor (spec.md §4.8). Grounded on the teacher's
// sequential per-task engine combined with the pack's Redis-backed
// choreography pattern (coordinator.go's raw *redis.Client used for BLPOP),
// adapted from pub/sub signaling into a work queue of task identifiers.
package queue

import (
	"context"
	"encoding/json"
)

// Envelope is the small payload the queue stores alongside a task
// identifier: just enough to let a worker re-read canonical state from the
// store without carrying the full task (spec.md §4.8, "The queue stores
// only the task identifier... the canonical state lives in the store").
type Envelope struct {
	TaskID       string          `json:"taskId"`
	WorkflowType string          `json:"workflowType"`
	Params       json.RawMessage `json:"params,omitempty"`
}

// Stats reports queue depth for observability endpoints.
type Stats struct {
	Depth int `json:"depth"`
}

// Queue is the async task queue contract. Both backends (memory, Redis)
// implement it identically; absence of Redis must degrade gracefully
// rather than crash (spec.md §5).
type Queue interface {
	Enqueue(ctx context.Context, env Envelope) error
	// Dequeue blocks up to the implementation's own internal timeout and
	// returns ok=false if nothing became available.
	Dequeue(ctx context.Context) (env Envelope, ok bool, err error)
	GetStats(ctx context.Context) (Stats, error)
	Close() error
}
