// Package tracing adapts engine.Emitter onto OpenTelemetry spans, grounded
// on the teacher's emit.OTelEmitter (graph/emit/otel.go): one span per node
// execution, with the node's error (if any) recorded on the span and its
// status set accordingly. The teacher's emitter is built around a single
// instantaneous Emit(Event); ours spans the gap between NodeStarted and
// NodeFinished instead, since those are the two calls engine.Emitter
// actually exposes.
package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Emitter implements engine.Emitter by opening one span per (taskID,
// nodeID, step) at NodeStarted and closing it at the matching NodeFinished.
type Emitter struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[spanKey]trace.Span
}

type spanKey struct {
	taskID string
	nodeID string
	step   int
}

// New builds an Emitter using tracer (typically
// otel.Tracer("content-pipeline")).
func New(tracer trace.Tracer) *Emitter {
	return &Emitter{tracer: tracer, spans: make(map[spanKey]trace.Span)}
}

// NodeStarted implements engine.Emitter.
func (e *Emitter) NodeStarted(taskID, nodeID string, step int) {
	_, span := e.tracer.Start(context.Background(), nodeID,
		trace.WithAttributes(
			attribute.String("contentpipeline.task_id", taskID),
			attribute.String("contentpipeline.node_id", nodeID),
			attribute.Int("contentpipeline.step", step),
		),
	)

	e.mu.Lock()
	e.spans[spanKey{taskID, nodeID, step}] = span
	e.mu.Unlock()
}

// NodeFinished implements engine.Emitter.
func (e *Emitter) NodeFinished(taskID, nodeID string, step int, err error) {
	key := spanKey{taskID, nodeID, step}

	e.mu.Lock()
	span, ok := e.spans[key]
	delete(e.spans, key)
	e.mu.Unlock()
	if !ok {
		return
	}
	defer span.End()

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return
	}
	span.SetStatus(codes.Ok, "")
}

// RunFinished implements engine.Emitter. Spans are already closed and
// removed from the map as their matching NodeFinished arrives, so there is
// nothing left to release here.
func (e *Emitter) RunFinished(taskID string) {}
