package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/oychao1988/content-pipeline/internal/errkind"
)

// Checkpointer persists a workflow's accumulated state after each node
// completes, so a crashed or killed worker can resume a task from its last
// successful step instead of restarting from scratch. Implemented by
// internal/checkpoint.Adapter; declared here (rather than imported) to keep
// this package free of a dependency on the task store.
type Checkpointer[S any] interface {
	Save(ctx context.Context, taskID string, state S) error
}

// Emitter receives lifecycle notifications as a run progresses. Grounded on
// graph/emit.Emitter, narrowed to the three events the rest of this system
// acts on: a node starting, a node finishing, and the whole run ending —
// the last one exists purely so emitters that keep per-task bookkeeping
// (internal/statussync) have a point to release it.
type Emitter interface {
	NodeStarted(taskID, nodeID string, step int)
	NodeFinished(taskID, nodeID string, step int, err error)
	RunFinished(taskID string)
}

// MultiEmitter fans one run's events out to every emitter in the slice, in
// order. Grounded on the teacher's own need to attach several emitters at
// once (its emit package ships Buffered, Log, and OTel emitters side by
// side) — this repo wires a metrics emitter and a tracing emitter onto the
// same engine simultaneously.
type MultiEmitter []Emitter

// NodeStarted implements Emitter.
func (m MultiEmitter) NodeStarted(taskID, nodeID string, step int) {
	for _, e := range m {
		e.NodeStarted(taskID, nodeID, step)
	}
}

// NodeFinished implements Emitter.
func (m MultiEmitter) NodeFinished(taskID, nodeID string, step int, err error) {
	for _, e := range m {
		e.NodeFinished(taskID, nodeID, step, err)
	}
}

// RunFinished implements Emitter.
func (m MultiEmitter) RunFinished(taskID string) {
	for _, e := range m {
		e.RunFinished(taskID)
	}
}

// NopEmitter discards every event. The zero value is ready to use.
type NopEmitter struct{}

// NodeStarted implements Emitter.
func (NopEmitter) NodeStarted(string, string, int) {}

// NodeFinished implements Emitter.
func (NopEmitter) NodeFinished(string, string, int, error) {}

// RunFinished implements Emitter.
func (NopEmitter) RunFinished(string) {}

// Engine drives a workflow's node graph against a versioned state object.
// Grounded on graph/engine.go's Engine[S], reduced to its sequential
// execution path (graph/engine.go lines ~580-768): this system never needs
// the teacher's concurrent frontier/backpressure/replay scheduler because a
// task's graph walk is single-threaded by construction (one task, one
// worker, spec.md §4.8). The one place the spec calls for bounded fan-out —
// evaluating several generated images in parallel (§4.6) — is implemented
// locally inside the content-creator workflow with a plain semaphore,
// rather than as general engine machinery.
type Engine[S Stateful] struct {
	mu      sync.RWMutex
	reducer Reducer[S]
	nodes   map[string]Node[S]
	edges   []Edge[S]
	start   string

	checkpointer Checkpointer[S]
	emitter      Emitter
	opts         Options
}

// New constructs an Engine. checkpointer and emitter may be nil, in which
// case checkpointing is skipped and events are discarded.
func New[S Stateful](reducer Reducer[S], checkpointer Checkpointer[S], emitter Emitter, options ...Option) (*Engine[S], error) {
	opts := defaultOptions()
	for _, opt := range options {
		if err := opt(&opts); err != nil {
			return nil, err
		}
	}
	if emitter == nil {
		emitter = NopEmitter{}
	}
	return &Engine[S]{
		reducer:      reducer,
		nodes:        make(map[string]Node[S]),
		checkpointer: checkpointer,
		emitter:      emitter,
		opts:         opts,
	}, nil
}

// Add registers a node with the engine.
func (e *Engine[S]) Add(n Node[S]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nodes[n.Name()] = n
}

// StartAt sets the entry node for Run.
func (e *Engine[S]) StartAt(nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.start = nodeID
}

// Connect registers a conditional edge. Edges are evaluated in registration
// order and the first whose predicate returns true (or is nil) wins,
// mirroring graph/engine.go's evaluateEdges.
func (e *Engine[S]) Connect(from, to string, when Predicate[S]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: when})
}

// Run walks the graph from either the engine's start node (fresh task) or
// the node named by resumeFrom (crash recovery), until a node routes
// Terminal, an error is returned, or a budget is exceeded. It returns the
// final accumulated state.
func (e *Engine[S]) Run(ctx context.Context, taskID string, initial S, resumeFrom string) (S, error) {
	defer e.emitter.RunFinished(taskID)

	e.mu.RLock()
	nodes := e.nodes
	edges := e.edges
	start := e.start
	opts := e.opts
	e.mu.RUnlock()

	current := resumeFrom
	if current == "" {
		current = start
	}
	if current == "" {
		return initial, errNoStartNode()
	}
	if _, ok := nodes[current]; !ok {
		if resumeFrom != "" {
			return initial, errIncompatibleCheckpoint(current)
		}
		return initial, errUnknownNode(current)
	}

	state := initial
	runDeadline := time.Time{}
	if opts.RunWallClockBudget > 0 {
		runDeadline = time.Now().Add(opts.RunWallClockBudget)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano())) // #nosec G404 -- backoff jitter only

	for step := 0; ; step++ {
		if step >= opts.MaxSteps {
			return state, errMaxStepsExceeded(opts.MaxSteps)
		}
		if err := ctx.Err(); err != nil {
			return state, errkind.Wrap(errkind.Cancelled, "run cancelled", err)
		}
		if !runDeadline.IsZero() && time.Now().After(runDeadline) {
			return state, errkind.New(errkind.TaskTimeout, "run exceeded wall-clock budget")
		}

		node, ok := nodes[current]
		if !ok {
			return state, errUnknownNode(current)
		}

		base := state.Base()
		base.CurrentStep = current
		state.SetBase(base)

		e.emitter.NodeStarted(taskID, current, step)
		stepStart := time.Now()

		patch, routeErr := e.runNodeWithRetry(ctx, node, state, opts, rng)
		if routeErr != nil {
			opts.Metrics.ObserveStep(base.WorkflowType, current, "error", time.Since(stepStart))
			if de, ok := routeErr.(*errkind.DomainError); ok {
				opts.Metrics.ObserveFailure(base.WorkflowType, current, string(de.Kind))
			}
			e.emitter.NodeFinished(taskID, current, step, routeErr)
			return state, routeErr
		}
		opts.Metrics.ObserveStep(base.WorkflowType, current, "success", time.Since(stepStart))

		state = e.reducer(state, patch)

		if e.checkpointer != nil {
			if err := e.checkpointer.Save(ctx, taskID, state); err != nil {
				// Checkpoint failures do not abort the run: the in-memory
				// state is still authoritative for this attempt (spec.md
				// §4.5, "non-fatal"). The error is reported only to the
				// emitter, as an extra NodeFinished ahead of the regular one.
				e.emitter.NodeFinished(taskID, current, step, err)
			}
		}

		e.emitter.NodeFinished(taskID, current, step, nil)

		next, err := e.route(current, state, edges)
		if err != nil {
			return state, err
		}
		if next.Terminal {
			return state, nil
		}
		current = next.To
	}
}

// runNodeWithRetry validates and executes a node, retrying transient
// failures up to the node's declared RetryCount with exponential backoff
// (spec.md §4.4 item 2).
func (e *Engine[S]) runNodeWithRetry(ctx context.Context, node Node[S], state S, opts Options, rng *rand.Rand) (S, error) {
	var zero S
	if err := node.ValidateState(ctx, state); err != nil {
		return zero, classify(err).WithNode(node.Name())
	}

	policy := node.Policy()
	timeout := policy.resolvedTimeout(opts.DefaultNodeTimeout)

	var lastErr *errkind.DomainError
	for attempt := 0; ; attempt++ {
		nodeCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			nodeCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		patch, err := node.ExecuteLogic(nodeCtx, state)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return patch, nil
		}

		de := classify(err).WithNode(node.Name())
		if nodeCtx.Err() == context.DeadlineExceeded {
			de = errkind.Wrap(errkind.NodeTimeout, "node exceeded timeout", err).WithNode(node.Name())
		} else if ctx.Err() != nil {
			// The node returned some error of its own, but the run's context
			// is what's actually cancelled — cooperative cancellation is
			// what happened here regardless of how the node reported it
			// (spec.md §4.5, "observed at every node boundary").
			de = errkind.Wrap(errkind.Cancelled, "run cancelled", ctx.Err()).WithNode(node.Name())
		}
		lastErr = de

		if attempt >= policy.RetryCount || !errkind.IsRetryable(de.Kind) {
			return zero, lastErr
		}
		opts.Metrics.ObserveRetry(state.Base().WorkflowType, node.Name())

		delay := computeBackoff(attempt, policy.baseDelay(), policy.maxDelay(), rng)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, errkind.Wrap(errkind.Cancelled, "run cancelled during retry backoff", ctx.Err())
		}
	}
}

// route picks the next node after current finishes by first-match-wins
// evaluation of the edges leaving current (graph/engine.go's
// evaluateEdges); when no edge matches, the run is terminal.
func (e *Engine[S]) route(current string, state S, edges []Edge[S]) (Next, error) {
	for _, edge := range edges {
		if edge.From != current {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return Next{To: edge.To}, nil
		}
	}
	return Next{Terminal: true}, nil
}
