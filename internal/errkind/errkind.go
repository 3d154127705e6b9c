// Package errkind defines the structured error taxonomy shared by every
// layer of the pipeline: the store, the node runtime, the graph engine, the
// quality gate, and the queue. It plays the role the teacher engine splits
// across NodeError and EngineError (graph/node.go, graph/timeout.go), unified
// into one kind enum so callers can branch on Kind without type assertions.
package errkind

import "fmt"

// Kind classifies a DomainError for routing and retry decisions.
type Kind string

const (
	// Validation marks a precondition failure (bad request, unmet node
	// precondition). Never retried.
	Validation Kind = "Validation"

	// VersionConflict marks an optimistic-concurrency mutation rejected
	// because the supplied version was stale.
	VersionConflict Kind = "VersionConflict"

	// NotFound marks a missing or soft-deleted entity.
	NotFound Kind = "NotFound"

	// NodeTimeout marks a per-node wall-clock timeout.
	NodeTimeout Kind = "NodeTimeout"

	// TaskTimeout marks a whole-workflow wall-clock timeout.
	TaskTimeout Kind = "TaskTimeout"

	// TransientExternal marks a retryable failure from an external
	// collaborator (5xx, network error, rate limit).
	TransientExternal Kind = "TransientExternal"

	// PermanentExternal marks a non-retryable failure from an external
	// collaborator (4xx).
	PermanentExternal Kind = "PermanentExternal"

	// QualityFailed marks a quality-gate rejection with retry budget
	// remaining. Not a task failure; the graph engine routes to the
	// regenerator node.
	QualityFailed Kind = "QualityFailed"

	// BudgetExhausted marks a quality-gate rejection with no retry budget
	// left. Not a task failure; the graph engine takes the
	// accept-and-proceed edge.
	BudgetExhausted Kind = "BudgetExhausted"

	// Internal marks a bug. Always fails the task.
	Internal Kind = "Internal"

	// Cancelled marks cooperative cancellation observed at a suspension
	// point.
	Cancelled Kind = "Cancelled"

	// IncompatibleCheckpoint marks a resume attempt whose checkpoint points
	// at a node no longer present in the graph.
	IncompatibleCheckpoint Kind = "IncompatibleCheckpoint"

	// UnknownWorkflow marks a registry lookup for an unregistered
	// workflowType.
	UnknownWorkflow Kind = "UnknownWorkflow"
)

// DomainError is the structured error type every core component returns.
// It carries a Kind for branching, a human Message, and a free-form Details
// map for diagnostics — the union of the teacher's NodeError (graph/node.go)
// and EngineError (graph/timeout.go).
type DomainError struct {
	Kind    Kind
	Message string
	NodeID  string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: node %s: %s", e.Kind, e.NodeID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, supporting errors.Is/errors.As chains.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// New builds a DomainError with no cause or details.
func New(kind Kind, message string) *DomainError {
	return &DomainError{Kind: kind, Message: message}
}

// Wrap builds a DomainError around an existing error.
func Wrap(kind Kind, message string, cause error) *DomainError {
	return &DomainError{Kind: kind, Message: message, Cause: cause}
}

// WithNode attaches the node identifier that produced the error.
func (e *DomainError) WithNode(nodeID string) *DomainError {
	e.NodeID = nodeID
	return e
}

// WithDetails attaches a diagnostics map.
func (e *DomainError) WithDetails(details map[string]any) *DomainError {
	e.Details = details
	return e
}

// KindOf extracts the Kind from err if it is (or wraps) a *DomainError,
// defaulting to Internal for unrecognized errors — mirroring the teacher's
// "bugs surface as Internal" policy (spec.md §7).
func KindOf(err error) Kind {
	var de *DomainError
	if as(err, &de) {
		return de.Kind
	}
	return Internal
}

// as is a tiny local errors.As to avoid importing errors just for this.
func as(err error, target **DomainError) bool {
	for err != nil {
		if de, ok := err.(*DomainError); ok {
			*target = de
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsRetryable reports whether an intra-node retry should be attempted for
// this error kind, per spec.md §4.4: validation errors are never retried.
func IsRetryable(kind Kind) bool {
	switch kind {
	case TransientExternal, NodeTimeout:
		return true
	default:
		return false
	}
}
