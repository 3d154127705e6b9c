package engine

import "github.com/oychao1988/content-pipeline/internal/errkind"

// Sentinel-style constructors for engine-level failures, mirroring the
// teacher's package-level sentinel errors (graph/errors.go) but built as
// *errkind.DomainError so callers can branch on Kind uniformly.

// errMaxStepsExceeded reports that a run exceeded its configured step
// budget without reaching a terminal node.
func errMaxStepsExceeded(steps int) *errkind.DomainError {
	return errkind.New(errkind.Internal, "exceeded maximum step count").
		WithDetails(map[string]any{"maxSteps": steps})
}

// errUnknownNode reports a routing decision (edge or Next.To) naming a node
// that was never registered with the engine.
func errUnknownNode(nodeID string) *errkind.DomainError {
	return errkind.New(errkind.Internal, "route to unregistered node").
		WithNode(nodeID)
}

// errNoStartNode reports that Run was called before StartAt.
func errNoStartNode() *errkind.DomainError {
	return errkind.New(errkind.Internal, "no start node configured")
}

// errIncompatibleCheckpoint reports that a resumed task's checkpoint names
// a node no longer present in the graph (spec.md §4.5 resume edge case).
func errIncompatibleCheckpoint(nodeID string) *errkind.DomainError {
	return errkind.New(errkind.IncompatibleCheckpoint, "checkpoint node not found in graph").
		WithNode(nodeID)
}
