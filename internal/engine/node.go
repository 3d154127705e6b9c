package engine

import (
	"context"

	"github.com/oychao1988/content-pipeline/internal/errkind"
)

// Node is a unit of work in a workflow graph. Grounded on graph/node.go's
// Node[S] interface, split into the two-phase contract spec.md §4.4
// describes explicitly (validate, then execute) rather than the teacher's
// single Run method.
type Node[S any] interface {
	// Name returns the node's identifier, unique within its graph.
	Name() string

	// ValidateState returns a *errkind.DomainError (Kind=Validation) if the
	// preconditions for this node are not met. Validation errors are never
	// retried (spec.md §4.4).
	ValidateState(ctx context.Context, state S) error

	// ExecuteLogic performs the node's work and returns a partial state
	// patch to merge. It must not mutate state, and must be idempotent
	// under re-execution with the same inputs (spec.md §4.4).
	ExecuteLogic(ctx context.Context, state S) (patch S, err error)

	// Policy returns this node's timeout/retry configuration.
	Policy() NodePolicy
}

// NodeFunc adapts a plain function pair into a Node, mirroring the
// teacher's NodeFunc[S] adapter (graph/node.go) but split across the two
// phases.
type NodeFunc[S any] struct {
	NodeName string
	Validate func(ctx context.Context, state S) error
	Execute  func(ctx context.Context, state S) (S, error)
	Pol      NodePolicy
}

// Name implements Node.
func (f NodeFunc[S]) Name() string { return f.NodeName }

// ValidateState implements Node.
func (f NodeFunc[S]) ValidateState(ctx context.Context, state S) error {
	if f.Validate == nil {
		return nil
	}
	return f.Validate(ctx, state)
}

// ExecuteLogic implements Node.
func (f NodeFunc[S]) ExecuteLogic(ctx context.Context, state S) (S, error) {
	return f.Execute(ctx, state)
}

// Policy implements Node.
func (f NodeFunc[S]) Policy() NodePolicy { return f.Pol }

// Next specifies a routing decision. The graph engine determines the actual
// next node through registered edges (see edge.go); Next is the shape those
// edges produce, kept separate from graph/node.go's version only in that it
// drops the fan-out (Many) case — the spec's reference workflows are
// strictly linear with conditional back-edges (spec.md §4.5).
type Next struct {
	To       string
	Terminal bool
}

// classify ensures every error surfaced by a node carries a Kind, defaulting
// unclassified errors to Internal per spec.md §7's propagation policy.
func classify(err error) *errkind.DomainError {
	if err == nil {
		return nil
	}
	if de, ok := err.(*errkind.DomainError); ok {
		return de
	}
	return errkind.Wrap(errkind.Internal, err.Error(), err)
}
