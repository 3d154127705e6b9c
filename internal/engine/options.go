package engine

import "time"

// Options bundles the Engine's tunable limits. Grounded on graph/options.go's
// Options/engineConfig pair, trimmed to the knobs spec.md §4.5 and §5 name:
// a step budget, a default node timeout, and a whole-run wall-clock budget.
// The teacher's concurrency/backpressure/replay knobs (MaxConcurrentNodes,
// QueueDepth, BackpressureTimeout, ReplayMode, StrictReplay, ConflictPolicy)
// have no analogue here: this engine walks one task's graph on one
// goroutine, so there is no frontier to bound or replay to validate.
type Options struct {
	MaxSteps           int
	DefaultNodeTimeout time.Duration
	RunWallClockBudget time.Duration
	Metrics            *Metrics
}

// Option configures an Engine at construction time. Grounded on
// graph/options.go's functional-options pattern.
type Option func(*Options) error

// WithMaxSteps bounds the number of node executions in a single Run call,
// guarding against a misconfigured graph looping forever.
func WithMaxSteps(n int) Option {
	return func(o *Options) error {
		o.MaxSteps = n
		return nil
	}
}

// WithDefaultNodeTimeout sets the timeout applied to nodes that don't
// declare their own (NodePolicy.Timeout == 0).
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(o *Options) error {
		o.DefaultNodeTimeout = d
		return nil
	}
}

// WithRunWallClockBudget bounds the total wall-clock time a single Run call
// may spend across all nodes, surfacing errkind.TaskTimeout once exceeded.
func WithRunWallClockBudget(d time.Duration) Option {
	return func(o *Options) error {
		o.RunWallClockBudget = d
		return nil
	}
}

// WithMetrics attaches a Metrics collector. Nil (the default) disables
// metrics collection entirely.
func WithMetrics(m *Metrics) Option {
	return func(o *Options) error {
		o.Metrics = m
		return nil
	}
}

func defaultOptions() Options {
	return Options{
		MaxSteps:           100,
		DefaultNodeTimeout: 60 * time.Second,
		RunWallClockBudget: 0,
	}
}
