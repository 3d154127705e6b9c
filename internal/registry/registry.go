// Package registry implements the Workflow Registry (spec.md §4.3): a
// process-wide mapping from workflowType to the ingredients the Graph
// Engine consumes. Grounded on the teacher's generic Engine[S]/Node[S]
// design (graph/engine.go), bridged through a small type-erased interface
// so tasks of differing workflowType — each instantiating Engine[S] at a
// different concrete S — can coexist in one process-wide map, per spec.md
// §9's "tagged record" state model.
package registry

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/oychao1988/content-pipeline/internal/errkind"
)

// Graph is the type-erased view of a compiled engine.Engine[S] that the
// registry and its callers (Sync Executor, Worker) operate against,
// without themselves being generic over S.
type Graph interface {
	// Run drives the graph from initialStateJSON (or resumes from
	// resumeFromNode if non-empty) to completion, returning the final
	// state re-marshalled to JSON.
	Run(ctx context.Context, taskID string, initialStateJSON json.RawMessage, resumeFromNode string) (json.RawMessage, error)
}

// Metadata describes a registered workflow for discovery endpoints
// (GET /api/workflows, spec.md §6).
type Metadata struct {
	Type             string   `json:"type"`
	Version          string   `json:"version"`
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	Category         string   `json:"category"`
	Tags             []string `json:"tags,omitempty"`
	Inputs           []string `json:"inputs,omitempty"`
	OptionalInputs   []string `json:"optionalInputs,omitempty"`
	Steps            []string `json:"steps,omitempty"`
	RetryClassFields []string `json:"retryClassFields,omitempty"`
}

// Factory produces a workflow's graph and initial state, and validates
// incoming request params (spec.md §4.3).
type Factory interface {
	Metadata() Metadata
	CreateGraph() (Graph, error)
	CreateState(params json.RawMessage) (json.RawMessage, error)
	ValidateParams(params json.RawMessage) error
}

// Registry is a process-wide workflowType -> Factory map. The zero value
// is ready to use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds f under its declared Type. Registration happens at process
// start (spec.md §4.3); a later call with the same type replaces the
// earlier one.
func (r *Registry) Register(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.factories == nil {
		r.factories = make(map[string]Factory)
	}
	r.factories[f.Metadata().Type] = f
}

// Get looks up a factory by workflowType, failing with UnknownWorkflow for
// unregistered types.
func (r *Registry) Get(workflowType string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[workflowType]
	if !ok {
		return nil, errkind.New(errkind.UnknownWorkflow, "workflow type not registered").
			WithDetails(map[string]any{"workflowType": workflowType})
	}
	return f, nil
}

// List returns metadata for every registered workflow, optionally narrowed
// by category and/or tag (spec.md §6, GET /api/workflows).
func (r *Registry) List(category string, tag string) []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Metadata, 0, len(r.factories))
	for _, f := range r.factories {
		m := f.Metadata()
		if category != "" && m.Category != category {
			continue
		}
		if tag != "" && !containsTag(m.Tags, tag) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
