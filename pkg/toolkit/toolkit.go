// Package toolkit provides reusable, engine-agnostic transformation
// pipelines over backend Handles. A Toolkit is a named, versioned sequence
// of steps built only from the uniform operation set plus pure functions,
// so applying one never depends on which engine owns the data. Toolkits
// compose: a step may invoke another Toolkit's Apply.
package toolkit

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"openoa/pkg/backend"
)

var (
	// ErrDuplicate is returned when registering a toolkit whose
	// name+version is already present.
	ErrDuplicate = errors.New("toolkit: name and version already registered")

	// ErrNotFound is returned when looking up an unregistered toolkit.
	ErrNotFound = errors.New("toolkit: not registered")
)

// Params carries apply-time parameters. Typed accessors return an error
// for missing or mistyped values so toolkit misuse fails loudly.
type Params map[string]any

// Float reads a numeric parameter (int values widen).
func (p Params) Float(key string) (float64, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("toolkit: missing parameter %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("toolkit: parameter %q is %T, want number", key, v)
}

// String reads a string parameter.
func (p Params) String(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", fmt.Errorf("toolkit: missing parameter %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("toolkit: parameter %q is %T, want string", key, v)
	}
	return s, nil
}

// Frequency reads and parses a frequency parameter like "1h" or "1mo".
func (p Params) Frequency(key string) (backend.Frequency, error) {
	s, err := p.String(key)
	if err != nil {
		return backend.Frequency{}, err
	}
	f, err := backend.ParseFrequency(s)
	if err != nil {
		return backend.Frequency{}, fmt.Errorf("toolkit: parameter %q: %w", key, err)
	}
	return f, nil
}

// Aggregations reads an aggregation-list parameter.
func (p Params) Aggregations(key string) ([]backend.Aggregation, error) {
	v, ok := p[key]
	if !ok {
		return nil, fmt.Errorf("toolkit: missing parameter %q", key)
	}
	aggs, ok := v.([]backend.Aggregation)
	if !ok {
		return nil, fmt.Errorf("toolkit: parameter %q is %T, want []backend.Aggregation", key, v)
	}
	return aggs, nil
}

// StepFunc transforms a handle under the given parameters.
type StepFunc func(h *backend.Handle, p Params) (*backend.Handle, error)

// Step is one named stage of a toolkit pipeline.
type Step struct {
	Name string
	Fn   StepFunc
}

// Use wraps another toolkit's Apply as a step, forwarding parameters.
// This is how higher-level toolkits compose lower-level ones.
func Use(t *Toolkit) Step {
	return Step{
		Name: t.Key(),
		Fn:   func(h *backend.Handle, p Params) (*backend.Handle, error) { return t.Apply(h, p) },
	}
}

// Toolkit is a stateless, reusable pipeline identified by name+version.
// Requires declares the input schema contract: columns (name and kind)
// that must be present on the input handle. Validation happens before the
// first step runs.
type Toolkit struct {
	Name     string
	Version  string
	Doc      string
	Requires backend.Schema
	Steps    []Step
}

// Key returns the registry identity "name@version".
func (t *Toolkit) Key() string { return t.Name + "@" + t.Version }

// Apply runs the pipeline against a handle. The input contract is checked
// first (SchemaError on violation); steps then run in order, each
// receiving the previous step's output.
func (t *Toolkit) Apply(h *backend.Handle, p Params) (*backend.Handle, error) {
	return t.ApplyTraced(h, p, nil)
}

// ApplyTraced is Apply with per-step diagnostics recorded into tr.
func (t *Toolkit) ApplyTraced(h *backend.Handle, p Params, tr *Trace) (*backend.Handle, error) {
	if err := h.Schema().Contains(t.Requires); err != nil {
		return nil, fmt.Errorf("toolkit %s: %w", t.Key(), err)
	}
	cur := h
	for _, step := range t.Steps {
		next, err := step.Fn(cur, p)
		if err != nil {
			return nil, fmt.Errorf("toolkit %s step %s: %w", t.Key(), step.Name, err)
		}
		cur = next
		if tr != nil {
			tr.add(t.Key(), step.Name, cur)
		}
	}
	return cur, nil
}

// Trace collects per-step diagnostics for a Result: which steps ran and
// the schema/ordering each produced. Row counts are absent, since counting
// would force materialization mid-pipeline.
type Trace struct {
	mu      sync.Mutex
	Entries []TraceEntry
}

// TraceEntry is one applied step.
type TraceEntry struct {
	Toolkit string
	Step    string
	Schema  string
	Ordered bool
}

func (tr *Trace) add(toolkit, step string, h *backend.Handle) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.Entries = append(tr.Entries, TraceEntry{
		Toolkit: toolkit,
		Step:    step,
		Schema:  h.Schema().String(),
		Ordered: h.Ordered(),
	})
}

// Registry is a catalog of toolkits keyed by name+version.
type Registry struct {
	mu sync.RWMutex
	m  map[string]*Toolkit
}

// NewRegistry returns an empty catalog.
func NewRegistry() *Registry { return &Registry{m: make(map[string]*Toolkit)} }

// Register adds a toolkit; duplicate name+version is an error.
func (r *Registry) Register(t *Toolkit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[t.Key()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, t.Key())
	}
	r.m[t.Key()] = t
	return nil
}

// Lookup returns the toolkit for name+version.
func (r *Registry) Lookup(name, version string) (*Toolkit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.m[name+"@"+version]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", ErrNotFound, name, version)
	}
	return t, nil
}

// Keys lists registered identities, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for k := range r.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Builtins returns a registry pre-loaded with the standard toolkits.
func Builtins() *Registry {
	r := NewRegistry()
	for _, t := range []*Toolkit{
		RangeFlag(),
		WindowRangeFlag(),
		ResampleAgg(),
		GapFlag(),
		DirectionResample(),
		PlantEnergy(),
	} {
		if err := r.Register(t); err != nil {
			panic(err) // builtin keys are unique by construction
		}
	}
	return r
}
