// Package method is the analysis-composition layer: immutable method
// definitions registered into a catalog, and per-run Execution Contexts
// that bind a definition to concrete data, an engine, and validated
// configuration, producing a Result with provenance.
package method

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"openoa/pkg/backend"
	"openoa/pkg/toolkit"
)

// Role declares one required input dataset: a name (e.g. "scada",
// "meter") and the schema contract a bound handle must satisfy. The
// contract lists required columns; extra columns on the handle are fine.
type Role struct {
	Name    string
	Doc     string
	Columns backend.Schema
}

// RunInput is what a method's run function receives: one bound handle per
// role, the resolved configuration, the method's requested toolkits, a
// scoped logger, and a trace for toolkit diagnostics.
type RunInput struct {
	Handles  map[string]*backend.Handle
	Config   map[string]any
	Toolkits map[string]*toolkit.Toolkit
	Log      *slog.Logger
	Trace    *toolkit.Trace
}

// Handle returns the handle bound to a role. Roles are validated before
// run functions execute, so the handle is always present.
func (in *RunInput) Handle(role string) *backend.Handle { return in.Handles[role] }

// Toolkit returns a requested toolkit by name (version resolved at
// validation time from the definition's requirement list).
func (in *RunInput) Toolkit(name string) *toolkit.Toolkit { return in.Toolkits[name] }

// Float reads a resolved configuration value as float64.
func (in *RunInput) Float(key string) float64 {
	switch v := in.Config[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

// Int reads a resolved configuration value as int64.
func (in *RunInput) Int(key string) int64 {
	if v, ok := in.Config[key].(int64); ok {
		return v
	}
	return 0
}

// String reads a resolved configuration value.
func (in *RunInput) String(key string) string {
	if v, ok := in.Config[key].(string); ok {
		return v
	}
	return ""
}

// RunFunc is a method's analysis logic. It must return the result handle
// (materialized by the Execution Context) or an error of a declared kind.
type RunFunc func(ctx context.Context, in *RunInput) (*backend.Handle, error)

// Definition is an immutable, registered analysis method: identity,
// required input roles, required toolkits ("name@version"), configuration
// schema, and the run function. Definitions carry no per-run state.
type Definition struct {
	Name     string
	Version  string
	Doc      string
	Roles    []Role
	Toolkits []string
	Config   ConfigSchema
	Run      RunFunc
}

// Key returns the registry identity "name@version".
func (d *Definition) Key() string { return d.Name + "@" + d.Version }

func (d *Definition) role(name string) *Role {
	for i := range d.Roles {
		if d.Roles[i].Name == name {
			return &d.Roles[i]
		}
	}
	return nil
}

// splitToolkitKey parses "name@version".
func splitToolkitKey(key string) (name, version string, err error) {
	i := strings.LastIndex(key, "@")
	if i <= 0 || i == len(key)-1 {
		return "", "", fmt.Errorf("method: toolkit requirement %q is not name@version", key)
	}
	return key[:i], key[i+1:], nil
}

// Registry is the method catalog: name+version → immutable definition.
type Registry struct {
	mu sync.RWMutex
	m  map[string]*Definition
}

// NewRegistry returns an empty catalog.
func NewRegistry() *Registry { return &Registry{m: make(map[string]*Definition)} }

// Register adds a definition. Registering an already-present name+version
// fails with ErrDuplicateName.
func (r *Registry) Register(def *Definition) error {
	if def.Name == "" || def.Version == "" {
		return fmt.Errorf("%w: definition needs name and version", ErrConfigValidation)
	}
	if def.Run == nil {
		return fmt.Errorf("%w: definition %s has no run function", ErrConfigValidation, def.Key())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[def.Key()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, def.Key())
	}
	r.m[def.Key()] = def
	return nil
}

// Lookup returns the definition for name+version, or ErrNotFound.
func (r *Registry) Lookup(name, version string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.m[name+"@"+version]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", ErrNotFound, name, version)
	}
	return def, nil
}

// List returns all definitions sorted by key.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.m))
	for k := range r.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Definition, len(keys))
	for i, k := range keys {
		out[i] = r.m[k]
	}
	return out
}
