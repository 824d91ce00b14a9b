// Package session loads a YAML session file describing which engine to
// run against, its sizing knobs, logging, and the datasets a run should
// bind. One session file makes an assessment reproducible: the same file
// against the same data yields the same bytes regardless of engine.
package session

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"openoa/internal/loader"
	"openoa/pkg/backend"
)

// Dataset names one CSV input and the columns a method role expects of it.
type Dataset struct {
	Role    string   `yaml:"role"`
	Path    string   `yaml:"path"`
	Columns []Column `yaml:"columns"`
}

// Column is one declared CSV column.
type Column struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

// Config is the full session file.
type Config struct {
	Engine struct {
		// Kind selects the engine: "local", "pool", or "cluster".
		Kind                     string `yaml:"kind"`
		Workers                  int    `yaml:"workers"`
		Partitions               int    `yaml:"partitions"`
		Executors                int    `yaml:"executors"`
		QueueDepth               int    `yaml:"queue_depth"`
		MaxConcurrentMaterialize int    `yaml:"max_concurrent_materialize"`
		Ordered                  bool   `yaml:"ordered"`
	} `yaml:"engine"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Store struct {
		// Path is the SQLite file for run history; empty keeps runs
		// in memory only.
		Path string `yaml:"path"`
	} `yaml:"store"`

	Datasets []Dataset `yaml:"datasets"`
}

// Load reads and validates a session file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("session: parse %s: %w", path, err)
	}
	if cfg.Engine.Kind == "" {
		cfg.Engine.Kind = "local"
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("session: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Engine.Kind {
	case "local", "pool", "cluster":
	default:
		return fmt.Errorf("unknown engine kind %q", c.Engine.Kind)
	}
	seen := map[string]bool{}
	for i, d := range c.Datasets {
		if d.Role == "" || d.Path == "" {
			return fmt.Errorf("dataset %d: role and path are required", i)
		}
		if seen[d.Role] {
			return fmt.Errorf("dataset role %q declared twice", d.Role)
		}
		seen[d.Role] = true
		for _, col := range d.Columns {
			if _, err := backend.ParseKind(col.Kind); err != nil {
				return fmt.Errorf("dataset %q column %q: %w", d.Role, col.Name, err)
			}
		}
	}
	return nil
}

// BuildEngine constructs the configured engine. The caller owns Close.
func (c *Config) BuildEngine() (backend.Engine, error) {
	switch c.Engine.Kind {
	case "local":
		return backend.NewLocal(backend.LocalConfig{
			MaxConcurrentMaterialize: c.Engine.MaxConcurrentMaterialize,
		}), nil
	case "pool":
		return backend.NewPool(backend.PoolConfig{
			Workers:                  c.Engine.Workers,
			Partitions:               c.Engine.Partitions,
			MaxConcurrentMaterialize: c.Engine.MaxConcurrentMaterialize,
		}), nil
	case "cluster":
		return backend.NewCluster(backend.ClusterConfig{
			Executors:                c.Engine.Executors,
			Partitions:               c.Engine.Partitions,
			QueueDepth:               c.Engine.QueueDepth,
			MaxConcurrentMaterialize: c.Engine.MaxConcurrentMaterialize,
			RequestOrdered:           c.Engine.Ordered,
		}), nil
	}
	return nil, fmt.Errorf("unknown engine kind %q", c.Engine.Kind)
}

// LoadDatasets reads every declared dataset into a handle on eng, keyed
// by role.
func (c *Config) LoadDatasets(eng backend.Engine) (map[string]*backend.Handle, error) {
	handles := make(map[string]*backend.Handle, len(c.Datasets))
	for _, d := range c.Datasets {
		schema := make(backend.Schema, len(d.Columns))
		for i, col := range d.Columns {
			kind, err := backend.ParseKind(col.Kind)
			if err != nil {
				return nil, err
			}
			schema[i] = backend.Column{Name: col.Name, Kind: kind}
		}
		frame, err := loader.LoadFile(d.Path, loader.Contract{Columns: schema})
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", d.Role, err)
		}
		h, err := backend.NewHandle(eng, frame)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", d.Role, err)
		}
		handles[d.Role] = h
	}
	return handles, nil
}
