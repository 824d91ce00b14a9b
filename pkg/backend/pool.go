package backend

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"openoa/internal/logging"
)

// PoolConfig tunes the semi-distributed engine.
type PoolConfig struct {
	// Workers is the worker-pool size for partition execution.
	// Default runtime.NumCPU().
	Workers int
	// Partitions is how many row blocks each dataset is split into.
	// Default 2×Workers.
	Partitions int
	// MaxConcurrentMaterialize bounds simultaneous Materialize calls.
	// Default Workers.
	MaxConcurrentMaterialize int
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Workers < 1 {
		c.Workers = runtime.NumCPU()
	}
	if c.Partitions < 1 {
		c.Partitions = 2 * c.Workers
	}
	if c.MaxConcurrentMaterialize < 1 {
		c.MaxConcurrentMaterialize = c.Workers
	}
	return c
}

// PoolEngine executes lazily over in-process partitions: operations only
// extend the plan, and Materialize runs the plan across a worker pool.
// The ordering guarantee holds as long as every upstream operation
// preserved it: row-local operations merge partitions in index order, so
// in practice it degrades only through joins of unordered inputs.
type PoolEngine struct {
	name     string
	cfg      PoolConfig
	bdg      *budget
	isClosed atomic.Bool
}

var _ Engine = (*PoolEngine)(nil)

// NewPool creates a semi-distributed worker-pool engine.
func NewPool(cfg PoolConfig) *PoolEngine {
	cfg = cfg.withDefaults()
	return &PoolEngine{
		name: nextEngineName("pool"),
		cfg:  cfg,
		bdg:  newBudget(cfg.MaxConcurrentMaterialize),
	}
}

func (e *PoolEngine) Name() string { return e.name }
func (e *PoolEngine) Mode() Mode   { return ModeLazyPartitioned }

func (e *PoolEngine) Close() error {
	e.isClosed.Store(true)
	return nil
}

func (e *PoolEngine) sourceOrdered() bool { return true }
func (e *PoolEngine) closed() bool        { return e.isClosed.Load() }
func (e *PoolEngine) acquire() error      { return e.bdg.acquire() }
func (e *PoolEngine) release()            { e.bdg.release() }

func (e *PoolEngine) onBuild(*planNode) {}

func (e *PoolEngine) run(ctx context.Context, n *planNode) (*Frame, error) {
	start := time.Now()
	f, err := runNode(ctx, n, execCfg{workers: e.cfg.Workers, partitions: e.cfg.Partitions})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &EngineExecutionError{Engine: e.name, Cause: err}
	}
	logging.New("backend").Debug("materialize",
		"engine", e.name, "rows", f.NumRows(), "elapsed", time.Since(start))
	return f, nil
}
