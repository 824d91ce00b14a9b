package backend

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"openoa/internal/logging"
)

// budget caps concurrent Materialize submissions per engine instance. The
// worker pool and its budget are the only mutable shared state an engine
// carries; exhaustion rejects the submission instead of queueing silently.
type budget struct {
	sem *semaphore.Weighted
}

func newBudget(slots int) *budget {
	if slots < 1 {
		slots = 1
	}
	return &budget{sem: semaphore.NewWeighted(int64(slots))}
}

func (b *budget) acquire() error {
	if !b.sem.TryAcquire(1) {
		return ErrOutOfResources
	}
	return nil
}

func (b *budget) release() { b.sem.Release(1) }

// LocalConfig tunes the eager single-process engine.
type LocalConfig struct {
	// MaxConcurrentMaterialize bounds simultaneous Materialize calls
	// across Execution Contexts sharing this engine. Default 1.
	MaxConcurrentMaterialize int
}

// LocalEngine executes every operation eagerly on the calling goroutine.
// Row ordering is always guaranteed. Kernel failures during eager
// execution are deferred on the plan node and surface at Materialize,
// keeping the error contract identical to the lazy engines.
type LocalEngine struct {
	name     string
	bdg      *budget
	isClosed atomic.Bool
}

var _ Engine = (*LocalEngine)(nil)

// NewLocal creates an eager local engine.
func NewLocal(cfg LocalConfig) *LocalEngine {
	return &LocalEngine{
		name: nextEngineName("local"),
		bdg:  newBudget(cfg.MaxConcurrentMaterialize),
	}
}

func (e *LocalEngine) Name() string { return e.name }
func (e *LocalEngine) Mode() Mode   { return ModeEagerLocal }

func (e *LocalEngine) Close() error {
	e.isClosed.Store(true)
	return nil
}

func (e *LocalEngine) sourceOrdered() bool { return true }
func (e *LocalEngine) closed() bool        { return e.isClosed.Load() }
func (e *LocalEngine) acquire() error      { return e.bdg.acquire() }
func (e *LocalEngine) release()            { e.bdg.release() }

// onBuild executes the node immediately against its inputs' eager frames.
func (e *LocalEngine) onBuild(n *planNode) {
	for _, in := range n.inputs {
		if in.eagerErr != nil {
			n.eagerErr = in.eagerErr
			return
		}
	}
	ctx := context.Background()
	cfg := execCfg{}.normalize()
	switch n.kind {
	case opSource:
		n.eager = n.source
	case opSelect:
		n.eager = kSelect(n.inputs[0].eager, n)
	case opFilter:
		n.eager, n.eagerErr = kFilter(ctx, n.inputs[0].eager, n, cfg)
	case opResample, opGroupAgg:
		n.eager, n.eagerErr = kGroupAgg(ctx, n.inputs[0].eager, n, cfg)
	case opJoin:
		n.eager, n.eagerErr = kJoin(ctx, n.inputs[0].eager, n.inputs[1].eager, n, cfg)
	}
}

func (e *LocalEngine) run(_ context.Context, n *planNode) (*Frame, error) {
	if n.eagerErr != nil {
		return nil, &EngineExecutionError{Engine: e.name, Cause: n.eagerErr}
	}
	logging.New("backend").Debug("materialize",
		"engine", e.name, "rows", n.eager.NumRows())
	return n.eager, nil
}
