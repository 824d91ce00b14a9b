package backend

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// Mode is an engine's execution strategy.
type Mode string

const (
	// ModeEagerLocal executes every operation immediately on a single
	// goroutine. Ordering guarantee is always true.
	ModeEagerLocal Mode = "eager-local"

	// ModeLazyPartitioned builds a plan and executes it over in-process
	// partitions with a worker pool at Materialize time.
	ModeLazyPartitioned Mode = "lazy-partitioned"

	// ModeLazyDistributed builds a plan and submits it as a job to a
	// cluster driver at Materialize time. Ordering guarantee defaults to
	// false; global ordering across cluster partitions is a costly
	// shuffle and must be requested explicitly.
	ModeLazyDistributed Mode = "lazy-distributed"
)

// Engine is one execution strategy implementing the uniform operation set.
// The three variants (Local, Pool, Cluster) form a closed set: the
// unexported methods keep implementations inside this package, mirroring
// the closed {Operation, Toolkit, Method} capability model.
//
// Exactly one engine instance owns a Handle; operations combining two
// Handles require the same instance or fail with a BindingMismatchError.
// Engines are created once per analysis session and torn down with Close.
type Engine interface {
	// Name identifies this engine instance (variant plus instance number),
	// e.g. "local#1". Recorded in every Result's provenance.
	Name() string

	// Mode reports the execution strategy.
	Mode() Mode

	// Close tears the engine down, releasing workers. Handles owned by a
	// closed engine can no longer materialize.
	Close() error

	// sourceOrdered is the row-ordering guarantee for freshly loaded data.
	sourceOrdered() bool

	// onBuild is invoked after each plan node is validated; the local engine
	// uses it to execute eagerly, lazy engines ignore it.
	onBuild(n *planNode)

	// run executes a full plan and returns the materialized frame. Called
	// only by Handle.Materialize, which handles caching and budget.
	run(ctx context.Context, n *planNode) (*Frame, error)

	// acquire reserves one materialize slot from the engine's resource
	// budget; returns ErrOutOfResources when the budget is exhausted.
	acquire() error
	release()

	closed() bool
}

var engineSeq atomic.Int64

func nextEngineName(variant string) string {
	return fmt.Sprintf("%s#%d", variant, engineSeq.Add(1))
}

// NewHandle wraps an in-memory frame as a source Handle owned by eng.
// This is the loader entry point: external loaders produce a Frame and
// bind it to the session's engine here.
func NewHandle(eng Engine, f *Frame) (*Handle, error) {
	if eng.closed() {
		return nil, &EngineExecutionError{Engine: eng.Name(), Cause: errors.New("engine closed")}
	}
	n := &planNode{
		kind:    opSource,
		schema:  append(Schema(nil), f.Schema...),
		ordered: eng.sourceOrdered(),
		source:  f.clone(),
	}
	eng.onBuild(n)
	return &Handle{eng: eng, node: n, cancel: &atomic.Bool{}}, nil
}
