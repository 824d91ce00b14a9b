package backend

import (
	"context"
	"sync"
	"sync/atomic"
)

// Handle is an immutable reference to one (possibly partitioned) dataset
// owned by exactly one Engine instance. Every operation returns a new
// Handle; nothing is ever mutated in place, so concurrent Execution
// Contexts may share Handles freely without locking.
//
// Transform operations validate synchronously (schema, predicate, binding)
// and extend the transformation plan; Materialize is the only operation
// that blocks, consumes engine resources, or can fail with execution-level
// errors.
type Handle struct {
	eng  Engine
	node *planNode

	// cancel is shared across the whole lineage: cancelling one handle
	// makes every operation on derived and ancestor handles illegal.
	cancel *atomic.Bool

	mu     sync.Mutex
	cached *Frame
}

// Schema returns the handle's logical schema.
func (h *Handle) Schema() Schema { return h.node.schema }

// Ordered reports the row-ordering guarantee.
func (h *Handle) Ordered() bool { return h.node.ordered }

// Backend returns the identity of the owning engine instance.
func (h *Handle) Backend() string { return h.eng.Name() }

// Engine returns the owning engine.
func (h *Handle) Engine() Engine { return h.eng }

// Cancel marks the handle's lineage cancelled. Cancellation is
// fire-and-forget: an in-flight Materialize keeps its context, but every
// subsequent operation returns ErrCancelled.
func (h *Handle) Cancel() { h.cancel.Store(true) }

func (h *Handle) check() error {
	if h.cancel.Load() {
		return ErrCancelled
	}
	if h.eng.closed() {
		return &EngineExecutionError{Engine: h.eng.Name(), Cause: errClosed}
	}
	return nil
}

func (h *Handle) derive(n *planNode) *Handle {
	h.eng.onBuild(n)
	return &Handle{eng: h.eng, node: n, cancel: h.cancel}
}

// Select returns a handle with the schema reduced to the given columns,
// in the given order. Absent columns are a SchemaError.
func (h *Handle) Select(cols ...string) (*Handle, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	n, err := newSelectNode(h.node, cols)
	if err != nil {
		return nil, err
	}
	return h.derive(n), nil
}

// Filter returns a handle with the same schema containing rows matching
// the predicate. The predicate is declarative so every engine can push it
// down into its partitions.
func (h *Handle) Filter(pred *Predicate) (*Handle, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	n, err := newFilterNode(h.node, pred)
	if err != nil {
		return nil, err
	}
	return h.derive(n), nil
}

// Resample buckets rows by the time column into intervals of freq and
// aggregates each bucket. Boundary policy: left-closed right-open
// intervals, labelled by interval start, aligned in UTC (see
// Frequency.Bucket). One output row per non-empty bucket, ascending.
func (h *Handle) Resample(timeCol string, freq Frequency, aggs ...Aggregation) (*Handle, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	n, err := newResampleNode(h.node, timeCol, freq, aggs)
	if err != nil {
		return nil, err
	}
	return h.derive(n), nil
}

// GroupAggregate returns one row per distinct key combination, sorted
// ascending by the key columns.
func (h *Handle) GroupAggregate(keys []string, aggs ...Aggregation) (*Handle, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	n, err := newGroupAggNode(h.node, keys, aggs)
	if err != nil {
		return nil, err
	}
	return h.derive(n), nil
}

// Join combines two handles on key columns. Both handles must be owned by
// the same engine instance; otherwise a BindingMismatchError is returned
// and nothing is executed. The ordering guarantee is downgraded unless
// both inputs guarantee order (inner and left joins preserve left-input
// row order here).
func (h *Handle) Join(other *Handle, on []string, how JoinHow) (*Handle, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	if err := other.check(); err != nil {
		return nil, err
	}
	if h.eng != other.eng {
		return nil, &BindingMismatchError{Left: h.eng.Name(), Right: other.eng.Name()}
	}
	n, err := newJoinNode(h.node, other.node, on, how)
	if err != nil {
		return nil, err
	}
	return h.derive(n), nil
}

// Materialize forces evaluation and returns an in-memory,
// order-deterministic snapshot. This is the only blocking point: lazy
// engines run their plan (or submit a cluster job) here, and
// execution/resource errors (ErrOutOfResources, ErrEngineExecution)
// surface here and only here. The snapshot is cached on the handle, so a
// second call returns the same payload without re-triggering computation.
func (h *Handle) Materialize(ctx context.Context) (*Frame, error) {
	if err := h.check(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cached != nil {
		return h.cached, nil
	}

	if err := h.eng.acquire(); err != nil {
		return nil, err
	}
	defer h.eng.release()

	f, err := h.eng.run(ctx, h.node)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, err
	}
	h.cached = f
	return f, nil
}
