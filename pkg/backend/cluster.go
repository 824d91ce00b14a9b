package backend

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"openoa/internal/logging"
)

// Job is one submitted materialization: a complete transformation plan
// plus its partitioning. Drivers treat it as opaque and call Run on
// whatever executor they own.
type Job struct {
	id   string
	node *planNode
	cfg  execCfg
}

// ID returns the job identity (recorded in driver logs and diagnostics).
func (j *Job) ID() string { return j.id }

// Run executes the job's plan. Safe to call on any goroutine or process
// that holds the plan; the in-process driver calls it on its executors.
func (j *Job) Run(ctx context.Context) (*Frame, error) {
	return runNode(ctx, j.node, j.cfg)
}

// Driver is the cluster scheduler seam. Submit blocks until the job
// completes, fails, or ctx is cancelled; it returns ErrOutOfResources when
// the driver cannot accept more work. A production deployment points this
// at a real cluster; the default in-process driver runs jobs on a fixed
// set of executor goroutines behind a submission queue.
type Driver interface {
	Submit(ctx context.Context, job *Job) (*Frame, error)
	Close() error
}

// ClusterConfig tunes the fully-distributed engine.
type ClusterConfig struct {
	// Executors is the in-process driver's executor count.
	// Default runtime.NumCPU(). Ignored when Driver is set.
	Executors int
	// Partitions per job. Default 4×Executors.
	Partitions int
	// QueueDepth is how many submitted jobs may wait for an executor
	// before submissions are rejected. Default equals Executors.
	QueueDepth int
	// MaxConcurrentMaterialize bounds simultaneous Materialize calls.
	// Default Executors + QueueDepth.
	MaxConcurrentMaterialize int
	// RequestOrdered asks for a global row-ordering guarantee. Off by
	// default: global order across cluster partitions costs a shuffle,
	// so unordered is the contract unless the session opts in.
	RequestOrdered bool
	// Driver overrides the in-process driver with a real cluster
	// scheduler.
	Driver Driver
}

func (c ClusterConfig) withDefaults() ClusterConfig {
	if c.Executors < 1 {
		c.Executors = runtime.NumCPU()
	}
	if c.Partitions < 1 {
		c.Partitions = 4 * c.Executors
	}
	if c.QueueDepth < 1 {
		c.QueueDepth = c.Executors
	}
	if c.MaxConcurrentMaterialize < 1 {
		c.MaxConcurrentMaterialize = c.Executors + c.QueueDepth
	}
	return c
}

// ClusterEngine executes lazily across a cluster of executors via a
// Driver. Materialize submits the plan as a job and blocks until the
// driver reports completion, failure, or cancellation.
type ClusterEngine struct {
	name     string
	cfg      ClusterConfig
	driver   Driver
	bdg      *budget
	isClosed atomic.Bool
}

var _ Engine = (*ClusterEngine)(nil)

// NewCluster creates a fully-distributed engine. With no Driver configured
// it runs an in-process driver, which keeps the submission/queueing/
// failure semantics of a real cluster without one being present.
func NewCluster(cfg ClusterConfig) *ClusterEngine {
	cfg = cfg.withDefaults()
	driver := cfg.Driver
	if driver == nil {
		driver = newLocalDriver(cfg.Executors, cfg.QueueDepth)
	}
	return &ClusterEngine{
		name:   nextEngineName("cluster"),
		cfg:    cfg,
		driver: driver,
		bdg:    newBudget(cfg.MaxConcurrentMaterialize),
	}
}

func (e *ClusterEngine) Name() string { return e.name }
func (e *ClusterEngine) Mode() Mode   { return ModeLazyDistributed }

func (e *ClusterEngine) Close() error {
	if e.isClosed.Swap(true) {
		return nil
	}
	return e.driver.Close()
}

func (e *ClusterEngine) sourceOrdered() bool { return e.cfg.RequestOrdered }
func (e *ClusterEngine) closed() bool        { return e.isClosed.Load() }
func (e *ClusterEngine) acquire() error      { return e.bdg.acquire() }
func (e *ClusterEngine) release()            { e.bdg.release() }

func (e *ClusterEngine) onBuild(*planNode) {}

func (e *ClusterEngine) run(ctx context.Context, n *planNode) (*Frame, error) {
	job := &Job{
		id:   uuid.NewString(),
		node: n,
		cfg:  execCfg{workers: e.cfg.Executors, partitions: e.cfg.Partitions},
	}
	log := logging.New("backend")
	log.Debug("job submitted", "engine", e.name, "job", job.id)
	start := time.Now()
	f, err := e.driver.Submit(ctx, job)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, ErrOutOfResources) {
			return nil, err
		}
		return nil, &EngineExecutionError{Engine: e.name, Cause: err}
	}
	log.Debug("job complete",
		"engine", e.name, "job", job.id, "rows", f.NumRows(), "elapsed", time.Since(start))
	return f, nil
}

// localDriver runs jobs on a fixed set of executor goroutines behind a
// bounded submission queue.
type localDriver struct {
	queue chan *submission
	stop  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	isClosed bool
}

type submission struct {
	job  *Job
	ctx  context.Context
	done chan jobResult
}

type jobResult struct {
	frame *Frame
	err   error
}

func newLocalDriver(executors, queueDepth int) *localDriver {
	d := &localDriver{
		queue: make(chan *submission, queueDepth),
		stop:  make(chan struct{}),
	}
	for i := 0; i < executors; i++ {
		d.wg.Add(1)
		go d.executor()
	}
	return d
}

func (d *localDriver) executor() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stop:
			return
		case sub := <-d.queue:
			if sub.ctx.Err() != nil {
				sub.done <- jobResult{err: sub.ctx.Err()}
				continue
			}
			f, err := sub.job.Run(sub.ctx)
			sub.done <- jobResult{frame: f, err: err}
		}
	}
}

func (d *localDriver) Submit(ctx context.Context, job *Job) (*Frame, error) {
	d.mu.Lock()
	if d.isClosed {
		d.mu.Unlock()
		return nil, errClosed
	}
	d.mu.Unlock()

	sub := &submission{job: job, ctx: ctx, done: make(chan jobResult, 1)}
	select {
	case d.queue <- sub:
	default:
		return nil, ErrOutOfResources
	}

	select {
	case res := <-sub.done:
		return res.frame, res.err
	case <-ctx.Done():
		// Fire-and-forget cancellation: the executor finishes or drops
		// the job on its own; the caller stops waiting now.
		return nil, ctx.Err()
	}
}

func (d *localDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isClosed {
		return nil
	}
	d.isClosed = true
	close(d.stop)
	d.wg.Wait()
	return nil
}
