package method

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"openoa/internal/logging"
	"openoa/pkg/backend"
	"openoa/pkg/toolkit"
)

// State is an Execution Context lifecycle phase. Transitions run strictly
// Created → Validated → Running → {Succeeded, Failed}; terminal states
// never transition again.
type State string

const (
	StateCreated   State = "created"
	StateValidated State = "validated"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Step names the lifecycle step in which a failure occurred.
type Step string

const (
	StepValidateRoles    Step = "validate_roles"
	StepValidateConfig   Step = "validate_config"
	StepResolveToolkits  Step = "resolve_toolkits"
	StepRun              Step = "run"
	StepMaterializeFinal Step = "materialize_result"
)

// Failure records where and why a run failed. The originating error is
// never swallowed: Err carries the full causal chain.
type Failure struct {
	Step Step
	Err  error
}

// ProvenanceEntry is one timestamped event of a run's audit trail.
type ProvenanceEntry struct {
	At     time.Time
	Step   string
	Detail string
}

// Result is the packaged outcome of a successful run: the materialized
// payload plus the provenance needed to reproduce it. A Failed context
// never substitutes a partial Result; callers ask the context for
// diagnostics explicitly.
type Result struct {
	RunID      string
	Method     string
	Version    string
	Engine     string
	Mode       backend.Mode
	Params     map[string]any
	Payload    *backend.Frame
	Warnings   []string
	Trace      []toolkit.TraceEntry
	Provenance []ProvenanceEntry
	StartedAt  time.Time
	Elapsed    time.Duration
}

// ExecutionContext binds one method definition to concrete handles, an
// engine, and configuration for a single run. Contexts are not reusable:
// one Run call drives Created through a terminal state, and the context is
// normally discarded once the Result is extracted.
type ExecutionContext struct {
	def      *Definition
	eng      backend.Engine
	toolkits *toolkit.Registry

	mu        sync.Mutex
	state     State
	handles   map[string]*backend.Handle
	rawConfig map[string]any
	runID     string
	prov      []ProvenanceEntry
	warnings  []string
	failure   *Failure
	result    *Result
	cancel    context.CancelFunc
	cancelled bool
}

// NewContext creates an Execution Context in the Created state. The
// toolkit registry supplies the definitions named by the method's
// Toolkits list; pass toolkit.Builtins() unless the session registers its
// own.
func NewContext(def *Definition, eng backend.Engine, toolkits *toolkit.Registry) *ExecutionContext {
	return &ExecutionContext{
		def:      def,
		eng:      eng,
		toolkits: toolkits,
		state:    StateCreated,
		handles:  make(map[string]*backend.Handle),
		runID:    uuid.NewString(),
	}
}

// RunID returns the run identifier recorded in provenance and the store.
func (c *ExecutionContext) RunID() string { return c.runID }

// State returns the current lifecycle state.
func (c *ExecutionContext) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Failure returns the failing step and error for a Failed context, nil
// otherwise.
func (c *ExecutionContext) Failure() *Failure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// Provenance returns the audit trail collected so far. Available on
// Failed contexts too, as the "diagnostics collected before failure"
// a caller must ask for explicitly.
func (c *ExecutionContext) Provenance() []ProvenanceEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ProvenanceEntry(nil), c.prov...)
}

// Bind attaches a handle to a required role. The handle must be owned by
// the context's engine; a mismatch is a BindingMismatchError raised here,
// not deferred to Run.
func (c *ExecutionContext) Bind(role string, h *backend.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCreated {
		return fmt.Errorf("%w: bind in state %s", ErrTerminal, c.state)
	}
	if c.def.role(role) == nil {
		return &backend.SchemaError{Detail: fmt.Sprintf("method %s has no role %q", c.def.Key(), role)}
	}
	if h.Engine() != c.eng {
		return &backend.BindingMismatchError{Left: c.eng.Name(), Right: h.Backend()}
	}
	c.handles[role] = h
	return nil
}

// Configure supplies raw configuration values, validated during Run.
func (c *ExecutionContext) Configure(values map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rawConfig = values
}

// Cancel requests cancellation. Between steps the run stops before the
// next step; after a materialize has been issued the request propagates
// to the engine fire-and-forget. Subsequent operations on the context's
// handles return ErrCancelled.
func (c *ExecutionContext) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
	if c.cancel != nil {
		c.cancel()
	}
	for _, h := range c.handles {
		h.Cancel()
	}
}

func (c *ExecutionContext) log(step, detail string) {
	c.mu.Lock()
	c.prov = append(c.prov, ProvenanceEntry{At: time.Now().UTC(), Step: step, Detail: detail})
	c.mu.Unlock()
}

// Warn records a non-fatal condition surfaced in the Result.
func (c *ExecutionContext) Warn(msg string) {
	c.mu.Lock()
	c.warnings = append(c.warnings, msg)
	c.mu.Unlock()
}

func (c *ExecutionContext) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.log("state", string(s))
}

func (c *ExecutionContext) fail(step Step, err error) error {
	c.mu.Lock()
	c.failure = &Failure{Step: step, Err: err}
	c.state = StateFailed
	c.mu.Unlock()
	c.log("failed", fmt.Sprintf("%s: %v", step, err))
	logging.New("method").Error("run failed",
		"run", c.runID, "method", c.def.Key(), "step", string(step), "error", err)
	return err
}

// Run drives the full lifecycle: role validation, configuration
// resolution, toolkit resolution, the method's run function, and final
// materialization. Validation failures stop the run before the Running
// state; a method with a missing role never executes.
func (c *ExecutionContext) Run(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	if c.state != StateCreated {
		st := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: run in state %s", ErrTerminal, st)
	}
	if c.cancelled {
		c.mu.Unlock()
		return nil, c.fail(StepValidateRoles, backend.ErrCancelled)
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()
	defer c.cancel()

	started := time.Now()
	log := logging.New("method").With("run", c.runID, "method", c.def.Key())
	log.Info("run starting", "engine", c.eng.Name())

	// Step 1: every required role bound with a compatible schema.
	for _, role := range c.def.Roles {
		h, ok := c.handles[role.Name]
		if !ok {
			return nil, c.fail(StepValidateRoles,
				&backend.SchemaError{Detail: fmt.Sprintf("role %q has no bound handle", role.Name)})
		}
		if err := h.Schema().Contains(role.Columns); err != nil {
			return nil, c.fail(StepValidateRoles, fmt.Errorf("role %q: %w", role.Name, err))
		}
	}
	c.log("roles", fmt.Sprintf("%d roles bound", len(c.def.Roles)))

	// Step 2: configuration against the declared schema.
	resolved, err := c.def.Config.Resolve(c.rawConfig)
	if err != nil {
		return nil, c.fail(StepValidateConfig, err)
	}
	c.log("config", fmt.Sprintf("%d parameters resolved", len(resolved)))

	// Step 3: required toolkits present in the registry.
	kits := make(map[string]*toolkit.Toolkit, len(c.def.Toolkits))
	for _, key := range c.def.Toolkits {
		name, version, err := splitToolkitKey(key)
		if err != nil {
			return nil, c.fail(StepResolveToolkits, err)
		}
		t, err := c.toolkits.Lookup(name, version)
		if err != nil {
			return nil, c.fail(StepResolveToolkits, err)
		}
		kits[name] = t
	}
	c.setState(StateValidated)

	if err := c.checkCancelled(StepRun); err != nil {
		return nil, err
	}
	c.setState(StateRunning)

	// Step 4: the method's own logic.
	trace := &toolkit.Trace{}
	out, err := c.def.Run(ctx, &RunInput{
		Handles:  c.handles,
		Config:   resolved,
		Toolkits: kits,
		Log:      log,
		Trace:    trace,
	})
	if err != nil {
		return nil, c.fail(StepRun, err)
	}
	if out == nil {
		return nil, c.fail(StepRun, errors.New("method returned no result handle"))
	}

	if err := c.checkCancelled(StepMaterializeFinal); err != nil {
		return nil, err
	}

	// Step 5: materialize the result at the collection boundary.
	payload, err := out.Materialize(ctx)
	if err != nil {
		return nil, c.fail(StepMaterializeFinal, err)
	}
	c.log("materialized", fmt.Sprintf("%d rows", payload.NumRows()))

	c.mu.Lock()
	res := &Result{
		RunID:      c.runID,
		Method:     c.def.Name,
		Version:    c.def.Version,
		Engine:     c.eng.Name(),
		Mode:       c.eng.Mode(),
		Params:     resolved,
		Payload:    payload,
		Warnings:   append([]string(nil), c.warnings...),
		Trace:      trace.Entries,
		StartedAt:  started.UTC(),
		Elapsed:    time.Since(started),
		Provenance: append([]ProvenanceEntry(nil), c.prov...),
	}
	c.result = res
	c.mu.Unlock()
	c.setState(StateSucceeded)
	log.Info("run succeeded", "rows", payload.NumRows(), "elapsed", res.Elapsed)
	return res, nil
}

func (c *ExecutionContext) checkCancelled(step Step) error {
	c.mu.Lock()
	cancelled := c.cancelled
	c.mu.Unlock()
	if cancelled {
		return c.fail(step, backend.ErrCancelled)
	}
	return nil
}
