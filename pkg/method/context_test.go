package method

import (
	"context"
	"errors"
	"testing"
	"time"

	"openoa/pkg/backend"
	"openoa/pkg/toolkit"
)

// countRows is a minimal method used throughout: it resamples its single
// role hourly and returns the bucket counts.
func countRows() *Definition {
	return &Definition{
		Name:    "count_rows",
		Version: "0.1",
		Roles: []Role{{
			Name: "data",
			Columns: backend.Schema{
				{Name: "t", Kind: backend.KindTime},
				{Name: "v", Kind: backend.KindFloat},
			},
		}},
		Toolkits: []string{"resample@1.0"},
		Config: ConfigSchema{
			"frequency": {Kind: ParamString, Default: "1h"},
			"threshold": {Kind: ParamFloat, Required: true, Min: FloatPtr(0)},
		},
		Run: func(ctx context.Context, in *RunInput) (*backend.Handle, error) {
			return in.Toolkit("resample").ApplyTraced(in.Handle("data"), toolkit.Params{
				"time_column": "t",
				"frequency":   in.String("frequency"),
				"aggregations": []backend.Aggregation{
					backend.Count("v"),
				},
			}, in.Trace)
		},
	}
}

func dataHandle(t *testing.T, eng backend.Engine) *backend.Handle {
	t.Helper()
	f := backend.NewFrame(backend.Schema{
		{Name: "t", Kind: backend.KindTime},
		{Name: "v", Kind: backend.KindFloat},
	})
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 120; i++ {
		f.Append([]any{start.Add(time.Duration(i) * time.Minute), float64(i)})
	}
	h, err := backend.NewHandle(eng, f)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	return h
}

func TestContextLifecycle(t *testing.T) {
	eng := backend.NewLocal(backend.LocalConfig{})
	defer eng.Close()

	ec := NewContext(countRows(), eng, toolkit.Builtins())
	if ec.State() != StateCreated {
		t.Fatalf("initial state = %s", ec.State())
	}
	if err := ec.Bind("data", dataHandle(t, eng)); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ec.Configure(map[string]any{"threshold": 1.5})

	res, err := ec.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ec.State() != StateSucceeded {
		t.Errorf("state = %s, want succeeded", ec.State())
	}
	if res.Payload.NumRows() != 2 {
		t.Errorf("payload rows = %d, want 2", res.Payload.NumRows())
	}
	if res.Params["frequency"] != "1h" {
		t.Errorf("default not applied: %v", res.Params["frequency"])
	}
	if res.Method != "count_rows" || res.Engine != eng.Name() {
		t.Errorf("result identity = %s on %s", res.Method, res.Engine)
	}
	if len(res.Trace) != 1 {
		t.Errorf("trace entries = %d, want 1", len(res.Trace))
	}
	if len(res.Provenance) == 0 {
		t.Error("no provenance recorded")
	}

	// Terminal contexts reject reuse.
	if _, err := ec.Run(context.Background()); !errors.Is(err, ErrTerminal) {
		t.Errorf("second Run: got %v, want ErrTerminal", err)
	}
	if err := ec.Bind("data", dataHandle(t, eng)); !errors.Is(err, ErrTerminal) {
		t.Errorf("Bind after Run: got %v, want ErrTerminal", err)
	}
}

// A missing role must fail during validation: the context ends Failed
// without the method's run function ever executing.
func TestContextMissingRole(t *testing.T) {
	eng := backend.NewLocal(backend.LocalConfig{})
	defer eng.Close()

	def := countRows()
	ran := false
	inner := def.Run
	def.Run = func(ctx context.Context, in *RunInput) (*backend.Handle, error) {
		ran = true
		return inner(ctx, in)
	}

	ec := NewContext(def, eng, toolkit.Builtins())
	ec.Configure(map[string]any{"threshold": 1.0})
	_, err := ec.Run(context.Background())
	if !errors.Is(err, backend.ErrSchema) {
		t.Fatalf("Run without binding: got %v, want ErrSchema", err)
	}
	if ec.State() != StateFailed {
		t.Errorf("state = %s, want failed", ec.State())
	}
	if f := ec.Failure(); f == nil || f.Step != StepValidateRoles {
		t.Errorf("failure = %+v, want step %s", f, StepValidateRoles)
	}
	if ran {
		t.Error("run function executed despite failed validation")
	}
	if len(ec.Provenance()) == 0 {
		t.Error("failed context has no provenance")
	}
}

func TestContextRoleSchemaMismatch(t *testing.T) {
	eng := backend.NewLocal(backend.LocalConfig{})
	defer eng.Close()

	f := backend.NewFrame(backend.Schema{{Name: "t", Kind: backend.KindTime}})
	h, err := backend.NewHandle(eng, f)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	ec := NewContext(countRows(), eng, toolkit.Builtins())
	if err := ec.Bind("data", h); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ec.Configure(map[string]any{"threshold": 1.0})
	if _, err := ec.Run(context.Background()); !errors.Is(err, backend.ErrSchema) {
		t.Fatalf("Run with narrow schema: got %v, want ErrSchema", err)
	}
	if f := ec.Failure(); f == nil || f.Step != StepValidateRoles {
		t.Errorf("failure step = %+v", f)
	}
}

func TestContextConfigFailures(t *testing.T) {
	eng := backend.NewLocal(backend.LocalConfig{})
	defer eng.Close()

	cases := []struct {
		name   string
		values map[string]any
	}{
		{"missing required", map[string]any{}},
		{"unknown key", map[string]any{"threshold": 1.0, "bogus": true}},
		{"below minimum", map[string]any{"threshold": -2.0}},
		{"wrong type", map[string]any{"threshold": "high"}},
	}
	for _, tc := range cases {
		ec := NewContext(countRows(), eng, toolkit.Builtins())
		if err := ec.Bind("data", dataHandle(t, eng)); err != nil {
			t.Fatalf("%s: Bind: %v", tc.name, err)
		}
		ec.Configure(tc.values)
		_, err := ec.Run(context.Background())
		if !errors.Is(err, ErrConfigValidation) {
			t.Errorf("%s: got %v, want ErrConfigValidation", tc.name, err)
		}
		if f := ec.Failure(); f == nil || f.Step != StepValidateConfig {
			t.Errorf("%s: failure step = %+v", tc.name, f)
		}
	}
}

func TestContextUnresolvableToolkit(t *testing.T) {
	eng := backend.NewLocal(backend.LocalConfig{})
	defer eng.Close()

	def := countRows()
	def.Toolkits = []string{"no_such_toolkit@9.9"}
	ec := NewContext(def, eng, toolkit.Builtins())
	if err := ec.Bind("data", dataHandle(t, eng)); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ec.Configure(map[string]any{"threshold": 1.0})
	if _, err := ec.Run(context.Background()); !errors.Is(err, toolkit.ErrNotFound) {
		t.Fatalf("Run: got %v, want toolkit.ErrNotFound", err)
	}
	if f := ec.Failure(); f == nil || f.Step != StepResolveToolkits {
		t.Errorf("failure step = %+v", f)
	}
}

func TestContextBindErrors(t *testing.T) {
	e1 := backend.NewLocal(backend.LocalConfig{})
	e2 := backend.NewLocal(backend.LocalConfig{})
	defer e1.Close()
	defer e2.Close()

	ec := NewContext(countRows(), e1, toolkit.Builtins())
	if err := ec.Bind("nope", dataHandle(t, e1)); !errors.Is(err, backend.ErrSchema) {
		t.Errorf("Bind unknown role: got %v, want ErrSchema", err)
	}
	if err := ec.Bind("data", dataHandle(t, e2)); !errors.Is(err, backend.ErrBindingMismatch) {
		t.Errorf("Bind foreign handle: got %v, want ErrBindingMismatch", err)
	}
}

func TestContextCancelBeforeRun(t *testing.T) {
	eng := backend.NewLocal(backend.LocalConfig{})
	defer eng.Close()

	ec := NewContext(countRows(), eng, toolkit.Builtins())
	if err := ec.Bind("data", dataHandle(t, eng)); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ec.Configure(map[string]any{"threshold": 1.0})
	ec.Cancel()
	if _, err := ec.Run(context.Background()); !errors.Is(err, backend.ErrCancelled) {
		t.Fatalf("Run after Cancel: got %v, want ErrCancelled", err)
	}
	if ec.State() != StateFailed {
		t.Errorf("state = %s, want failed", ec.State())
	}
}

func TestConfigResolve(t *testing.T) {
	cs := ConfigSchema{
		"mode":  {Kind: ParamString, Default: "fast", OneOf: []string{"fast", "exact"}},
		"limit": {Kind: ParamInt, Default: 10, Min: FloatPtr(1), Max: FloatPtr(100)},
	}
	got, err := cs.Resolve(map[string]any{"limit": 50})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got["mode"] != "fast" {
		t.Errorf("default mode = %v", got["mode"])
	}
	if got["limit"] != int64(50) {
		t.Errorf("limit = %v (%T), want int64(50)", got["limit"], got["limit"])
	}
	if _, err := cs.Resolve(map[string]any{"mode": "sloppy"}); !errors.Is(err, ErrConfigValidation) {
		t.Errorf("OneOf violation: got %v", err)
	}
	if _, err := cs.Resolve(map[string]any{"limit": 500}); !errors.Is(err, ErrConfigValidation) {
		t.Errorf("Max violation: got %v", err)
	}

	var ce *ConfigValidationError
	_, err = cs.Resolve(map[string]any{"limit": "many"})
	if !errors.As(err, &ce) || ce.Param != "limit" {
		t.Errorf("typed error = %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(countRows()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(countRows()); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("duplicate Register: got %v, want ErrDuplicateName", err)
	}
	if _, err := r.Lookup("count_rows", "0.1"); err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if _, err := r.Lookup("count_rows", "0.2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup missing: got %v, want ErrNotFound", err)
	}
	if got := r.List(); len(got) != 1 || got[0].Name != "count_rows" {
		t.Fatalf("List = %v", got)
	}
}
