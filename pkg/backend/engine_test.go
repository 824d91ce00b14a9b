package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

// scadaFrame builds n rows of 10-minute SCADA-style data starting at
// 2024-03-01T00:00:00Z. Every 7th wind speed is missing and every 11th
// power reading is negative, so filters have something to do.
func scadaFrame(n int) *Frame {
	f := NewFrame(Schema{
		{Name: "timestamp", Kind: KindTime},
		{Name: "windspeed_ms", Kind: KindFloat},
		{Name: "power_kw", Kind: KindFloat},
		{Name: "turbine", Kind: KindString},
	})
	start := ts("2024-03-01T00:00:00Z")
	for i := 0; i < n; i++ {
		var ws any = 4.0 + float64(i%20)*0.5
		if i%7 == 0 {
			ws = nil
		}
		power := float64(i%60) * 30
		if i%11 == 0 {
			power = -5
		}
		f.Append([]any{
			start.Add(time.Duration(i) * 10 * time.Minute),
			ws,
			power,
			fmt.Sprintf("T%02d", i%4),
		})
	}
	return f
}

// testEngines returns one engine per variant, with differing partition
// counts so partition-boundary bugs cannot hide.
func testEngines(t *testing.T) map[string]Engine {
	t.Helper()
	engines := map[string]Engine{
		"local":   NewLocal(LocalConfig{}),
		"pool":    NewPool(PoolConfig{Workers: 3, Partitions: 5}),
		"cluster": NewCluster(ClusterConfig{Executors: 2, Partitions: 7, RequestOrdered: true}),
	}
	t.Cleanup(func() {
		for _, e := range engines {
			_ = e.Close()
		}
	})
	return engines
}

// TestEngineParity runs the same pipeline on all three engines and
// requires byte-identical results. This is the backend-transparency
// contract: an engine is an execution strategy, never a semantic.
func TestEngineParity(t *testing.T) {
	data := scadaFrame(500)
	pipeline := func(eng Engine) (*Frame, error) {
		h, err := NewHandle(eng, data)
		if err != nil {
			return nil, err
		}
		h, err = h.Filter(And(NotNull("windspeed_ms"), Where("power_kw", OpGe, 0.0)))
		if err != nil {
			return nil, err
		}
		h, err = h.Resample("timestamp", MustFrequency("1h"),
			Aggregation{Column: "power_kw", Func: AggMean, As: "power_mean"},
			Aggregation{Column: "power_kw", Func: AggSum, As: "power_sum"},
			Aggregation{Column: "power_kw", Func: AggCount, As: "samples"})
		if err != nil {
			return nil, err
		}
		return h.Materialize(context.Background())
	}

	var want *Frame
	for name, eng := range testEngines(t) {
		got, err := pipeline(eng)
		if err != nil {
			t.Fatalf("%s: pipeline: %v", name, err)
		}
		if want == nil {
			want = got
			continue
		}
		if !want.Equal(got) {
			t.Errorf("%s: result differs from first engine:\n%s", name, cmp.Diff(want.Rows, got.Rows))
		}
	}
}

// TestEngineParityGroupJoin covers the group_aggregate and join paths
// with the same cross-engine equality requirement.
func TestEngineParityGroupJoin(t *testing.T) {
	data := scadaFrame(300)
	pipeline := func(eng Engine) (*Frame, error) {
		h, err := NewHandle(eng, data)
		if err != nil {
			return nil, err
		}
		perTurbine, err := h.GroupAggregate([]string{"turbine"},
			Aggregation{Column: "power_kw", Func: AggMean, As: "fleet_mean"})
		if err != nil {
			return nil, err
		}
		joined, err := h.Join(perTurbine, []string{"turbine"}, JoinInner)
		if err != nil {
			return nil, err
		}
		sel, err := joined.Select("timestamp", "turbine", "power_kw", "fleet_mean")
		if err != nil {
			return nil, err
		}
		return sel.Materialize(context.Background())
	}

	var want *Frame
	for name, eng := range testEngines(t) {
		got, err := pipeline(eng)
		if err != nil {
			t.Fatalf("%s: pipeline: %v", name, err)
		}
		if got.NumRows() != data.NumRows() {
			t.Fatalf("%s: inner join on own key lost rows: got %d want %d", name, got.NumRows(), data.NumRows())
		}
		if want == nil {
			want = got
			continue
		}
		if !want.Equal(got) {
			t.Errorf("%s: result differs from first engine:\n%s", name, cmp.Diff(want.Rows, got.Rows))
		}
	}
}

// TestAggregationOrderIndependence feeds the same rows in two different
// orders and requires identical aggregation output, including the exact
// float bits. Canonical in-bucket reduction is what makes this hold.
func TestAggregationOrderIndependence(t *testing.T) {
	fwd := scadaFrame(240)
	rev := NewFrame(fwd.Schema)
	for i := fwd.NumRows() - 1; i >= 0; i-- {
		rev.Append(fwd.Rows[i])
	}

	eng := NewPool(PoolConfig{Workers: 4, Partitions: 6})
	defer eng.Close()

	agg := func(f *Frame) *Frame {
		h, err := NewHandle(eng, f)
		if err != nil {
			t.Fatalf("NewHandle: %v", err)
		}
		h, err = h.Resample("timestamp", MustFrequency("1h"),
			Mean("windspeed_ms"), Sum("power_kw"))
		if err != nil {
			t.Fatalf("Resample: %v", err)
		}
		out, err := h.Materialize(context.Background())
		if err != nil {
			t.Fatalf("Materialize: %v", err)
		}
		return out
	}

	a, b := agg(fwd), agg(rev)
	if !a.Equal(b) {
		t.Errorf("row order changed aggregation output:\n%s", cmp.Diff(a.Rows, b.Rows))
	}
}

func TestLargeResample(t *testing.T) {
	// 10,000 rows of 1-minute data: 166 full hours plus a 40-minute tail.
	f := NewFrame(Schema{
		{Name: "t", Kind: KindTime},
		{Name: "power", Kind: KindFloat},
	})
	start := ts("2024-01-01T00:00:00Z")
	for i := 0; i < 10000; i++ {
		f.Append([]any{start.Add(time.Duration(i) * time.Minute), float64(i % 60)})
	}

	for name, eng := range testEngines(t) {
		h, err := NewHandle(eng, f)
		if err != nil {
			t.Fatalf("%s: NewHandle: %v", name, err)
		}
		h, err = h.Resample("t", MustFrequency("1h"), Mean("power"))
		if err != nil {
			t.Fatalf("%s: Resample: %v", name, err)
		}
		out, err := h.Materialize(context.Background())
		if err != nil {
			t.Fatalf("%s: Materialize: %v", name, err)
		}
		if out.NumRows() != 167 {
			t.Fatalf("%s: got %d buckets, want 167", name, out.NumRows())
		}
		// Full hours average minutes 0..59 of the cycle: exactly 29.5.
		if got := out.Rows[0][1].(float64); got != 29.5 {
			t.Errorf("%s: first bucket mean = %v, want 29.5", name, got)
		}
		if got := out.Rows[0][0].(time.Time); !got.Equal(start) {
			t.Errorf("%s: first bucket label = %v, want %v", name, got, start)
		}
	}
}

func TestMaterializeCaching(t *testing.T) {
	eng := NewLocal(LocalConfig{})
	defer eng.Close()
	h, err := NewHandle(eng, scadaFrame(20))
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	a, err := h.Materialize(context.Background())
	if err != nil {
		t.Fatalf("first Materialize: %v", err)
	}
	b, err := h.Materialize(context.Background())
	if err != nil {
		t.Fatalf("second Materialize: %v", err)
	}
	if a != b {
		t.Error("repeated Materialize did not return the cached frame")
	}
}

func TestBindingMismatch(t *testing.T) {
	e1 := NewLocal(LocalConfig{})
	e2 := NewLocal(LocalConfig{})
	defer e1.Close()
	defer e2.Close()

	a, err := NewHandle(e1, scadaFrame(5))
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	b, err := NewHandle(e2, scadaFrame(5))
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	_, err = a.Join(b, []string{"turbine"}, JoinInner)
	if !errors.Is(err, ErrBindingMismatch) {
		t.Fatalf("cross-engine Join: got %v, want ErrBindingMismatch", err)
	}
	var bm *BindingMismatchError
	if !errors.As(err, &bm) {
		t.Fatalf("error is not *BindingMismatchError: %v", err)
	}
	if bm.Left == bm.Right {
		t.Errorf("mismatch names equal: %q", bm.Left)
	}
}

func TestResourceBudget(t *testing.T) {
	eng := NewPool(PoolConfig{Workers: 2, MaxConcurrentMaterialize: 1})
	defer eng.Close()
	h, err := NewHandle(eng, scadaFrame(10))
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}

	// Hold the only budget slot, then try to materialize.
	if err := eng.acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	_, err = h.Materialize(context.Background())
	if !errors.Is(err, ErrOutOfResources) {
		t.Fatalf("Materialize with spent budget: got %v, want ErrOutOfResources", err)
	}
	eng.release()

	// The Handle survives the failure; retry succeeds.
	if _, err := h.Materialize(context.Background()); err != nil {
		t.Fatalf("retry after release: %v", err)
	}
}

func TestCancellation(t *testing.T) {
	eng := NewPool(PoolConfig{Workers: 2})
	defer eng.Close()
	h, err := NewHandle(eng, scadaFrame(50))
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	derived, err := h.Select("timestamp", "power_kw")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	h.Cancel()

	// Cancellation poisons the whole lineage, both directions.
	if _, err := derived.Materialize(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Errorf("derived Materialize after Cancel: got %v, want ErrCancelled", err)
	}
	if _, err := h.Filter(NotNull("windspeed_ms")); !errors.Is(err, ErrCancelled) {
		t.Errorf("op on cancelled handle: got %v, want ErrCancelled", err)
	}
}

func TestContextCancelledMaterialize(t *testing.T) {
	eng := NewPool(PoolConfig{Workers: 2})
	defer eng.Close()
	h, err := NewHandle(eng, scadaFrame(50))
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Materialize(ctx); !errors.Is(err, ErrCancelled) {
		t.Errorf("Materialize with cancelled context: got %v, want ErrCancelled", err)
	}
}

// rejectingDriver exercises the cluster Driver seam: a full submission
// queue must surface as ErrOutOfResources at Materialize.
type rejectingDriver struct{}

func (rejectingDriver) Submit(ctx context.Context, job *Job) (*Frame, error) {
	return nil, ErrOutOfResources
}
func (rejectingDriver) Close() error { return nil }

func TestClusterQueueFull(t *testing.T) {
	eng := NewCluster(ClusterConfig{Driver: rejectingDriver{}})
	defer eng.Close()
	h, err := NewHandle(eng, scadaFrame(10))
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	if _, err := h.Materialize(context.Background()); !errors.Is(err, ErrOutOfResources) {
		t.Fatalf("Materialize via rejecting driver: got %v, want ErrOutOfResources", err)
	}
}

// TestDeferredExecutionError checks the two-phase contract on the eager
// engine: a kernel failure during plan building must stay silent until
// Materialize, and then carry the engine-execution kind.
func TestDeferredExecutionError(t *testing.T) {
	f := NewFrame(Schema{
		{Name: "n", Kind: KindInt},
	})
	f.Append([]any{int64(4)})
	f.Append([]any{int64(0)})

	for name, eng := range testEngines(t) {
		h, err := NewHandle(eng, f)
		if err != nil {
			t.Fatalf("%s: NewHandle: %v", name, err)
		}
		// Valid plan, fails at runtime on the zero row.
		h, err = h.Filter(WhereExpr("100 / n > 10"))
		if err != nil {
			t.Fatalf("%s: Filter returned plan-phase error: %v", name, err)
		}
		_, err = h.Materialize(context.Background())
		if !errors.Is(err, ErrEngineExecution) {
			t.Errorf("%s: Materialize: got %v, want ErrEngineExecution", name, err)
		}
	}
}

func TestClosedEngine(t *testing.T) {
	eng := NewLocal(LocalConfig{})
	h, err := NewHandle(eng, scadaFrame(5))
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := h.Materialize(context.Background()); err == nil {
		t.Error("Materialize on closed engine succeeded")
	}
	if _, err := NewHandle(eng, scadaFrame(5)); err == nil {
		t.Error("NewHandle on closed engine succeeded")
	}
}
