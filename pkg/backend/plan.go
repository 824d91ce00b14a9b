package backend

import "fmt"

// JoinHow selects the join variant.
type JoinHow string

const (
	JoinInner JoinHow = "inner"
	JoinLeft  JoinHow = "left"
)

type opKind int

const (
	opSource opKind = iota
	opSelect
	opFilter
	opResample
	opJoin
	opGroupAgg
)

func (k opKind) String() string {
	switch k {
	case opSource:
		return "source"
	case opSelect:
		return "select"
	case opFilter:
		return "filter"
	case opResample:
		return "resample"
	case opJoin:
		return "join"
	case opGroupAgg:
		return "group_aggregate"
	}
	return "?"
}

// planNode is one step of a transformation plan. Plans are pure data:
// building them has no side effects beyond validation: build the plan first,
// then Materialize is the only suspension point. The local
// engine additionally caches an eagerly computed frame per node.
type planNode struct {
	kind    opKind
	schema  Schema // output schema, fixed at build time
	ordered bool   // output row-ordering guarantee
	inputs  []*planNode

	// opSource
	source *Frame

	// opSelect
	cols []string

	// opFilter
	pred *Predicate

	// opResample
	timeCol string
	freq    Frequency

	// opResample + opGroupAgg
	aggs []Aggregation

	// opGroupAgg
	keys []string

	// opJoin
	on  []string
	how JoinHow

	// local-engine eager execution cache. Kernel failures are deferred
	// here and surface at Materialize, never at plan-build time.
	eager    *Frame
	eagerErr error
}

// newSelectNode validates column presence and builds the projection node.
func newSelectNode(in *planNode, cols []string) (*planNode, error) {
	if len(cols) == 0 {
		return nil, &SchemaError{Detail: "select requires at least one column"}
	}
	schema, err := in.schema.Project(cols)
	if err != nil {
		return nil, err
	}
	return &planNode{
		kind:    opSelect,
		schema:  schema,
		ordered: in.ordered,
		inputs:  []*planNode{in},
		cols:    append([]string(nil), cols...),
	}, nil
}

// newFilterNode validates the predicate (compiling expression predicates)
// against the input schema.
func newFilterNode(in *planNode, pred *Predicate) (*planNode, error) {
	if pred == nil {
		return nil, &SchemaError{Detail: "filter requires a predicate"}
	}
	if err := pred.validate(in.schema); err != nil {
		return nil, err
	}
	return &planNode{
		kind:    opFilter,
		schema:  in.schema,
		ordered: in.ordered,
		inputs:  []*planNode{in},
		pred:    pred,
	}, nil
}

// newResampleNode validates the time column and aggregations. Output rows
// are one per non-empty bucket, sorted ascending by bucket start, so the
// output ordering guarantee is always true regardless of input order.
func newResampleNode(in *planNode, timeCol string, freq Frequency, aggs []Aggregation) (*planNode, error) {
	i := in.schema.Index(timeCol)
	if i < 0 {
		return nil, &SchemaError{Column: timeCol, Detail: "resample time column not present"}
	}
	if in.schema[i].Kind != KindTime {
		return nil, &SchemaError{Column: timeCol,
			Detail: fmt.Sprintf("resample time column has kind %s, want time", in.schema[i].Kind)}
	}
	if freq.IsZero() {
		return nil, &SchemaError{Detail: "resample requires a frequency"}
	}
	schema, err := aggOutputSchema(in.schema, Schema{{Name: timeCol, Kind: KindTime}}, aggs)
	if err != nil {
		return nil, err
	}
	return &planNode{
		kind:    opResample,
		schema:  schema,
		ordered: true,
		inputs:  []*planNode{in},
		timeCol: timeCol,
		freq:    freq,
		aggs:    append([]Aggregation(nil), aggs...),
	}, nil
}

// newGroupAggNode validates keys and aggregations. Output is one row per
// key combination, sorted ascending by key columns.
func newGroupAggNode(in *planNode, keys []string, aggs []Aggregation) (*planNode, error) {
	if len(keys) == 0 {
		return nil, &SchemaError{Detail: "group_aggregate requires at least one key"}
	}
	keySchema, err := in.schema.Project(keys)
	if err != nil {
		return nil, err
	}
	schema, err := aggOutputSchema(in.schema, keySchema, aggs)
	if err != nil {
		return nil, err
	}
	return &planNode{
		kind:    opGroupAgg,
		schema:  schema,
		ordered: true,
		inputs:  []*planNode{in},
		keys:    append([]string(nil), keys...),
		aggs:    append([]Aggregation(nil), aggs...),
	}, nil
}

// newJoinNode validates key compatibility and builds the join node.
// Left non-key columns keep their names; right non-key columns that clash
// are suffixed "_right". The ordering guarantee survives only when both
// inputs guarantee order and the join variant is order-preserving (inner
// and left both emit rows in left-input order here).
func newJoinNode(left, right *planNode, on []string, how JoinHow) (*planNode, error) {
	if how != JoinInner && how != JoinLeft {
		return nil, &SchemaError{Detail: fmt.Sprintf("unsupported join %q (inner, left)", how)}
	}
	if len(on) == 0 {
		return nil, &SchemaError{Detail: "join requires at least one key column"}
	}
	for _, key := range on {
		li, ri := left.schema.Index(key), right.schema.Index(key)
		if li < 0 {
			return nil, &SchemaError{Column: key, Detail: "join key not present in left input"}
		}
		if ri < 0 {
			return nil, &SchemaError{Column: key, Detail: "join key not present in right input"}
		}
		if left.schema[li].Kind != right.schema[ri].Kind {
			return nil, &SchemaError{Column: key,
				Detail: fmt.Sprintf("join key kinds differ (%s vs %s)",
					left.schema[li].Kind, right.schema[ri].Kind)}
		}
	}
	schema := append(Schema(nil), left.schema...)
	for _, c := range right.schema {
		if contains(on, c.Name) {
			continue
		}
		name := c.Name
		if schema.Has(name) {
			name += "_right"
			if schema.Has(name) {
				return nil, &SchemaError{Column: c.Name, Detail: "join output column name collides"}
			}
		}
		schema = append(schema, Column{Name: name, Kind: c.Kind})
	}
	return &planNode{
		kind:    opJoin,
		schema:  schema,
		ordered: left.ordered && right.ordered,
		inputs:  []*planNode{left, right},
		on:      append([]string(nil), on...),
		how:     how,
	}, nil
}

// aggOutputSchema builds "prefix columns + one column per aggregation" and
// rejects absent input columns and duplicate output names.
func aggOutputSchema(in Schema, prefix Schema, aggs []Aggregation) (Schema, error) {
	if len(aggs) == 0 {
		return nil, &SchemaError{Detail: "at least one aggregation required"}
	}
	out := append(Schema(nil), prefix...)
	for _, a := range aggs {
		i := in.Index(a.Column)
		if i < 0 {
			return nil, &SchemaError{Column: a.Column, Detail: "aggregation column not present"}
		}
		kind, err := a.outKind(in[i].Kind)
		if err != nil {
			return nil, &SchemaError{Column: a.Column, Detail: err.Error()}
		}
		name := a.outName()
		if out.Has(name) {
			return nil, &SchemaError{Column: name, Detail: "duplicate aggregation output name"}
		}
		out = append(out, Column{Name: name, Kind: kind})
	}
	return out, nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
