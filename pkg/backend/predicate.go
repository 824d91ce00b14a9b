package backend

import (
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Op is a comparison operator in a declarative filter condition.
type Op string

const (
	OpEq      Op = "=="
	OpNe      Op = "!="
	OpLt      Op = "<"
	OpLe      Op = "<="
	OpGt      Op = ">"
	OpGe      Op = ">="
	OpIn      Op = "in"
	OpNotNull Op = "notnull"
	OpIsNull  Op = "isnull"
)

type predKind int

const (
	predCond predKind = iota
	predAnd
	predOr
	predNot
	predExpr
)

// Predicate is a declarative row filter: a (column, operator, value)
// condition, a boolean combination of conditions, or a compiled expression
// over column names. Declarative form lets any engine push the filter down
// into its partitions; both forms evaluate identically on every engine.
//
// Predicates are validated against the input schema at plan-build time, so
// unknown columns and malformed expressions fail synchronously, never inside
// lazy execution.
type Predicate struct {
	kind  predKind
	col   string
	op    Op
	value any
	subs  []*Predicate

	src  string
	prog *vm.Program
}

// Where builds a single (column, operator, value) condition.
func Where(col string, op Op, value any) *Predicate {
	return &Predicate{kind: predCond, col: col, op: op, value: value}
}

// NotNull builds a missing-value filter on one column.
func NotNull(col string) *Predicate { return Where(col, OpNotNull, nil) }

// And combines predicates conjunctively.
func And(ps ...*Predicate) *Predicate { return &Predicate{kind: predAnd, subs: ps} }

// Or combines predicates disjunctively.
func Or(ps ...*Predicate) *Predicate { return &Predicate{kind: predOr, subs: ps} }

// Not negates a predicate.
func Not(p *Predicate) *Predicate { return &Predicate{kind: predNot, subs: []*Predicate{p}} }

// WhereExpr builds a predicate from an expression over column names, e.g.
// "power_kw > 0 && windspeed_ms < 25". The expression is compiled once at
// validation time against the handle's schema; unknown identifiers are a
// SchemaError at that point.
func WhereExpr(src string) *Predicate { return &Predicate{kind: predExpr, src: src} }

// validate checks column references (and compiles expressions) against the
// schema. It mutates only the compiled program cache.
func (p *Predicate) validate(s Schema) error {
	switch p.kind {
	case predCond:
		i := s.Index(p.col)
		if i < 0 {
			return &SchemaError{Column: p.col, Detail: "filter references unknown column"}
		}
		if p.op != OpNotNull && p.op != OpIsNull && p.op != OpIn {
			if err := checkComparable(s[i].Kind, p.value); err != nil {
				return &SchemaError{Column: p.col, Detail: err.Error()}
			}
		}
		return nil
	case predAnd, predOr, predNot:
		for _, sub := range p.subs {
			if err := sub.validate(s); err != nil {
				return err
			}
		}
		return nil
	case predExpr:
		env := make(map[string]any, len(s))
		for _, c := range s {
			env[c.Name] = c.Kind.zeroValue()
		}
		prog, err := expr.Compile(p.src, expr.Env(env), expr.AsBool())
		if err != nil {
			return &SchemaError{Detail: fmt.Sprintf("filter expression %q: %v", p.src, err)}
		}
		p.prog = prog
		return nil
	}
	return fmt.Errorf("unknown predicate kind %d", p.kind)
}

func checkComparable(k Kind, value any) error {
	switch k {
	case KindFloat, KindInt:
		switch value.(type) {
		case float64, int64, int:
			return nil
		}
	case KindString:
		if _, ok := value.(string); ok {
			return nil
		}
	case KindBool:
		if _, ok := value.(bool); ok {
			return nil
		}
	case KindTime:
		if _, ok := value.(time.Time); ok {
			return nil
		}
	}
	return fmt.Errorf("value %v (%T) not comparable to %s column", value, value, k)
}

// eval applies the predicate to one row. Conditions on nil cells are false
// (except isnull); this matches how flagged/missing samples drop out of
// filtered plant data.
func (p *Predicate) eval(row []any, s Schema) (bool, error) {
	switch p.kind {
	case predCond:
		return evalCond(row[s.Index(p.col)], p.op, p.value)
	case predAnd:
		for _, sub := range p.subs {
			ok, err := sub.eval(row, s)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case predOr:
		for _, sub := range p.subs {
			ok, err := sub.eval(row, s)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case predNot:
		ok, err := p.subs[0].eval(row, s)
		return !ok, err
	case predExpr:
		env := make(map[string]any, len(s))
		for i, c := range s {
			env[c.Name] = row[i]
		}
		out, err := vm.Run(p.prog, env)
		if err != nil {
			return false, fmt.Errorf("filter expression %q: %w", p.src, err)
		}
		b, _ := out.(bool)
		return b, nil
	}
	return false, fmt.Errorf("unknown predicate kind %d", p.kind)
}

func evalCond(cell any, op Op, value any) (bool, error) {
	switch op {
	case OpNotNull:
		return cell != nil, nil
	case OpIsNull:
		return cell == nil, nil
	}
	if cell == nil {
		return false, nil
	}
	if op == OpIn {
		return evalIn(cell, value)
	}
	c, err := compareCells(cell, value)
	if err != nil {
		return false, err
	}
	switch op {
	case OpEq:
		return c == 0, nil
	case OpNe:
		return c != 0, nil
	case OpLt:
		return c < 0, nil
	case OpLe:
		return c <= 0, nil
	case OpGt:
		return c > 0, nil
	case OpGe:
		return c >= 0, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

func evalIn(cell, value any) (bool, error) {
	switch set := value.(type) {
	case []string:
		for _, v := range set {
			if cell == v {
				return true, nil
			}
		}
		return false, nil
	case []any:
		for _, v := range set {
			c, err := compareCells(cell, v)
			if err == nil && c == 0 {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("in operator requires a slice value, got %T", value)
}

// compareCells orders two cells of compatible kinds: -1, 0, or 1.
// Numeric kinds compare after widening to float64.
func compareCells(a, b any) (int, error) {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		if !bok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		}
		return 0, nil
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		return strings.Compare(av, bv), nil
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		switch {
		case av == bv:
			return 0, nil
		case !av:
			return -1, nil
		}
		return 1, nil
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		return av.Compare(bv), nil
	}
	return 0, fmt.Errorf("cannot compare %T with %T", a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// String renders the predicate for provenance logs.
func (p *Predicate) String() string {
	switch p.kind {
	case predCond:
		return fmt.Sprintf("%s %s %v", p.col, p.op, p.value)
	case predAnd:
		return "(" + joinPreds(p.subs, " && ") + ")"
	case predOr:
		return "(" + joinPreds(p.subs, " || ") + ")"
	case predNot:
		return "!(" + p.subs[0].String() + ")"
	case predExpr:
		return p.src
	}
	return "?"
}

func joinPreds(ps []*Predicate, sep string) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return strings.Join(parts, sep)
}
