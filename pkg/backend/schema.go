package backend

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the semantic type of a column. Values in a column are represented
// as: KindTime → time.Time (always UTC), KindFloat → float64, KindInt → int64,
// KindString → string, KindBool → bool. A nil cell means "missing".
type Kind int

const (
	KindTime Kind = iota
	KindFloat
	KindInt
	KindString
	KindBool
)

// String returns the lowercase name used in schema contracts and error text.
func (k Kind) String() string {
	switch k {
	case KindTime:
		return "time"
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a contract type name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "time", "timestamp":
		return KindTime, nil
	case "float", "float64", "double":
		return KindFloat, nil
	case "int", "int64", "integer":
		return KindInt, nil
	case "string", "text":
		return KindString, nil
	case "bool", "boolean":
		return KindBool, nil
	}
	return 0, fmt.Errorf("unknown column kind %q", s)
}

// Column is one entry in a Schema: a name plus its semantic type.
type Column struct {
	Name string
	Kind Kind
}

// Schema is an ordered column list. Order matters: materialized output
// preserves schema order, and schema equality is order-sensitive.
type Schema []Column

// Index returns the position of the named column, or -1.
func (s Schema) Index(name string) int {
	for i, c := range s {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Has reports whether the named column exists.
func (s Schema) Has(name string) bool { return s.Index(name) >= 0 }

// Kind returns the kind of the named column. The column must exist.
func (s Schema) Kind(name string) Kind { return s[s.Index(name)].Kind }

// Names returns the column names in schema order.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Name
	}
	return out
}

// Project returns the sub-schema for the given columns, in the given order.
// Returns a SchemaError if any column is absent.
func (s Schema) Project(cols []string) (Schema, error) {
	out := make(Schema, 0, len(cols))
	for _, name := range cols {
		i := s.Index(name)
		if i < 0 {
			return nil, &SchemaError{Column: name, Detail: "column not present"}
		}
		out = append(out, s[i])
	}
	return out, nil
}

// Equal reports order-sensitive schema equality.
func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Contains checks that every column of sub exists in s with the same kind.
// Order is not significant for containment; role contracts declare the
// columns a method needs, not the full layout of the dataset.
func (s Schema) Contains(sub Schema) error {
	for _, c := range sub {
		i := s.Index(c.Name)
		if i < 0 {
			return &SchemaError{Column: c.Name, Detail: "required column not present"}
		}
		if s[i].Kind != c.Kind {
			return &SchemaError{Column: c.Name,
				Detail: fmt.Sprintf("kind %s, want %s", s[i].Kind, c.Kind)}
		}
	}
	return nil
}

// String renders "name:kind, name:kind" for logs and errors.
func (s Schema) String() string {
	parts := make([]string, len(s))
	for i, c := range s {
		parts[i] = c.Name + ":" + c.Kind.String()
	}
	return strings.Join(parts, ", ")
}

// zeroValue returns a typed zero for expression-predicate compilation
// environments.
func (k Kind) zeroValue() any {
	switch k {
	case KindTime:
		return time.Time{}
	case KindFloat:
		return float64(0)
	case KindInt:
		return int64(0)
	case KindBool:
		return false
	default:
		return ""
	}
}
