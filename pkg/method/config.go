package method

import (
	"fmt"
	"sort"
)

// ParamKind is the declared type of one configuration parameter.
type ParamKind string

const (
	ParamBool   ParamKind = "bool"
	ParamInt    ParamKind = "int"
	ParamFloat  ParamKind = "float"
	ParamString ParamKind = "string"
)

// ParamSpec declares one recognized configuration parameter: its type,
// default, and validity constraints. A parameter without a default and
// with Required set must be supplied or validation fails.
type ParamSpec struct {
	Kind     ParamKind
	Doc      string
	Required bool
	Default  any

	// Min/Max bound numeric parameters (inclusive); nil means unbounded.
	Min *float64
	Max *float64

	// OneOf enumerates valid string values; empty means unrestricted.
	OneOf []string
}

// ConfigSchema maps parameter names to their specs. Unrecognized keys in a
// supplied configuration are rejected rather than ignored.
type ConfigSchema map[string]ParamSpec

// Resolve validates the supplied values against the schema and returns the
// full configuration with defaults applied. Every failure is a
// ConfigValidationError raised here, synchronously, before any method
// logic runs.
func (cs ConfigSchema) Resolve(values map[string]any) (map[string]any, error) {
	for key := range values {
		if _, ok := cs[key]; !ok {
			return nil, &ConfigValidationError{Param: key, Detail: "unrecognized parameter"}
		}
	}

	resolved := make(map[string]any, len(cs))
	for _, key := range cs.sortedKeys() {
		spec := cs[key]
		v, supplied := values[key]
		if !supplied {
			if spec.Default != nil {
				resolved[key] = spec.Default
				continue
			}
			if spec.Required {
				return nil, &ConfigValidationError{Param: key, Detail: "required and no default"}
			}
			continue
		}
		norm, err := spec.check(key, v)
		if err != nil {
			return nil, err
		}
		resolved[key] = norm
	}
	return resolved, nil
}

func (cs ConfigSchema) sortedKeys() []string {
	keys := make([]string, 0, len(cs))
	for k := range cs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// check validates one supplied value and normalizes numerics (ints widen
// to int64, floats to float64).
func (s ParamSpec) check(key string, v any) (any, error) {
	switch s.Kind {
	case ParamBool:
		b, ok := v.(bool)
		if !ok {
			return nil, &ConfigValidationError{Param: key, Detail: fmt.Sprintf("got %T, want bool", v)}
		}
		return b, nil
	case ParamString:
		str, ok := v.(string)
		if !ok {
			return nil, &ConfigValidationError{Param: key, Detail: fmt.Sprintf("got %T, want string", v)}
		}
		if len(s.OneOf) > 0 && !containsString(s.OneOf, str) {
			return nil, &ConfigValidationError{Param: key,
				Detail: fmt.Sprintf("%q not in %v", str, s.OneOf)}
		}
		return str, nil
	case ParamInt:
		var n int64
		switch i := v.(type) {
		case int:
			n = int64(i)
		case int64:
			n = i
		default:
			return nil, &ConfigValidationError{Param: key, Detail: fmt.Sprintf("got %T, want int", v)}
		}
		if err := s.checkRange(key, float64(n)); err != nil {
			return nil, err
		}
		return n, nil
	case ParamFloat:
		var f float64
		switch x := v.(type) {
		case float64:
			f = x
		case int:
			f = float64(x)
		case int64:
			f = float64(x)
		default:
			return nil, &ConfigValidationError{Param: key, Detail: fmt.Sprintf("got %T, want float", v)}
		}
		if err := s.checkRange(key, f); err != nil {
			return nil, err
		}
		return f, nil
	}
	return nil, &ConfigValidationError{Param: key, Detail: fmt.Sprintf("unknown parameter kind %q", s.Kind)}
}

func (s ParamSpec) checkRange(key string, f float64) error {
	if s.Min != nil && f < *s.Min {
		return &ConfigValidationError{Param: key, Detail: fmt.Sprintf("%v below minimum %v", f, *s.Min)}
	}
	if s.Max != nil && f > *s.Max {
		return &ConfigValidationError{Param: key, Detail: fmt.Sprintf("%v above maximum %v", f, *s.Max)}
	}
	return nil
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// FloatPtr is a convenience for Min/Max bounds in schema literals.
func FloatPtr(f float64) *float64 { return &f }
