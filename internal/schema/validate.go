package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
)

// Violation is one structural mismatch at a location in the value.
type Violation struct {
	Path    string
	Message string
}

func (v Violation) String() string {
	return v.Path + ": " + v.Message
}

// ValidationError lists every violation found in a value.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "schema validation failed: " + strings.Join(parts, "; ")
}

// Validate checks v against s. It returns nil or a *ValidationError.
//
// Only declared structure is checked: object keys that are absent from the
// value are not flagged, and "required" is not enforced.
func Validate(s Schema, v any) error {
	var violations []Violation
	validate(s, v, "$", &violations)
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

func validate(s Schema, v any, path string, out *[]Violation) {
	switch s.Kind() {
	case KindArray:
		elems, ok := sequence(v)
		if !ok {
			*out = append(*out, Violation{path, fmt.Sprintf("expected array, got %s", describe(v))})
			return
		}
		items, ok := s.Items()
		if !ok {
			return
		}
		for i, elem := range elems {
			validate(items, elem, fmt.Sprintf("%s[%d]", path, i), out)
		}
	case KindObject:
		fields, ok := mapping(v)
		if !ok {
			*out = append(*out, Violation{path, fmt.Sprintf("expected object, got %s", describe(v))})
			return
		}
		props := s.Properties()
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if val, present := fields[name]; present {
				validate(props[name], val, path+"."+name, out)
			}
		}
	case KindString:
		if _, ok := v.(string); !ok {
			*out = append(*out, Violation{path, fmt.Sprintf("expected string, got %s", describe(v))})
		}
	case KindInteger:
		if !isInteger(v) {
			*out = append(*out, Violation{path, fmt.Sprintf("expected integer, got %s", describe(v))})
		}
	case KindNumber:
		if !isNumber(v) {
			*out = append(*out, Violation{path, fmt.Sprintf("expected number, got %s", describe(v))})
		}
	case KindBoolean:
		if _, ok := v.(bool); !ok {
			*out = append(*out, Violation{path, fmt.Sprintf("expected boolean, got %s", describe(v))})
		}
	case KindNull:
		if v != nil {
			*out = append(*out, Violation{path, fmt.Sprintf("expected null, got %s", describe(v))})
		}
	}
}

func sequence(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func mapping(v any) (map[string]any, bool) {
	if v == nil {
		return nil, false
	}
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

func isInteger(v any) bool {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return !math.IsInf(n, 0) && n == math.Trunc(n)
	case float32:
		f := float64(n)
		return !math.IsInf(f, 0) && f == math.Trunc(f)
	case json.Number:
		_, err := n.Int64()
		return err == nil
	default:
		return false
	}
}

func isNumber(v any) bool {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	case json.Number:
		_, err := n.Float64()
		return err == nil
	default:
		return false
	}
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "number"
	}
	if _, ok := sequence(v); ok {
		return "array"
	}
	if _, ok := mapping(v); ok {
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
