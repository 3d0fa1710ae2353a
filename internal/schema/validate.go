package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"promptloop/internal/util/jsonutil"
)

// ErrorKind classifies a field error.
type ErrorKind string

const (
	ErrMissing      ErrorKind = "missing"
	ErrTypeMismatch ErrorKind = "type_mismatch"
)

// FieldError describes one failed check.
type FieldError struct {
	Path     string    `json:"path"`
	Kind     ErrorKind `json:"kind"`
	Expected Kind      `json:"expected,omitempty"`
	Actual   string    `json:"actual,omitempty"`
}

func (e FieldError) String() string {
	if e.Kind == ErrMissing {
		return fmt.Sprintf("%s: missing required field", e.Path)
	}
	return fmt.Sprintf("%s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// ValidationError carries every field error found in one validation pass.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.String()
	}
	return "schema: validation failed: " + strings.Join(parts, "; ")
}

// Validate checks value against s. All errors are collected before
// returning; on any error no record is returned.
func Validate(value any, s *Schema) (Record, error) {
	if s == nil {
		return nil, fmt.Errorf("schema: nil schema")
	}
	var errs []FieldError
	obj, ok := value.(map[string]any)
	if !ok {
		errs = append(errs, FieldError{Path: "$", Kind: ErrTypeMismatch, Expected: KindObject, Actual: kindName(value)})
		return nil, &ValidationError{Errors: errs}
	}
	rec := validateObject("", obj, s.Fields, &errs)
	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return rec, nil
}

// Decode validates value and maps the resulting record onto out.
func Decode(value any, s *Schema, out any) error {
	rec, err := Validate(value, s)
	if err != nil {
		return err
	}
	return jsonutil.Decode(map[string]any(rec), out)
}

func validateObject(prefix string, obj map[string]any, fields []Field, errs *[]FieldError) Record {
	rec := make(Record, len(fields))
	for _, f := range fields {
		path := joinPath(prefix, f.Name)
		v, present := obj[f.Name]
		if present && v == nil && !f.Required {
			present = false
		}
		if !present {
			if f.Required {
				*errs = append(*errs, FieldError{Path: path, Kind: ErrMissing, Expected: kindOrAny(f.Kind)})
				continue
			}
			if f.Default != nil {
				rec[f.Name] = f.Default
			}
			continue
		}
		if out, ok := validateValue(path, v, f, errs); ok {
			rec[f.Name] = out
		}
	}
	return rec
}

func validateValue(path string, v any, f Field, errs *[]FieldError) (any, bool) {
	mismatch := func() (any, bool) {
		*errs = append(*errs, FieldError{Path: path, Kind: ErrTypeMismatch, Expected: kindOrAny(f.Kind), Actual: kindName(v)})
		return nil, false
	}
	switch kindOrAny(f.Kind) {
	case KindAny:
		return v, true
	case KindString:
		if s, ok := v.(string); ok {
			return s, true
		}
		return mismatch()
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, true
		}
		return mismatch()
	case KindInt:
		if n, ok := asInt(v); ok {
			return n, true
		}
		return mismatch()
	case KindFloat:
		if n, ok := asFloat(v); ok {
			return n, true
		}
		return mismatch()
	case KindObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return mismatch()
		}
		if len(f.Fields) == 0 {
			return obj, true
		}
		before := len(*errs)
		rec := validateObject(path, obj, f.Fields, errs)
		return rec, len(*errs) == before
	case KindArray:
		items, ok := v.([]any)
		if !ok {
			return mismatch()
		}
		if f.Items == nil {
			return items, true
		}
		before := len(*errs)
		out := make([]any, len(items))
		for i, item := range items {
			itemPath := fmt.Sprintf("%s[%d]", path, i)
			if item == nil && f.Items.Required {
				*errs = append(*errs, FieldError{Path: itemPath, Kind: ErrTypeMismatch, Expected: kindOrAny(f.Items.Kind), Actual: "null"})
				continue
			}
			if val, ok := validateValue(itemPath, item, *f.Items, errs); ok {
				out[i] = val
			}
		}
		return out, len(*errs) == before
	}
	return mismatch()
}

func kindOrAny(k Kind) Kind {
	if k == "" {
		return KindAny
	}
	return k
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n >= 1<<63 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func kindName(v any) string {
	switch n := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case float64:
		if n == math.Trunc(n) {
			return "int"
		}
		return "float"
	case int, int64:
		return "int"
	case json.Number:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	return fmt.Sprintf("%T", v)
}

// PassingFields counts the top-level fields of s that no error in verr
// refers to. A root error fails every field.
func PassingFields(s *Schema, verr *ValidationError) int {
	bad := make(map[string]bool)
	for _, fe := range verr.Errors {
		head := fe.Path
		if i := strings.IndexAny(head, ".["); i >= 0 {
			head = head[:i]
		}
		bad[head] = true
	}
	if bad["$"] {
		return 0
	}
	n := 0
	for _, f := range s.Fields {
		if !bad[f.Name] {
			n++
		}
	}
	return n
}
