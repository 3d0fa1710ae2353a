package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// MarshalNoEscape encodes v into JSON without escaping <, >, & into \u003c, etc.
// Object keys come out sorted, which makes the output canonical for
// values built from maps.
func MarshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Remove trailing newline from json.Encoder.Encode
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Compact renders v as a single-line JSON string. Values that cannot be
// encoded fall back to their Go syntax representation.
func Compact(v any) string {
	b, err := MarshalNoEscape(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// Normalize round-trips v through JSON so that values of different Go types
// with the same JSON form (int 6, float64 6, json.Number "6") compare equal.
func Normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Equal reports whether a and b have the same JSON value.
func Equal(a, b any) bool {
	na, err := Normalize(a)
	if err != nil {
		return false
	}
	nb, err := Normalize(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

// Decode converts a JSON-like value (maps, slices, scalars) into out by
// re-encoding it.
func Decode(v any, out any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
