package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// FieldOptions controls how struct fields map to schema fields.
type FieldOptions struct {
	NameTag         string
	DescTag         string
	DefaultTag      string
	PromptTag       string
	RequiredDefault bool
}

// DefaultFieldOptions returns the standard tag mapping.
func DefaultFieldOptions() FieldOptions {
	return FieldOptions{
		NameTag:         "json",
		DescTag:         "prompt_desc",
		DefaultTag:      "prompt_default",
		PromptTag:       "prompt",
		RequiredDefault: true,
	}
}

// FromStruct builds a schema from a Go struct using tags. Nested structs
// become object fields and slices become array fields.
func FromStruct(v any, opts ...FieldOptions) (*Schema, error) {
	if v == nil {
		return nil, fmt.Errorf("schema: struct is nil")
	}
	cfg := DefaultFieldOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}
	t := deref(reflect.TypeOf(v))
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema: expected struct, got %s", t.Kind())
	}
	fields, err := structFields(t, cfg, map[reflect.Type]bool{})
	if err != nil {
		return nil, err
	}
	return &Schema{Name: t.Name(), Fields: fields}, nil
}

// MustFromStruct panics on error; useful for package-level schema literals.
func MustFromStruct(v any, opts ...FieldOptions) *Schema {
	s, err := FromStruct(v, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

func structFields(t reflect.Type, cfg FieldOptions, visiting map[reflect.Type]bool) ([]Field, error) {
	if visiting[t] {
		return nil, fmt.Errorf("schema: recursive type %s", t)
	}
	visiting[t] = true
	defer delete(visiting, t)

	fields := make([]Field, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || shouldSkipField(f, cfg.PromptTag) {
			continue
		}
		name := fieldName(f, cfg.NameTag)
		if name == "" {
			continue
		}
		required := cfg.RequiredDefault
		if r, ok := requiredOverride(f, cfg.PromptTag); ok {
			required = r
		}
		field, err := fieldFor(f.Type, cfg, visiting)
		if err != nil {
			return nil, err
		}
		field.Name = name
		field.Required = required
		field.Description = strings.TrimSpace(f.Tag.Get(cfg.DescTag))
		if raw, ok := f.Tag.Lookup(cfg.DefaultTag); ok {
			field.Default = parseDefault(raw, field.Kind)
		}
		fields = append(fields, field)
	}
	return fields, nil
}

func fieldFor(t reflect.Type, cfg FieldOptions, visiting map[reflect.Type]bool) (Field, error) {
	t = deref(t)
	switch t.Kind() {
	case reflect.String:
		return Field{Kind: KindString}, nil
	case reflect.Bool:
		return Field{Kind: KindBool}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Field{Kind: KindInt}, nil
	case reflect.Float32, reflect.Float64:
		return Field{Kind: KindFloat}, nil
	case reflect.Slice, reflect.Array:
		item, err := fieldFor(t.Elem(), cfg, visiting)
		if err != nil {
			return Field{}, err
		}
		item.Required = true
		return Field{Kind: KindArray, Items: &item}, nil
	case reflect.Map:
		return Field{Kind: KindObject}, nil
	case reflect.Struct:
		nested, err := structFields(t, cfg, visiting)
		if err != nil {
			return Field{}, err
		}
		return Field{Kind: KindObject, Fields: nested}, nil
	default:
		return Field{Kind: KindAny}, nil
	}
}

func parseDefault(raw string, kind Kind) any {
	if kind == KindString {
		return raw
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	if kind == KindInt {
		if n, ok := asInt(v); ok {
			return n
		}
	}
	return v
}

func deref(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func shouldSkipField(f reflect.StructField, promptTag string) bool {
	for _, part := range tagParts(f, promptTag) {
		if part == "-" || part == "omit" {
			return true
		}
	}
	return false
}

func requiredOverride(f reflect.StructField, promptTag string) (bool, bool) {
	for _, part := range tagParts(f, promptTag) {
		switch part {
		case "required":
			return true, true
		case "optional":
			return false, true
		}
	}
	return false, false
}

func tagParts(f reflect.StructField, tag string) []string {
	raw := strings.TrimSpace(f.Tag.Get(tag))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func fieldName(f reflect.StructField, nameTag string) string {
	tag := strings.TrimSpace(f.Tag.Get(nameTag))
	if tag != "" {
		name := strings.Split(tag, ",")[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return toSnake(f.Name)
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := rune(s[i-1])
			next := rune(0)
			if i+1 < len(s) {
				next = rune(s[i+1])
			}
			if prev >= 'a' && prev <= 'z' || (next >= 'a' && next <= 'z') {
				b.WriteByte('_')
			}
		}
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
