// Package schema validates extracted JSON values against declared field
// schemas and produces typed records.
package schema

import (
	"fmt"
	"strings"
)

// Kind is the expected JSON kind of a field.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindObject Kind = "object"
	KindArray  Kind = "array"
	KindAny    Kind = "any"
)

func (k Kind) valid() bool {
	switch k {
	case KindString, KindInt, KindFloat, KindBool, KindObject, KindArray, KindAny:
		return true
	}
	return false
}

// Field declares one named field. Object fields carry their nested fields in
// Fields; array fields describe their elements with Items.
type Field struct {
	Name        string  `json:"name" yaml:"name"`
	Kind        Kind    `json:"type" yaml:"type"`
	Required    bool    `json:"required,omitempty" yaml:"required"`
	Default     any     `json:"default,omitempty" yaml:"default"`
	Description string  `json:"description,omitempty" yaml:"description"`
	Fields      []Field `json:"fields,omitempty" yaml:"fields"`
	Items       *Field  `json:"items,omitempty" yaml:"items"`
}

// Schema is an ordered list of fields describing a JSON object.
type Schema struct {
	Name   string  `json:"name,omitempty" yaml:"name"`
	Fields []Field `json:"fields" yaml:"fields"`
}

// Record is a validated object containing exactly the declared fields that
// were present or defaulted.
type Record map[string]any

// Check reports structural problems in the schema itself (empty names,
// unknown kinds, duplicate fields).
func (s *Schema) Check() error {
	if s == nil {
		return fmt.Errorf("schema: nil schema")
	}
	var problems []string
	checkFields("", s.Fields, &problems)
	if len(problems) > 0 {
		return fmt.Errorf("schema: %s", strings.Join(problems, "; "))
	}
	return nil
}

func checkFields(prefix string, fields []Field, problems *[]string) {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		path := joinPath(prefix, f.Name)
		if strings.TrimSpace(f.Name) == "" {
			*problems = append(*problems, fmt.Sprintf("%s: empty field name", orRoot(prefix)))
			continue
		}
		if seen[f.Name] {
			*problems = append(*problems, fmt.Sprintf("%s: duplicate field", path))
		}
		seen[f.Name] = true
		checkField(path, f, problems)
	}
}

func checkField(path string, f Field, problems *[]string) {
	if f.Kind == "" {
		f.Kind = KindAny
	}
	if !f.Kind.valid() {
		*problems = append(*problems, fmt.Sprintf("%s: unknown type %q", path, f.Kind))
		return
	}
	switch f.Kind {
	case KindObject:
		checkFields(path, f.Fields, problems)
	case KindArray:
		if f.Items != nil {
			checkField(path+"[]", *f.Items, problems)
		}
	}
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func orRoot(path string) string {
	if path == "" {
		return "$"
	}
	return path
}
