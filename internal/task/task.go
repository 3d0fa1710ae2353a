// Package task loads refinement tasks from YAML files.
package task

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"promptloop/internal/refine"
	"promptloop/internal/sandbox"
	"promptloop/internal/schema"
)

// Task kinds.
const (
	KindCode   = "code"
	KindObject = "object"
	KindText   = "text"
)

var validate = validator.New()

// File is the on-disk form of a task.
//
// A code task names the function to generate and the cases it must pass:
//
//	name: abs
//	kind: code
//	description: Return the absolute value of x.
//	function: Abs
//	cases:
//	  - id: "1"
//	    inputs: [-3]
//	    expected: 3
//
// An object task carries the schema of the expected answer and the input
// the model should read. A text task lists the criteria a judge model
// checks the answer against.
type File struct {
	Name          string             `yaml:"name" validate:"required"`
	Kind          string             `yaml:"kind" validate:"required,oneof=code object text"`
	Description   string             `yaml:"description" validate:"required"`
	Function      string             `yaml:"function" validate:"required_if=Kind code"`
	MaxIterations int                `yaml:"max_iterations" validate:"omitempty,min=1,max=20"`
	Cases         []sandbox.TestCase `yaml:"cases" validate:"required_if=Kind code,dive"`
	Schema        *schema.Schema     `yaml:"schema" validate:"required_if=Kind object"`
	Input         any                `yaml:"input"`
	Criteria      []string           `yaml:"criteria" validate:"required_if=Kind text,dive,required"`
	Persona       string             `yaml:"persona"`
}

// Parse decodes and validates a task document.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("task: decode: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Load reads and parses the task file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("task: read %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Validate checks required fields and, when present, the schema.
func (f *File) Validate() error {
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("task: invalid: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("task: invalid: %w", err)
	}
	if f.Schema != nil {
		if err := f.Schema.Check(); err != nil {
			return fmt.Errorf("task: %w", err)
		}
	}
	seen := make(map[string]struct{}, len(f.Cases))
	for _, c := range f.Cases {
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("task: duplicate case id %q", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

// Refine converts the file into the controller's task.
func (f *File) Refine() refine.Task {
	return refine.Task{
		Name:         f.Name,
		Description:  strings.TrimSpace(f.Description),
		FunctionName: f.Function,
		Cases:        normalizeCases(f.Cases),
		Schema:       f.Schema,
		Input:        normalize(f.Input),
		Criteria:     f.Criteria,
		Persona:      f.Persona,
	}
}

// normalizeCases rewrites YAML-decoded values into their JSON shape so
// candidate arguments and expectations compare the same way decoded JSON does.
func normalizeCases(cases []sandbox.TestCase) []sandbox.TestCase {
	if cases == nil {
		return nil
	}
	out := make([]sandbox.TestCase, len(cases))
	for i, c := range cases {
		out[i] = c
		if c.Inputs != nil {
			out[i].Inputs = make([]any, len(c.Inputs))
			for j, in := range c.Inputs {
				out[i].Inputs[j] = normalize(in)
			}
		}
		out[i].Expected = normalize(c.Expected)
	}
	return out
}

// normalize converts yaml.v3 scalars and maps to the types encoding/json
// produces: float64 numbers and string-keyed maps.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}

// MaxIterationsOr returns the file's budget or fallback when unset.
func (f *File) MaxIterationsOr(fallback int) int {
	if f.MaxIterations > 0 {
		return f.MaxIterations
	}
	return fallback
}
