package llmtool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"promptloop/internal/schema"
)

// ToolErrorKind classifies tool failures.
type ToolErrorKind string

const (
	InvalidArguments ToolErrorKind = "invalid_arguments"
	ExecutionFailure ToolErrorKind = "execution_failure"
	NotFound         ToolErrorKind = "not_found"
)

// ToolError is the typed error returned by Registry.Call.
type ToolError struct {
	Kind ToolErrorKind
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("llmtool: %s: %s", e.Tool, e.Kind)
	}
	return fmt.Sprintf("llmtool: %s: %s: %v", e.Tool, e.Kind, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// ExecFunc runs a tool with decoded arguments.
type ExecFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool is a named executor. When Parameters is set, arguments are validated
// against it before Exec is called and Exec receives the validated record.
type Tool struct {
	Name        string
	Description string
	Parameters  *schema.Schema
	Exec        ExecFunc
}

// Registry maps tool names to tools, keeping registration order.
type Registry struct {
	tools map[string]Tool
	order []string
}

var ErrDuplicateTool = errors.New("llmtool: duplicate tool")

// NewRegistry registers tools in order.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustRegistry panics on error; useful for fixed tool sets.
func MustRegistry(tools ...Tool) *Registry {
	r, err := NewRegistry(tools...)
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds t.
func (r *Registry) Register(t Tool) error {
	name := strings.TrimSpace(t.Name)
	if name == "" || t.Exec == nil {
		return fmt.Errorf("llmtool: tool needs a name and an executor")
	}
	if r.tools == nil {
		r.tools = make(map[string]Tool)
	}
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	t.Name = name
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	if r == nil {
		return Tool{}, false
	}
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns the tools in registration order.
func (r *Registry) Tools() []Tool {
	if r == nil {
		return nil
	}
	out := make([]Tool, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.tools[n])
	}
	return out
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := append([]string(nil), r.order...)
	sort.Strings(out)
	return out
}

// Call validates arguments and runs the tool. Every error is a *ToolError.
func (r *Registry) Call(ctx context.Context, call ToolCall) (any, error) {
	t, ok := r.Lookup(call.Name)
	if !ok {
		return nil, &ToolError{Kind: NotFound, Tool: call.Name}
	}
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if t.Parameters != nil {
		rec, err := schema.Validate(args, t.Parameters)
		if err != nil {
			return nil, &ToolError{Kind: InvalidArguments, Tool: t.Name, Err: err}
		}
		args = rec
	}
	out, err := t.Exec(ctx, args)
	if err != nil {
		var te *ToolError
		if errors.As(err, &te) {
			if te.Tool == "" {
				te.Tool = t.Name
			}
			return nil, te
		}
		return nil, &ToolError{Kind: ExecutionFailure, Tool: t.Name, Err: err}
	}
	return out, nil
}
