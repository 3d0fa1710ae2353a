package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"promptloop/internal/extract"
	"promptloop/internal/prompt"
	"promptloop/internal/schema"
	"promptloop/internal/util/jsonutil"
)

// Gate checks a step's response. The returned value is stored on the
// step's Output and is visible to later prompts.
type Gate func(ctx context.Context, response string) (any, error)

// ErrNotFound is returned by SchemaGate when no structured value is found.
var ErrNotFound = errors.New("no structured output found")

// SchemaGate extracts a structured value with ex (the default extractor
// when nil), validates it against s, and then runs each check on the record.
func SchemaGate(ex *extract.Extractor, s *schema.Schema, checks ...func(schema.Record) error) Gate {
	return func(_ context.Context, response string) (any, error) {
		var res extract.Result
		if ex == nil {
			res = extract.Extract(response)
		} else {
			res = ex.Extract(response)
		}
		if !res.Found {
			detail := ""
			if n := len(res.Path); n > 0 {
				detail = res.Path[n-1]
			}
			return nil, fmt.Errorf("%w: %s", ErrNotFound, detail)
		}
		rec, err := schema.Validate(res.Value, s)
		if err != nil {
			return nil, err
		}
		for _, check := range checks {
			if err := check(rec); err != nil {
				return nil, err
			}
		}
		return rec, nil
	}
}

// NonEmpty rejects blank responses and passes the trimmed text on.
func NonEmpty(_ context.Context, response string) (any, error) {
	s := strings.TrimSpace(response)
	if s == "" {
		return nil, errors.New("empty response")
	}
	return s, nil
}

// Template returns a PromptFunc rendering a structured prompt whose INPUT
// section holds the chain input and the previous outputs keyed by step name.
func Template(p prompt.Structured) PromptFunc {
	return func(input string, prev []Output) (string, error) {
		if len(prev) == 0 {
			return p.Render(input)
		}
		data := map[string]any{"input": input}
		for _, o := range prev {
			if o.Value != nil {
				data[o.Step] = o.Value
			} else {
				data[o.Step] = o.Response
			}
		}
		return p.Render(data)
	}
}

// Describe renders outputs as compact lines, one per step.
func Describe(outputs []Output) string {
	var b strings.Builder
	for _, o := range outputs {
		b.WriteString(o.Step)
		b.WriteString(": ")
		if o.Value != nil {
			b.WriteString(jsonutil.Compact(o.Value))
		} else {
			b.WriteString(strings.TrimSpace(o.Response))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
