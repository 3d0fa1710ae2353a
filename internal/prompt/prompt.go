// Package prompt renders sectioned prompts of the form
//
//	[PURPOSE]
//	...
//
//	[OUTPUT]
//	- field (type, required): description
//
// Empty sections are skipped.
package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"promptloop/internal/schema"
)

// Example captures an optional input/output example.
type Example struct {
	Input  string
	Output string
}

// Section is an extra titled block appended after the standard ones.
type Section struct {
	Title string
	Body  string
}

// Structured defines the sections for a structured prompt.
type Structured struct {
	Purpose      string
	Background   string
	OutputFields []schema.Field
	Constraints  []string
	Rules        []string
	OutputFormat string
	Language     string
	Examples     []Example
}

// Render writes the prompt. input is rendered as indented JSON unless it is
// a string; nil input omits the INPUT section.
func (s Structured) Render(input any, extra ...Section) (string, error) {
	if strings.TrimSpace(s.Purpose) == "" {
		return "", fmt.Errorf("prompt: purpose is empty")
	}
	inputText, err := formatInput(input)
	if err != nil {
		return "", fmt.Errorf("prompt: encode input: %w", err)
	}

	var buf bytes.Buffer
	writeSection(&buf, "PURPOSE", s.Purpose)
	writeSection(&buf, "BACKGROUND", s.Background)
	writeSection(&buf, "INPUT", inputText)
	writeSection(&buf, "OUTPUT", FormatFields(s.OutputFields))
	writeSection(&buf, "CONSTRAINTS", FormatList(s.Constraints))
	writeSection(&buf, "RULES", FormatList(s.Rules))
	writeSection(&buf, "OUTPUT_FORMAT", s.OutputFormat)
	writeSection(&buf, "LANGUAGE", s.Language)
	for _, sec := range extra {
		writeSection(&buf, strings.ToUpper(sec.Title), sec.Body)
	}
	if len(s.Examples) > 0 {
		writeSection(&buf, "EXAMPLES", formatExamples(s.Examples))
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}

func formatInput(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// FormatFields lists schema fields one per line, nesting object fields and
// array items by indentation.
func FormatFields(fields []schema.Field) string {
	var buf strings.Builder
	writeFields(&buf, fields, "")
	return strings.TrimRight(buf.String(), "\n")
}

func writeFields(buf *strings.Builder, fields []schema.Field, indent string) {
	for _, f := range fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			continue
		}
		req := "optional"
		if f.Required {
			req = "required"
		}
		if f.Description != "" {
			fmt.Fprintf(buf, "%s- %s (%s, %s): %s\n", indent, name, typeName(f), req, f.Description)
		} else {
			fmt.Fprintf(buf, "%s- %s (%s, %s)\n", indent, name, typeName(f), req)
		}
		switch {
		case len(f.Fields) > 0:
			writeFields(buf, f.Fields, indent+"  ")
		case f.Items != nil && len(f.Items.Fields) > 0:
			writeFields(buf, f.Items.Fields, indent+"  ")
		}
	}
}

func typeName(f schema.Field) string {
	if f.Kind == "" {
		return string(schema.KindAny)
	}
	if f.Kind == schema.KindArray && f.Items != nil {
		return "[]" + typeName(*f.Items)
	}
	return string(f.Kind)
}

// FormatList renders items as a dash list, skipping blanks.
func FormatList(items []string) string {
	var buf strings.Builder
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		fmt.Fprintf(&buf, "- %s\n", item)
	}
	return strings.TrimRight(buf.String(), "\n")
}

func formatExamples(examples []Example) string {
	var buf strings.Builder
	for i, ex := range examples {
		fmt.Fprintf(&buf, "Example %d:\n", i+1)
		if strings.TrimSpace(ex.Input) != "" {
			buf.WriteString("INPUT:\n")
			buf.WriteString(ex.Input)
			if !strings.HasSuffix(ex.Input, "\n") {
				buf.WriteString("\n")
			}
		}
		if strings.TrimSpace(ex.Output) != "" {
			buf.WriteString("OUTPUT:\n")
			buf.WriteString(ex.Output)
			if !strings.HasSuffix(ex.Output, "\n") {
				buf.WriteString("\n")
			}
		}
		buf.WriteString("\n")
	}
	return strings.TrimRight(buf.String(), "\n")
}

func writeSection(buf *bytes.Buffer, title, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	buf.WriteString("[")
	buf.WriteString(title)
	buf.WriteString("]\n")
	buf.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
}
