package refine

import (
	"fmt"
	"strings"

	"promptloop/internal/prompt"
)

// Templates renders the prompts sent to the provider.
type Templates interface {
	Initial(task Task) (string, error)
	Refinement(task Task, artifact, feedback string) (string, error)
}

// CodeTemplates asks for a single Go function in a fenced block.
type CodeTemplates struct {
	// Packages lists the imports the candidate may use.
	Packages []string
}

func (t CodeTemplates) base(task Task) prompt.Structured {
	constraints := []string{
		fmt.Sprintf("Define a top-level function named %s.", task.FunctionName),
		`Signal failures by returning an error whose message starts with a one-word kind, e.g. "ValueError: ...".`,
	}
	if len(t.Packages) > 0 {
		constraints = append(constraints, "Import only: "+strings.Join(t.Packages, ", ")+".")
	}
	return prompt.Apply(prompt.Structured{
		Purpose:      "Write a Go function that solves the task.",
		Background:   task.Description,
		Constraints:  constraints,
		OutputFormat: "Reply with one ```go fenced block containing the complete source file.",
	}, prompt.PresetGoSource())
}

func (t CodeTemplates) Initial(task Task) (string, error) {
	return t.base(task).Render(caseTable(task))
}

func (t CodeTemplates) Refinement(task Task, artifact, feedback string) (string, error) {
	s := t.base(task)
	s.Purpose = "Fix the Go function so every test case passes."
	return s.Render(caseTable(task),
		prompt.Section{Title: "CURRENT_CODE", Body: artifact},
		prompt.Section{Title: "TEST_RESULTS", Body: feedback},
	)
}

func caseTable(task Task) any {
	if len(task.Cases) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(task.Cases))
	for _, tc := range task.Cases {
		row := map[string]any{"id": tc.ID, "inputs": tc.Inputs}
		if tc.ExpectedError != "" {
			row["expected_error"] = tc.ExpectedError
		} else {
			row["expected"] = tc.Expected
		}
		rows = append(rows, row)
	}
	return map[string]any{"test_cases": rows}
}

// ObjectTemplates asks for a JSON object matching the task schema.
type ObjectTemplates struct {
	// Marker introduces the final answer; defaults to the extractor's marker.
	Marker string
}

func (t ObjectTemplates) base(task Task) (prompt.Structured, error) {
	if task.Schema == nil {
		return prompt.Structured{}, fmt.Errorf("refine: task %q has no schema", task.Name)
	}
	marker := t.Marker
	if marker == "" {
		marker = "FINAL OUTPUT:"
	}
	return prompt.Apply(prompt.Structured{
		Purpose:      "Produce a JSON object with the fields listed under OUTPUT.",
		Background:   task.Description,
		OutputFields: task.Schema.Fields,
		Rules:        []string{"Use JSON types exactly as listed.", "Include every required field."},
		OutputFormat: fmt.Sprintf("Think first if needed, then write %q followed by one ```json fenced block.", marker),
	}, prompt.PresetFencedJSON(marker), prompt.PresetNoInvent(), prompt.PresetCautious()), nil
}

func (t ObjectTemplates) Initial(task Task) (string, error) {
	s, err := t.base(task)
	if err != nil {
		return "", err
	}
	return s.Render(task.Input)
}

func (t ObjectTemplates) Refinement(task Task, artifact, feedback string) (string, error) {
	s, err := t.base(task)
	if err != nil {
		return "", err
	}
	s.Purpose = "Correct the previous answer so it satisfies every field under OUTPUT."
	return s.Render(task.Input,
		prompt.Section{Title: "PREVIOUS_ANSWER", Body: artifact},
		prompt.Section{Title: "VALIDATION", Body: feedback},
	)
}

// TextTemplates asks for free text that a judge grades against the task's
// criteria. Input, when set, is the material the text is written from.
type TextTemplates struct{}

func (TextTemplates) base(task Task) prompt.Structured {
	return prompt.Structured{
		Purpose:     task.Description,
		Constraints: task.Criteria,
		Rules:       []string{"Reply with the text only, without preamble."},
	}
}

func (t TextTemplates) Initial(task Task) (string, error) {
	return t.base(task).Render(task.Input)
}

func (t TextTemplates) Refinement(task Task, artifact, feedback string) (string, error) {
	s := t.base(task)
	s.Rules = append(s.Rules, "Rewrite the previous answer so it addresses every point under REVIEW.")
	return s.Render(task.Input,
		prompt.Section{Title: "PREVIOUS_ANSWER", Body: artifact},
		prompt.Section{Title: "REVIEW", Body: feedback},
	)
}
