package llmtool

import (
	"fmt"
	"strings"

	"promptloop/internal/prompt"
)

const actionFormat = `Reply with exactly one of:
Action: <tool name>
Action Input: <JSON object of arguments>
or
Final Answer: <answer>

A JSON envelope is also accepted:
{"action": "tool", "tool_name": "<name>", "arguments": {...}}
{"action": "final", "final": "<answer>"}`

// SystemPrompt renders the instructions that describe the registry's tools
// and the accepted response formats.
func SystemPrompt(purpose string, r *Registry) (string, error) {
	if len(r.Tools()) == 0 {
		return "", fmt.Errorf("llmtool: registry has no tools")
	}
	return prompt.Structured{
		Purpose: purpose,
		Rules: []string{
			"Call one tool per reply and wait for its Observation.",
			"Do not repeat a call with the same arguments; use the previous Observation instead.",
			"Give the Final Answer as soon as the observations are sufficient.",
		},
		OutputFormat: actionFormat,
	}.Render(nil, prompt.Section{Title: "TOOLS", Body: FormatTools(r)})
}

// FormatTools lists each tool with its description and parameters.
func FormatTools(r *Registry) string {
	var b strings.Builder
	for _, t := range r.Tools() {
		b.WriteString("- ")
		b.WriteString(t.Name)
		if t.Description != "" {
			b.WriteString(": ")
			b.WriteString(t.Description)
		}
		b.WriteString("\n")
		if t.Parameters != nil && len(t.Parameters.Fields) > 0 {
			for _, line := range strings.Split(prompt.FormatFields(t.Parameters.Fields), "\n") {
				b.WriteString("    ")
				b.WriteString(line)
				b.WriteString("\n")
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
