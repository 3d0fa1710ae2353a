package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptloop/internal/config"
	"promptloop/internal/llm"
)

const absTask = `
name: abs
kind: code
description: Return the absolute value of x.
function: Abs
cases:
  - {id: "1", inputs: [3], expected: 3}
  - {id: "2", inputs: [-4], expected: 4}
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, a *app, stdin string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "promptloop.yaml", "logging:\n  level: error\n")
	root := newRootCmd(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExtractCommand(t *testing.T) {
	out, err := execute(t, &app{}, "Thinking...\nFINAL OUTPUT:\n```json\n{\"a\": 1}\n```\n", "extract")
	require.NoError(t, err)
	var got struct {
		Found bool           `json:"found"`
		Value map[string]any `json:"value"`
		Path  []string       `json:"path"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.Found)
	assert.Equal(t, map[string]any{"a": 1.0}, got.Value)
	assert.NotEmpty(t, got.Path)

	_, err = execute(t, &app{}, "no json at all", "extract")
	assert.ErrorIs(t, err, errReported)
}

func TestValidateCommand(t *testing.T) {
	schemaPath := writeFile(t, t.TempDir(), "user.yaml", "fields:\n  - {name: user_id, type: int, required: true}\n  - {name: name, type: string}\n")

	out, err := execute(t, &app{}, `{"user_id": 7}`, "validate", "--schema", schemaPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id": 7}`, out)

	out, err = execute(t, &app{}, `{"username": "a"}`, "validate", "--schema", schemaPath)
	assert.ErrorIs(t, err, errReported)
	assert.Equal(t, "1 passed, 1 failed\n- user_id: missing required field\n", out)

	out, err = execute(t, &app{}, `nope`, "validate", "--schema", schemaPath)
	assert.ErrorIs(t, err, errReported)
	assert.True(t, strings.HasPrefix(out, "parse_error: json parse failed"))
}

func TestTestCommand(t *testing.T) {
	dir := t.TempDir()
	taskPath := writeFile(t, dir, "abs.yaml", absTask)
	wrong := writeFile(t, dir, "wrong.go", "package main\n\nfunc Abs(x int) int { return x }\n")
	right := writeFile(t, dir, "right.md", "Here:\n```go\nfunc Abs(x int) int {\n\tif x < 0 {\n\t\treturn -x\n\t}\n\treturn x\n}\n```\n")

	out, err := execute(t, &app{}, "", "test", "--task", taskPath, "--code", wrong)
	assert.ErrorIs(t, err, errReported)
	assert.Equal(t, "1 passed, 1 failed\n\nTest 2\n  inputs: [-4]\n  expected: 4\n  actual: -4\n", out)

	out, err = execute(t, &app{}, "", "test", "--task", taskPath, "--code", right)
	require.NoError(t, err)
	assert.Equal(t, "2 passed, 0 failed\n", out)
}

func TestRefineCommand(t *testing.T) {
	dir := t.TempDir()
	taskPath := writeFile(t, dir, "abs.yaml", absTask)
	auditPath := filepath.Join(dir, "audit.jsonl")
	t.Setenv("PROMPTLOOP_AUDIT_KIND", "file")
	t.Setenv("PROMPTLOOP_AUDIT_PATH", auditPath)

	fake := llm.NewFakeProvider(llm.Texts(
		"```go\nfunc Abs(x int) int { return x }\n```",
		"```go\nfunc Abs(x int) int {\n\tif x < 0 {\n\t\treturn -x\n\t}\n\treturn x\n}\n```",
	)...)
	a := &app{newProvider: func(context.Context, *config.Config, zerolog.Logger) (llm.Provider, error) {
		return fake, nil
	}}

	out, err := execute(t, a, "", "refine", "--task", taskPath)
	require.NoError(t, err)
	var got struct {
		Status         string `json:"status"`
		IterationsUsed int    `json:"iterations_used"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "success", got.Status)
	assert.Equal(t, 2, got.IterationsUsed)
	assert.Equal(t, 2, fake.Calls())

	data, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 3)
}

const summaryTask = `
name: summary
kind: text
description: Summarize the quarterly report for investors.
criteria:
  - No guarantees of future returns.
input: "Revenue grew 12%."
`

func TestRefineCommand_TextTaskJudged(t *testing.T) {
	taskPath := writeFile(t, t.TempDir(), "summary.yaml", summaryTask)
	fake := llm.NewFakeProvider(llm.Texts(
		"Returns are guaranteed to double.",
		"FINAL OUTPUT:\n```json\n{\"approved\": false, \"feedback\": \"Drop the guarantee.\"}\n```",
		"Revenue grew 12%; results may vary.",
		"FINAL OUTPUT:\n```json\n{\"approved\": true}\n```",
	)...)
	a := &app{newProvider: func(context.Context, *config.Config, zerolog.Logger) (llm.Provider, error) {
		return fake, nil
	}}

	out, err := execute(t, a, "", "refine", "--task", taskPath)
	require.NoError(t, err)
	var got struct {
		Status   string `json:"status"`
		Artifact string `json:"artifact"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "success", got.Status)
	assert.Equal(t, "Revenue grew 12%; results may vary.", got.Artifact)
	assert.Equal(t, 4, fake.Calls())
	assert.Contains(t, fake.Requests()[2].Messages[0].Content, "Drop the guarantee.")
}
