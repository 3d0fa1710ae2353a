package task

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptloop/internal/schema"
)

const codeTask = `
name: sum
kind: code
description: |
  Return the sum of the numbers in xs.
function: Sum
max_iterations: 4
cases:
  - id: "1"
    inputs: [[1, 2, 3]]
    expected: 6
  - id: "2"
    inputs: [[]]
    expected: 0
  - id: "3"
    inputs: [[1.5, "x"]]
    expected_error: invalid_arguments
`

const objectTask = `
name: profile
kind: object
description: Extract the user's profile.
schema:
  fields:
    - name: user_id
      type: int
      required: true
    - name: tags
      type: array
      items: {type: string}
input:
  text: "user 7 likes go"
  meta: {page: 2}
`

func TestParse_CodeTask(t *testing.T) {
	f, err := Parse([]byte(codeTask))
	require.NoError(t, err)
	assert.Equal(t, KindCode, f.Kind)
	assert.Equal(t, 4, f.MaxIterationsOr(3))

	rt := f.Refine()
	assert.Equal(t, "Return the sum of the numbers in xs.", rt.Description)
	assert.Equal(t, "Sum", rt.FunctionName)
	require.Len(t, rt.Cases, 3)
	assert.Equal(t, []any{[]any{1.0, 2.0, 3.0}}, rt.Cases[0].Inputs)
	assert.Equal(t, 6.0, rt.Cases[0].Expected)
	assert.Equal(t, "invalid_arguments", rt.Cases[2].ExpectedError)
	assert.Nil(t, rt.Schema)
}

func TestParse_ObjectTask(t *testing.T) {
	f, err := Parse([]byte(objectTask))
	require.NoError(t, err)
	assert.Equal(t, 3, f.MaxIterationsOr(3))

	rt := f.Refine()
	require.NotNil(t, rt.Schema)
	assert.Equal(t, schema.KindInt, rt.Schema.Fields[0].Kind)
	assert.Equal(t, map[string]any{"text": "user 7 likes go", "meta": map[string]any{"page": 2.0}}, rt.Input)
}

func TestParse_TextTask(t *testing.T) {
	doc := `
name: summary
kind: text
description: Summarize the quarterly report for investors.
persona: a strict compliance officer
criteria:
  - No guarantees of future returns.
  - Under 100 words.
input: "Revenue grew 12%."
`
	f, err := Parse([]byte(doc))
	require.NoError(t, err)
	rt := f.Refine()
	assert.Equal(t, []string{"No guarantees of future returns.", "Under 100 words."}, rt.Criteria)
	assert.Equal(t, "a strict compliance officer", rt.Persona)
	assert.Equal(t, "Revenue grew 12%.", rt.Input)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing function": "name: a\nkind: code\ndescription: d\ncases: [{id: '1', inputs: [], expected: 1}]\n",
		"missing cases":    "name: a\nkind: code\ndescription: d\nfunction: F\n",
		"missing schema":   "name: a\nkind: object\ndescription: d\n",
		"bad kind":         "name: a\nkind: essay\ndescription: d\n",
		"case without id":  "name: a\nkind: code\ndescription: d\nfunction: F\ncases: [{inputs: [1]}]\n",
		"budget too large": "name: a\nkind: code\ndescription: d\nfunction: F\nmax_iterations: 99\ncases: [{id: '1'}]\n",
		"duplicate ids":    "name: a\nkind: code\ndescription: d\nfunction: F\ncases: [{id: '1'}, {id: '1'}]\n",
		"unknown key":      "name: a\nkind: code\ndescription: d\nfunction: F\ncases: [{id: '1'}]\nretries: 2\n",
		"bad schema":       "name: a\nkind: object\ndescription: d\nschema: {fields: [{name: x, type: date}]}\n",
		"missing criteria": "name: a\nkind: text\ndescription: d\n",
		"blank criterion":  "name: a\nkind: text\ndescription: d\ncriteria: ['']\n",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sum.yaml")
	require.NoError(t, os.WriteFile(path, []byte(codeTask), 0o644))
	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sum", f.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
