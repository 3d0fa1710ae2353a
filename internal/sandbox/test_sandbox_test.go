package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sumSource = `
func Sum(nums []int) int {
	total := 0
	for _, n := range nums {
		total += n
	}
	return total
}
`

func TestRun_SumScenario(t *testing.T) {
	cases := []TestCase{
		{ID: "1", Inputs: []any{[]any{1, 2, 3}}, Expected: 6},
		{ID: "2", Inputs: []any{[]any{}}, Expected: nil},
	}
	rep := New(Options{}).Run(context.Background(), sumSource, cases, "Sum")
	require.Nil(t, rep.ExecErr)
	assert.Equal(t, 1, rep.Passed)
	assert.Equal(t, 1, rep.Failed)
	require.Len(t, rep.Results, 2)
	assert.True(t, rep.Results[0].Passed)
	assert.False(t, rep.Results[1].Passed)
	assert.Equal(t, 0.0, rep.Results[1].Actual)
	assert.False(t, rep.Success())
}

func TestRun_PackageMainIsNotExecuted(t *testing.T) {
	src := `package main

import "strings"

func main() { panic("must not run") }

func Shout(s string) string { return strings.ToUpper(s) + "!" }
`
	rep := New(Options{}).Run(context.Background(), src, []TestCase{
		{ID: "a", Inputs: []any{"hi"}, Expected: "HI!"},
	}, "Shout")
	require.Nil(t, rep.ExecErr)
	assert.True(t, rep.Success())
}

func TestRun_ExecErrors(t *testing.T) {
	cases := []TestCase{{ID: "1", Inputs: []any{1}, Expected: 1}}
	for name, tc := range map[string]struct {
		src  string
		kind string
	}{
		"syntax":     {src: "func F(x int) int { return x +", kind: KindLoadError},
		"undefined":  {src: "func F(x int) int { return y }", kind: KindLoadError},
		"import":     {src: "import \"os\"\nfunc F(x int) int { os.Exit(1); return x }", kind: KindLoadError},
		"missing":    {src: "func G(x int) int { return x }", kind: KindMissingFunction},
		"methodOnly": {src: "type T struct{}\nfunc (T) F(x int) int { return x }", kind: KindMissingFunction},
	} {
		rep := New(Options{}).Run(context.Background(), tc.src, cases, "F")
		require.NotNil(t, rep.ExecErr, name)
		assert.Equal(t, tc.kind, rep.ExecErr.Kind, name)
		assert.Zero(t, rep.Passed, name)
		assert.Zero(t, rep.Failed, name)
		assert.Empty(t, rep.Results, name)
	}
}

func TestRun_NonTerminatingInitializer(t *testing.T) {
	cases := []TestCase{{ID: "1", Expected: 1}}
	for name, src := range map[string]string{
		"var":  "package x\nvar v = spin()\nfunc spin() int { for {} }\nfunc F() int { return v }",
		"init": "func init() { for {} }\nfunc F() int { return 1 }",
	} {
		r := New(Options{CaseTimeout: 100 * time.Millisecond, LoadTimeout: 200 * time.Millisecond})
		done := make(chan Report, 1)
		go func() { done <- r.Run(context.Background(), src, cases, "F") }()
		select {
		case rep := <-done:
			require.NotNil(t, rep.ExecErr, name)
			assert.Equal(t, KindLoadError, rep.ExecErr.Kind, name)
			assert.Contains(t, rep.ExecErr.Message, "timeout", name)
			assert.Empty(t, rep.Results, name)
		case <-time.After(5 * time.Second):
			t.Fatalf("%s: Run did not return", name)
		}
	}
}

func TestRun_RaisedErrorsAreIsolated(t *testing.T) {
	src := `
import "errors"

func Div(a, b int) (int, error) {
	if b == 0 {
		return 0, errors.New("ZeroDivision: b must not be zero")
	}
	if a < 0 {
		return 0, errors.New("negative input is not supported")
	}
	return a / b, nil
}

func Index(xs []int, i int) int { return xs[i] }
`
	r := New(Options{})
	rep := r.Run(context.Background(), src, []TestCase{
		{ID: "zero", Inputs: []any{1, 0}, ExpectedError: "ZeroDivision"},
		{ID: "neg", Inputs: []any{-1, 1}, Expected: 0},
		{ID: "ok", Inputs: []any{6, 3}, Expected: 2},
		{ID: "args", Inputs: []any{"x", 1}, Expected: 0},
		{ID: "arity", Inputs: []any{1}, Expected: 0},
	}, "Div")
	require.Nil(t, rep.ExecErr)
	assert.Equal(t, 2, rep.Passed)
	assert.Equal(t, 3, rep.Failed)
	assert.Equal(t, &CaseError{Kind: "ZeroDivision", Message: "b must not be zero"}, rep.Results[0].Error)
	assert.Equal(t, KindError, rep.Results[1].Error.Kind)
	assert.Equal(t, KindInvalidArguments, rep.Results[3].Error.Kind)
	assert.Equal(t, KindInvalidArguments, rep.Results[4].Error.Kind)

	rep = r.Run(context.Background(), src, []TestCase{
		{ID: "oob", Inputs: []any{[]any{1}, 5}, Expected: 1},
		{ID: "fine", Inputs: []any{[]any{1, 2}, 1}, Expected: 2},
	}, "Index")
	assert.Equal(t, KindPanic, rep.Results[0].Error.Kind)
	assert.True(t, rep.Results[1].Passed)
}

func TestRun_CaseTimeout(t *testing.T) {
	src := `
func Block(x int) int {
	ch := make(chan int)
	<-ch
	return x
}
`
	rep := New(Options{CaseTimeout: 50 * time.Millisecond}).Run(context.Background(), src, []TestCase{
		{ID: "1", Inputs: []any{1}, ExpectedError: KindTimeout},
	}, "Block")
	require.Nil(t, rep.ExecErr)
	assert.Equal(t, 1, rep.Passed)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, &CaseError{Kind: "ValueError", Message: "bad"}, classify("ValueError: bad"))
	assert.Equal(t, &CaseError{Kind: KindError, Message: "two words: bad"}, classify("two words: bad"))
	assert.Equal(t, &CaseError{Kind: KindError, Message: "plain"}, classify("plain"))
}
