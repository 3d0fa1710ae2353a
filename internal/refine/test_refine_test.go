package refine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptloop/internal/audit"
	"promptloop/internal/llm"
	"promptloop/internal/sandbox"
	"promptloop/internal/schema"
)

const (
	absIdentity = "```go\nfunc Abs(x int) int { return x }\n```"
	absNegate   = "```go\nfunc Abs(x int) int { return -x }\n```"
	absCorrect  = "Here you go:\n```go\nfunc Abs(x int) int {\n\tif x < 0 {\n\t\treturn -x\n\t}\n\treturn x\n}\n```"
	absMissing  = "```go\nfunc Absolute(x int) int { return x }\n```"
)

var absTask = Task{
	Name:         "abs",
	Description:  "Return the absolute value of x.",
	FunctionName: "Abs",
	Cases: []sandbox.TestCase{
		{ID: "pos", Inputs: []any{3}, Expected: 3},
		{ID: "big", Inputs: []any{7}, Expected: 7},
		{ID: "neg", Inputs: []any{-1}, Expected: 1},
		{ID: "neg5", Inputs: []any{-5}, Expected: 5},
	},
}

type memorySink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memorySink) Record(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memorySink) Close() error { return nil }

func codeController(p llm.Provider, maxIter int) *Controller {
	return &Controller{
		Provider:      p,
		Evaluator:     CodeEvaluator{Runner: sandbox.New(sandbox.Options{}), FunctionName: absTask.FunctionName, Cases: absTask.Cases},
		Templates:     CodeTemplates{Packages: sandbox.DefaultPackages},
		Extract:       CodeArtifact("go"),
		MaxIterations: maxIter,
	}
}

func TestRun_SucceedsOnSecondIteration(t *testing.T) {
	fake := llm.NewFakeProvider(llm.Texts(absIdentity, absCorrect)...)
	sink := &memorySink{}
	c := codeController(fake, 3)
	c.Sink = sink

	out, err := c.Run(context.Background(), absTask)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, 2, out.IterationsUsed)
	require.Len(t, out.Iterations, 2)
	assert.Equal(t, 2, out.Iterations[0].Evaluation.Failed)
	assert.Equal(t, 0, out.Iterations[1].Evaluation.Failed)
	assert.Equal(t, []int{0, 1}, []int{out.Iterations[0].Index, out.Iterations[1].Index})
	assert.Contains(t, out.Artifact, "if x < 0")

	reqs := fake.Requests()
	require.Len(t, reqs, 2)
	refinement := reqs[1].Messages[len(reqs[1].Messages)-1].Content
	assert.Contains(t, refinement, "[CURRENT_CODE]\nfunc Abs(x int) int { return x }")
	assert.Contains(t, refinement, "2 passed, 2 failed")
	assert.Contains(t, refinement, absTask.Description)

	require.Len(t, sink.entries, 3)
	assert.Equal(t, audit.KindOutcome, sink.entries[2].Kind)
	assert.Equal(t, "success", sink.entries[2].Status)
	assert.Equal(t, out.RunID, sink.entries[0].RunID)
}

func TestRun_InitialPassUsesOneIteration(t *testing.T) {
	fake := llm.NewFakeProvider(llm.Texts(absCorrect)...)
	out, err := codeController(fake, 5).Run(context.Background(), absTask)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, 1, out.IterationsUsed)
	assert.Equal(t, 1, fake.Calls())
}

func TestRun_ExhaustedReturnsBestLatest(t *testing.T) {
	fake := llm.NewFakeProvider(llm.Texts(absIdentity, absMissing, absNegate)...)
	out, err := codeController(fake, 3).Run(context.Background(), absTask)
	require.NoError(t, err)
	assert.Equal(t, StatusExhausted, out.Status)
	assert.Equal(t, 3, out.IterationsUsed)
	require.Len(t, out.Iterations, 3)
	require.NotNil(t, out.Iterations[1].Evaluation.Report.ExecErr)
	assert.Equal(t, sandbox.KindMissingFunction, out.Iterations[1].Evaluation.Report.ExecErr.Kind)
	assert.Contains(t, out.Iterations[1].Feedback, "missing_function:")
	assert.Equal(t, "func Abs(x int) int { return -x }", out.Artifact)
	assert.Equal(t, 3, fake.Calls())
}

func TestRun_RetriesTransientProviderErrors(t *testing.T) {
	timeout := llm.Reply{Err: llm.NewProviderError("fake", llm.KindTimeout, nil)}
	fake := llm.NewFakeProvider(timeout, llm.Reply{Text: "  "}, llm.Reply{Text: absCorrect})
	out, err := codeController(fake, 3).Run(context.Background(), absTask)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, 3, fake.Calls())

	for _, r := range fake.Requests() {
		assert.Equal(t, fake.Requests()[0], r)
	}
}

func TestRun_AbortsAfterRetries(t *testing.T) {
	rl := llm.Reply{Err: llm.NewProviderError("fake", llm.KindRateLimit, nil)}
	fake := llm.NewFakeProvider(llm.Reply{Text: absIdentity}, rl, rl, rl)
	out, err := codeController(fake, 3).Run(context.Background(), absTask)

	var abort *AbortError
	require.True(t, errors.As(err, &abort))
	assert.Equal(t, 1, abort.Iteration)
	var pe *llm.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, llm.KindRateLimit, pe.Kind)
	assert.Equal(t, 4, fake.Calls())
	assert.Len(t, out.Iterations, 1)
}

func TestRun_AuthErrorIsNotRetried(t *testing.T) {
	fake := llm.NewFakeProvider(llm.Reply{Err: llm.NewProviderError("fake", llm.KindAuth, nil)})
	_, err := codeController(fake, 3).Run(context.Background(), absTask)
	var abort *AbortError
	require.True(t, errors.As(err, &abort))
	assert.Equal(t, 0, abort.Iteration)
	assert.Equal(t, 1, fake.Calls())
}

func TestRun_InvalidController(t *testing.T) {
	_, err := (&Controller{}).Run(context.Background(), absTask)
	assert.ErrorIs(t, err, ErrInvalidController)
}

func TestRun_SchemaTask(t *testing.T) {
	task := Task{
		Name:        "user",
		Description: "Extract the user from the ticket.",
		Input:       "Ticket #12 from ada (id 42)",
		Schema: &schema.Schema{Fields: []schema.Field{
			{Name: "user_id", Kind: schema.KindInt, Required: true},
			{Name: "name", Kind: schema.KindString, Required: true},
		}},
	}
	fake := llm.NewFakeProvider(llm.Texts(
		"FINAL OUTPUT:\n```json\n{\"name\": \"ada\"}\n```",
		"ANALYSIS first.\nFINAL OUTPUT:\n```json\n{\"user_id\": 42, \"name\": \"ada\"}\n```",
	)...)
	c := &Controller{
		Provider:      fake,
		Evaluator:     SchemaEvaluator{Schema: task.Schema},
		Templates:     ObjectTemplates{},
		MaxIterations: 2,
		System:        "You are a careful data extractor.",
	}
	out, err := c.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, 2, out.IterationsUsed)
	assert.Equal(t, 1, out.Iterations[0].Evaluation.Passed)
	assert.Contains(t, out.Iterations[0].Feedback, "user_id: missing required field")
	assert.Equal(t, schema.Record{"user_id": int64(42), "name": "ada"}, out.Iterations[1].Evaluation.Value)

	reqs := fake.Requests()
	assert.Equal(t, llm.RoleSystem, reqs[0].Messages[0].Role)
	assert.Contains(t, reqs[0].Messages[1].Content, "- user_id (int, required)")
	assert.Contains(t, reqs[1].Messages[1].Content, "[VALIDATION]")
}

func TestSchemaEvaluator_ParseError(t *testing.T) {
	ev, err := SchemaEvaluator{Schema: &schema.Schema{}}.Evaluate(context.Background(), "no json here")
	require.NoError(t, err)
	assert.False(t, ev.Success)
	require.NotNil(t, ev.Report.ExecErr)
	assert.Equal(t, sandbox.KindParseError, ev.Report.ExecErr.Kind)
	assert.Contains(t, ev.Feedback, "parse_error: json parse failed")
}

func TestCodeEvaluator_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := CodeEvaluator{FunctionName: "Abs", Cases: absTask.Cases}.Evaluate(ctx, "func Abs(x int) int { return x }")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBest(t *testing.T) {
	h := []Iteration{
		{Index: 0, Artifact: "a", Evaluation: Evaluation{Passed: 3}},
		{Index: 1, Artifact: "b", Evaluation: Evaluation{Passed: 1}},
		{Index: 2, Artifact: "c", Evaluation: Evaluation{Passed: 3}},
	}
	assert.Equal(t, "c", Best(h).Artifact)
	assert.Equal(t, "a", Best(h[:2]).Artifact)
}
