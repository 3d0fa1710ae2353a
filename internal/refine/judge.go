package refine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"promptloop/internal/extract"
	"promptloop/internal/llm"
	"promptloop/internal/prompt"
	"promptloop/internal/sandbox"
	"promptloop/internal/schema"
)

// ErrNoVerdict is returned when the judge never produces a readable verdict.
var ErrNoVerdict = errors.New("refine: judge returned no readable verdict")

// Verdict is the judge's structured answer.
type Verdict struct {
	Approved bool   `json:"approved" prompt_desc:"true only when the answer meets every criterion"`
	Feedback string `json:"feedback" prompt:"optional" prompt_desc:"what must change for the answer to be approved; empty when approved"`
}

var verdictSchema = schema.MustFromStruct(Verdict{})

// JudgeEvaluator asks a second model whether an artifact meets a list of
// criteria. An approved verdict is a success; a rejection carries the
// judge's feedback into the next refinement prompt.
type JudgeEvaluator struct {
	Provider llm.Provider
	// Persona describes the judge, e.g. "a strict compliance officer".
	Persona  string
	// Request is what the artifact was written for; shown to the judge.
	Request  string
	Criteria []string

	Model      string
	Extractor  *extract.Extractor
	// Attempts bounds how many times the judge is asked when its verdict
	// cannot be read. Provider errors are retried separately.
	Attempts   int
	Retries    int
	RetryDelay time.Duration
}

func (e JudgeEvaluator) Evaluate(ctx context.Context, artifact string) (Evaluation, error) {
	if e.Provider == nil {
		return Evaluation{}, fmt.Errorf("refine: judge has no provider")
	}
	if len(e.Criteria) == 0 {
		return Evaluation{}, fmt.Errorf("refine: judge has no criteria")
	}
	text, err := e.render(artifact)
	if err != nil {
		return Evaluation{}, err
	}
	ex := e.Extractor
	if ex == nil {
		ex = extract.New(extract.DefaultConfig())
	}
	retries := e.Retries
	if retries <= 0 {
		retries = llm.DefaultRetries
	}
	attempts := e.Attempts
	if attempts <= 0 {
		attempts = 2
	}
	provider := llm.Wrap(e.Provider, llm.Retry(retries, e.RetryDelay, nil))
	req := llm.Request{Model: e.Model, Messages: []llm.Message{llm.User(text)}}

	var last string
	for i := 0; i < attempts; i++ {
		resp, err := provider.Complete(llm.WithPhase(ctx, "judge"), req)
		if err != nil {
			return Evaluation{}, fmt.Errorf("refine: judge: %w", err)
		}
		v, reason := readVerdict(ex, resp)
		if reason == "" {
			return verdictEvaluation(v), nil
		}
		last = reason
	}
	return Evaluation{}, fmt.Errorf("%w: %s", ErrNoVerdict, last)
}

func (e JudgeEvaluator) render(artifact string) (string, error) {
	persona := strings.TrimSpace(e.Persona)
	if persona == "" {
		persona = "a strict reviewer"
	}
	s := prompt.Apply(prompt.Structured{
		Purpose: "You are " + persona + ". Decide whether the answer below meets every criterion.",
		Rules: []string{
			"Compare each part of the answer against each criterion before deciding.",
			"Approve only when no criterion is violated.",
			"When rejecting, give specific instructions that would fix every violation.",
		},
		OutputFields: verdictSchema.Fields,
	}, prompt.PresetFencedJSON(extract.DefaultConfig().SectionMarker))
	return s.Render(nil,
		prompt.Section{Title: "REQUEST", Body: e.Request},
		prompt.Section{Title: "CRITERIA", Body: prompt.FormatList(e.Criteria)},
		prompt.Section{Title: "ANSWER", Body: artifact},
	)
}

// readVerdict returns the verdict, or a reason it could not be read.
func readVerdict(ex *extract.Extractor, resp string) (Verdict, string) {
	res := ex.Extract(resp)
	if !res.Found {
		if n := len(res.Path); n > 0 {
			return Verdict{}, res.Path[n-1]
		}
		return Verdict{}, "no verdict object"
	}
	var v Verdict
	if err := schema.Decode(res.Value, verdictSchema, &v); err != nil {
		return Verdict{}, err.Error()
	}
	return v, ""
}

func verdictEvaluation(v Verdict) Evaluation {
	fb := strings.TrimSpace(v.Feedback)
	if v.Approved {
		return Evaluation{
			Passed:   1,
			Success:  true,
			Feedback: "approved",
			Report:   sandbox.Report{Passed: 1},
			Value:    v,
		}
	}
	if fb == "" {
		fb = "rejected without feedback"
	}
	return Evaluation{
		Failed:   1,
		Feedback: fb,
		Report: sandbox.Report{Failed: 1, Results: []sandbox.CaseResult{{
			TestID: "judge",
			Error:  &sandbox.CaseError{Kind: "rejected", Message: fb},
		}}},
		Value: v,
	}
}
