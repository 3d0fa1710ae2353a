package refine

import (
	"context"
	"errors"

	"promptloop/internal/extract"
	"promptloop/internal/feedback"
	"promptloop/internal/metrics"
	"promptloop/internal/sandbox"
	"promptloop/internal/schema"
)

// Evaluation is the verdict on one artifact.
type Evaluation struct {
	Passed   int            `json:"passed"`
	Failed   int            `json:"failed"`
	Success  bool           `json:"success"`
	Feedback string         `json:"feedback"`
	Report   sandbox.Report `json:"report"`
	// Value holds the validated record for schema tasks.
	Value any `json:"value,omitempty"`
}

// Evaluator judges an artifact. Test failures, load errors and extraction
// failures are reported through Evaluation; a returned error aborts the run.
type Evaluator interface {
	Evaluate(ctx context.Context, artifact string) (Evaluation, error)
}

// CodeEvaluator runs a Go artifact against test cases.
type CodeEvaluator struct {
	Runner       *sandbox.Runner
	FunctionName string
	Cases        []sandbox.TestCase
}

func (e CodeEvaluator) Evaluate(ctx context.Context, artifact string) (Evaluation, error) {
	runner := e.Runner
	if runner == nil {
		runner = sandbox.New(sandbox.Options{})
	}
	rep := runner.Run(ctx, artifact, e.Cases, e.FunctionName)
	if err := ctx.Err(); err != nil {
		return Evaluation{}, err
	}
	metrics.SandboxCasesTotal.WithLabelValues("passed").Add(float64(rep.Passed))
	metrics.SandboxCasesTotal.WithLabelValues("failed").Add(float64(rep.Failed))
	return Evaluation{
		Passed:   rep.Passed,
		Failed:   rep.Failed,
		Success:  rep.Success(),
		Feedback: feedback.Format(rep),
		Report:   rep,
	}, nil
}

// SchemaEvaluator extracts a JSON object from the artifact and validates it.
type SchemaEvaluator struct {
	Schema    *schema.Schema
	Extractor *extract.Extractor
}

func (e SchemaEvaluator) Evaluate(ctx context.Context, artifact string) (Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return Evaluation{}, err
	}
	ex := e.Extractor
	if ex == nil {
		ex = extract.New(extract.DefaultConfig())
	}
	res := ex.Extract(artifact)
	if !res.Found {
		msg := "no JSON object or array found"
		if n := len(res.Path); n > 0 {
			msg = res.Path[n-1]
		}
		rep := sandbox.Failure(sandbox.KindParseError, msg)
		return Evaluation{Report: rep, Feedback: feedback.Format(rep)}, nil
	}

	rec, err := schema.Validate(res.Value, e.Schema)
	if err == nil {
		n := len(e.Schema.Fields)
		return Evaluation{
			Passed:   n,
			Success:  true,
			Feedback: feedback.FormatValidation(&schema.ValidationError{}, n),
			Report:   sandbox.Report{Passed: n},
			Value:    rec,
		}, nil
	}
	var verr *schema.ValidationError
	if !errors.As(err, &verr) {
		return Evaluation{}, err
	}
	passed := schema.PassingFields(e.Schema, verr)
	return Evaluation{
		Passed:   passed,
		Failed:   len(verr.Errors),
		Feedback: feedback.FormatValidation(verr, passed),
		Report:   validationReport(verr, passed),
	}, nil
}

// validationReport lists one failing result per field error.
func validationReport(verr *schema.ValidationError, passed int) sandbox.Report {
	rep := sandbox.Report{Passed: passed, Failed: len(verr.Errors)}
	for _, fe := range verr.Errors {
		rep.Results = append(rep.Results, sandbox.CaseResult{
			TestID:   fe.Path,
			Expected: string(fe.Expected),
			Error:    &sandbox.CaseError{Kind: string(fe.Kind), Message: fe.String()},
		})
	}
	return rep
}
