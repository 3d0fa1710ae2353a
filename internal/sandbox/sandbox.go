// Package sandbox runs generated Go functions against test cases inside an
// interpreter that only sees an allow-listed slice of the standard library.
package sandbox

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"promptloop/internal/util/jsonutil"
)

// Execution error kinds. These short-circuit a run with zero results.
const (
	KindLoadError       = "load_error"
	KindMissingFunction = "missing_function"
	KindParseError      = "parse_error"
)

// Per-case error kinds produced by the runner itself.
const (
	KindPanic            = "panic"
	KindTimeout          = "timeout"
	KindCanceled         = "canceled"
	KindInvalidArguments = "invalid_arguments"
	KindError            = "error"
)

// DefaultPackages is the standard library surface exposed to candidate code.
var DefaultPackages = []string{
	"errors", "fmt", "math", "sort", "strconv", "strings",
	"unicode", "unicode/utf8", "slices", "maps",
}

// DefaultCaseTimeout bounds a single function invocation.
const DefaultCaseTimeout = 2 * time.Second

// DefaultLoadTimeout bounds interpreting the candidate source, including
// package-level initializers and init functions.
const DefaultLoadTimeout = 5 * time.Second

// TestCase is one input/expectation pair. A non-empty ExpectedError means the
// call is expected to fail with that error kind.
type TestCase struct {
	ID            string `json:"id" yaml:"id" validate:"required"`
	Inputs        []any  `json:"inputs" yaml:"inputs"`
	Expected      any    `json:"expected,omitempty" yaml:"expected"`
	ExpectedError string `json:"expected_error,omitempty" yaml:"expected_error"`
}

// CaseError is an error raised by the candidate for one case.
type CaseError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *CaseError) String() string {
	if e.Message == "" {
		return e.Kind
	}
	return e.Kind + ": " + e.Message
}

// CaseResult is the outcome of one test case.
type CaseResult struct {
	TestID        string     `json:"test_id"`
	Inputs        []any      `json:"inputs"`
	Expected      any        `json:"expected,omitempty"`
	ExpectedError string     `json:"expected_error,omitempty"`
	Actual        any        `json:"actual,omitempty"`
	Error         *CaseError `json:"error,omitempty"`
	Passed        bool       `json:"passed"`
}

// ExecError reports that the candidate could not be evaluated at all.
type ExecError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *ExecError) Error() string { return e.Kind + ": " + e.Message }

// Report is the result of one run.
type Report struct {
	Passed  int          `json:"passed"`
	Failed  int          `json:"failed"`
	Results []CaseResult `json:"results,omitempty"`
	ExecErr *ExecError   `json:"exec_error,omitempty"`
}

// Success reports whether every case passed and the candidate loaded.
func (r Report) Success() bool { return r.ExecErr == nil && r.Failed == 0 }

// Failure builds a report carrying only an execution error.
func Failure(kind, message string) Report {
	return Report{ExecErr: &ExecError{Kind: kind, Message: message}}
}

// Options configures a Runner.
type Options struct {
	Packages    []string
	CaseTimeout time.Duration
	LoadTimeout time.Duration
	Logger      zerolog.Logger
}

// Runner evaluates candidate code. It holds no state between runs.
type Runner struct {
	packages    []string
	caseTimeout time.Duration
	loadTimeout time.Duration
	log         zerolog.Logger
}

// New builds a Runner. Empty options fall back to DefaultPackages,
// DefaultCaseTimeout and DefaultLoadTimeout.
func New(opts Options) *Runner {
	r := &Runner{
		packages:    opts.Packages,
		caseTimeout: opts.CaseTimeout,
		loadTimeout: opts.LoadTimeout,
		log:         opts.Logger,
	}
	if len(r.packages) == 0 {
		r.packages = DefaultPackages
	}
	if r.caseTimeout <= 0 {
		r.caseTimeout = DefaultCaseTimeout
	}
	if r.loadTimeout <= 0 {
		r.loadTimeout = DefaultLoadTimeout
	}
	return r
}

// Run loads code, looks up functionName and calls it once per case, in order.
func (r *Runner) Run(ctx context.Context, code string, cases []TestCase, functionName string) Report {
	fn, execErr := r.load(ctx, code, functionName)
	if execErr != nil {
		r.log.Debug().Str("kind", execErr.Kind).Str("message", execErr.Message).Msg("candidate rejected")
		return Report{ExecErr: execErr}
	}

	report := Report{Results: make([]CaseResult, 0, len(cases))}
	for _, tc := range cases {
		res := CaseResult{
			TestID:        tc.ID,
			Inputs:        tc.Inputs,
			Expected:      tc.Expected,
			ExpectedError: tc.ExpectedError,
		}
		if ctx.Err() != nil {
			res.Error = &CaseError{Kind: KindCanceled, Message: ctx.Err().Error()}
		} else {
			res.Actual, res.Error = r.invoke(ctx, fn, tc.Inputs)
		}
		res.Passed = judge(tc, res.Actual, res.Error)
		if res.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
		report.Results = append(report.Results, res)
	}
	r.log.Debug().Int("passed", report.Passed).Int("failed", report.Failed).Str("function", functionName).Msg("sandbox run")
	return report
}

func judge(tc TestCase, actual any, err *CaseError) bool {
	if tc.ExpectedError != "" {
		return err != nil && err.Kind == tc.ExpectedError
	}
	return err == nil && jsonutil.Equal(actual, tc.Expected)
}
