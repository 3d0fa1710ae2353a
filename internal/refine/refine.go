// Package refine drives the evaluator-optimizer loop: generate an artifact,
// evaluate it, feed the evaluation back, and stop on success or when the
// iteration budget is spent.
package refine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"promptloop/internal/audit"
	"promptloop/internal/extract"
	"promptloop/internal/llm"
	"promptloop/internal/metrics"
	"promptloop/internal/sandbox"
	"promptloop/internal/schema"
)

// DefaultMaxIterations is used when Controller.MaxIterations is unset.
const DefaultMaxIterations = 3

var ErrInvalidController = errors.New("refine: controller is missing provider, evaluator or templates")

// Status is the terminal state of a run.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusExhausted Status = "exhausted"
)

// Task is the work item being refined.
type Task struct {
	Name        string
	Description string
	// FunctionName and Cases drive code tasks.
	FunctionName string
	Cases        []sandbox.TestCase
	// Schema and Input drive structured-object tasks.
	Schema *schema.Schema
	Input  any
	// Criteria and Persona drive free-text tasks graded by a judge.
	Criteria []string
	Persona  string
}

// Iteration is one generate-and-evaluate round. Iterations are never
// modified after they are appended to the history.
type Iteration struct {
	Index      int        `json:"index"`
	Artifact   string     `json:"artifact"`
	Evaluation Evaluation `json:"evaluation"`
	Feedback   string     `json:"feedback"`
}

// Outcome is the result of Run.
type Outcome struct {
	RunID          string      `json:"run_id"`
	Status         Status      `json:"status"`
	Artifact       string      `json:"artifact"`
	IterationsUsed int         `json:"iterations_used"`
	Iterations     []Iteration `json:"iterations"`
}

// AbortError ends a run when the provider cannot produce a response.
type AbortError struct {
	Iteration int
	Cause     error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("refine: aborted at iteration %d: %v", e.Iteration, e.Cause)
}

func (e *AbortError) Unwrap() error { return e.Cause }

// ArtifactFunc turns a provider response into the artifact under evaluation.
type ArtifactFunc func(response string) string

// CodeArtifact keeps the first fenced block tagged with lang, or the whole
// trimmed response when it carries no fence.
func CodeArtifact(lang string) ArtifactFunc {
	return func(response string) string {
		if code, ok := extract.CodeBlock(response, lang); ok {
			return code
		}
		return strings.TrimSpace(response)
	}
}

// RawArtifact keeps the response as is.
func RawArtifact(response string) string { return response }

// Controller holds the collaborators and budgets for a run. A Controller
// keeps no state between runs.
type Controller struct {
	Provider  llm.Provider
	Evaluator Evaluator
	Templates Templates
	Extract   ArtifactFunc
	// System, when set, is sent as the first message of every request.
	System        string
	MaxIterations int

	Model       string
	Temperature float64
	MaxTokens   int
	Retries     int
	RetryDelay  time.Duration

	Sink   audit.Sink
	Logger zerolog.Logger
}

// Run executes the loop for task.
func (c *Controller) Run(ctx context.Context, task Task) (Outcome, error) {
	if c.Provider == nil || c.Evaluator == nil || c.Templates == nil {
		return Outcome{}, ErrInvalidController
	}
	maxIter := c.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	retries := c.Retries
	if retries <= 0 {
		retries = llm.DefaultRetries
	}
	artifactOf := c.Extract
	if artifactOf == nil {
		artifactOf = RawArtifact
	}

	out := Outcome{RunID: audit.NewRunID()}
	log := c.Logger.With().Str("run_id", out.RunID).Str("task", task.Name).Logger()
	provider := llm.Wrap(c.Provider, llm.Retry(retries, c.RetryDelay, func(attempt int, err *llm.ProviderError) {
		log.Warn().Int("attempt", attempt).Str("kind", string(err.Kind)).Err(err).Msg("provider call failed, retrying")
	}))

	text, err := c.Templates.Initial(task)
	if err != nil {
		return out, fmt.Errorf("refine: render initial prompt: %w", err)
	}
	response, err := c.complete(llm.WithPhase(ctx, "initial"), provider, text)
	if err != nil {
		return out, &AbortError{Iteration: 0, Cause: err}
	}
	artifact := artifactOf(response)

	for idx := 0; ; idx++ {
		eval, err := c.Evaluator.Evaluate(ctx, artifact)
		if err != nil {
			return out, fmt.Errorf("refine: evaluate iteration %d: %w", idx, err)
		}
		it := Iteration{Index: idx, Artifact: artifact, Evaluation: eval, Feedback: eval.Feedback}
		out.Iterations = append(out.Iterations, it)
		out.IterationsUsed = len(out.Iterations)
		metrics.RefineIterationsTotal.Inc()
		c.record(ctx, log, audit.Entry{
			RunID:    out.RunID,
			Kind:     audit.KindIteration,
			Task:     task.Name,
			Index:    idx,
			Artifact: artifact,
			Passed:   eval.Passed,
			Failed:   eval.Failed,
			Feedback: eval.Feedback,
		})
		log.Info().Int("iteration", idx).Int("passed", eval.Passed).Int("failed", eval.Failed).Bool("success", eval.Success).Msg("iteration evaluated")

		if eval.Success {
			out.Status = StatusSuccess
			out.Artifact = artifact
			c.finish(ctx, log, task, out)
			return out, nil
		}
		if idx+1 >= maxIter {
			break
		}

		text, err = c.Templates.Refinement(task, artifact, eval.Feedback)
		if err != nil {
			return out, fmt.Errorf("refine: render refinement prompt: %w", err)
		}
		response, err = c.complete(llm.WithPhase(ctx, "refine"), provider, text)
		if err != nil {
			return out, &AbortError{Iteration: idx + 1, Cause: err}
		}
		artifact = artifactOf(response)
	}

	out.Status = StatusExhausted
	out.Artifact = Best(out.Iterations).Artifact
	c.finish(ctx, log, task, out)
	return out, nil
}

// Best returns the iteration with the most passing cases; later iterations
// win ties.
func Best(history []Iteration) Iteration {
	var best Iteration
	for i, it := range history {
		if i == 0 || it.Evaluation.Passed >= best.Evaluation.Passed {
			best = it
		}
	}
	return best
}

func (c *Controller) complete(ctx context.Context, p llm.Provider, text string) (string, error) {
	msgs := make([]llm.Message, 0, 2)
	if c.System != "" {
		msgs = append(msgs, llm.System(c.System))
	}
	msgs = append(msgs, llm.User(text))
	req := llm.Request{
		Model:       c.Model,
		Messages:    msgs,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	return p.Complete(ctx, req)
}

func (c *Controller) finish(ctx context.Context, log zerolog.Logger, task Task, out Outcome) {
	metrics.RefineOutcomesTotal.WithLabelValues(string(out.Status)).Inc()
	best := Best(out.Iterations)
	c.record(ctx, log, audit.Entry{
		RunID:    out.RunID,
		Kind:     audit.KindOutcome,
		Task:     task.Name,
		Index:    out.IterationsUsed,
		Artifact: out.Artifact,
		Passed:   best.Evaluation.Passed,
		Failed:   best.Evaluation.Failed,
		Status:   string(out.Status),
	})
	log.Info().Str("status", string(out.Status)).Int("iterations", out.IterationsUsed).Msg("refinement finished")
}

// record forwards to the sink; sink failures are logged and never end a run.
func (c *Controller) record(ctx context.Context, log zerolog.Logger, e audit.Entry) {
	if c.Sink == nil {
		return
	}
	if err := c.Sink.Record(ctx, e); err != nil {
		log.Warn().Err(err).Str("kind", e.Kind).Msg("audit record failed")
	}
}
