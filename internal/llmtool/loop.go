// Package llmtool runs a ReAct-style tool loop: the model either names a tool
// to call or gives a final answer, and every tool result is fed back as an
// observation until the model answers or the step budget runs out.
package llmtool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"promptloop/internal/audit"
	"promptloop/internal/llm"
	"promptloop/internal/metrics"
	"promptloop/internal/util/jsonutil"
)

const (
	DefaultMaxSteps = 15
	DefaultWindow   = 3
)

var ErrNoTools = errors.New("llmtool: missing provider or tools")

// Observation kinds recorded per step.
const (
	ObsResult     = "result"
	ObsToolError  = "tool_error"
	ObsRepeated   = "repeated_call"
	ObsUnknown    = "unknown_tool"
	ObsMalformed  = "malformed"
	ObsFinal      = "final"
	repeatWarning = "repeated call detected, try a different tool or arguments"
)

// Step is one thinking step.
type Step struct {
	Index       int       `json:"index"`
	Response    string    `json:"response"`
	Call        *ToolCall `json:"call,omitempty"`
	Kind        string    `json:"kind"`
	Observation string    `json:"observation,omitempty"`
}

// Result is the outcome of Run. Messages is the full transcript, owned by
// the caller.
type Result struct {
	RunID     string        `json:"run_id"`
	Final     string        `json:"final,omitempty"`
	Converged bool          `json:"converged"`
	Partial   any           `json:"partial,omitempty"`
	Steps     []Step        `json:"steps"`
	Messages  []llm.Message `json:"messages"`
}

// AbortError ends a run when the provider cannot produce a response.
type AbortError struct {
	Step  int
	Cause error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("llmtool: aborted at step %d: %v", e.Step, e.Cause)
}

func (e *AbortError) Unwrap() error { return e.Cause }

// Loop holds the collaborators and budgets for tool-loop runs.
type Loop struct {
	Provider llm.Provider
	Tools    *Registry
	MaxSteps int
	Window   int

	Model       string
	Temperature float64
	MaxTokens   int
	Retries     int
	RetryDelay  time.Duration

	Name   string
	Sink   audit.Sink
	Logger zerolog.Logger
}

// Run continues the conversation in messages. The input slice is copied,
// never modified.
func (l *Loop) Run(ctx context.Context, messages []llm.Message) (Result, error) {
	if l == nil || l.Provider == nil || l.Tools == nil {
		return Result{}, ErrNoTools
	}
	maxSteps := l.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	window := l.Window
	if window <= 0 {
		window = DefaultWindow
	}
	retries := l.Retries
	if retries <= 0 {
		retries = llm.DefaultRetries
	}

	res := Result{RunID: audit.NewRunID(), Messages: append([]llm.Message(nil), messages...)}
	log := l.Logger.With().Str("run_id", res.RunID).Logger()
	provider := llm.Wrap(l.Provider, llm.Retry(retries, l.RetryDelay, func(attempt int, err *llm.ProviderError) {
		log.Warn().Int("attempt", attempt).Str("kind", string(err.Kind)).Err(err).Msg("provider call failed, retrying")
	}))
	var executed []string

	for i := 0; i < maxSteps; i++ {
		req := llm.Request{Model: l.Model, Messages: res.Messages, Temperature: l.Temperature, MaxTokens: l.MaxTokens}
		if err := req.Validate(); err != nil {
			return res, err
		}
		text, err := provider.Complete(llm.WithPhase(ctx, "think"), req)
		if err != nil {
			return res, &AbortError{Step: i, Cause: err}
		}
		res.Messages = append(res.Messages, llm.Assistant(text))
		step := Step{Index: i, Response: text}

		action, err := ParseAction(text)
		switch {
		case err != nil:
			step.Kind = ObsMalformed
			step.Observation = fmt.Sprintf("could not parse a tool call or final answer (%v); reply with one action", err)
		case action.Kind == ActionFinal:
			step.Kind = ObsFinal
			res.Final = action.Final
			res.Converged = true
		default:
			call := action.Call
			step.Call = &call
			step.Kind, step.Observation = l.act(ctx, call, window, &executed, &res)
		}
		res.Steps = append(res.Steps, step)
		l.observe(ctx, log, res.RunID, step)

		if res.Converged {
			l.finish(ctx, log, res, "done")
			return res, nil
		}
		res.Messages = append(res.Messages, llm.User("Observation: "+step.Observation))
	}

	l.finish(ctx, log, res, "budget_exhausted")
	return res, nil
}

// act runs the loop guard and, if the call passes, the tool itself.
func (l *Loop) act(ctx context.Context, call ToolCall, window int, executed *[]string, res *Result) (string, string) {
	if _, ok := l.Tools.Lookup(call.Name); !ok {
		return ObsUnknown, fmt.Sprintf("tool %q does not exist; available tools: %s", call.Name, strings.Join(l.Tools.Names(), ", "))
	}
	sig := call.Signature()
	if repeated(*executed, sig, window) {
		return ObsRepeated, repeatWarning
	}
	*executed = append(*executed, sig)
	out, err := l.Tools.Call(ctx, call)
	if err != nil {
		var te *ToolError
		if errors.As(err, &te) {
			return ObsToolError, fmt.Sprintf("error %s: %v", te.Kind, errOrKind(te))
		}
		return ObsToolError, "error: " + err.Error()
	}
	res.Partial = out
	return ObsResult, render(out)
}

func errOrKind(te *ToolError) string {
	if te.Err == nil {
		return string(te.Kind)
	}
	return te.Err.Error()
}

func render(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return jsonutil.Compact(v)
}

func (l *Loop) observe(ctx context.Context, log zerolog.Logger, runID string, step Step) {
	metrics.ToolStepsTotal.WithLabelValues(step.Kind).Inc()
	ev := log.Debug().Int("step", step.Index).Str("kind", step.Kind)
	if step.Call != nil {
		ev = ev.Str("tool", step.Call.Name)
	}
	ev.Msg("tool loop step")
	if l.Sink == nil {
		return
	}
	e := audit.Entry{RunID: runID, Kind: audit.KindToolStep, Task: l.Name, Index: step.Index, Status: step.Kind, Feedback: step.Observation}
	if step.Call != nil {
		e.Detail = step.Call
	}
	if err := l.Sink.Record(ctx, e); err != nil {
		log.Warn().Err(err).Msg("audit record failed")
	}
}

func (l *Loop) finish(ctx context.Context, log zerolog.Logger, res Result, status string) {
	metrics.ToolLoopOutcomesTotal.WithLabelValues(status).Inc()
	log.Info().Str("status", status).Int("steps", len(res.Steps)).Msg("tool loop finished")
	if l.Sink == nil {
		return
	}
	e := audit.Entry{RunID: res.RunID, Kind: audit.KindToolOutcome, Task: l.Name, Index: len(res.Steps), Status: status, Artifact: res.Final}
	if !res.Converged && res.Partial != nil {
		e.Detail = res.Partial
	}
	if err := l.Sink.Record(ctx, e); err != nil {
		log.Warn().Err(err).Msg("audit record failed")
	}
}
