// Package chain runs a fixed sequence of prompts where each step reads the
// outputs of the steps before it and an optional gate decides whether the
// chain may continue.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"promptloop/internal/audit"
	"promptloop/internal/llm"
)

var (
	ErrNoSteps    = errors.New("chain: no steps")
	ErrNoProvider = errors.New("chain: missing provider")
)

// Output is what one step produced. Value is set by the step's gate.
type Output struct {
	Step     string `json:"step"`
	Index    int    `json:"index"`
	Response string `json:"response"`
	Value    any    `json:"value,omitempty"`
}

// PromptFunc renders a step's prompt from the chain input and the outputs
// of every earlier step, in order.
type PromptFunc func(input string, prev []Output) (string, error)

// Step is one link of the chain.
type Step struct {
	Name   string
	System string
	Prompt PromptFunc
	Gate   Gate
}

// GateError stops a chain when a step's output does not pass its gate.
type GateError struct {
	Step  string
	Index int
	Err   error
}

func (e *GateError) Error() string {
	return fmt.Sprintf("chain: gate %q (step %d) failed: %v", e.Step, e.Index, e.Err)
}

func (e *GateError) Unwrap() error { return e.Err }

// Chain holds the steps and provider settings. It keeps no state between runs.
type Chain struct {
	Name     string
	Provider llm.Provider
	Steps    []Step

	Model       string
	Temperature float64
	MaxTokens   int
	Retries     int
	RetryDelay  time.Duration

	Sink   audit.Sink
	Logger zerolog.Logger
}

// Run executes every step in order. On a gate failure the outputs produced
// so far, including the failing step's, are returned with a *GateError.
func (c *Chain) Run(ctx context.Context, input string) ([]Output, error) {
	if c.Provider == nil {
		return nil, ErrNoProvider
	}
	if len(c.Steps) == 0 {
		return nil, ErrNoSteps
	}
	retries := c.Retries
	if retries <= 0 {
		retries = llm.DefaultRetries
	}
	runID := audit.NewRunID()
	log := c.Logger.With().Str("run_id", runID).Str("chain", c.Name).Logger()
	provider := llm.Wrap(c.Provider, llm.Retry(retries, c.RetryDelay, func(attempt int, err *llm.ProviderError) {
		log.Warn().Int("attempt", attempt).Str("kind", string(err.Kind)).Err(err).Msg("provider call failed, retrying")
	}))

	outputs := make([]Output, 0, len(c.Steps))
	for i, step := range c.Steps {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("step%d", i)
		}
		if step.Prompt == nil {
			return outputs, fmt.Errorf("chain: step %q has no prompt", name)
		}
		text, err := step.Prompt(input, outputs)
		if err != nil {
			return outputs, fmt.Errorf("chain: render %q: %w", name, err)
		}
		msgs := make([]llm.Message, 0, 2)
		if step.System != "" {
			msgs = append(msgs, llm.System(step.System))
		}
		msgs = append(msgs, llm.User(text))
		req := llm.Request{Model: c.Model, Messages: msgs, Temperature: c.Temperature, MaxTokens: c.MaxTokens}
		if err := req.Validate(); err != nil {
			return outputs, err
		}
		resp, err := provider.Complete(llm.WithPhase(ctx, "chain."+name), req)
		if err != nil {
			return outputs, fmt.Errorf("chain: step %q: %w", name, err)
		}

		out := Output{Step: name, Index: i, Response: resp}
		var gateErr error
		if step.Gate != nil {
			out.Value, gateErr = step.Gate(ctx, resp)
		}
		outputs = append(outputs, out)
		c.record(ctx, log, runID, out, gateErr)
		if gateErr != nil {
			return outputs, &GateError{Step: name, Index: i, Err: gateErr}
		}
		log.Debug().Int("step", i).Str("name", name).Msg("chain step passed")
	}
	log.Info().Int("steps", len(outputs)).Msg("chain finished")
	return outputs, nil
}

func (c *Chain) record(ctx context.Context, log zerolog.Logger, runID string, out Output, gateErr error) {
	if c.Sink == nil {
		return
	}
	e := audit.Entry{RunID: runID, Kind: audit.KindChainStep, Task: c.Name, Index: out.Index, Artifact: out.Response, Status: "passed", Detail: out.Value}
	if gateErr != nil {
		e.Status = "gate_failed"
		e.Feedback = gateErr.Error()
	}
	if err := c.Sink.Record(ctx, e); err != nil {
		log.Warn().Err(err).Msg("audit record failed")
	}
}

// Last returns the final output's value when set, else its response.
func Last(outputs []Output) any {
	if len(outputs) == 0 {
		return nil
	}
	o := outputs[len(outputs)-1]
	if o.Value != nil {
		return o.Value
	}
	return o.Response
}
