// Package llm defines the completion provider boundary and the middleware that
// decorates it (retries, logging, hooks, caching, tracing).
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Role tags a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion request. It is treated as immutable once
// handed to a Provider.
type Request struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	// MaxTokens of 0 means "provider default".
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Provider returns completion text for a request or a *ProviderError.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Embedder turns texts into embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, req Request) (string, error)

func (f ProviderFunc) Name() string { return "func" }
func (f ProviderFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

var (
	ErrNoMessages         = errors.New("llm: request has no messages")
	ErrInvalidTemperature = errors.New("llm: temperature must be within [0,2]")
)

// Validate checks the request shape before it is sent.
func (r Request) Validate() error {
	if len(r.Messages) == 0 {
		return ErrNoMessages
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return fmt.Errorf("%w: got %v", ErrInvalidTemperature, r.Temperature)
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("llm: max tokens must not be negative")
	}
	return nil
}

// Clone returns a copy whose message slice is not shared with r.
func (r Request) Clone() Request {
	out := r
	out.Messages = append([]Message(nil), r.Messages...)
	return out
}

// System and User are small constructors used when building conversations.
func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }
