package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies provider failures. Provider-specific payloads are never
// inspected beyond this classification.
type ErrorKind string

const (
	KindTimeout   ErrorKind = "timeout"
	KindRateLimit ErrorKind = "rate_limit"
	KindMalformed ErrorKind = "malformed_response"
	KindAuth      ErrorKind = "auth_error"
)

// ProviderError is the only error shape a Provider should return.
type ProviderError struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("llm: %s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("llm: %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether sending the same request again can succeed.
// Authentication failures are permanent.
func (e *ProviderError) Retryable() bool { return e.Kind != KindAuth }

// NewProviderError builds a ProviderError.
func NewProviderError(provider string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Err: err}
}

// AsProviderError converts any error into a *ProviderError. Errors that are
// already classified pass through unchanged.
func AsProviderError(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Kind: Classify(err), Provider: provider, Err: err}
}

// Classify maps an unclassified transport error to an ErrorKind.
func Classify(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTimeout
	}
	return KindMalformed
}

// KindFromStatus maps an HTTP status code returned by a hosted API.
func KindFromStatus(status int) (ErrorKind, bool) {
	switch {
	case status == 401 || status == 403:
		return KindAuth, true
	case status == 429:
		return KindRateLimit, true
	case status == 408 || status == 504:
		return KindTimeout, true
	case status >= 500:
		return KindTimeout, true
	case status >= 400:
		return KindMalformed, true
	}
	return "", false
}
