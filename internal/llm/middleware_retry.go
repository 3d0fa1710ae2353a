package llm

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultRetries is the number of attempts made for one request.
const DefaultRetries = 3

// RetryNotify is called after a failed attempt that will be retried.
type RetryNotify func(attempt int, err *ProviderError)

// Retry sends the same request up to maxAttempts times with exponential
// backoff starting at baseDelay (no wait when baseDelay <= 0). A blank
// completion counts as a malformed response. Authentication failures are
// returned immediately, as is context cancellation.
func Retry(maxAttempts int, baseDelay time.Duration, notify RetryNotify) Middleware {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return func(next Provider) Provider {
		return &retrying{next: next, max: maxAttempts, base: baseDelay, notify: notify}
	}
}

type retrying struct {
	next   Provider
	max    int
	base   time.Duration
	notify RetryNotify
}

func (r *retrying) Name() string { return r.next.Name() }

func (r *retrying) Complete(ctx context.Context, req Request) (string, error) {
	var last *ProviderError
	for i := 0; i < r.max; i++ {
		out, err := r.next.Complete(ctx, req.Clone())
		if err == nil && strings.TrimSpace(out) == "" {
			err = NewProviderError(r.next.Name(), KindMalformed, errEmptyCompletion)
		}
		if err == nil {
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		last = AsProviderError(r.next.Name(), err)
		if !last.Retryable() {
			return "", last
		}
		if i == r.max-1 {
			break
		}
		if r.notify != nil {
			r.notify(i+1, last)
		}
		if r.base > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(r.base * time.Duration(1<<i)):
			}
		}
	}
	return "", last
}

var errEmptyCompletion = errors.New("empty completion")
