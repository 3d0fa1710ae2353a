package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimit throttles calls to at most rps per second after an initial
// burst. A wait cut short by ctx, or one that could not finish before its
// deadline, is reported as a timeout so Retry treats it like any other slow
// call. rps <= 0 disables the limit.
func RateLimit(rps float64, burst int) Middleware {
	return func(next Provider) Provider {
		if rps <= 0 {
			return next
		}
		if burst <= 0 {
			burst = 1
		}
		return &limited{next: next, l: rate.NewLimiter(rate.Limit(rps), burst)}
	}
}

type limited struct {
	next Provider
	l    *rate.Limiter
}

func (r *limited) Name() string { return r.next.Name() }

func (r *limited) Complete(ctx context.Context, req Request) (string, error) {
	if err := r.l.Wait(ctx); err != nil {
		return "", NewProviderError(r.next.Name(), KindTimeout, err)
	}
	return r.next.Complete(ctx, req)
}
