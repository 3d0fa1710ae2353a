package llm

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Middleware decorates a Provider to inject cross-cutting concerns
// (retries, logging, hooks, caching, tracing).
type Middleware func(Provider) Provider

// Wrap applies middlewares in left-to-right order.
// Example: Wrap(inner, A, B) => A(B(inner))
func Wrap(inner Provider, mws ...Middleware) Provider {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		out = mws[i](out)
	}
	return out
}

// WithLogging logs request size, latency and errors.
func WithLogging(logger zerolog.Logger) Middleware {
	return func(next Provider) Provider {
		return &logging{next: next, log: logger}
	}
}

type logging struct {
	next Provider
	log  zerolog.Logger
}

func (l *logging) Name() string { return l.next.Name() }

func (l *logging) Complete(ctx context.Context, req Request) (string, error) {
	size := 0
	for _, m := range req.Messages {
		size += len(m.Content)
	}
	start := time.Now()
	l.log.Debug().
		Str("provider", l.next.Name()).
		Str("phase", PhaseFrom(ctx)).
		Int("messages", len(req.Messages)).
		Int("bytes", size).
		Msg("llm request")
	out, err := l.next.Complete(ctx, req)
	ev := l.log.Debug()
	if err != nil {
		ev = l.log.Warn().Err(err)
	}
	ev.Str("provider", l.next.Name()).
		Str("phase", PhaseFrom(ctx)).
		Dur("latency", time.Since(start)).
		Int("response_bytes", len(out)).
		Msg("llm response")
	return out, err
}
