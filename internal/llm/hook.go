package llm

import "context"

// CallHook observes provider calls without changing the Provider interface.
// Implementations must not panic.
type CallHook interface {
	Before(ctx context.Context, phase string, req Request)
	After(ctx context.Context, phase string, out string, err error)
}

type ctxKeyPhase struct{}

// WithPhase tags the context with the controller phase issuing the call
// (e.g. "initial", "refine", "think").
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, ctxKeyPhase{}, phase)
}

// PhaseFrom returns the phase string stored in the context.
func PhaseFrom(ctx context.Context) string {
	if v := ctx.Value(ctxKeyPhase{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "unknown"
}

// WithHook wraps a provider so every call is reported to hook.
func WithHook(hook CallHook) Middleware {
	return func(base Provider) Provider {
		return &hooked{base: base, hook: hook}
	}
}

type hooked struct {
	base Provider
	hook CallHook
}

func (h *hooked) Name() string { return h.base.Name() }

func (h *hooked) Complete(ctx context.Context, req Request) (string, error) {
	if h.hook == nil {
		return h.base.Complete(ctx, req)
	}
	phase := PhaseFrom(ctx)
	h.hook.Before(ctx, phase, req)
	out, err := h.base.Complete(ctx, req)
	h.hook.After(ctx, phase, out, err)
	return out, err
}
