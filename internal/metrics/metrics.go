// Package metrics exposes Prometheus collectors for providers, controllers
// and the sandbox.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"promptloop/internal/llm"
)

var (
	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptloop_llm_requests_total",
		Help: "Total completion requests by provider, phase and outcome",
	}, []string{"provider", "phase", "status"})

	LLMRequestsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "promptloop_llm_requests_in_flight",
		Help: "Completion requests currently waiting on a provider",
	}, []string{"phase"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "promptloop_llm_request_duration_seconds",
		Help:    "Completion request duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"provider"})

	RefineIterationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promptloop_refine_iterations_total",
		Help: "Total refinement iterations evaluated",
	})

	RefineOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptloop_refine_outcomes_total",
		Help: "Refinement runs by terminal status",
	}, []string{"status"})

	ToolStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptloop_tool_steps_total",
		Help: "Tool loop thinking steps by observation kind",
	}, []string{"kind"})

	ToolLoopOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptloop_tool_loop_outcomes_total",
		Help: "Tool loop runs by terminal status",
	}, []string{"status"})

	SandboxCasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptloop_sandbox_cases_total",
		Help: "Sandbox test cases by result",
	}, []string{"result"})
)

// Middleware counts and times every completion request.
func Middleware() llm.Middleware {
	return func(next llm.Provider) llm.Provider {
		return llm.WithHook(callHook{provider: next.Name()})(&timed{next: next})
	}
}

type callHook struct {
	provider string
}

func (h callHook) Before(_ context.Context, phase string, _ llm.Request) {
	LLMRequestsInFlight.WithLabelValues(phase).Inc()
}

func (h callHook) After(_ context.Context, phase string, _ string, err error) {
	LLMRequestsInFlight.WithLabelValues(phase).Dec()
	LLMRequestsTotal.WithLabelValues(h.provider, phase, status(err)).Inc()
}

type timed struct {
	next llm.Provider
}

func (t *timed) Name() string { return t.next.Name() }

func (t *timed) Complete(ctx context.Context, req llm.Request) (string, error) {
	start := time.Now()
	out, err := t.next.Complete(ctx, req)
	LLMRequestDuration.WithLabelValues(t.next.Name()).Observe(time.Since(start).Seconds())
	return out, err
}

func status(err error) string {
	if err == nil {
		return "ok"
	}
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return string(pe.Kind)
	}
	return "error"
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
