package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptloop/internal/llm"
)

func TestMiddleware_CountsByStatus(t *testing.T) {
	fake := llm.NewFakeProvider(
		llm.Reply{Text: "ok"},
		llm.Reply{Err: llm.NewProviderError("fake", llm.KindRateLimit, nil)},
	)
	p := llm.Wrap(fake, Middleware())
	ctx := llm.WithPhase(context.Background(), "metrics-test")

	okBefore := testutil.ToFloat64(LLMRequestsTotal.WithLabelValues("fake", "metrics-test", "ok"))
	rlBefore := testutil.ToFloat64(LLMRequestsTotal.WithLabelValues("fake", "metrics-test", "rate_limit"))

	req := llm.Request{Messages: []llm.Message{llm.User("hi")}}
	_, err := p.Complete(ctx, req)
	require.NoError(t, err)
	_, err = p.Complete(ctx, req)
	require.Error(t, err)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(LLMRequestsTotal.WithLabelValues("fake", "metrics-test", "ok")))
	assert.Equal(t, rlBefore+1, testutil.ToFloat64(LLMRequestsTotal.WithLabelValues("fake", "metrics-test", "rate_limit")))
	assert.Zero(t, testutil.ToFloat64(LLMRequestsInFlight.WithLabelValues("metrics-test")))
	assert.Equal(t, "fake", p.Name())
}
