package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.GetTracerProvider().Tracer("promptloop/llm")

// Tracing wraps each completion in an OTel client span.
func Tracing() Middleware {
	return func(next Provider) Provider {
		return &traced{next: next}
	}
}

type traced struct {
	next Provider
}

func (t *traced) Name() string { return t.next.Name() }

func (t *traced) Complete(ctx context.Context, req Request) (string, error) {
	ctx, span := tracer.Start(ctx, "llm.complete", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("llm.provider", t.next.Name()),
		attribute.String("llm.model", req.Model),
		attribute.String("llm.phase", PhaseFrom(ctx)),
		attribute.Int("llm.request.messages", len(req.Messages)),
		attribute.Int("llm.request.max_tokens", req.MaxTokens),
		attribute.Float64("llm.request.temperature", req.Temperature),
	)

	out, err := t.next.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("llm.error.kind", string(Classify(err))))
		return out, err
	}
	span.SetAttributes(attribute.Int("llm.response.content_length", len(out)))
	return out, nil
}
