// Package telemetry reports unexpected history fetch failures.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/paulstuart/fwhistory/pkg/telemetry"

// Notifier receives errors nothing else could handle. Notify must not block.
type Notifier interface {
	Notify(ctx context.Context, err error)
}

// Nop discards every error.
type Nop struct{}

func (Nop) Notify(context.Context, error) {}

// Tracer records errors as otel span events.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer uses provider, or the global provider when provider is nil.
func NewTracer(provider trace.TracerProvider) *Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &Tracer{tracer: provider.Tracer(tracerName)}
}

// Notify records err on a span of its own, parented to any span in ctx.
func (t *Tracer) Notify(ctx context.Context, err error) {
	if err == nil {
		return
	}
	_, span := t.tracer.Start(ctx, "fwhistory.unexpected_error")
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}

// StartFetch opens the span wrapping one history fetch.
func (t *Tracer) StartFetch(ctx context.Context, runID, model, region string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "fwhistory.fetch", trace.WithAttributes(
		attribute.String("fwhistory.run_id", runID),
		attribute.String("fwhistory.model", model),
		attribute.String("fwhistory.region", region),
	))
}
