package telemetry

import (
	"context"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// slowSpanExporter forwards only the traces whose root span took at least
// threshold. Discovery runs are frequent and usually sub-millisecond; the
// interesting traces are the slow ones.
type slowSpanExporter struct {
	inner     sdktrace.SpanExporter
	threshold time.Duration
}

var _ sdktrace.SpanExporter = (*slowSpanExporter)(nil)

func newSlowSpanExporter(inner sdktrace.SpanExporter, threshold time.Duration) *slowSpanExporter {
	return &slowSpanExporter{inner: inner, threshold: threshold}
}

func (e *slowSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	slow := make(map[trace.TraceID]struct{})
	for _, span := range spans {
		if span.Parent().IsValid() {
			continue
		}
		if span.EndTime().Sub(span.StartTime()) >= e.threshold {
			slow[span.SpanContext().TraceID()] = struct{}{}
		}
	}

	kept := make([]sdktrace.ReadOnlySpan, 0, len(spans))
	for _, span := range spans {
		if _, ok := slow[span.SpanContext().TraceID()]; ok {
			kept = append(kept, span)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return e.inner.ExportSpans(ctx, kept)
}

func (e *slowSpanExporter) Shutdown(ctx context.Context) error {
	return e.inner.Shutdown(ctx)
}
