package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tabforge"

// StartJobSpan starts a span covering one job attempt.
func StartJobSpan(ctx context.Context, jobID, kind string, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "job",
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("job.kind", kind),
			attribute.Int("job.attempt", attempt),
		),
	)
}

// StartGenerateSpan starts a span for one model round trip.
func StartGenerateSpan(ctx context.Context, rows int, columns []string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "generate",
		trace.WithAttributes(
			attribute.Int("dataset.rows.requested", rows),
			attribute.StringSlice("dataset.columns", columns),
		),
	)
}

// StartStorageSpan starts a span for a table store operation.
func StartStorageSpan(ctx context.Context, op, name string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "storage."+op,
		trace.WithAttributes(attribute.String("storage.name", name)),
	)
}
