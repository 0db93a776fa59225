package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/migrs/kue/job"
)

// tracerName is the instrumentation scope for kue tracing.
const tracerName = "github.com/migrs/kue"

// Tracing returns middleware that wraps each run in an OpenTelemetry
// span. With no TracerProvider configured globally this degrades to the
// noop tracer.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided
// tracer, for callers juggling multiple providers or testing.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "kue.job.run",
			trace.WithAttributes(
				attribute.String("kue.job.id", j.ID.String()),
				attribute.String("kue.job.type", j.Type),
				attribute.Int("kue.job.priority", int(j.Priority)),
				attribute.Int("kue.job.attempts", j.Attempts),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
