package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/jeeves-cluster-organization/deviceclient"

// StartSpan opens a span for one client-facing operation (send, twin get,
// blob upload), tagged with the owning client's ID. Callers must End the
// returned span.
func StartSpan(ctx context.Context, name, clientID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name,
		trace.WithAttributes(attribute.String("device.client_id", clientID)))
}

// WithSpan runs fn inside a span named name, recording fn's error on the
// span before propagating it.
func WithSpan(ctx context.Context, name, clientID string, fn func(ctx context.Context) error) error {
	ctx, span := StartSpan(ctx, name, clientID)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
