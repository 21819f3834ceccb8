package emit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating one OpenTelemetry span per
// event (spec SPEC_FULL.md AMBIENT STACK: "one span per node pipeline
// step, one span per job").
//
// Each event becomes a span with:
//   - Span name: event.Msg (e.g., "node_dispatch", "node_commit")
//   - Attributes: jobID, step, nodeID, operator, and event.Meta fields
//   - Status: error if event.Meta["error"] is set
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter from tracer (e.g.
// otel.Tracer("voxlogica")).
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit creates and immediately ends a span for event, appropriate for
// events representing a point in time rather than a held duration.
func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Msg)
	o.annotate(span, event)
	span.End()
}

// EmitBatch creates one span per event; the batch span processor handles
// efficient export.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		_, span := o.tracer.Start(ctx, event.Msg)
		o.annotate(span, event)
		span.End()
	}
	return nil
}

func (o *OTelEmitter) annotate(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("voxlogica.job_id", event.JobID),
		attribute.Int("voxlogica.step", event.Step),
		attribute.String("voxlogica.node_id", event.NodeID),
		attribute.String("voxlogica.operator", event.Operator),
	)
	if event.NodeStatus != "" {
		span.SetAttributes(attribute.String("voxlogica.status", string(event.NodeStatus)))
	}
	if event.CacheSource != "" {
		span.SetAttributes(attribute.String("voxlogica.cache_source", event.CacheSource))
	}
	if event.Duration > 0 {
		span.SetAttributes(attribute.Int64("voxlogica.duration_ms", int64(event.Duration/time.Millisecond)))
	}

	o.addMetadataAttributes(span, event.Meta)

	if err, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, err)
		span.RecordError(fmt.Errorf("%s", err))
	}
}

// addMetadataAttributes converts arbitrary event metadata to span
// attributes, falling back to string representation for unrecognized types.
func (o *OTelEmitter) addMetadataAttributes(span trace.Span, meta map[string]interface{}) {
	for key, value := range meta {
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(key, v))
		case int:
			span.SetAttributes(attribute.Int(key, v))
		case int64:
			span.SetAttributes(attribute.Int64(key, v))
		case float64:
			span.SetAttributes(attribute.Float64(key, v))
		case bool:
			span.SetAttributes(attribute.Bool(key, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(key, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
		}
	}
}

// Flush forces export of any pending spans via the global tracer provider's
// ForceFlush, if the configured provider supports it.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}
