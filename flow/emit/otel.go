package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each Event into an OpenTelemetry span, named after the
// event's Msg (flow_start, node_start, node_end, node_error, flow_end,
// flow_error, flow_cancel, observer_panic).
// Spans are point-in-time: started and ended immediately, since a single
// Event does not carry its own start/end pair.
type OTelEmitter struct {
	tracer trace.Tracer
}

func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Msg)
	defer span.End()

	span.SetAttributes(
		attribute.String("run_id", event.RunID),
		attribute.String("flow_name", event.FlowName),
		attribute.Int("step", event.Step),
		attribute.String("node_name", event.NodeName),
	)
	if event.Action != "" {
		span.SetAttributes(attribute.String("action", event.Action))
	}
	if event.ElapsedMs != 0 {
		span.SetAttributes(attribute.Float64("elapsed_ms", event.ElapsedMs))
	}
	for k, v := range event.Meta {
		span.SetAttributes(attribute.String(k, fmt.Sprintf("%v", v)))
	}
	if event.Err != "" {
		span.SetStatus(codes.Error, event.Err)
		span.RecordError(fmt.Errorf("%s", event.Err))
	}
}

func (o *OTelEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		o.Emit(e)
	}
	return nil
}

// Flush is a no-op here: span export buffering is owned by the configured
// SpanProcessor/TracerProvider, not by this emitter.
func (o *OTelEmitter) Flush(context.Context) error { return nil }
