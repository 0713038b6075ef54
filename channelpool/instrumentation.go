package channelpool

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation is ambient OTel wiring around the Call Wrapper: a span per
// unary call (streaming calls get no span), an up/down counter of active
// streams per channel, and a counter of BIND bindings per channel that
// unbinds never decrease. It is entirely optional — a pool built without one
// behaves identically, just unobserved; nothing in the call-routing logic
// requires metrics or tracing.
type Instrumentation struct {
	tracer           trace.Tracer
	activeStreams    metric.Int64UpDownCounter
	affinityBindings metric.Int64UpDownCounter
}

// NewInstrumentation builds an Instrumentation from an OTel meter/tracer
// pair, typically obtained from an otel.MeterProvider/TracerProvider the
// host application already configures (see channelpoolfx for the fx-wired
// version).
func NewInstrumentation(meter metric.Meter, tracer trace.Tracer) (*Instrumentation, error) {
	activeStreams, err := meter.Int64UpDownCounter(
		"channelpool.active_streams",
		metric.WithDescription("Active RPC streams per channel"),
	)
	if err != nil {
		return nil, err
	}
	affinityBindings, err := meter.Int64UpDownCounter(
		"channelpool.affinity_bindings",
		metric.WithDescription("Affinity bindings made by BIND responses per channel; unbinds do not decrease it"),
	)
	if err != nil {
		return nil, err
	}
	return &Instrumentation{
		tracer:           tracer,
		activeStreams:    activeStreams,
		affinityBindings: affinityBindings,
	}, nil
}

func noopInstrumentation() *Instrumentation { return &Instrumentation{} }

func (i *Instrumentation) channelAttr(ref *ChannelRef) metric.AddOption {
	return metric.WithAttributes(attribute.Int("channel_id", ref.ID()))
}

func (i *Instrumentation) recordStreamStart(ref *ChannelRef) {
	if i == nil || i.activeStreams == nil {
		return
	}
	i.activeStreams.Add(context.Background(), 1, i.channelAttr(ref))
}

func (i *Instrumentation) recordStreamEnd(ref *ChannelRef) {
	if i == nil || i.activeStreams == nil {
		return
	}
	i.activeStreams.Add(context.Background(), -1, i.channelAttr(ref))
}

func (i *Instrumentation) recordBind(ref *ChannelRef) {
	if i == nil || i.affinityBindings == nil {
		return
	}
	i.affinityBindings.Add(context.Background(), 1, i.channelAttr(ref))
}

// callSpan is the narrow slice of trace.Span the Call Wrapper needs, kept
// separate so calls proceed unmodified when instrumentation is absent.
type callSpan struct {
	span trace.Span
}

func (i *Instrumentation) startSpan(ctx context.Context, method string) (context.Context, *callSpan) {
	if i == nil || i.tracer == nil {
		return ctx, &callSpan{}
	}
	ctx, span := i.tracer.Start(ctx, method)
	return ctx, &callSpan{span: span}
}

func (s *callSpan) end() {
	if s.span != nil {
		s.span.End()
	}
}

func (s *callSpan) recordErr(err error) {
	if s.span == nil || err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}
