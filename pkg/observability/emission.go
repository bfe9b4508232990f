package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/francescomaiomascio/yai/pkg/kernel"
)

var (
	AttrEventType = attribute.Key("yai.event.type")
	AttrCategory  = attribute.Key("yai.event.category")
	AttrOrigin    = attribute.Key("yai.event.origin")
	AttrViolation = attribute.Key("yai.violation")
)

// EmissionObserver counts admission decisions and annotates the active span.
type EmissionObserver struct {
	admitted metric.Int64Counter
	rejected metric.Int64Counter
}

var _ kernel.Observer = (*EmissionObserver)(nil)

func NewEmissionObserver(meter metric.Meter) (*EmissionObserver, error) {
	admitted, err := meter.Int64Counter("yai.events.admitted",
		metric.WithDescription("Events appended to the ledger"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("admitted counter: %w", err)
	}
	rejected, err := meter.Int64Counter("yai.events.rejected",
		metric.WithDescription("Events refused by validation or authority"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("rejected counter: %w", err)
	}
	return &EmissionObserver{admitted: admitted, rejected: rejected}, nil
}

func eventAttrs(e *kernel.Event) []attribute.KeyValue {
	if e == nil {
		return []attribute.KeyValue{AttrEventType.String(""), AttrCategory.String("")}
	}
	category := ""
	if c, err := kernel.CategoryOf(e.Type()); err == nil {
		category = c.String()
	}
	return []attribute.KeyValue{
		AttrEventType.String(string(e.Type())),
		AttrCategory.String(category),
	}
}

func (o *EmissionObserver) EventAdmitted(ctx context.Context, e *kernel.Event) {
	attrs := eventAttrs(e)
	o.admitted.Add(ctx, 1, metric.WithAttributes(attrs...))
	trace.SpanFromContext(ctx).AddEvent("event.admitted",
		trace.WithAttributes(append(attrs, AttrOrigin.String(e.Origin()))...))
}

func (o *EmissionObserver) EventRejected(ctx context.Context, e *kernel.Event, err error) {
	attrs := append(eventAttrs(e), AttrViolation.String(kernel.KindOf(err).String()))
	o.rejected.Add(ctx, 1, metric.WithAttributes(attrs...))
	span := trace.SpanFromContext(ctx)
	span.AddEvent("event.rejected", trace.WithAttributes(attrs...))
	span.RecordError(err)
}
