package llm

import (
	"context"

	"chatloom/pkg/logger"
	"chatloom/pkg/metrics"
)

// EventSink receives stream events as they are produced.
type EventSink interface {
	Publish(ev Event) error
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(ev Event) error

func (f EventSinkFunc) Publish(ev Event) error { return f(ev) }

type ctxSinksKey struct{}

// WithEventSinks attaches sinks to the context; later calls append.
func WithEventSinks(ctx context.Context, sinks ...EventSink) context.Context {
	existing, _ := ctx.Value(ctxSinksKey{}).([]EventSink)
	all := make([]EventSink, 0, len(existing)+len(sinks))
	all = append(all, existing...)
	all = append(all, sinks...)
	return context.WithValue(ctx, ctxSinksKey{}, all)
}

// PublishEvent delivers the event to every sink on the context. Delivery is
// best-effort: a failing sink is logged and the rest still receive it.
func PublishEvent(ctx context.Context, ev Event) {
	metrics.StreamEvents.WithLabelValues(string(ev.Type)).Inc()
	sinks, _ := ctx.Value(ctxSinksKey{}).([]EventSink)
	for _, s := range sinks {
		if err := s.Publish(ev); err != nil {
			logger.Warn("event_publish_failed", "type", string(ev.Type), "error", err.Error())
		}
	}
}
