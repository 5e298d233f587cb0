package notify

import (
	"context"
	"time"

	kafkax "github.com/ariefcatur/pos-ticketing/internal/kafka"
	"github.com/ariefcatur/pos-ticketing/internal/metrics"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const EventVersion = 1

type Publisher interface {
	TryPublish(key, value []byte, headers ...kafkago.Header) bool
}

type KafkaDispatcher struct {
	logger    *logrus.Logger
	publisher Publisher
	service   string
}

func NewKafkaDispatcher(logger *logrus.Logger, p Publisher, service string) *KafkaDispatcher {
	return &KafkaDispatcher{logger: logger, publisher: p, service: service}
}

func (d *KafkaDispatcher) Notify(ctx context.Context, n Notice) {
	defer func() {
		if r := recover(); r != nil {
			metrics.Notifications.WithLabelValues(string(n.Kind), "panic").Inc()
			d.logger.WithContext(ctx).WithField("panic", r).WithField("order_id", n.Order.ID).Error("notify")
		}
	}()

	env := kafkax.Envelope{
		EventID:       uuid.NewString(),
		EventType:     string(n.Kind),
		EventVersion:  EventVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      d.service,
		TraceID:       traceID(ctx),
		CorrelationID: n.Order.ID,
		Payload:       kafkax.MustMarshal(n),
	}

	ok := d.publisher.TryPublish(kafkax.PartitionKey(n.Order.ID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(n.Kind)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	if !ok {
		metrics.Notifications.WithLabelValues(string(n.Kind), "dropped").Inc()
		d.logger.WithContext(ctx).WithFields(logrus.Fields{
			"order_id": n.Order.ID,
			"kind":     n.Kind,
		}).Warn("notification dropped, publisher inbox full")
		return
	}
	metrics.Notifications.WithLabelValues(string(n.Kind), "queued").Inc()
}

type traceKey struct{}

// WithTraceID attaches the request id so notices can be correlated.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
