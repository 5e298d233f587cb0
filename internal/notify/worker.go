package notify

import (
	"context"
	"fmt"

	kafkax "github.com/ariefcatur/pos-ticketing/internal/kafka"
	"github.com/ariefcatur/pos-ticketing/internal/metrics"
	"github.com/ariefcatur/pos-ticketing/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Sender delivers a notice to the buyer (email, SMS). Template rendering and
// transport live behind this interface.
type Sender interface {
	Send(ctx context.Context, n Notice) error
}

type DeliveryMarker interface {
	MarkDelivered(ctx context.Context, orderID string) (int, error)
}

// LogSender writes notices to the log instead of delivering them.
type LogSender struct{ Logger *logrus.Logger }

func (s LogSender) Send(ctx context.Context, n Notice) error {
	s.Logger.WithContext(ctx).WithFields(logrus.Fields{
		"kind":     n.Kind,
		"order_id": n.Order.ID,
		"to":       n.Order.UserEmail,
		"tickets":  len(n.Tickets),
	}).Info("notification sent")
	return nil
}

type Worker struct {
	Logger  *logrus.Logger
	Redis   redis.Cmdable
	Sender  Sender
	Tickets DeliveryMarker
	Service string
}

// Handle is a kafka consumer handler. Each envelope is processed at most once
// per dedup window; a failed send releases the claim so the consumer's retry
// sends it again.
func (w *Worker) Handle(ctx context.Context, m kafkago.Message) error {
	var env kafkax.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		w.Logger.WithError(err).Warn("skip malformed notification envelope")
		return nil
	}
	kind := Kind(env.EventType)
	if kind != KindOrderReceived && kind != KindTicketsReady {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, w.Service, env.EventID)
	claimed, err := redisx.Claim(ctx, w.Redis, dkey, redisx.TTLDedup)
	if err != nil {
		return fmt.Errorf("claim %s: %w", dkey, err)
	}
	if !claimed {
		return nil
	}

	n, err := kafkax.UnwrapPayload[Notice](env.Payload)
	if err != nil {
		w.Logger.WithError(err).WithField("event_id", env.EventID).Warn("skip malformed notice")
		return nil
	}

	log := w.Logger.WithContext(ctx).WithFields(logrus.Fields{"order_id": n.Order.ID, "kind": kind})
	if err := w.Sender.Send(ctx, n); err != nil {
		metrics.Notifications.WithLabelValues(string(kind), "send_failed").Inc()
		w.Redis.Del(ctx, dkey)
		log.WithError(err).Error("send notification")
		return err
	}
	metrics.Notifications.WithLabelValues(string(kind), "sent").Inc()

	if kind == KindTicketsReady && w.Tickets != nil {
		if _, err := w.Tickets.MarkDelivered(ctx, n.Order.ID); err != nil {
			log.WithError(err).Warn("mark tickets delivered")
		}
	}
	return nil
}
