package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Handler returns nil only when the message was processed and its offset may
// be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	logger     *logrus.Logger
	r          *kafka.Reader
	workers    int
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewConsumer(logger *logrus.Logger, brokers []string, group, topic string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		logger:     logger,
		r:          r,
		workers:    workers,
		backoff:    200 * time.Millisecond,
		maxBackoff: 10 * time.Second,
	}
}

// Start hands every partition to a single worker, so a partition's offsets
// are committed in order. A failing message is retried until it succeeds or
// ctx ends; the rest of its partition waits behind it.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if err := c.process(ctx, h, m); err != nil {
					return
				}
				if err := c.r.CommitMessages(ctx, m); err != nil {
					c.logger.WithError(err).WithFields(logrus.Fields{
						"partition": m.Partition,
						"offset":    m.Offset,
					}).Warn("commit offset")
				}
			}
		}(jobs[i])
	}
	stop := func() {
		for _, ch := range jobs {
			close(ch)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		select {
		case jobs[workerFor(m.Partition, c.workers)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

func workerFor(partition, workers int) int {
	if partition < 0 {
		partition = -partition
	}
	return partition % workers
}

// process runs h until it succeeds, backing off between attempts. It only
// fails when ctx ends.
func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) error {
	wait := c.backoff
	for {
		err := h(ctx, m)
		if err == nil {
			return nil
		}
		c.logger.WithError(err).WithFields(logrus.Fields{
			"partition": m.Partition,
			"offset":    m.Offset,
			"retry_in":  wait.String(),
		}).Warn("handle message")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if wait *= 2; wait > c.maxBackoff {
			wait = c.maxBackoff
		}
	}
}
