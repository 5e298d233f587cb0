package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type Producer struct {
	logger  *logrus.Logger
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
}

func NewProducer(logger *logrus.Logger, brokers []string, topic string, buf int) *Producer {
	if buf <= 0 {
		buf = 1024
	}
	return &Producer{
		logger: logger,
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start drains the inbox until Close is called or ctx is done, then flushes
// what is left and closes the writer.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				for {
					select {
					case m, ok := <-p.inbox:
						if !ok {
							p.closeWriter()
							return
						}
						p.write(m)
					default:
						p.closeWriter()
						return
					}
				}
			case m, ok := <-p.inbox:
				if !ok {
					p.closeWriter()
					return
				}
				p.write(m)
			}
		}
	}()
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.logger.WithError(err).WithField("key", string(m.Key)).Error("kafka write")
	}
}

func (p *Producer) closeWriter() {
	if err := p.w.Close(); err != nil {
		p.logger.WithError(err).Warn("kafka writer close")
	}
}

// TryPublish enqueues without blocking; false means the inbox is full and the
// message was dropped.
func (p *Producer) TryPublish(key, value []byte, headers ...kafka.Header) bool {
	select {
	case p.inbox <- kafka.Message{Key: key, Value: value, Time: time.Now(), Headers: headers}:
		return true
	default:
		return false
	}
}

// Close stops accepting messages; the loop flushes the rest and exits.
func (p *Producer) Close() { close(p.inbox) }

func (p *Producer) WaitClosed() { <-p.closeCh }
