package kafka

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var ErrProducerClosed = errors.New("kafka producer closed")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes envelopes to any topic through one async writer.
// PublishEvent only enqueues; delivery errors are logged by the writer.
type Producer struct {
	w     messageWriter
	log   *zap.Logger
	inbox chan kafka.Message
	done  chan struct{}
}

var _ orders.Publisher = (*Producer)(nil)

func NewProducer(brokers []string, buf int, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(msgs []kafka.Message, err error) {
			if err == nil {
				return
			}
			for _, m := range msgs {
				log.Warn("kafka_publish_failed",
					zap.String("topic", m.Topic),
					zap.String("event_type", Header(m, HeaderEventType)),
					zap.String("event_id", Header(m, HeaderEventID)),
					zap.Error(err),
				)
			}
		},
	}
	return newProducer(w, buf, log)
}

func newProducer(w messageWriter, buf int, log *zap.Logger) *Producer {
	if buf <= 0 {
		buf = 1024
	}
	return &Producer{w: w, log: log, inbox: make(chan kafka.Message, buf), done: make(chan struct{})}
}

// Start runs the send loop until ctx is cancelled, then flushes what is
// buffered and closes the writer.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		for {
			select {
			case <-ctx.Done():
				p.flush()
				return
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

func (p *Producer) flush() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			if err := p.w.Close(); err != nil {
				p.log.Warn("kafka_writer_close_failed", zap.Error(err))
			}
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.log.Warn("kafka_publish_failed", zap.String("topic", m.Topic), zap.Error(err))
	}
}

func (p *Producer) PublishEvent(ctx context.Context, topic string, env orders.Envelope) error {
	m, err := NewMessage(topic, env)
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return ErrProducerClosed
	default:
	}
	select {
	case p.inbox <- m:
		return nil
	case <-p.done:
		return ErrProducerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitClosed blocks until Start's loop has flushed and exited.
func (p *Producer) WaitClosed() { <-p.done }
