package kafka

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/example/order-pipeline/internal/infrastructure/queue"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const headerContentType = "content-type"

// Producer publishes to any topic through one shared writer. The message key
// is a fresh id so that consumers see a stable delivery key.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: writer}
}

func (p *Producer) Enqueue(ctx context.Context, topic string, payload []byte) error {
	err := p.writer.WriteMessages(ctx, newMessage(topic, []byte(uuid.NewString()), payload))
	if err != nil {
		return errors.Wrapf(err, "failed to write message to %s", topic)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func newMessage(topic string, key, payload []byte) kafka.Message {
	return kafka.Message{
		Topic: topic,
		Key:   key,
		Value: payload,
		Headers: []kafka.Header{
			{Key: headerContentType, Value: []byte(queue.ContentTypeJSON)},
		},
		Time: time.Now(),
	}
}
