package kafka

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/example/order-pipeline/internal/infrastructure/queue"
	"github.com/example/order-pipeline/internal/logging"
	"github.com/example/order-pipeline/internal/metrics"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Options struct {
	Brokers []string
	GroupID string
	// RetryBackoff is the pause between two deliveries of a failed message.
	RetryBackoff time.Duration
	// MaxDeliveries bounds the attempts before the message is written to the
	// dead-letter topic and committed.
	MaxDeliveries int
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

// Transport is a queue.Transport on Kafka consumer groups. Offsets are only
// committed after the handler succeeds or the message is dead-lettered.
type Transport struct {
	*Producer

	opts      Options
	log       *zap.Logger
	newReader func(topic string) reader
	dlq       writer

	mu      sync.Mutex
	readers []reader
}

func NewTransport(opts Options) *Transport {
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 5
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	producer := NewProducer(opts.Brokers)
	t := &Transport{
		Producer: producer,
		opts:     opts,
		log:      logging.OrNop(opts.Logger).With(zap.String("component", "queue"), zap.String("backend", "kafka")),
		dlq:      producer.writer,
	}
	t.newReader = func(topic string) reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  opts.Brokers,
			Topic:    topic,
			GroupID:  opts.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6, // 10MB
			MaxWait:  500 * time.Millisecond,
		})
	}
	return t
}

// Subscribe blocks until ctx is cancelled.
func (t *Transport) Subscribe(ctx context.Context, topic string, handler queue.MessageHandler) error {
	r := t.newReader(topic)
	t.mu.Lock()
	t.readers = append(t.readers, r)
	t.mu.Unlock()

	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, kafka.ErrGroupClosed) || errors.Is(err, io.EOF) {
				return queue.ErrClosed
			}
			t.log.Warn("error fetching message", zap.String("topic", topic), zap.Error(err))
			continue
		}

		if err := t.deliver(ctx, topic, handler, msg); err != nil {
			return err
		}
		if err := r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.log.Error("failed to commit offset",
				zap.String("topic", topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

// deliver runs handler until it succeeds or the delivery budget is spent, in
// which case the message goes to the dead-letter topic. It only returns an
// error when ctx ends first, leaving the offset uncommitted.
func (t *Transport) deliver(ctx context.Context, topic string, handler queue.MessageHandler, msg kafka.Message) error {
	for attempt := 1; ; attempt++ {
		err := invoke(ctx, handler, msg)
		if err == nil {
			t.opts.Metrics.IncConsumed(topic, "ack")
			return nil
		}
		t.opts.Metrics.IncConsumed(topic, "nack")
		t.log.Warn("handler failed",
			zap.String("topic", topic),
			zap.ByteString("key", msg.Key),
			zap.Int("delivery_count", attempt),
			zap.Error(err),
		)

		if attempt >= t.opts.MaxDeliveries {
			return t.deadLetter(ctx, topic, msg, attempt)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.opts.RetryBackoff):
		}
	}
}

func (t *Transport) deadLetter(ctx context.Context, topic string, msg kafka.Message, attempts int) error {
	dead := newMessage(queue.DeadLetterTopic(topic), msg.Key, msg.Value)
	for {
		err := t.dlq.WriteMessages(ctx, dead)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.log.Error("failed to write dead-letter message", zap.String("topic", topic), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.opts.RetryBackoff):
		}
	}

	t.opts.Metrics.IncConsumed(topic, "dead_letter")
	t.log.Error("message moved to dead-letter",
		zap.String("topic", topic),
		zap.ByteString("key", msg.Key),
		zap.Int("delivery_count", attempts),
	)
	return nil
}

func invoke(ctx context.Context, handler queue.MessageHandler, msg kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("handler panic: %v", r)
		}
	}()
	return handler(ctx, msg.Key, msg.Value)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	readers := t.readers
	t.readers = nil
	t.mu.Unlock()

	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := t.Producer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
