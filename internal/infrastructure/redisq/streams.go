package redisq

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/example/order-pipeline/internal/infrastructure/queue"
	"github.com/example/order-pipeline/internal/logging"
	"github.com/example/order-pipeline/internal/metrics"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	fieldContentType = "content_type"
	fieldBody        = "body"

	batchSize = 16
)

type Options struct {
	Addr     string
	Password string
	Group    string
	// VisibilityTimeout is the idle time after which an unacknowledged entry
	// is claimed and delivered again.
	VisibilityTimeout time.Duration
	MaxDeliveries     int
	Logger            *zap.Logger
	Metrics           *metrics.Metrics
}

// Transport is a queue.Transport on Redis Streams consumer groups. Every topic
// is a stream; entries stay pending until the handler succeeds.
type Transport struct {
	rdb      *rd.Client
	opts     Options
	consumer string
	log      *zap.Logger
}

func NewTransport(opts Options) *Transport {
	rdb := rd.NewClient(&rd.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
	})
	return newTransport(rdb, opts)
}

func newTransport(rdb *rd.Client, opts Options) *Transport {
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 30 * time.Second
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 5
	}
	return &Transport{
		rdb:      rdb,
		opts:     opts,
		consumer: opts.Group + "-" + uuid.NewString()[:8],
		log:      logging.OrNop(opts.Logger).With(zap.String("component", "queue"), zap.String("backend", "redis")),
	}
}

// Ping checks the connection.
func (t *Transport) Ping(ctx context.Context) error {
	return t.rdb.Ping(ctx).Err()
}

func (t *Transport) Enqueue(ctx context.Context, topic string, payload []byte) error {
	err := t.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: topic,
		Values: map[string]any{
			fieldContentType: queue.ContentTypeJSON,
			fieldBody:        string(payload),
		},
	}).Err()
	if err != nil {
		return errors.Wrapf(err, "failed to add entry to stream %s", topic)
	}
	return nil
}

// Subscribe blocks until ctx is cancelled.
func (t *Transport) Subscribe(ctx context.Context, topic string, handler queue.MessageHandler) error {
	if err := t.ensureGroup(ctx, topic); err != nil {
		return errors.Wrapf(err, "failed to create consumer group on %s", topic)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Entries another delivery left unacknowledged past the timeout come first.
		msgs, err := t.claimExpired(ctx, topic)
		if err == nil && len(msgs) == 0 {
			msgs, err = t.readNew(ctx, topic)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, rd.ErrClosed) {
				return queue.ErrClosed
			}
			t.log.Warn("error reading stream", zap.String("topic", topic), zap.Error(err))
			sleep(ctx, 300*time.Millisecond)
			continue
		}

		for _, xm := range msgs {
			t.process(ctx, topic, handler, xm)
		}
	}
}

func (t *Transport) ensureGroup(ctx context.Context, topic string) error {
	err := t.rdb.XGroupCreateMkStream(ctx, topic, t.opts.Group, "0").Err()
	if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (t *Transport) claimExpired(ctx context.Context, topic string) ([]rd.XMessage, error) {
	msgs, _, err := t.rdb.XAutoClaim(ctx, &rd.XAutoClaimArgs{
		Stream:   topic,
		Group:    t.opts.Group,
		Consumer: t.consumer,
		MinIdle:  t.opts.VisibilityTimeout,
		Start:    "0-0",
		Count:    batchSize,
	}).Result()
	if err != nil && !errors.Is(err, rd.Nil) {
		return nil, err
	}
	return msgs, nil
}

func (t *Transport) readNew(ctx context.Context, topic string) ([]rd.XMessage, error) {
	streams, err := t.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    t.opts.Group,
		Consumer: t.consumer,
		Streams:  []string{topic, ">"},
		Count:    batchSize,
		Block:    blockFor(t.opts.VisibilityTimeout),
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var out []rd.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (t *Transport) process(ctx context.Context, topic string, handler queue.MessageHandler, xm rd.XMessage) {
	deliveries, err := t.deliveryCount(ctx, topic, xm.ID)
	if err != nil {
		t.log.Warn("failed to read delivery count", zap.String("topic", topic), zap.String("message_id", xm.ID), zap.Error(err))
		return
	}
	if deliveries > int64(t.opts.MaxDeliveries) {
		t.deadLetter(ctx, topic, xm, deliveries-1)
		return
	}

	body, err := fieldString(xm.Values, fieldBody)
	if err != nil {
		// Without a body there is nothing a redelivery could fix.
		t.deadLetter(ctx, topic, xm, deliveries)
		return
	}

	if err := invoke(ctx, handler, []byte(xm.ID), []byte(body)); err != nil {
		t.opts.Metrics.IncConsumed(topic, "nack")
		t.log.Warn("handler failed, entry stays pending",
			zap.String("topic", topic),
			zap.String("message_id", xm.ID),
			zap.Int64("delivery_count", deliveries),
			zap.Error(err),
		)
		return
	}

	if err := t.ack(ctx, topic, xm.ID); err != nil {
		t.log.Error("failed to acknowledge entry", zap.String("topic", topic), zap.String("message_id", xm.ID), zap.Error(err))
		return
	}
	t.opts.Metrics.IncConsumed(topic, "ack")
}

func (t *Transport) deliveryCount(ctx context.Context, topic, id string) (int64, error) {
	pending, err := t.rdb.XPendingExt(ctx, &rd.XPendingExtArgs{
		Stream: topic,
		Group:  t.opts.Group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, errors.Newf("entry %s is not pending", id)
	}
	return pending[0].RetryCount, nil
}

func (t *Transport) deadLetter(ctx context.Context, topic string, xm rd.XMessage, deliveries int64) {
	pipe := t.rdb.TxPipeline()
	pipe.XAdd(ctx, &rd.XAddArgs{Stream: queue.DeadLetterTopic(topic), Values: xm.Values})
	pipe.XAck(ctx, topic, t.opts.Group, xm.ID)
	pipe.XDel(ctx, topic, xm.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		t.log.Error("failed to dead-letter entry", zap.String("topic", topic), zap.String("message_id", xm.ID), zap.Error(err))
		return
	}
	t.opts.Metrics.IncConsumed(topic, "dead_letter")
	t.log.Error("message moved to dead-letter",
		zap.String("topic", topic),
		zap.String("message_id", xm.ID),
		zap.Int64("delivery_count", deliveries),
	)
}

func (t *Transport) ack(ctx context.Context, topic, id string) error {
	pipe := t.rdb.TxPipeline()
	pipe.XAck(ctx, topic, t.opts.Group, id)
	pipe.XDel(ctx, topic, id)
	_, err := pipe.Exec(ctx)
	return err
}

func (t *Transport) Close() error {
	return t.rdb.Close()
}

func invoke(ctx context.Context, handler queue.MessageHandler, key, value []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("handler panic: %v", r)
		}
	}()
	return handler(ctx, key, value)
}

func fieldString(values map[string]any, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", errors.Newf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	default:
		return "", errors.Newf("unsupported field type %s: %T", key, v)
	}
}

// blockFor keeps XREADGROUP short enough that expired entries are reclaimed
// within roughly one visibility timeout.
func blockFor(visibility time.Duration) time.Duration {
	d := visibility / 2
	if d < 10*time.Millisecond {
		return 10 * time.Millisecond
	}
	if d > 2*time.Second {
		return 2 * time.Second
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
