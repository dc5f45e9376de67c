package queue

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/example/order-pipeline/internal/logging"
	"github.com/example/order-pipeline/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Message is a payload held by the in-memory transport.
type Message struct {
	ID            string
	Topic         string
	ContentType   string
	Body          []byte
	EnqueuedAt    time.Time
	DeliveryCount int
}

type MemoryOptions struct {
	// VisibilityTimeout is how long a delivered message stays hidden before it
	// is handed out again unless acknowledged.
	VisibilityTimeout time.Duration
	// MaxDeliveries moves a message to the dead-letter list once it has been
	// delivered this many times without an acknowledgement.
	MaxDeliveries int
	// Workers is the number of concurrent handler invocations per Subscribe call.
	Workers int
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

type delivery struct {
	msg      *Message
	receipt  string
	deadline time.Time
}

type memoryTopic struct {
	ready    []*Message
	inflight map[string]*delivery
	dead     []*Message
	notify   chan struct{}
}

// MemoryQueue is a process-local Transport with visibility-timeout redelivery.
type MemoryQueue struct {
	mu     sync.Mutex
	topics map[string]*memoryTopic
	opts   MemoryOptions
	log    *zap.Logger
	now    func() time.Time
	closed bool
	done   chan struct{}
}

func NewMemoryQueue(opts MemoryOptions) *MemoryQueue {
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 30 * time.Second
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 5
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &MemoryQueue{
		topics: make(map[string]*memoryTopic),
		opts:   opts,
		log:    logging.OrNop(opts.Logger).With(zap.String("component", "queue"), zap.String("backend", "memory")),
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	t := q.topicLocked(topic)
	t.ready = append(t.ready, &Message{
		ID:          uuid.NewString(),
		Topic:       topic,
		ContentType: ContentTypeJSON,
		Body:        append([]byte(nil), payload...),
		EnqueuedAt:  q.now(),
	})
	q.mu.Unlock()

	signal(t.notify)
	return nil
}

// Subscribe blocks until ctx is cancelled or the queue is closed.
func (q *MemoryQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	var wg sync.WaitGroup
	for i := 0; i < q.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx, topic, handler)
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrClosed
}

func (q *MemoryQueue) work(ctx context.Context, topic string, handler MessageHandler) {
	ticker := time.NewTicker(pollInterval(q.opts.VisibilityTimeout))
	defer ticker.Stop()

	q.mu.Lock()
	notify := q.topicLocked(topic).notify
	q.mu.Unlock()

	for {
		d, ok := q.receive(topic)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case <-notify:
			case <-ticker.C:
			}
			continue
		}

		if err := q.invoke(ctx, handler, d); err != nil {
			q.log.Warn("handler failed, message will be redelivered after visibility timeout",
				zap.String("topic", topic),
				zap.String("message_id", d.msg.ID),
				zap.Int("delivery_count", d.msg.DeliveryCount),
				zap.Error(err),
			)
			q.opts.Metrics.IncConsumed(topic, "nack")
			continue
		}
		q.ack(topic, d)
		q.opts.Metrics.IncConsumed(topic, "ack")
	}
}

func (q *MemoryQueue) invoke(ctx context.Context, handler MessageHandler, d *delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("handler panic: %v", r)
		}
	}()
	return handler(ctx, []byte(d.msg.ID), append([]byte(nil), d.msg.Body...))
}

func (q *MemoryQueue) receive(topic string) (*delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, false
	}
	t := q.topicLocked(topic)
	q.reapLocked(topic, t)
	if len(t.ready) == 0 {
		return nil, false
	}

	msg := t.ready[0]
	t.ready[0] = nil
	t.ready = t.ready[1:]
	msg.DeliveryCount++

	d := &delivery{
		msg:      msg,
		receipt:  uuid.NewString(),
		deadline: q.now().Add(q.opts.VisibilityTimeout),
	}
	t.inflight[msg.ID] = d
	return d, true
}

// reapLocked makes expired in-flight messages visible again, or dead-letters
// them once they have used up their deliveries.
func (q *MemoryQueue) reapLocked(topic string, t *memoryTopic) {
	now := q.now()
	for id, d := range t.inflight {
		if now.Before(d.deadline) {
			continue
		}
		delete(t.inflight, id)
		if d.msg.DeliveryCount >= q.opts.MaxDeliveries {
			t.dead = append(t.dead, d.msg)
			q.log.Error("message moved to dead-letter",
				zap.String("topic", topic),
				zap.String("message_id", id),
				zap.Int("delivery_count", d.msg.DeliveryCount),
			)
			q.opts.Metrics.IncConsumed(topic, "dead_letter")
			continue
		}
		t.ready = append(t.ready, d.msg)
	}
}

func (q *MemoryQueue) ack(topic string, d *delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t := q.topicLocked(topic)
	// A late acknowledgement for a delivery that already timed out does not
	// cancel the redelivery.
	if cur, ok := t.inflight[d.msg.ID]; ok && cur.receipt == d.receipt {
		delete(t.inflight, d.msg.ID)
	}
}

// DeadLetters returns copies of the messages dead-lettered on topic.
func (q *MemoryQueue) DeadLetters(topic string) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	t := q.topicLocked(topic)
	q.reapLocked(topic, t)
	out := make([]Message, 0, len(t.dead))
	for _, m := range t.dead {
		out = append(out, *m)
	}
	return out
}

// Pending counts messages that are ready or in flight on topic.
func (q *MemoryQueue) Pending(topic string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	t := q.topicLocked(topic)
	return len(t.ready) + len(t.inflight)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

func (q *MemoryQueue) topicLocked(name string) *memoryTopic {
	t, ok := q.topics[name]
	if !ok {
		t = &memoryTopic{
			inflight: make(map[string]*delivery),
			notify:   make(chan struct{}, 1),
		}
		q.topics[name] = t
	}
	return t
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func pollInterval(visibility time.Duration) time.Duration {
	d := visibility / 4
	if d < 5*time.Millisecond {
		return 5 * time.Millisecond
	}
	if d > time.Second {
		return time.Second
	}
	return d
}
