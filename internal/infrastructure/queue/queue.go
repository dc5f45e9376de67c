package queue

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// ContentTypeJSON tags every payload the pipeline enqueues.
const ContentTypeJSON = "application/json"

// DeadLetterSuffix is appended to a topic name to form its dead-letter path.
const DeadLetterSuffix = ".dead-letter"

var ErrClosed = errors.New("queue closed")

// MessageHandler processes one delivered message. key is the transport's
// message identifier. Returning an error leaves the message to be redelivered.
type MessageHandler func(ctx context.Context, key, value []byte) error

// Publisher enqueues payloads onto a named topic.
type Publisher interface {
	Enqueue(ctx context.Context, topic string, payload []byte) error
}

// Subscriber delivers messages of a topic to a handler, at least once,
// until ctx is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
}

// Transport is a Publisher and Subscriber with a lifecycle.
type Transport interface {
	Publisher
	Subscriber
	Close() error
}

// EnqueueJSON marshals v and enqueues it on topic.
func EnqueueJSON(ctx context.Context, p Publisher, topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal message for %s", topic)
	}
	return p.Enqueue(ctx, topic, data)
}

// DeadLetterTopic returns the dead-letter path for topic.
func DeadLetterTopic(topic string) string {
	return topic + DeadLetterSuffix
}
