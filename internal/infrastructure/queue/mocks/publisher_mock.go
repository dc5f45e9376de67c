package mocks

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of queue.Publisher for testing
type MockPublisher struct {
	mu sync.Mutex

	// For tracking calls in tests
	EnqueueCalls []EnqueueCall

	// EnqueueErr fails every Enqueue; TopicErrs fails only the named topics
	EnqueueErr error
	TopicErrs  map[string]error
}

// EnqueueCall records parameters passed to Enqueue
type EnqueueCall struct {
	Topic   string
	Payload []byte
}

// NewMockPublisher creates a new MockPublisher
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{TopicErrs: make(map[string]error)}
}

func (m *MockPublisher) Enqueue(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.EnqueueCalls = append(m.EnqueueCalls, EnqueueCall{
		Topic:   topic,
		Payload: append([]byte(nil), payload...),
	})
	if m.EnqueueErr != nil {
		return m.EnqueueErr
	}
	return m.TopicErrs[topic]
}

// FailTopic makes every Enqueue on topic return err
func (m *MockPublisher) FailTopic(topic string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TopicErrs[topic] = err
}

// Messages returns the payloads enqueued on topic, in order
func (m *MockPublisher) Messages(topic string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	for _, c := range m.EnqueueCalls {
		if c.Topic == topic {
			out = append(out, c.Payload)
		}
	}
	return out
}

// Reset clears recorded calls and injected errors
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EnqueueCalls = nil
	m.EnqueueErr = nil
	m.TopicErrs = make(map[string]error)
}
