package sqs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/cockroachdb/errors"
	"github.com/example/order-pipeline/internal/infrastructure/queue"
	"github.com/example/order-pipeline/internal/logging"
	"github.com/example/order-pipeline/internal/metrics"
	"go.uber.org/zap"
)

// Payload extracts the message payload from an SQS record. Publishers may send
// the JSON body as is or base64 encoded; anything else is passed through raw
// and left to the handler to reject.
func Payload(record events.SQSMessage) []byte {
	raw := []byte(record.Body)
	if json.Valid(raw) {
		return raw
	}
	if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil && json.Valid(decoded) {
		return decoded
	}
	return raw
}

// ReceiveCount returns the ApproximateReceiveCount attribute, or 0 when absent.
func ReceiveCount(record events.SQSMessage) int {
	n, err := strconv.Atoi(record.Attributes["ApproximateReceiveCount"])
	if err != nil {
		return 0
	}
	return n
}

// BatchHandler adapts a queue.MessageHandler to an SQS-triggered Lambda.
// Failed records are reported in BatchItemFailures so that only they become
// visible again after the visibility timeout; the redrive policy on the queue
// moves them to the dead-letter queue.
type BatchHandler struct {
	topic   string
	handler queue.MessageHandler
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewBatchHandler(topic string, handler queue.MessageHandler, log *zap.Logger, m *metrics.Metrics) *BatchHandler {
	return &BatchHandler{
		topic:   topic,
		handler: handler,
		log:     logging.OrNop(log).With(zap.String("component", "queue"), zap.String("backend", "sqs")),
		metrics: m,
	}
}

func (h *BatchHandler) Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	h.log.Debug("received batch", zap.String("topic", h.topic), zap.Int("records", len(event.Records)))

	var failures []events.SQSBatchItemFailure
	for _, record := range event.Records {
		if err := h.invoke(ctx, record); err != nil {
			h.log.Warn("record failed, will be redelivered",
				zap.String("topic", h.topic),
				zap.String("message_id", record.MessageId),
				zap.Int("receive_count", ReceiveCount(record)),
				zap.Error(err),
			)
			h.metrics.IncConsumed(h.topic, "nack")
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}
		h.metrics.IncConsumed(h.topic, "ack")
	}

	h.log.Info("processed batch",
		zap.String("topic", h.topic),
		zap.Int("succeeded", len(event.Records)-len(failures)),
		zap.Int("total", len(event.Records)),
	)
	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

func (h *BatchHandler) invoke(ctx context.Context, record events.SQSMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("handler panic: %v", r)
		}
	}()
	return h.handler(ctx, []byte(record.MessageId), Payload(record))
}
