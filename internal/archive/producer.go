package archive

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"Syncline/internal/model"
)

const writeTimeout = 5 * time.Second

// Producer streams persisted messages to Kafka for downstream archival and
// analytics. Delivery is fire-and-forget: the chat path never blocks on the
// broker, and failures are only logged.
type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewProducer returns nil when no brokers are configured; a nil Producer is
// safe to call.
func NewProducer(brokers []string, topic string, logger *zap.Logger) *Producer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
		logger: logger,
	}
}

// Archive publishes one message keyed by conversation id, so per-conversation
// order survives partitioning.
func (p *Producer) Archive(ctx context.Context, msg *model.Message) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("failed to encode message for archive", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.ConversationID),
		Value: payload,
	})
	if err != nil {
		p.logger.Error("failed to archive message",
			zap.String("message_id", msg.ID),
			zap.Error(err))
	}
}

func (p *Producer) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
