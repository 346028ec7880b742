package anchor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/terminal-archives/paperledger/internal/ledger"
)

// KafkaPublisher writes entry-appended events to a Kafka topic, keyed by
// resource id so one resource's events stay in partition order.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaPublisher creates a KafkaPublisher. brokers and topic must be
// non-empty; callers with neither configured should use Noop instead.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka publisher requires both brokers and topic")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  5 * time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Sugar().Errorf("kafka writer: "+msg, args...)
		}),
	}

	logger.Info("anchor feed enabled",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic),
	)
	return &KafkaPublisher{writer: w, logger: logger}, nil
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, entry *ledger.Entry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry %s: %w", entry.EntryHash, err)
	}

	msg := kafka.Message{
		Key:   []byte(entry.ResourceID),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write anchor event for %s: %w", entry.EntryHash, err)
	}
	return nil
}

// Close flushes buffered messages and shuts the writer down.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var _ Publisher = (*KafkaPublisher)(nil)
var _ Publisher = (*Noop)(nil)
