package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaPublisher forwards bus events to a Kafka topic as JSON, keyed by
// event type so consumers can partition by kind.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaPublisher builds a publisher writing to the given brokers/topic.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
		logger: logger,
	}
}

// Handle is a bus Handler; write failures are logged, never retried here.
func (p *KafkaPublisher) Handle(event Event) {
	value, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to encode event", zap.Error(err), zap.String("type", event.Type))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Type),
		Value: value,
		Time:  event.Timestamp,
	})
	if err != nil {
		p.logger.Error("failed to publish event to kafka",
			zap.Error(err),
			zap.String("topic", p.writer.Topic),
			zap.String("type", event.Type))
	}
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
