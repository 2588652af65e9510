package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
)

// KafkaChannel publishes assistance messages to a Kafka topic for downstream
// consumers (audit trails, analytics, queryable retrieval services).
type KafkaChannel struct {
	topic   string
	brokers []string

	mu     sync.Mutex
	writer *kafka.Writer
}

// NewKafkaChannel constructs a channel writing to the given topic.
func NewKafkaChannel(brokers []string, topic string) *KafkaChannel {
	return &KafkaChannel{topic: topic, brokers: brokers}
}

// Name implements Channel.
func (c *KafkaChannel) Name() string { return "kafka" }

// Publish writes one record keyed by learner id, so all messages of a
// learner land on the same partition.
func (c *KafkaChannel) Publish(ctx context.Context, decision domain.AssistanceDecision) error {
	payload, err := json.Marshal(messageEnvelope{
		AssistanceTypeID: decision.AssistanceTypeID,
		LearnerID:        decision.LearnerID,
		TemplateKey:      decision.TemplateKey,
		Parameters:       decision.Parameters,
		SuppressionKey:   decision.SuppressionKey,
		IssuedAt:         time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	record := kafka.Message{
		Key:   []byte(decision.LearnerID),
		Value: payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "assistance_type_id", Value: []byte(decision.AssistanceTypeID)},
		},
	}

	if err := c.lazyWriter().WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeliveryFailure, err)
	}
	return nil
}

func (c *KafkaChannel) lazyWriter() *kafka.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writer == nil {
		c.writer = &kafka.Writer{
			Addr:         kafka.TCP(c.brokers...),
			Topic:        c.topic,
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Snappy,
			Async:        false,
		}
	}
	return c.writer
}

// Close releases the underlying writer.
func (c *KafkaChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writer == nil {
		return nil
	}
	err := c.writer.Close()
	c.writer = nil
	return err
}
