// Package events publishes conversion events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patteeraL/movra/services/currency-converter/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DefaultTopic receives one message per recorded conversion
const DefaultTopic = "conversion.recorded"

// ConversionRecordedEvent is published after a conversion is stored
type ConversionRecordedEvent struct {
	EventID    string    `json:"eventId"`
	InstanceID string    `json:"instanceId,omitempty"` // publishing service instance
	Currencies string    `json:"currencies"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Amount     float64   `json:"amount"`
	Rate       float64   `json:"rate"`
	Converted  string    `json:"converted"`
	Source     string    `json:"source"`
	Timestamp  int64     `json:"timestamp"` // record timestamp, milliseconds
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher sends conversion events
type Publisher interface {
	PublishConversion(ctx context.Context, conversion *model.Conversion) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes conversion events to a Kafka topic, keyed by
// currency pair so events for one pair stay ordered
type KafkaPublisher struct {
	writer     messageWriter
	topic      string
	instanceID string
	logger     *zap.Logger
}

// NewKafkaPublisher creates a publisher for the given brokers. instanceID
// tags each event so a history sync consumer can skip its own events.
func NewKafkaPublisher(brokers []string, topic, instanceID string, logger *zap.Logger) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newKafkaPublisher(writer, topic, instanceID, logger)
}

func newKafkaPublisher(w messageWriter, topic, instanceID string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer:     w,
		topic:      topic,
		instanceID: instanceID,
		logger:     logger,
	}
}

// PublishConversion publishes one conversion.recorded event
func (p *KafkaPublisher) PublishConversion(ctx context.Context, c *model.Conversion) error {
	pair := model.PairKey(c.From, c.To)
	event := ConversionRecordedEvent{
		EventID:    uuid.New().String(),
		InstanceID: p.instanceID,
		Currencies: pair,
		From:       c.From,
		To:         c.To,
		Amount:     c.Amount,
		Rate:       c.Rate,
		Converted:  c.Converted.StringFixed(2),
		Source:     c.Source,
		Timestamp:  c.Timestamp.UnixMilli(),
		OccurredAt: time.Now().UTC(),
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(pair),
		Value: value,
	}); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}

	p.logger.Debug("Published conversion event",
		zap.String("eventId", event.EventID),
		zap.String("currencies", pair),
	)
	return nil
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event, for running without Kafka
type NopPublisher struct{}

// PublishConversion does nothing
func (NopPublisher) PublishConversion(context.Context, *model.Conversion) error { return nil }

// Close does nothing
func (NopPublisher) Close() error { return nil }

// ParseBrokers splits a comma-separated broker list
func ParseBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
