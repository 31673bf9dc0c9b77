package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/patteeraL/movra/services/currency-converter/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// RecordSink receives mirrored conversions
type RecordSink interface {
	AddRecord(ctx context.Context, record *model.ConversionRecord) error
}

// ConsumeRecorder receives consumer measurements
type ConsumeRecorder interface {
	RecordEventConsumed(status string)
}

// messageReader is the part of *kafka.Reader the consumer uses
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// errInvalidEvent marks events that are dropped rather than retried
var errInvalidEvent = errors.New("invalid conversion event")

// HistoryConsumer mirrors conversion.recorded events published by other
// instances into the local record store, so instances sharing a topic show
// the same recent conversions
type HistoryConsumer struct {
	reader     messageReader
	sink       RecordSink
	instanceID string
	metrics    ConsumeRecorder
	logger     *zap.Logger
}

// NewHistoryConsumer creates a consumer. groupID must be unique per
// instance, every instance needs every event.
func NewHistoryConsumer(brokers []string, topic, groupID, instanceID string, sink RecordSink, metrics ConsumeRecorder, logger *zap.Logger) *HistoryConsumer {
	if topic == "" {
		topic = DefaultTopic
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return newHistoryConsumer(reader, sink, instanceID, metrics, logger)
}

func newHistoryConsumer(r messageReader, sink RecordSink, instanceID string, metrics ConsumeRecorder, logger *zap.Logger) *HistoryConsumer {
	return &HistoryConsumer{
		reader:     r,
		sink:       sink,
		instanceID: instanceID,
		metrics:    metrics,
		logger:     logger,
	}
}

// Start consumes messages until ctx is cancelled or the consumer is closed
func (c *HistoryConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting history sync consumer", zap.String("instanceId", c.instanceID))

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.Error("Failed to read message", zap.Error(err))
			continue
		}

		status, err := c.handleMessage(ctx, msg)
		if err != nil {
			c.logger.Error("Failed to handle message",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
		if c.metrics != nil {
			c.metrics.RecordEventConsumed(status)
		}
	}
}

// handleMessage mirrors one event and returns its outcome label
func (c *HistoryConsumer) handleMessage(ctx context.Context, msg kafka.Message) (string, error) {
	var event ConversionRecordedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return "invalid", fmt.Errorf("%w: %v", errInvalidEvent, err)
	}

	if c.instanceID != "" && event.InstanceID == c.instanceID {
		return "skipped", nil
	}

	from, to := model.SplitPair(event.Currencies)
	if from == "" || to == "" || event.Rate <= 0 || event.Amount <= 0 {
		return "invalid", fmt.Errorf("%w: %s", errInvalidEvent, event.EventID)
	}

	c.logger.Debug("Received conversion.recorded event",
		zap.String("eventId", event.EventID),
		zap.String("currencies", event.Currencies),
		zap.String("instanceId", event.InstanceID),
	)

	if err := c.sink.AddRecord(ctx, &model.ConversionRecord{
		Currencies: event.Currencies,
		Rate:       event.Rate,
		Amount:     event.Amount,
	}); err != nil {
		return "failed", fmt.Errorf("mirror %s: %w", event.Currencies, err)
	}

	return "applied", nil
}

// Close closes the consumer
func (c *HistoryConsumer) Close() error {
	return c.reader.Close()
}
