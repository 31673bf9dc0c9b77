package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/patteeraL/movra/services/currency-converter/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockWriter implements messageWriter for testing
type MockWriter struct {
	messages          []kafka.Message
	closed            bool
	WriteMessagesFunc func(ctx context.Context, msgs ...kafka.Message) error
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.WriteMessagesFunc != nil {
		return m.WriteMessagesFunc(ctx, msgs...)
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *MockWriter) Close() error {
	m.closed = true
	return nil
}

func testConversion() *model.Conversion {
	return &model.Conversion{
		From:      "USD",
		To:        "ZMW",
		Amount:    10,
		Rate:      18.255,
		Converted: decimal.RequireFromString("182.55"),
		Source:    "simulated",
		Timestamp: time.UnixMilli(1700000000000),
	}
}

func TestKafkaPublisher_PublishConversion(t *testing.T) {
	w := &MockWriter{}
	p := newKafkaPublisher(w, DefaultTopic, "node-a", zap.NewNop())

	require.NoError(t, p.PublishConversion(context.Background(), testConversion()))
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "USD_ZMW", string(msg.Key))

	var event ConversionRecordedEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "node-a", event.InstanceID)
	assert.Equal(t, "USD_ZMW", event.Currencies)
	assert.Equal(t, "182.55", event.Converted)
	assert.Equal(t, int64(1700000000000), event.Timestamp)
	assert.Equal(t, 18.255, event.Rate)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &MockWriter{
		WriteMessagesFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			return errors.New("broker unavailable")
		},
	}
	p := newKafkaPublisher(w, "custom.topic", "", zap.NewNop())

	err := p.PublishConversion(context.Background(), testConversion())
	assert.ErrorContains(t, err, "custom.topic")
}

func TestKafkaPublisher_Close(t *testing.T) {
	w := &MockWriter{}
	p := newKafkaPublisher(w, DefaultTopic, "", zap.NewNop())

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaPublisher_DefaultTopic(t *testing.T) {
	p := NewKafkaPublisher([]string{"localhost:9092"}, "", "node-a", zap.NewNop())
	assert.Equal(t, DefaultTopic, p.topic)
	assert.NoError(t, p.Close())
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.PublishConversion(context.Background(), testConversion()))
	assert.NoError(t, p.Close())
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, ,b:9092 "))
	assert.Empty(t, ParseBrokers(""))
}
