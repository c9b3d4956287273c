package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventType = "x-event-type"
	HeaderEventID   = "x-event-id"
	HeaderTraceID   = "x-trace-id"
)

// NewMessage wraps env for topic, keyed by its correlation id.
func NewMessage(topic string, env orders.Envelope) (kafka.Message, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s: %w", env.EventType, err)
	}
	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(env.EventType)},
		{Key: HeaderEventID, Value: []byte(env.EventID)},
	}
	if env.TraceID != "" {
		headers = append(headers, kafka.Header{Key: HeaderTraceID, Value: []byte(env.TraceID)})
	}
	return kafka.Message{
		Topic:   topic,
		Key:     orders.PartitionKey(env.CorrelationID),
		Value:   b,
		Time:    time.Now(),
		Headers: headers,
	}, nil
}

func DecodeEnvelope(m kafka.Message) (orders.Envelope, error) {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return env, fmt.Errorf("decode envelope %s@%d: %w", m.Topic, m.Offset, err)
	}
	return env, nil
}

func Header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
