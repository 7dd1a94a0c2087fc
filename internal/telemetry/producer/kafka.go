// Package producer publishes session events to a Kafka topic for the log-shipping worker.
package producer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"phone-verification-server/internal/telemetry/domain"
)

const writeTimeout = 5 * time.Second

// Header keys set on every message so consumers can route without decoding the value.
const (
	HeaderEventType = "event_type"
	HeaderSource    = "source"
)

// ErrNoTopic is returned when brokers are configured without a topic.
var ErrNoTopic = errors.New("kafka: brokers set but topic is empty")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka is a telemetry.EventEmitter writing one JSON message per event, keyed by session id.
// A nil *Kafka drops events.
type Kafka struct {
	w messageWriter
}

// NewKafka returns nil when no brokers are given.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	if topic == "" {
		return nil, ErrNoTopic
	}
	return &Kafka{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: writeTimeout,
	}}, nil
}

// Emit writes ev. The session id key keeps one session's events in order on a partition.
func (k *Kafka) Emit(ctx context.Context, ev *domain.Event) error {
	if k == nil || ev == nil {
		return nil
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Value: value,
		Time:  ev.CreatedAt,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(ev.Type)},
			{Key: HeaderSource, Value: []byte(ev.Source)},
		},
	}
	if ev.SessionID != "" {
		msg.Key = []byte(ev.SessionID)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return k.w.WriteMessages(ctx, msg)
}

func (k *Kafka) Close() error {
	if k == nil {
		return nil
	}
	return k.w.Close()
}
