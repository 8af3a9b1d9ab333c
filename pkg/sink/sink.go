// Package sink forwards committed coordinator events to durable consumers:
// a Kafka topic for downstream indexers and the node's Pebble event log.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/uhyunpark/levelbook/pkg/app/core/exchange"
	"github.com/uhyunpark/levelbook/pkg/storage"
	"github.com/uhyunpark/levelbook/pkg/util"
)

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each event as one message keyed by collection and
// tokenId, so one partition sees a tokenId's events in commit order.
type KafkaSink struct {
	writer  MessageWriter
	timeout time.Duration
	log     *zap.SugaredLogger
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func NewKafkaSink(w MessageWriter, timeout time.Duration, logger *zap.SugaredLogger) *KafkaSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaSink{writer: w, timeout: timeout, log: util.OrNop(logger)}
}

func messageKey(e exchange.Event) []byte {
	id := "0"
	if e.TokenID != nil {
		id = e.TokenID.Dec()
	}
	return []byte(e.Target.Hex() + ":" + id)
}

func (s *KafkaSink) Deliver(ctx context.Context, events []exchange.Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   messageKey(e),
			Value: value,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(e.Type)},
			},
		})
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish %d events: %w", len(msgs), err)
	}
	s.log.Debugw("kafka_published", "events", len(msgs))
	return nil
}

func (s *KafkaSink) Close() error { return s.writer.Close() }

// EventLogSink appends events to the persistent event log.
type EventLogSink struct {
	log *storage.EventLog
}

func NewEventLogSink(l *storage.EventLog) *EventLogSink {
	return &EventLogSink{log: l}
}

func (s *EventLogSink) Deliver(_ context.Context, events []exchange.Event) error {
	records := make([]any, len(events))
	for i := range events {
		records[i] = events[i]
	}
	if _, err := s.log.Append(records...); err != nil {
		return err
	}
	return nil
}
