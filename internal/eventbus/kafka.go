// Package eventbus wraps segmentio/kafka-go for the orchestration plane's
// event bus: saga Command/Reply traffic between the coordinator and step
// workers, plus the domain event streams (payment, settlement, dispute)
// consumed by downstream systems. Producer and Consumer carry headers and
// support graceful shutdown via context.
package eventbus

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/acquiro/gateway/internal/logger"
)

// Saga command/reply topics.
const (
	TopicSagaCommands = "saga.commands"
	TopicSagaReplies  = "saga.replies"
	TopicDLQ          = "dlq.saga"
)

// Domain event topics, populated by the outbox worker and consumed by
// settlement, webhook, and audit pipelines.
const (
	TopicPaymentEvents    = "payment.events"
	TopicSettlementEvents = "settlement.events"
	TopicDisputeEvents    = "dispute.events"
)

// Kafka header keys used across the event bus.
const (
	HeaderTraceID       = "trace_id"
	HeaderCorrelationID = "correlation_id"
	HeaderTimestamp     = "timestamp"
)

// Config holds Kafka connection settings.
type Config struct {
	Brokers       []string
	ConsumerGroup string
}

// Message is a Kafka message with its metadata, independent of the
// underlying kafka-go type.
type Message struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Headers   map[string]string
	Time      time.Time
}

func fromKafkaMessage(m kafka.Message) *Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}

	return &Message{
		Key:       m.Key,
		Value:     m.Value,
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Headers:   headers,
		Time:      m.Time,
	}
}

func (m *Message) toKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{
			Key:   k,
			Value: []byte(v),
		})
	}

	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Topic:   m.Topic,
		Headers: headers,
		Time:    m.Time,
	}
}

// TraceIDFromContext delegates to internal/logger for context consistency.
func TraceIDFromContext(ctx context.Context) string {
	return logger.TraceIDFromContext(ctx)
}

// CorrelationIDFromContext delegates to internal/logger for context consistency.
func CorrelationIDFromContext(ctx context.Context) string {
	return logger.CorrelationIDFromContext(ctx)
}

// ContextWithTraceID delegates to internal/logger for context consistency.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return logger.WithTraceID(ctx, traceID)
}

// ContextWithCorrelationID delegates to internal/logger for context consistency.
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return logger.WithCorrelationID(ctx, correlationID)
}

// TopicConfig describes a topic to provision.
type TopicConfig struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
}

// EnsureTopics creates topics that do not already exist. Safe to call on
// every process start.
func EnsureTopics(brokers []string, topics []TopicConfig) error {
	if len(brokers) == 0 {
		return nil
	}

	log := logger.Logger()

	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}

	controllerAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	controllerConn, err := kafka.Dial("tcp", controllerAddr)
	if err != nil {
		return err
	}
	defer func() { _ = controllerConn.Close() }()

	topicConfigs := make([]kafka.TopicConfig, len(topics))
	for i, t := range topics {
		topicConfigs[i] = kafka.TopicConfig{
			Topic:             t.Name,
			NumPartitions:     t.NumPartitions,
			ReplicationFactor: t.ReplicationFactor,
		}
	}

	if err := controllerConn.CreateTopics(topicConfigs...); err != nil {
		log.Warn().Err(err).Msg("error creating topics (may already exist)")
	}

	for _, t := range topics {
		log.Info().
			Str("topic", t.Name).
			Int("partitions", t.NumPartitions).
			Msg("topic ensured")
	}

	return nil
}

// DefaultSagaTopics returns the saga command/reply/DLQ topic set.
func DefaultSagaTopics() []TopicConfig {
	return []TopicConfig{
		{Name: TopicSagaCommands, NumPartitions: 3, ReplicationFactor: 1},
		{Name: TopicSagaReplies, NumPartitions: 3, ReplicationFactor: 1},
		{Name: TopicDLQ, NumPartitions: 1, ReplicationFactor: 1},
	}
}

// DefaultEventTopics returns the domain-event topic set published by the
// outbox worker.
func DefaultEventTopics() []TopicConfig {
	return []TopicConfig{
		{Name: TopicPaymentEvents, NumPartitions: 6, ReplicationFactor: 1},
		{Name: TopicSettlementEvents, NumPartitions: 3, ReplicationFactor: 1},
		{Name: TopicDisputeEvents, NumPartitions: 3, ReplicationFactor: 1},
	}
}
