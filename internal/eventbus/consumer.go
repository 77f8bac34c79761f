package eventbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/acquiro/gateway/internal/logger"
)

// MessageHandler processes one message. ctx carries trace_id/correlation_id
// extracted from the message headers. A non-nil return marks the message
// for the dead-letter queue.
type MessageHandler func(ctx context.Context, msg *Message) error

// Consumer reads messages from a topic and dispatches them to a handler,
// supporting graceful shutdown via context cancellation.
type Consumer struct {
	reader   *kafka.Reader
	producer *Producer // used for DLQ publishing, optional
	cfg      Config
	topic    string
}

// NewConsumer creates a Consumer bound to topic under groupID. Multiple
// instances sharing groupID split partitions between them.
func NewConsumer(cfg Config, topic string, groupID string) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	if groupID == "" {
		return nil, fmt.Errorf("group id is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        100 * time.Millisecond,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", topic).
		Str("group_id", groupID).
		Msg("kafka consumer created")

	return &Consumer{
		reader: reader,
		cfg:    cfg,
		topic:  topic,
	}, nil
}

// SetDLQProducer configures where failed messages are republished.
func (c *Consumer) SetDLQProducer(p *Producer) {
	c.producer = p
}

// Consume reads messages until ctx is canceled.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	logger.Info().
		Str("topic", c.topic).
		Msg("starting kafka consume loop")

	for {
		select {
		case <-ctx.Done():
			logger.Info().
				Str("topic", c.topic).
				Msg("shutdown signal received, stopping consumer")
			return ctx.Err()
		default:
		}

		msg, err := c.fetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			logger.Error().
				Err(err).
				Str("topic", c.topic).
				Msg("error reading message from kafka")
			continue
		}

		if err := c.processMessage(ctx, msg, handler); err != nil {
			logger.Error().
				Err(err).
				Str("topic", c.topic).
				Str("key", string(msg.Key)).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("error processing message")

			if c.producer != nil {
				if dlqErr := c.sendToDLQ(ctx, msg, err); dlqErr != nil {
					logger.Error().
						Err(dlqErr).
						Msg("error publishing to dlq")
				}
			}
		}

		// Commit regardless of handler outcome. A failed message goes to
		// the DLQ only when a DLQ producer is set; otherwise it is only
		// logged above.
		if err := c.commitMessage(ctx, msg); err != nil {
			logger.Error().
				Err(err).
				Msg("error committing offset")
		}
	}
}

// ConsumeWithRetry wraps handler with bounded retries and exponential
// backoff before falling through to the DLQ.
func (c *Consumer) ConsumeWithRetry(ctx context.Context, handler MessageHandler, maxRetries int) error {
	retryHandler := func(ctx context.Context, msg *Message) error {
		var lastErr error
		for attempt := 0; attempt <= maxRetries; attempt++ {
			if attempt > 0 {
				delay := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
				logger.Warn().
					Int("attempt", attempt).
					Str("key", string(msg.Key)).
					Dur("delay", delay).
					Msg("retrying message processing")

				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
			}

			if err := handler(ctx, msg); err != nil {
				lastErr = err
				continue
			}
			return nil
		}
		return fmt.Errorf("retries exhausted: %w", lastErr)
	}

	return c.Consume(ctx, retryHandler)
}

func (c *Consumer) fetchMessage(ctx context.Context) (*Message, error) {
	kafkaMsg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	return fromKafkaMessage(kafkaMsg), nil
}

func (c *Consumer) processMessage(ctx context.Context, msg *Message, handler MessageHandler) error {
	msgCtx := c.contextFromMessage(ctx, msg)

	logger.Debug().
		Str("topic", msg.Topic).
		Str("key", string(msg.Key)).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Str("trace_id", TraceIDFromContext(msgCtx)).
		Str("correlation_id", CorrelationIDFromContext(msgCtx)).
		Msg("message received from kafka")

	return handler(msgCtx, msg)
}

func (c *Consumer) contextFromMessage(ctx context.Context, msg *Message) context.Context {
	if traceID, ok := msg.Headers[HeaderTraceID]; ok {
		ctx = ContextWithTraceID(ctx, traceID)
	}

	if correlationID, ok := msg.Headers[HeaderCorrelationID]; ok {
		ctx = ContextWithCorrelationID(ctx, correlationID)
	}

	return ctx
}

func (c *Consumer) commitMessage(ctx context.Context, msg *Message) error {
	return c.reader.CommitMessages(ctx, kafka.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	})
}

func (c *Consumer) sendToDLQ(ctx context.Context, msg *Message, processingErr error) error {
	logger.Warn().
		Str("topic", msg.Topic).
		Str("key", string(msg.Key)).
		Err(processingErr).
		Msg("sending message to dlq")

	return c.producer.SendToDLQ(ctx, msg, processingErr)
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	logger.Info().
		Str("topic", c.topic).
		Msg("closing kafka consumer")

	if err := c.reader.Close(); err != nil {
		logger.Error().
			Err(err).
			Str("topic", c.topic).
			Msg("error closing kafka consumer")
		return fmt.Errorf("closing consumer: %w", err)
	}

	logger.Info().
		Str("topic", c.topic).
		Msg("kafka consumer closed")
	return nil
}

// Stats returns the underlying reader's stats.
func (c *Consumer) Stats() kafka.ReaderStats {
	return c.reader.Stats()
}

// Lag returns the consumer's current lag behind the topic's end.
func (c *Consumer) Lag() int64 {
	return c.reader.Stats().Lag
}
