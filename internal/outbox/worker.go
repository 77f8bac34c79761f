package outbox

import (
	"context"
	"time"

	"github.com/acquiro/gateway/internal/eventbus"
	"github.com/acquiro/gateway/internal/logger"
)

// KafkaProducer is the event-bus publishing surface the worker depends on,
// narrowed to one method so unit tests can supply a fake instead of a live
// eventbus.Producer.
type KafkaProducer interface {
	SendMessage(ctx context.Context, msg *eventbus.Message) error
}

// WorkerConfig configures the outbox worker's polling and retry behavior.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int

	// MaxRetries is the number of delivery attempts before a row is marked
	// processed anyway (dead-lettered) instead of retried forever.
	MaxRetries int
}

// DefaultWorkerConfig returns sane polling defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: 1 * time.Second,
		BatchSize:    100,
		MaxRetries:   5,
	}
}

// OutboxWorker drains unprocessed outbox rows into the event bus,
// guaranteeing at-least-once delivery.
type OutboxWorker struct {
	repo     OutboxRepository
	producer KafkaProducer
	cfg      WorkerConfig
	name     string // identifies this worker instance in logs
}

// NewOutboxWorker creates a worker. name identifies the worker in logs
// (e.g. "payment-events", "settlement-events").
func NewOutboxWorker(repo OutboxRepository, producer KafkaProducer, cfg WorkerConfig, name string) *OutboxWorker {
	return &OutboxWorker{
		repo:     repo,
		producer: producer,
		cfg:      cfg,
		name:     name,
	}
}

const cleanupInterval = 1 * time.Hour
const cleanupRetention = 7 * 24 * time.Hour

// Run blocks, polling the outbox until ctx is canceled.
func (w *OutboxWorker) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Str("name", w.name).
		Dur("poll_interval", w.cfg.PollInterval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("outbox worker starting")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("name", w.name).Msg("outbox worker stopping")
			return
		case <-ticker.C:
			w.processOutbox(ctx)
		case <-cleanupTicker.C:
			w.cleanupProcessed(ctx)
		}
	}
}

func (w *OutboxWorker) cleanupProcessed(ctx context.Context) {
	log := logger.FromContext(ctx)

	before := time.Now().Add(-cleanupRetention)
	deleted, err := w.repo.DeleteProcessedBefore(ctx, before)
	if err != nil {
		log.Error().Err(err).Str("name", w.name).Msg("outbox cleanup failed")
		return
	}

	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Str("name", w.name).Msg("purged processed outbox rows")
	}
}

func (w *OutboxWorker) processOutbox(ctx context.Context) {
	log := logger.FromContext(ctx)

	records, err := w.repo.GetUnprocessed(ctx, w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Str("name", w.name).Msg("failed to read outbox")
		return
	}

	if len(records) == 0 {
		return
	}

	log.Debug().Int("count", len(records)).Str("name", w.name).Msg("processing outbox batch")

	for _, record := range records {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if record.RetryCount >= w.cfg.MaxRetries {
			log.Warn().
				Str("outbox_id", record.ID).
				Str("event_type", record.EventType).
				Str("aggregate_id", record.AggregateID).
				Int("retry_count", record.RetryCount).
				Msg("dead letter: retry limit exceeded, dropping from queue")

			if err := w.repo.MarkProcessed(ctx, record.ID); err != nil {
				log.Error().Err(err).Str("outbox_id", record.ID).Msg("failed to mark dead letter processed")
			}
			continue
		}

		w.sendToKafka(ctx, record)
	}
}

func (w *OutboxWorker) sendToKafka(ctx context.Context, record *Outbox) {
	log := logger.FromContext(ctx)

	msg := &eventbus.Message{
		Topic:   record.Topic,
		Key:     []byte(record.MessageKey),
		Value:   record.Payload,
		Headers: record.Headers,
	}

	if err := w.producer.SendMessage(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("outbox_id", record.ID).
			Str("topic", record.Topic).
			Msg("failed to publish to kafka")

		if markErr := w.repo.MarkFailed(ctx, record.ID, err); markErr != nil {
			log.Error().Err(markErr).Str("outbox_id", record.ID).Msg("failed to mark outbox row failed")
		}
		return
	}

	if err := w.repo.MarkProcessed(ctx, record.ID); err != nil {
		log.Error().
			Err(err).
			Str("outbox_id", record.ID).
			Msg("failed to mark outbox row processed")
		return
	}

	log.Debug().
		Str("outbox_id", record.ID).
		Str("topic", record.Topic).
		Str("event_type", record.EventType).
		Msg("outbox row published")
}

// ProcessSingle delivers one outbox row synchronously, for tests and
// one-off repair tooling.
func (w *OutboxWorker) ProcessSingle(ctx context.Context, record *Outbox) error {
	msg := &eventbus.Message{
		Topic:   record.Topic,
		Key:     []byte(record.MessageKey),
		Value:   record.Payload,
		Headers: record.Headers,
	}

	if err := w.producer.SendMessage(ctx, msg); err != nil {
		_ = w.repo.MarkFailed(ctx, record.ID, err)
		return err
	}

	return w.repo.MarkProcessed(ctx, record.ID)
}
