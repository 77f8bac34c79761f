// Command event-consumer is a reference idempotent consumer for the
// settlement.events and dispute.events topics: it records every closed
// batch and dispute outcome into the append-only audit log, guarded by a
// Redis SETNX dedup set so a redelivered event (consumer crash before
// offset commit, broker-level at-least-once retry) is recorded once.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/acquiro/gateway/internal/audit"
	"github.com/acquiro/gateway/internal/config"
	"github.com/acquiro/gateway/internal/db"
	"github.com/acquiro/gateway/internal/eventbus"
	"github.com/acquiro/gateway/internal/logger"
	"github.com/acquiro/gateway/internal/repository"

	"github.com/redis/go-redis/v9"
)

var topics = []string{eventbus.TopicSettlementEvents, eventbus.TopicDisputeEvents}

const dedupKeyPrefix = "event-consumer:seen:"
const dedupTTL = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{Level: cfg.App.LogLevel, Pretty: cfg.App.LogPretty})
	log := logger.Logger()

	gormDB, err := db.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to mysql")
	}
	redisClient := db.ConnectRedis(cfg.Redis)

	auditLog := audit.New(repository.NewAuditRepository(gormDB))
	dedup := &dedupGuard{redis: redisClient}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, topic := range topics {
		consumer, err := eventbus.NewConsumer(eventbus.Config{Brokers: cfg.Kafka.Brokers}, topic, cfg.Kafka.ConsumerGroup+"-events")
		if err != nil {
			log.Fatal().Err(err).Str("topic", topic).Msg("failed to create kafka consumer")
		}

		wg.Add(1)
		go func(topic string, consumer *eventbus.Consumer) {
			defer wg.Done()
			defer consumer.Close()

			if err := consumer.ConsumeWithRetry(ctx, handleEvent(auditLog, dedup), cfg.Retry.MaxAttempts); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("topic", topic).Msg("event consumer stopped")
			}
		}(topic, consumer)
	}

	log.Info().Strs("topics", topics).Msg("event consumer started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down event consumer")
	cancel()
	wg.Wait()
}

// handleEvent builds the per-message handler: skip work the dedup guard
// has already seen, otherwise append one audit entry per event.
func handleEvent(auditLog *audit.Logger, dedup *dedupGuard) eventbus.MessageHandler {
	return func(ctx context.Context, msg *eventbus.Message) error {
		eventID := msg.Headers["event_id"]
		eventType := msg.Headers["event_type"]
		aggregateID := msg.Headers["aggregate_id"]

		if eventID != "" {
			seen, err := dedup.seen(ctx, eventID)
			if err != nil {
				logger.FromContext(ctx).Warn().Err(err).Str("event_id", eventID).Msg("dedup check unavailable, processing anyway")
			} else if seen {
				logger.FromContext(ctx).Debug().Str("event_id", eventID).Msg("duplicate event skipped")
				return nil
			}
		}

		if err := auditLog.Record(ctx, aggregateID, "SYSTEM", "event-consumer", eventType, string(msg.Value)); err != nil {
			// Forget the event so a retry of this message is not skipped
			// as a duplicate.
			if eventID != "" {
				dedup.redis.Del(ctx, dedupKeyPrefix+eventID)
			}
			return err
		}
		return nil
	}
}

// dedupGuard tracks processed event IDs in Redis with a SETNX so
// redelivery (broker-level at-least-once, or a crash between handling a
// message and committing its offset) appends the audit trail once.
type dedupGuard struct {
	redis *redis.Client
}

func (g *dedupGuard) seen(ctx context.Context, eventID string) (bool, error) {
	wasSet, err := g.redis.SetNX(ctx, dedupKeyPrefix+eventID, 1, dedupTTL).Result()
	if err != nil {
		return false, err
	}
	return !wasSet, nil
}
