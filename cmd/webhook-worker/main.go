// Command webhook-worker consumes payment, settlement, and dispute
// domain events and dispatches signed webhook notifications to each
// event's owning merchant.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/acquiro/gateway/internal/collaborator"
	"github.com/acquiro/gateway/internal/config"
	"github.com/acquiro/gateway/internal/db"
	"github.com/acquiro/gateway/internal/domain"
	"github.com/acquiro/gateway/internal/eventbus"
	"github.com/acquiro/gateway/internal/logger"
	"github.com/acquiro/gateway/internal/repository"
	"github.com/acquiro/gateway/internal/retry"
	"github.com/acquiro/gateway/internal/webhook"
)

var topics = []string{eventbus.TopicPaymentEvents, eventbus.TopicSettlementEvents, eventbus.TopicDisputeEvents}

// eventFields is the subset of fields present across every payload shape
// this worker cares about: enough to resolve the owning merchant without
// knowing the full shape of each event type's payload.
type eventFields struct {
	MerchantID string `json:"merchant_id"`
	PaymentID  string `json:"payment_id"`
}

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

	resolver := &merchantResolver{
		merchants: repository.NewMerchantRepository(gormDB),
		payments:  repository.NewPaymentRepository(gormDB),
	}

	signer := collaborator.NewHMACWebhookSigner(cfg.Webhook.SigningKey)
	dispatcher := webhook.New(signer, cfg.Webhook.Timeout, retry.Policy{
		MaxAttempts: cfg.Webhook.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      0.2,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, topic := range topics {
		consumer, err := eventbus.NewConsumer(eventbus.Config{Brokers: cfg.Kafka.Brokers}, topic, cfg.Kafka.ConsumerGroup+"-webhook")
		if err != nil {
			log.Fatal().Err(err).Str("topic", topic).Msg("failed to create kafka consumer")
		}

		wg.Add(1)
		go func(topic string, consumer *eventbus.Consumer) {
			defer wg.Done()
			defer consumer.Close()

			if err := consumer.Consume(ctx, handleEvent(dispatcher, resolver)); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("topic", topic).Msg("webhook consumer stopped")
			}
		}(topic, consumer)
	}

	log.Info().Strs("topics", topics).Msg("webhook worker started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down webhook worker")
	cancel()
	wg.Wait()
}

// handleEvent builds the eventbus.MessageHandler that turns one domain
// event into a signed webhook delivery. A merchant with no webhook URL
// configured is a no-op, not an error: most merchants never register one.
func handleEvent(dispatcher *webhook.Dispatcher, resolver *merchantResolver) eventbus.MessageHandler {
	return func(ctx context.Context, msg *eventbus.Message) error {
		eventType := msg.Headers["event_type"]
		eventID := msg.Headers["event_id"]
		if eventID == "" {
			eventID = uuid.New().String()
		}

		var fields eventFields
		if err := json.Unmarshal(msg.Value, &fields); err != nil {
			return fmt.Errorf("decoding event payload: %w", err)
		}

		merchant, err := resolver.resolve(ctx, fields)
		if err != nil {
			return fmt.Errorf("resolving merchant for event %s: %w", eventID, err)
		}
		if merchant == nil || merchant.WebhookURL == "" {
			return nil
		}

		body, err := webhook.BuildPayload(eventID, eventType, json.RawMessage(msg.Value))
		if err != nil {
			return fmt.Errorf("building webhook payload: %w", err)
		}

		return dispatcher.Deliver(ctx, &webhook.Delivery{
			ID:         eventID,
			MerchantID: merchant.ID,
			URL:        merchant.WebhookURL,
			EventType:  eventType,
			Payload:    body,
		})
	}
}

// merchantResolver finds the merchant an event should be delivered to.
// Payment events carry merchant_id directly; refund and dispute events
// key off payment_id instead, so those fall back to a payment lookup.
type merchantResolver struct {
	merchants *repository.MerchantRepository
	payments  *repository.PaymentRepository
}

func (r *merchantResolver) resolve(ctx context.Context, fields eventFields) (*domain.Merchant, error) {
	merchantID := fields.MerchantID
	if merchantID == "" {
		if fields.PaymentID == "" {
			return nil, nil
		}
		payment, err := r.payments.GetByID(ctx, fields.PaymentID)
		if err != nil {
			return nil, err
		}
		merchantID = payment.MerchantID
	}

	merchant, err := r.merchants.GetByID(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	return merchant, nil
}
