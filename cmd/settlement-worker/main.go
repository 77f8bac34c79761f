// Command settlement-worker runs the settlement engine's scheduled job:
// every interval it sweeps each active merchant's captured-but-unbatched
// payments, grouped by currency, into new settlement batches.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/acquiro/gateway/internal/config"
	"github.com/acquiro/gateway/internal/db"
	"github.com/acquiro/gateway/internal/logger"
	"github.com/acquiro/gateway/internal/repository"
	"github.com/acquiro/gateway/internal/settlement"
)

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

	paymentRepo := repository.NewPaymentRepository(gormDB)
	batchRepo := repository.NewSettlementBatchRepository(gormDB)
	disputeRepo := repository.NewDisputeRepository(gormDB)
	merchantRepo := repository.NewMerchantRepository(gormDB)

	engine := settlement.New(paymentRepo, batchRepo, disputeRepo, cfg.Settlement.MaxBatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Settlement.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", cfg.Settlement.Interval).Strs("currencies", cfg.Settlement.Currencies).Msg("settlement worker started")

	runSweep(ctx, log, merchantRepo, engine, cfg.Settlement.Currencies)

	for {
		select {
		case <-stop:
			log.Info().Msg("shutting down settlement worker")
			cancel()
			return
		case <-ticker.C:
			runSweep(ctx, log, merchantRepo, engine, cfg.Settlement.Currencies)
		}
	}
}

func runSweep(ctx context.Context, log zerolog.Logger, merchants *repository.MerchantRepository, engine *settlement.Engine, currencies []string) {
	active, err := merchants.ListActive(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list active merchants for settlement sweep")
		return
	}

	for _, merchant := range active {
		for _, currency := range currencies {
			batch, err := engine.CreateBatch(ctx, merchant.ID, currency)
			if err != nil {
				log.Error().Err(err).Str("merchant_id", merchant.ID).Str("currency", currency).Msg("failed to create settlement batch")
				continue
			}
			if batch == nil {
				continue
			}
			log.Info().Str("batch_id", batch.ID).Str("merchant_id", merchant.ID).Str("currency", currency).Int("payment_count", len(batch.PaymentIDs)).Msg("settlement batch created")
		}
	}
}
