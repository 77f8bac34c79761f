// Command outbox-worker drains the payments/refunds/settlement-batches/
// disputes outbox tables into Kafka, one poller per aggregate type so a
// slow topic never backs up another's delivery.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/acquiro/gateway/internal/config"
	"github.com/acquiro/gateway/internal/db"
	"github.com/acquiro/gateway/internal/eventbus"
	"github.com/acquiro/gateway/internal/logger"
	"github.com/acquiro/gateway/internal/outbox"
)

var aggregateTypes = []string{"payment", "refund", "settlement_batch", "dispute"}

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

	producer, err := eventbus.NewProducer(eventbus.Config{Brokers: cfg.Kafka.Brokers})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka producer")
	}
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, aggregateType := range aggregateTypes {
		repo := outbox.NewOutboxRepository(gormDB, aggregateType)
		worker := outbox.NewOutboxWorker(repo, producer, outbox.DefaultWorkerConfig(), aggregateType)

		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			worker.Run(ctx)
			log.Info().Str("worker", name).Msg("outbox worker stopped")
		}(aggregateType)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down outbox workers")
	cancel()
	wg.Wait()
}
