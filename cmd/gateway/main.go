// Command gateway serves the merchant-facing REST API: payment
// authorization, capture, void, refund, and settlement/dispute
// endpoints, all behind auth, rate limiting, and tracing middleware.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/acquiro/gateway/internal/circuitbreaker"
	"github.com/acquiro/gateway/internal/collaborator"
	"github.com/acquiro/gateway/internal/config"
	"github.com/acquiro/gateway/internal/db"
	"github.com/acquiro/gateway/internal/handler"
	"github.com/acquiro/gateway/internal/healthcheck"
	"github.com/acquiro/gateway/internal/idempotency"
	"github.com/acquiro/gateway/internal/jwt"
	"github.com/acquiro/gateway/internal/logger"
	"github.com/acquiro/gateway/internal/metrics"
	"github.com/acquiro/gateway/internal/middleware"
	"github.com/acquiro/gateway/internal/orchestrator"
	"github.com/acquiro/gateway/internal/psprouter"
	"github.com/acquiro/gateway/internal/refund"
	"github.com/acquiro/gateway/internal/repository"
	"github.com/acquiro/gateway/internal/settlement"
	"github.com/acquiro/gateway/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{Level: cfg.App.LogLevel, Pretty: cfg.App.LogPretty})
	log := logger.Logger()

	shutdownTracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.App.Name,
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracing")
	}
	defer shutdownTracer(context.Background())

	gormDB, err := db.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to mysql")
	}
	redisClient := db.ConnectRedis(cfg.Redis)

	jwtManager, err := jwt.NewManager(jwt.Config{
		PublicKeyPath:   cfg.JWT.PublicKeyPath,
		PrivateKeyPath:  cfg.JWT.PrivateKeyPath,
		Issuer:          cfg.JWT.Issuer,
		AccessTokenTTL:  cfg.JWT.AccessTokenTTL,
		RefreshTokenTTL: cfg.JWT.RefreshTokenTTL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize jwt manager")
	}

	paymentRepo := repository.NewPaymentRepository(gormDB)
	refundStore := repository.NewRefundStore(gormDB)
	batchRepo := repository.NewSettlementBatchRepository(gormDB)
	disputeRepo := repository.NewDisputeRepository(gormDB)
	idempotencyStore := repository.NewIdempotencyStore(gormDB)
	tokenRepo := repository.NewCardTokenRepository(gormDB)
	circuitRepo := repository.NewCircuitStateRepository(gormDB)
	merchantRepo := repository.NewMerchantRepository(gormDB)

	tokenizer := collaborator.NewHMACTokenizerWithRepository(cfg.Vault.PANHashKey, tokenRepo)

	fraudFallback := collaborator.NewRuleBasedScorer(
		redisClient,
		cfg.Fraud.DeclineScoreThreshold,
		cfg.Fraud.ReviewScoreThreshold,
		cfg.Fraud.HighScoreThreshold,
		cfg.Fraud.VelocityMaxAttempts,
		cfg.Fraud.VelocityWindow,
	)
	fraudBlocklist := collaborator.NewStaticBlocklist(cfg.Fraud.BlockedIPs)
	fraudService := collaborator.NewFallbackFraudService(
		&collaborator.SandboxModelScorer{},
		fraudFallback,
		fraudBlocklist,
		cfg.Fraud.CollaboratorCallTimeout,
	)

	pspTargets := make([]psprouter.Target, 0, len(cfg.PSP.Names))
	for _, name := range cfg.PSP.Names {
		adapter := collaborator.NewSandboxPSPAdapter(name)
		breaker := circuitbreaker.NewWithRecorder(name, circuitbreaker.Settings{
			MaxRequests:         cfg.Breaker.HalfOpenMaxCalls,
			Timeout:             cfg.Breaker.OpenTimeout,
			ConsecutiveFailures: uint32(cfg.Breaker.FailureThreshold),
		}, circuitRepo)
		pspTargets = append(pspTargets, psprouter.Target{Adapter: adapter, Breaker: breaker})
	}
	router := psprouter.NewRouter(pspTargets)

	idempotencyMgr := idempotency.NewManager(redisClient, idempotencyStore, cfg.Idempotency.LockTTL, cfg.Idempotency.ResultTTL)

	authOrchestrator := orchestrator.New(idempotencyMgr, tokenizer, fraudService, collaborator.SandboxThreeDS{}, router, paymentRepo)
	refundEngine := refund.New(refundStore, router)
	settlementEngine := settlement.New(paymentRepo, batchRepo, disputeRepo, 500)

	authMW := middleware.NewAuthMiddleware(jwtManager, merchantRepo)
	rateLimitMW := middleware.NewRateLimitMiddleware(middleware.RateLimitConfig{
		Redis:  redisClient,
		Limit:  600,
		Window: time.Minute,
	})
	tracingMW := middleware.NewTracingMiddleware()

	readinessCheck := healthcheck.Composite(
		func(ctx context.Context) error { return healthcheck.CheckMySQL(ctx, gormDB) },
		func(ctx context.Context) error { return healthcheck.CheckRedis(ctx, redisClient) },
	)

	r := handler.NewRouter(handler.RouterConfig{
		PaymentHandler:     handler.NewPaymentHandler(authOrchestrator),
		TransactionHandler: handler.NewTransactionHandler(paymentRepo),
		RefundHandler:      handler.NewRefundHandler(refundEngine),
		RefundLister:       handler.NewRefundLister(refundStore),
		SettlementHandler:  handler.NewSettlementHandler(settlementEngine),
		AuthMW:             authMW,
		RateLimitMW:        rateLimitMW,
		TracingMW:          tracingMW,
		ReadinessCheck:     readinessCheck,
		Debug:              cfg.IsDevelopment(),
	})

	metricsServer := metrics.NewServer(cfg.Metrics.Addr(), cfg.App.Name, metrics.WithReadinessCheck(readinessCheck))
	if cfg.Metrics.Enabled {
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server stopped unexpectedly")
			}
		}()
	}

	httpServer := &http.Server{
		Addr:    cfg.App.HTTPAddr,
		Handler: r.Engine(),
	}

	go func() {
		log.Info().Str("addr", cfg.App.HTTPAddr).Msg("gateway listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("gateway server stopped unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down gateway")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("gateway shutdown did not complete cleanly")
	}
	if cfg.Metrics.Enabled {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("metrics server shutdown did not complete cleanly")
		}
	}
}
