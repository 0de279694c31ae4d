package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payment-orchestrator/config"
	busRabbit "payment-orchestrator/internal/adapter/bus/rabbitmq"
	httpHandler "payment-orchestrator/internal/adapter/http/handler"
	"payment-orchestrator/internal/adapter/provider"
	pgStorage "payment-orchestrator/internal/adapter/storage/postgres"
	redisStorage "payment-orchestrator/internal/adapter/storage/redis"
	"payment-orchestrator/internal/core/domain"
	"payment-orchestrator/internal/core/ports"
	"payment-orchestrator/internal/service"
	"payment-orchestrator/pkg/logger"

	"github.com/shopspring/decimal"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Payment Orchestrator")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize RabbitMQ connection
	conn, err := busRabbit.Connect(cfg.Bus.URL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	defer conn.Close()
	log.Info().Msg("RabbitMQ connected")

	// Initialize repositories
	txRepo := pgStorage.NewTransactionRepo(pool)
	webhookRepo := pgStorage.NewWebhookRepo(pool)
	auditRepo := pgStorage.NewAuditRepo(pool)

	// Initialize Redis stores
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)

	// Initialize bus publisher
	publisher, err := busRabbit.NewPublisher(conn, busRabbit.PublisherConfig{
		Exchange:        cfg.Bus.Exchange,
		ResultsExchange: cfg.Bus.ResultsExchange,
		ConsumerGroup:   cfg.Bus.ConsumerGroup,
		Partitions:      cfg.Bus.Partitions,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize bus publisher")
	}
	defer publisher.Close()

	// Initialize payment provider
	paymentProvider := provider.NewSimulated(provider.SimulatedConfig{
		Latency:     time.Duration(cfg.Provider.LatencyMs) * time.Millisecond,
		FailureRate: cfg.Provider.FailureRate,
	}, log)

	// Initialize business services
	auditSvc := service.NewAuditService(auditRepo, log)
	gate := service.NewIdempotencyGate(idempotencyCache, txRepo, cfg.Idempotency.TTL(), log)
	fraudScorer := service.NewFraudScorer(cfg.Fraud.Enabled, decimal.NewFromFloat(cfg.Fraud.ScoreThreshold))
	orchestrator := service.NewPaymentService(
		txRepo,
		webhookRepo,
		gate,
		fraudScorer,
		auditSvc,
		publisher,
		paymentProvider,
		time.Duration(cfg.Provider.TimeoutMs)*time.Millisecond,
		cfg.Webhook.RetryAttempts,
		log,
	)

	// Start the bus consumer. Only PAYMENT_INITIATED events drive
	// processing; result events are for downstream subscribers.
	consumer := busRabbit.NewConsumer(conn, busRabbit.ConsumerConfig{
		Exchange:   cfg.Bus.Exchange,
		Group:      cfg.Bus.ConsumerGroup,
		Partitions: cfg.Bus.Partitions,
		Prefetch:   cfg.Bus.Prefetch,
	}, func(ctx context.Context, evt *domain.PaymentEvent) error {
		if evt.EventType != domain.EventPaymentInitiated {
			return nil
		}
		return orchestrator.Process(ctx, evt.TransactionID)
	}, log)

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	if err := consumer.Start(consumerCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start bus consumer")
	}
	log.Info().Int("partitions", cfg.Bus.Partitions).Msg("Bus consumer started")

	// Start the webhook dispatcher
	dispatcher := service.NewWebhookDispatcher(
		webhookRepo,
		txRepo,
		auditSvc,
		&http.Client{},
		service.DispatcherConfig{
			PollInterval: time.Duration(cfg.Webhook.PollIntervalMs) * time.Millisecond,
			BatchSize:    cfg.Webhook.BatchSize,
			BaseDelay:    time.Duration(cfg.Webhook.RetryBaseDelayMs) * time.Millisecond,
			Timeout:      time.Duration(cfg.Webhook.TimeoutMs) * time.Millisecond,
		},
		log,
	)
	dispatcherCtx, stopDispatcher := context.WithCancel(ctx)
	defer stopDispatcher()
	go dispatcher.Run(dispatcherCtx)
	log.Info().Msg("Webhook dispatcher started")

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)
	busHealth := busRabbit.NewHealthCheck(conn)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Orchestrator:   orchestrator,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth, busHealth},
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop background workers after the HTTP surface is closed so
	// in-flight requests can still publish.
	stopDispatcher()
	consumer.Stop()
	stopConsumer()

	log.Info().Msg("Server exited")
}
