/**
 * @description
 * This is the main entry point for the settlement-service. It is responsible
 * for initializing all components of the service: configuration, database
 * connection and schema, the chain query client, the RabbitMQ producer for
 * hook notifications, the settlement poller, and the read-only HTTP surface.
 * It wires everything together, starts the poller, and handles graceful
 * shutdown (stop scheduling ticks, let the in-flight tick finish, drain
 * in-flight hook dispatches best-effort).
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: Optional .env loading for local development.
 * - internal/api, internal/app, internal/chain, internal/config,
 *   internal/store: Internal packages for the service.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/chainmart/settlement-service/internal/api"
	"github.com/chainmart/settlement-service/internal/app"
	"github.com/chainmart/settlement-service/internal/chain"
	"github.com/chainmart/settlement-service/internal/config"
	"github.com/chainmart/settlement-service/internal/store"
	"github.com/chainmart/settlement-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.ChainQueryURL) == "" {
		logger.Error("chain query URL must be configured", "env", "CHAIN_QUERY_URL")
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		logger.Error("internal api key must be configured", "env", "INTERNAL_API_KEY")
		os.Exit(1)
	}

	logger.Info("starting settlement-service",
		"port", cfg.ServerPort,
		"chain_id", cfg.ChainID,
		"confirm_depth", cfg.ConfirmDepth,
		"finalize_depth", cfg.FinalizeDepth,
	)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("database url parse failed", "err", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	ctx := context.Background()
	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connected")

	// Schema failures are the only fatal per-run condition; everything past
	// startup is retried tick by tick.
	if err := store.EnsureSchema(ctx, dbpool); err != nil {
		logger.Error("schema bootstrap failed", "err", err)
		os.Exit(1)
	}

	// Initialize the RabbitMQ producer for hook notifications. An
	// unavailable broker degrades to the no-op fallback rather than
	// blocking settlement.
	var producer rabbitmq.Publisher
	if p, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", "err", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		producer = p
		defer p.Close()
		logger.Info("rabbitmq producer connected")
	}

	// Wire the settlement core.
	repository := store.NewPostgresRepository(dbpool)
	orders := store.NewPostgresOrderService(dbpool)
	source := chain.NewClient(cfg.ChainQueryURL, cfg.ChainQueryAPIKey)

	notifier := app.NewAMQPNotifier(producer, cfg.EventExchange)
	dispatcher := app.NewHookDispatcher(notifier, logger.With("component", "hooks"))
	matcher := app.NewOrderMatcher(orders, dispatcher, logger.With("component", "matcher"))
	ingestor := app.NewIngestor(
		repository, source, matcher,
		cfg.ChainID, cfg.PageSize, cfg.AllowedGateways(),
		logger.With("component", "ingestor"),
	)
	engine := app.NewConfirmationEngine(
		repository, matcher,
		cfg.ChainID, cfg.ConfirmDepth, cfg.FinalizeDepth,
		logger.With("component", "confirmer"),
	)
	service := app.NewService(ingestor, engine, source, logger.With("component", "service"))

	poller := app.NewPoller(service, cfg.PollInterval(), cfg.TickTimeout(), logger.With("component", "poller"))
	if err := poller.Start(); err != nil {
		logger.Error("poller start failed", "err", err)
		os.Exit(1)
	}

	// Read-only HTTP surface.
	handlers := api.NewSettlementHandlers(repository, source, cfg.ChainID, logger.With("component", "api"))
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: api.SettlementRoutes(handlers, cfg.InternalAPIKey),
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "err", err)
	}

	// Stop scheduling ticks and wait for the in-flight one.
	<-poller.Stop().Done()

	// Best-effort drain of in-flight hook dispatches; they are not
	// cancellable and consumers tolerate redelivery anyway.
	if !dispatcher.Drain(5 * time.Second) {
		logger.Warn("hook dispatches still in flight at shutdown")
	}

	logger.Info("shutdown complete")
}
