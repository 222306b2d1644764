// Command analytics starts the standalone analytics aggregation service.
//
// It consumes search and reindex events from Kafka, aggregates them in
// memory (query counts, zero-match queries, latency percentiles, cache hit
// rate, reindex history) and exposes GET /api/v1/analytics. With
// analytics.persistSnapshots the aggregate is restored from and periodically
// saved to PostgreSQL, and GET /api/v1/analytics/snapshots lists the history.
//
// Usage:
//
//	go run ./cmd/analytics [--config configs/development.yaml] [--port 6970]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/postgres"
)

var apiPaths = []string{
	"/api/v1/analytics",
	"/api/v1/analytics/snapshots",
	"/health/live",
	"/health/ready",
}

func main() {
	configPath := pflag.StringP("config", "c", "configs/development.yaml", "path to config file")
	port := pflag.IntP("port", "p", 0, "HTTP port (overrides server.port)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if err := run(cfg); err != nil {
		slog.Error("analytics service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("analytics service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting analytics service",
		"port", cfg.Server.Port,
		"topic", cfg.Kafka.Topics.AnalyticsEvents,
		"group", cfg.Kafka.ConsumerGroup,
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(nil)
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	agg := analytics.NewAggregator(cfg.Analytics.LatencySamples)
	checker := health.NewChecker()

	var lister analytics.SnapshotLister
	if cfg.Analytics.PersistSnapshots {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer db.Close()

		snapshotStore, err := aggregator.NewStore(ctx, db)
		if err != nil {
			return fmt.Errorf("creating snapshot store: %w", err)
		}
		latest, err := snapshotStore.LatestSnapshot(ctx)
		if err != nil {
			slog.Warn("could not restore analytics snapshot", "error", err)
		} else if latest != nil {
			agg.Restore(*latest)
			slog.Info("analytics restored", "total_searches", latest.TotalSearches, "captured_at", latest.CapturedAt)
		}

		saved := snapshotStore.StartPeriodicSave(ctx, agg, cfg.Analytics.SnapshotInterval)
		defer func() { <-saved }()
		lister = snapshotStore
		checker.Register("postgres", health.PingCheck(db.Ping, health.StatusDegraded))
	} else {
		checker.Register("postgres", health.Disabled)
	}

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, analytics.HandleEvent(agg))
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Run(ctx); err != nil {
			slog.Error("analytics consumer stopped", "error", err)
		}
	}()
	defer func() { <-consumerDone }()

	checker.Register("kafka", health.PingCheck(func(ctx context.Context) error {
		return kafka.Ping(ctx, cfg.Kafka.Brokers)
	}, health.StatusDown))

	h := analytics.NewHandler(agg, lister)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", h.Stats)
	mux.HandleFunc("GET /api/v1/analytics/snapshots", h.Snapshots)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if m != nil {
		chain = middleware.Metrics(m, apiPaths...)(chain)
	}
	chain = middleware.AccessLog(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}
