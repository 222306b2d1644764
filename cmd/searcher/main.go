// Command searcher serves full-text search over a directory of documents.
//
// It loads the newest persisted index (or starts empty), optionally rebuilds
// it on start and on an interval, and serves the search page, the search
// APIs, health probes and Prometheus metrics. Redis (query cache) and Kafka
// (analytics events) are used when enabled in the config.
//
// Usage:
//
//	go run ./cmd/searcher [--config configs/development.yaml] [--root docs/] [--reindex]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/crawler"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/tracing"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/development.yaml", "path to config file")
	root := pflag.String("root", "", "directory to index (overrides crawler.root)")
	port := pflag.IntP("port", "p", 0, "HTTP port (overrides server.port)")
	reindex := pflag.Bool("reindex", false, "rebuild the index on start")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *root != "" {
		cfg.Crawler.Root = *root
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *reindex {
		cfg.Indexer.ReindexOnStart = true
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	tracing.SetEnabled(cfg.Tracing.Enabled)
	if err := run(cfg); err != nil {
		slog.Error("search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"root", cfg.Crawler.Root,
		"backend", cfg.Indexer.Backend,
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(nil)
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	persister, closePersister, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening index store: %w", err)
	}
	defer closePersister()

	engine, err := indexer.NewEngine(ctx, cfg.Indexer, crawler.New(cfg.Crawler), persister, m)
	if err != nil {
		return fmt.Errorf("creating indexer engine: %w", err)
	}

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis, m)
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var tracker handler.EventTracker
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		collector := analytics.NewCollector(producer, cfg.Analytics)
		collector.Start(ctx)
		defer collector.Close()
		tracker = collector
		engine.OnReindex(func(st indexer.ReindexStats) {
			collector.Track(analytics.NewReindexEvent(st))
		})
		slog.Info("analytics collector enabled", "topic", cfg.Kafka.Topics.AnalyticsEvents)
	}

	// Runs before the collector closes, so no rebuild can Track afterwards.
	defer engine.Close()
	engine.StartReindexLoop(ctx)

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		st := engine.Stats()
		if st.Documents == 0 {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: apperrors.ErrIndexNotReady.Error()}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("generation %d, %d documents", st.Generation, st.Documents),
		}
	})
	switch {
	case redisClient != nil:
		checker.Register("redis", health.PingCheck(redisClient.Ping, health.StatusDegraded))
	case cfg.Redis.Enabled:
		checker.Register("redis", func(context.Context) health.ComponentHealth {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "connect failed at startup"}
		})
	default:
		checker.Register("redis", health.Disabled)
	}
	if cfg.Kafka.Enabled {
		checker.Register("kafka", health.PingCheck(func(ctx context.Context) error {
			return kafka.Ping(ctx, cfg.Kafka.Brokers)
		}, health.StatusDegraded))
	} else {
		checker.Register("kafka", health.Disabled)
	}

	h := handler.New(engine, handler.Options{
		Cache:        queryCache,
		Tracker:      tracker,
		Metrics:      m,
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxResults:   cfg.Search.MaxResults,
	})

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if m != nil {
		chain = middleware.Metrics(m, slices.Concat(handler.Paths, []string{"/health/live", "/health/ready"})...)(chain)
	}
	chain = middleware.CORS(cfg.Server.CORSOrigins)(chain)
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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}
