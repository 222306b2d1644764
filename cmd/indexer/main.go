// Command indexer crawls the configured root once, builds the index,
// persists it to the configured backend and prints the run's statistics as
// JSON on stdout.
//
// Usage:
//
//	go run ./cmd/indexer [--config configs/development.yaml] [--root docs/]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/crawler"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/tracing"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/development.yaml", "path to config file")
	root := pflag.String("root", "", "directory to index (overrides crawler.root)")
	backend := pflag.String("backend", "", "snapshot backend, file or postgres (overrides indexer.backend)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *root != "" {
		cfg.Crawler.Root = *root
	}
	if *backend != "" {
		cfg.Indexer.Backend = *backend
	}

	// stdout carries the stats document only.
	slog.SetDefault(logger.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format))
	tracing.SetEnabled(cfg.Tracing.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := run(ctx, cfg)
	if err != nil {
		slog.Error("indexing failed", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(stats); err != nil {
		slog.Error("writing stats", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) (indexer.ReindexStats, error) {
	persister, closePersister, err := store.Open(ctx, cfg)
	if err != nil {
		return indexer.ReindexStats{}, fmt.Errorf("opening index store: %w", err)
	}
	defer closePersister()

	engine, err := indexer.NewEngine(ctx, cfg.Indexer, crawler.New(cfg.Crawler), persister, nil)
	if err != nil {
		return indexer.ReindexStats{}, fmt.Errorf("creating indexer engine: %w", err)
	}
	defer engine.Close()

	slog.Info("indexing",
		"root", cfg.Crawler.Root,
		"backend", cfg.Indexer.Backend,
		"codec", cfg.Indexer.Codec,
		"compression", cfg.Indexer.Compression,
	)
	return engine.Reindex(ctx)
}
