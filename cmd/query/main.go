// Command query loads the newest persisted index and prints the documents
// ranked against the query given as arguments, one "score<TAB>doc_id" line
// per result.
//
// Usage:
//
//	go run ./cmd/query [--config configs/development.yaml] [--limit 10] [--json] words...
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/development.yaml", "path to config file")
	limit := pflag.IntP("limit", "n", 10, "maximum results to print, 0 for all")
	asJSON := pflag.Bool("json", false, "print results as a JSON array")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format))

	results, err := run(context.Background(), cfg, strings.Join(pflag.Args(), " "), *limit)
	if err != nil {
		slog.Error("query failed", "error", err)
		os.Exit(1)
	}

	if *asJSON {
		if err := json.NewEncoder(os.Stdout).Encode(results); err != nil {
			os.Exit(1)
		}
		return
	}
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	for _, r := range results {
		fmt.Fprintf(w, "%.6f\t%s\n", r.Score, r.DocID)
	}
}

func run(ctx context.Context, cfg *config.Config, query string, limit int) ([]ranker.ScoredDoc, error) {
	persister, closePersister, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening index store: %w", err)
	}
	defer closePersister()

	ix, err := persister.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading index: %w", err)
	}
	if ix == nil {
		return nil, fmt.Errorf("%w: no persisted index, run cmd/indexer first", apperrors.ErrIndexNotReady)
	}
	return ranker.Top(ranker.Search(ix, query), limit), nil
}
