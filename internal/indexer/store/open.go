package store

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/postgres"
)

// Options converts the codec and compression names of cfg.
func Options(cfg config.IndexerConfig) (segment.Options, error) {
	codec, err := segment.ParseCodec(cfg.Codec)
	if err != nil {
		return segment.Options{}, err
	}
	compression, err := segment.ParseCompression(cfg.Compression)
	if err != nil {
		return segment.Options{}, err
	}
	return segment.Options{Codec: codec, Compression: compression}, nil
}

// Open returns the snapshot backend named by cfg.Indexer.Backend together
// with a function releasing whatever it opened.
func Open(ctx context.Context, cfg *config.Config) (indexer.Persister, func() error, error) {
	opts, err := Options(cfg.Indexer)
	if err != nil {
		return nil, nil, err
	}
	switch cfg.Indexer.Backend {
	case "", "file":
		fs := segment.NewFileStore(cfg.Indexer.DataDir, opts, cfg.Indexer.RetainSnapshots)
		return fs, func() error { return nil }, nil
	case "postgres":
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		ps, err := NewPostgresStore(ctx, db, opts, cfg.Indexer.RetainSnapshots)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return ps, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown index backend %q", cfg.Indexer.Backend)
	}
}
