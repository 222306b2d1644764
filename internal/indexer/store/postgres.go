// Package store keeps index snapshots in PostgreSQL. Each snapshot is the
// same byte stream the segment package writes to disk, stored in a BYTEA
// column, so both backends share one format and one integrity check.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/postgres"
)

const schema = `CREATE TABLE IF NOT EXISTS index_snapshots (
    id          BIGSERIAL PRIMARY KEY,
    doc_count   INTEGER NOT NULL,
    term_count  INTEGER NOT NULL,
    codec       TEXT NOT NULL,
    compression TEXT NOT NULL,
    data        BYTEA NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresStore persists snapshots in the index_snapshots table and keeps
// the newest retain rows.
type PostgresStore struct {
	db     *postgres.Client
	opts   segment.Options
	retain int
	logger *slog.Logger
}

// NewPostgresStore creates the table if needed and returns a store. A
// retain below 1 keeps every snapshot.
func NewPostgresStore(ctx context.Context, db *postgres.Client, opts segment.Options, retain int) (*PostgresStore, error) {
	if err := db.EnsureSchema(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating index_snapshots table: %w", err)
	}
	return &PostgresStore{
		db:     db,
		opts:   opts,
		retain: retain,
		logger: slog.Default().With("component", "snapshot-store", "backend", "postgres"),
	}, nil
}

// Save encodes ix and inserts it, pruning older rows in the same
// transaction.
func (s *PostgresStore) Save(ctx context.Context, ix *index.Index) error {
	data, err := segment.Marshal(ix, s.opts)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	var id int64
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO index_snapshots (doc_count, term_count, codec, compression, data)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			ix.DocCount(), ix.TermCount(), s.opts.Codec.String(), s.opts.Compression.String(), data,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("inserting snapshot: %w", err)
		}
		if s.retain < 1 {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM index_snapshots
			WHERE id NOT IN (SELECT id FROM index_snapshots ORDER BY id DESC LIMIT $1)`,
			s.retain,
		)
		if err != nil {
			return fmt.Errorf("pruning snapshots: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("snapshot saved",
		"id", id,
		"docs", ix.DocCount(),
		"terms", ix.TermCount(),
		"bytes", len(data),
	)
	return nil
}

// Load returns the newest decodable snapshot, or nil when the table is
// empty. Rows that fail to decode are logged and skipped.
func (s *PostgresStore) Load(ctx context.Context) (*index.Index, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, data FROM index_snapshots ORDER BY id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		ix, header, err := segment.Unmarshal(data)
		if err != nil {
			s.logger.Error("failed to decode snapshot, skipping", "id", id, "error", err)
			continue
		}
		s.logger.Info("loaded existing snapshot",
			"id", id,
			"docs", header.DocCount,
			"terms", header.TermCount,
		)
		return ix, nil
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return nil, nil
}

// Count returns the number of stored snapshots.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM index_snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting snapshots: %w", err)
	}
	return n, nil
}
