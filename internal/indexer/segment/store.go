// Package segment persists index snapshots as .spdx files: a fixed header,
// a JSON or CBOR payload (optionally zstd compressed) and a checksummed
// footer.
package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
)

const (
	filePrefix = "index_"
	fileSuffix = ".spdx"
)

// rename is swapped out in tests.
var rename = os.Rename

// FileStore writes snapshots into a data directory and loads the newest one.
type FileStore struct {
	dataDir string
	opts    Options
	retain  int
	logger  *slog.Logger
}

// NewFileStore creates a FileStore that keeps at most retain snapshots in
// dataDir. retain <= 0 keeps every snapshot.
func NewFileStore(dataDir string, opts Options, retain int) *FileStore {
	return &FileStore{
		dataDir: dataDir,
		opts:    opts,
		retain:  retain,
		logger:  slog.Default().With("component", "segment-store"),
	}
}

// Write atomically creates a new snapshot file for ix. It writes to a .tmp
// file first and renames on success. It returns the file name.
func (s *FileStore) Write(ix *index.Index) (string, error) {
	name := fmt.Sprintf("%s%020d%s", filePrefix, time.Now().UnixNano(), fileSuffix)
	finalPath := filepath.Join(s.dataDir, name)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating snapshot directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp snapshot file: %w", err)
	}
	defer f.Close()
	if err := Encode(f, ix, s.opts); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if err := f.Sync(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("syncing snapshot file: %w", err)
	}
	f.Close()
	if err := rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming snapshot file: %w", err)
	}
	return name, nil
}

// Save writes ix and prunes snapshots beyond the retention limit.
func (s *FileStore) Save(ctx context.Context, ix *index.Index) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, err := s.Write(ix)
	if err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	s.logger.Info("snapshot written",
		"snapshot", name,
		"docs", ix.DocCount(),
		"terms", ix.TermCount(),
		"codec", s.opts.Codec.String(),
		"compression", s.opts.Compression.String(),
	)
	s.prune()
	return nil
}

// Load returns the newest readable snapshot, or nil when none exists.
// Unreadable snapshots are logged and skipped.
func (s *FileStore) Load(ctx context.Context) (*index.Index, error) {
	names, err := s.List()
	if err != nil {
		return nil, err
	}
	for i := len(names) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(s.dataDir, names[i])
		ix, header, err := ReadFile(path)
		if err != nil {
			s.logger.Error("failed to open snapshot, skipping",
				"snapshot", names[i],
				"error", err,
			)
			continue
		}
		s.logger.Info("loaded existing snapshot",
			"snapshot", names[i],
			"docs", header.DocCount,
			"terms", header.TermCount,
			"created_at", time.Unix(header.CreatedAt, 0).UTC(),
		)
		return ix, nil
	}
	return nil, nil
}

// List returns snapshot file names in ascending (oldest first) order.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading data directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// ReadFile decodes a single snapshot file.
func ReadFile(path string) (*index.Index, Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, fmt.Errorf("opening snapshot file: %w", err)
	}
	defer f.Close()
	ix, header, err := Decode(f)
	if err != nil {
		return nil, header, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return ix, header, nil
}

func (s *FileStore) prune() {
	if s.retain <= 0 {
		return
	}
	names, err := s.List()
	if err != nil {
		s.logger.Error("listing snapshots for pruning", "error", err)
		return
	}
	for len(names) > s.retain {
		path := filepath.Join(s.dataDir, names[0])
		if err := os.Remove(path); err != nil {
			s.logger.Error("removing old snapshot", "snapshot", names[0], "error", err)
		} else {
			s.logger.Debug("old snapshot removed", "snapshot", names[0])
		}
		names = names[1:]
	}
}
