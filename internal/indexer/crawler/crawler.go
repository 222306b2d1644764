// Package crawler walks a directory tree and turns the files it finds into
// documents for the index builder.
package crawler

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
)

// Crawler collects documents under a root directory.
type Crawler struct {
	root        string
	extensions  map[string]struct{}
	maxFileSize int64
	workers     int
	skipHidden  bool
	logger      *slog.Logger
}

// New creates a Crawler from cfg. An empty extension list accepts every
// regular file.
func New(cfg config.CrawlerConfig) *Crawler {
	exts := make(map[string]struct{}, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Crawler{
		root:        cfg.Root,
		extensions:  exts,
		maxFileSize: cfg.MaxFileSize,
		workers:     workers,
		skipHidden:  cfg.SkipHidden,
		logger:      logger.WithComponent("crawler").With("root", cfg.Root),
	}
}

// Root returns the directory the crawler walks.
func (c *Crawler) Root() string {
	return c.root
}

// Crawl walks the root, reads every accepted file concurrently and returns
// the documents sorted by ID. Files that cannot be read are skipped.
func (c *Crawler) Crawl(ctx context.Context) ([]index.Document, error) {
	paths, err := c.collect(ctx)
	if err != nil {
		return nil, err
	}
	docs := make([]index.Document, len(paths))
	ok := make([]bool, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, err := c.readFile(path)
			if err != nil {
				c.logger.Warn("skipping unreadable file", "path", path, "error", err)
				return nil
			}
			docs[i] = index.Document{ID: c.docID(path), Content: content}
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("crawling %s: %w", c.root, err)
	}

	result := make([]index.Document, 0, len(docs))
	for i, doc := range docs {
		if ok[i] {
			result = append(result, doc)
		}
	}
	c.logger.Info("crawl complete",
		"candidates", len(paths),
		"documents", len(result),
	)
	return result, nil
}

// collect returns accepted file paths in lexical order.
func (c *Crawler) collect(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == c.root {
				return err
			}
			c.logger.Warn("skipping path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path != c.root && c.skipHidden && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !c.accepts(path) {
			return nil
		}
		// Document IDs are persisted as text and must be valid UTF-8.
		if id := c.docID(path); !utf8.ValidString(id) {
			c.logger.Warn("skipping file with non-UTF-8 name", "path", strconv.Quote(id))
			return nil
		}
		if c.maxFileSize > 0 {
			info, err := d.Info()
			if err != nil {
				c.logger.Warn("skipping file", "path", path, "error", err)
				return nil
			}
			if info.Size() > c.maxFileSize {
				c.logger.Debug("skipping oversized file", "path", path, "size", info.Size())
				return nil
			}
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", c.root, err)
	}
	return paths, nil
}

func (c *Crawler) accepts(path string) bool {
	if len(c.extensions) == 0 {
		return true
	}
	_, ok := c.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

func (c *Crawler) readFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return ExtractText(path, f)
}

// docID is the slash-separated path relative to the root.
func (c *Crawler) docID(path string) string {
	rel, err := filepath.Rel(c.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
