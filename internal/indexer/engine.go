// Package indexer owns the live search index. The Engine rebuilds the
// index from a document Source, persists it, and publishes each new index as
// an immutable Snapshot that readers load without locking.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/tracing"
)

// Source produces the documents of the corpus.
type Source interface {
	Crawl(ctx context.Context) ([]index.Document, error)
}

// Persister stores index snapshots. Load returns (nil, nil) when nothing has
// been saved yet.
type Persister interface {
	Save(ctx context.Context, ix *index.Index) error
	Load(ctx context.Context) (*index.Index, error)
}

// Snapshot is one published version of the index. It is never mutated after
// publication. Generation counts swaps within this process only; Fingerprint
// identifies the content across restarts and replicas.
type Snapshot struct {
	Index       *index.Index
	Generation  uint64
	Fingerprint string
	BuiltAt     time.Time
	Origin      string
}

func newSnapshot(ix *index.Index, generation uint64, origin string) *Snapshot {
	return &Snapshot{
		Index:       ix,
		Generation:  generation,
		Fingerprint: ix.Fingerprint(),
		BuiltAt:     time.Now(),
		Origin:      origin,
	}
}

// Snapshot origins.
const (
	OriginEmpty   = "empty"
	OriginLoaded  = "loaded"
	OriginReindex = "reindex"
)

// ReindexStats describes a completed rebuild.
type ReindexStats struct {
	Generation    uint64        `json:"generation"`
	Fingerprint   string        `json:"fingerprint"`
	Documents     int           `json:"documents"`
	Terms         int           `json:"terms"`
	CrawlDuration time.Duration `json:"crawl_duration_ns"`
	BuildDuration time.Duration `json:"build_duration_ns"`
	Duration      time.Duration `json:"duration_ns"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Generation  uint64        `json:"generation"`
	Fingerprint string        `json:"fingerprint"`
	Documents   int           `json:"documents"`
	Terms       int           `json:"terms"`
	BuiltAt     time.Time     `json:"built_at"`
	Origin      string        `json:"origin"`
	Reindexing  bool          `json:"reindexing"`
	LastReindex *ReindexStats `json:"last_reindex,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
}

// Engine publishes index snapshots. Reads go through Snapshot and never
// block; rebuilds are serialized.
type Engine struct {
	cfg       config.IndexerConfig
	source    Source
	persister Persister
	metrics   *metrics.Metrics
	logger    *slog.Logger

	current    atomic.Pointer[Snapshot]
	reindexMu  sync.Mutex
	reindexing atomic.Bool

	statsMu     sync.Mutex
	lastReindex *ReindexStats
	lastErr     error

	listenersMu sync.RWMutex
	listeners   []func(ReindexStats)

	loopWG sync.WaitGroup
}

// NewEngine creates an Engine and publishes the newest persisted index, or
// an empty one at generation 0 when none exists. persister and m may be nil.
func NewEngine(ctx context.Context, cfg config.IndexerConfig, source Source, persister Persister, m *metrics.Metrics) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: indexer engine requires a document source", apperrors.ErrInvalidInput)
	}
	e := &Engine{
		cfg:       cfg,
		source:    source,
		persister: persister,
		metrics:   m,
		logger:    logger.WithComponent("indexer"),
	}

	snap := newSnapshot(index.Empty(), 0, OriginEmpty)
	if persister != nil {
		ix, err := persister.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading persisted index: %w", err)
		}
		if ix != nil {
			snap = newSnapshot(ix, 1, OriginLoaded)
			e.logger.Info("loaded persisted index",
				"documents", ix.DocCount(),
				"terms", ix.TermCount(),
			)
		}
	}
	e.publish(snap)
	return e, nil
}

// Snapshot returns the currently published snapshot.
func (e *Engine) Snapshot() *Snapshot {
	return e.current.Load()
}

// Index returns the currently published index.
func (e *Engine) Index() *index.Index {
	return e.current.Load().Index
}

// Generation returns the generation of the published snapshot. It increases
// by one on every successful rebuild.
func (e *Engine) Generation() uint64 {
	return e.current.Load().Generation
}

// Ready reports whether the engine serves a non-empty index.
func (e *Engine) Ready() bool {
	return e.current.Load().Index.DocCount() > 0
}

// Stats returns a point-in-time view of the engine.
func (e *Engine) Stats() Stats {
	snap := e.current.Load()
	st := Stats{
		Generation:  snap.Generation,
		Fingerprint: snap.Fingerprint,
		Documents:   snap.Index.DocCount(),
		Terms:       snap.Index.TermCount(),
		BuiltAt:     snap.BuiltAt,
		Origin:      snap.Origin,
		Reindexing:  e.reindexing.Load(),
	}
	e.statsMu.Lock()
	if e.lastReindex != nil {
		last := *e.lastReindex
		st.LastReindex = &last
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	e.statsMu.Unlock()
	return st
}

// OnReindex registers fn to be called after every successful rebuild, from
// the goroutine that ran it.
func (e *Engine) OnReindex(fn func(ReindexStats)) {
	e.listenersMu.Lock()
	e.listeners = append(e.listeners, fn)
	e.listenersMu.Unlock()
}

// Reindex crawls the source, builds a new index, persists it and publishes
// it. Only one rebuild runs at a time; a concurrent call fails fast with
// ErrReindexRunning. On any error the published snapshot is unchanged.
func (e *Engine) Reindex(ctx context.Context) (ReindexStats, error) {
	if !e.reindexMu.TryLock() {
		return ReindexStats{}, apperrors.ErrReindexRunning
	}
	defer e.reindexMu.Unlock()
	e.reindexing.Store(true)
	defer e.reindexing.Store(false)

	ctx, span := tracing.StartSpan(ctx, "reindex")
	start := time.Now()

	var stats ReindexStats
	err := resilience.WithTimeout(ctx, e.cfg.ReindexTimeout, "reindex", func(ctx context.Context) error {
		var err error
		stats, err = e.rebuild(ctx)
		return err
	})

	span.SetError(err)
	span.End()
	span.Log(e.logger)
	e.record(stats, err, time.Since(start))
	if err != nil {
		e.logger.Error("reindex failed", "error", err, "duration", time.Since(start))
		return ReindexStats{}, err
	}

	e.logger.Info("reindex complete",
		"generation", stats.Generation,
		"documents", stats.Documents,
		"terms", stats.Terms,
		"duration", stats.Duration,
	)
	e.listenersMu.RLock()
	listeners := slices.Clone(e.listeners)
	e.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(stats)
	}
	return stats, nil
}

func (e *Engine) rebuild(ctx context.Context) (ReindexStats, error) {
	start := time.Now()

	crawlCtx, crawlSpan := tracing.StartSpan(ctx, "crawl")
	docs, err := e.source.Crawl(crawlCtx)
	crawlSpan.SetAttr("documents", len(docs))
	crawlSpan.SetError(err)
	crawlSpan.End()
	if err != nil {
		return ReindexStats{}, fmt.Errorf("crawling documents: %w", err)
	}
	crawlDone := time.Now()

	_, buildSpan := tracing.StartSpan(ctx, "build")
	b := index.NewBuilder()
	for i, doc := range docs {
		if i%1024 == 0 && ctx.Err() != nil {
			buildSpan.End()
			return ReindexStats{}, fmt.Errorf("building index: %w", ctx.Err())
		}
		b.Add(doc.ID, doc.Content)
	}
	ix := b.Build()
	buildSpan.SetAttr("terms", ix.TermCount())
	buildSpan.End()
	buildDone := time.Now()

	if e.persister != nil {
		persistCtx, persistSpan := tracing.StartSpan(ctx, "persist")
		err := e.persister.Save(persistCtx, ix)
		persistSpan.SetError(err)
		persistSpan.End()
		if err != nil {
			return ReindexStats{}, fmt.Errorf("persisting index: %w", err)
		}
	}

	_, swapSpan := tracing.StartSpan(ctx, "swap")
	prev := e.current.Load()
	snap := newSnapshot(ix, prev.Generation+1, OriginReindex)
	e.publish(snap)
	swapSpan.SetAttr("generation", snap.Generation)
	swapSpan.End()

	return ReindexStats{
		Generation:    snap.Generation,
		Fingerprint:   snap.Fingerprint,
		Documents:     ix.DocCount(),
		Terms:         ix.TermCount(),
		CrawlDuration: crawlDone.Sub(start),
		BuildDuration: buildDone.Sub(crawlDone),
		Duration:      time.Since(start),
		FinishedAt:    snap.BuiltAt,
	}, nil
}

func (e *Engine) publish(snap *Snapshot) {
	e.current.Store(snap)
	if e.metrics != nil {
		e.metrics.IndexedDocuments.Set(float64(snap.Index.DocCount()))
		e.metrics.IndexedTerms.Set(float64(snap.Index.TermCount()))
		e.metrics.IndexGeneration.Set(float64(snap.Generation))
	}
}

func (e *Engine) record(stats ReindexStats, err error, elapsed time.Duration) {
	e.statsMu.Lock()
	if err == nil {
		e.lastReindex = &stats
	}
	e.lastErr = err
	e.statsMu.Unlock()

	if e.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	e.metrics.ReindexTotal.WithLabelValues(status).Inc()
	e.metrics.ReindexDuration.Observe(elapsed.Seconds())
}

// StartReindexLoop rebuilds the index every cfg.ReindexInterval until ctx is
// cancelled. With ReindexOnStart it rebuilds once immediately. It returns
// without starting anything when the interval is not positive and
// ReindexOnStart is false.
func (e *Engine) StartReindexLoop(ctx context.Context) {
	interval := e.cfg.ReindexInterval
	if interval <= 0 && !e.cfg.ReindexOnStart {
		return
	}
	e.loopWG.Add(1)
	go func() {
		defer e.loopWG.Done()
		if e.cfg.ReindexOnStart {
			e.runScheduled(ctx)
		}
		if interval <= 0 {
			return
		}
		e.logger.Info("periodic reindex enabled", "interval", interval)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.runScheduled(ctx)
			}
		}
	}()
}

func (e *Engine) runScheduled(ctx context.Context) {
	if _, err := e.Reindex(ctx); err != nil {
		if errors.Is(err, apperrors.ErrReindexRunning) {
			e.logger.Debug("scheduled reindex skipped, rebuild already running")
			return
		}
		if ctx.Err() == nil {
			e.logger.Warn("scheduled reindex failed", "error", err)
		}
	}
}

// Close waits for the reindex loop and any in-flight rebuild to finish. The
// loop's context must be cancelled first.
func (e *Engine) Close() error {
	e.loopWG.Wait()
	e.reindexMu.Lock()
	defer e.reindexMu.Unlock()
	return nil
}
