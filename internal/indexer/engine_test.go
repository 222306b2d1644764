package indexer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	mu    sync.Mutex
	docs  []index.Document
	err   error
	block chan struct{}
	calls int
}

func (s *fakeSource) Crawl(ctx context.Context) ([]index.Document, error) {
	s.mu.Lock()
	s.calls++
	docs, err, block := s.docs, s.err, s.block
	s.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return docs, err
}

func (s *fakeSource) set(docs []index.Document) {
	s.mu.Lock()
	s.docs = docs
	s.mu.Unlock()
}

type failingPersister struct{}

func (failingPersister) Save(context.Context, *index.Index) error {
	return errors.New("disk full")
}

func (failingPersister) Load(context.Context) (*index.Index, error) { return nil, nil }

func testConfig() config.IndexerConfig {
	return config.IndexerConfig{ReindexTimeout: 5 * time.Second}
}

func corpus() []index.Document {
	return []index.Document{
		{ID: "a.txt", Content: "glClear clears buffers"},
		{ID: "b.txt", Content: "glColor sets the color"},
	}
}

func TestNewEngineStartsEmpty(t *testing.T) {
	e, err := NewEngine(context.Background(), testConfig(), &fakeSource{}, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	snap := e.Snapshot()
	if snap.Generation != 0 || snap.Origin != OriginEmpty {
		t.Errorf("snapshot = gen %d origin %s, want 0 empty", snap.Generation, snap.Origin)
	}
	if e.Ready() {
		t.Error("empty engine should not be ready")
	}
}

func TestNewEngineRequiresSource(t *testing.T) {
	_, err := NewEngine(context.Background(), testConfig(), nil, nil, nil)
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestReindexPublishesNewGeneration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	src := &fakeSource{docs: corpus()}
	e, err := NewEngine(context.Background(), testConfig(), src, nil, m)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	var notified []ReindexStats
	e.OnReindex(func(st ReindexStats) { notified = append(notified, st) })

	before := e.Index()
	stats, err := e.Reindex(context.Background())
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if stats.Generation != 1 || stats.Documents != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if e.Generation() != 1 {
		t.Errorf("generation = %d, want 1", e.Generation())
	}
	if before.DocCount() != 0 {
		t.Error("previous snapshot must not be mutated")
	}
	if e.Index().DF["GLCLEAR"] != 1 {
		t.Errorf("df[GLCLEAR] = %d, want 1", e.Index().DF["GLCLEAR"])
	}
	if len(notified) != 1 {
		t.Errorf("listeners called %d times, want 1", len(notified))
	}
	if got := testutil.ToFloat64(m.IndexedDocuments); got != 2 {
		t.Errorf("index_documents = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ReindexTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("reindex_total{success} = %v, want 1", got)
	}

	src.set(corpus()[:1])
	if _, err := e.Reindex(context.Background()); err != nil {
		t.Fatalf("second Reindex: %v", err)
	}
	if e.Generation() != 2 || e.Index().DocCount() != 1 {
		t.Errorf("after second reindex: gen %d docs %d", e.Generation(), e.Index().DocCount())
	}
}

func TestReindexSourceErrorKeepsSnapshot(t *testing.T) {
	src := &fakeSource{docs: corpus()}
	e, _ := NewEngine(context.Background(), testConfig(), src, nil, nil)
	if _, err := e.Reindex(context.Background()); err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	src.mu.Lock()
	src.err = errors.New("permission denied")
	src.mu.Unlock()

	if _, err := e.Reindex(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if e.Generation() != 1 || e.Index().DocCount() != 2 {
		t.Errorf("snapshot changed after failed reindex: gen %d", e.Generation())
	}
	if e.Stats().LastError == "" {
		t.Error("Stats should report last error")
	}
}

func TestReindexPersistErrorKeepsSnapshot(t *testing.T) {
	e, _ := NewEngine(context.Background(), testConfig(), &fakeSource{docs: corpus()}, failingPersister{}, nil)
	if _, err := e.Reindex(context.Background()); err == nil {
		t.Fatal("expected persist error")
	}
	if e.Generation() != 0 {
		t.Errorf("generation = %d, want 0", e.Generation())
	}
}

func TestReindexConcurrentCallRejected(t *testing.T) {
	src := &fakeSource{docs: corpus(), block: make(chan struct{})}
	e, _ := NewEngine(context.Background(), testConfig(), src, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := e.Reindex(context.Background())
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !e.Stats().Reindexing {
		if time.Now().After(deadline) {
			t.Fatal("first reindex never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := e.Reindex(context.Background()); !errors.Is(err, apperrors.ErrReindexRunning) {
		t.Errorf("expected ErrReindexRunning, got %v", err)
	}
	close(src.block)
	if err := <-done; err != nil {
		t.Fatalf("first reindex: %v", err)
	}
}

func TestReindexTimeout(t *testing.T) {
	src := &fakeSource{docs: corpus(), block: make(chan struct{})}
	cfg := testConfig()
	cfg.ReindexTimeout = 20 * time.Millisecond
	e, _ := NewEngine(context.Background(), cfg, src, nil, nil)

	_, err := e.Reindex(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestEngineLoadsPersistedIndex(t *testing.T) {
	dir := t.TempDir()
	store := segment.NewFileStore(dir, segment.DefaultOptions, 2)

	first, _ := NewEngine(context.Background(), testConfig(), &fakeSource{docs: corpus()}, store, nil)
	if _, err := first.Reindex(context.Background()); err != nil {
		t.Fatalf("Reindex: %v", err)
	}

	second, err := NewEngine(context.Background(), testConfig(), &fakeSource{}, store, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	snap := second.Snapshot()
	if snap.Origin != OriginLoaded || snap.Generation != 1 {
		t.Errorf("snapshot = origin %s gen %d, want loaded 1", snap.Origin, snap.Generation)
	}
	if snap.Index.DocCount() != 2 {
		t.Errorf("docs = %d, want 2", snap.Index.DocCount())
	}
}

func TestStartReindexLoopOnStart(t *testing.T) {
	cfg := testConfig()
	cfg.ReindexOnStart = true
	e, _ := NewEngine(context.Background(), cfg, &fakeSource{docs: corpus()}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	e.StartReindexLoop(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for e.Generation() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("reindex on start did not run")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if e.Generation() != 1 {
		t.Errorf("generation = %d, want 1 with no interval", e.Generation())
	}
}

func TestStartReindexLoopPeriodic(t *testing.T) {
	cfg := testConfig()
	cfg.ReindexInterval = 5 * time.Millisecond
	src := &fakeSource{docs: corpus()}
	e, _ := NewEngine(context.Background(), cfg, src, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	e.StartReindexLoop(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for e.Generation() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("periodic reindex did not run twice")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	e.Close()
}

func TestFingerprintIdentifiesContentAcrossRestarts(t *testing.T) {
	store := segment.NewFileStore(t.TempDir(), segment.DefaultOptions, 2)
	src := &fakeSource{docs: []index.Document{{ID: "old.txt", Content: "alpha"}}}

	first, _ := NewEngine(context.Background(), testConfig(), src, store, nil)
	oldStats, err := first.Reindex(context.Background())
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	src.set([]index.Document{{ID: "new.txt", Content: "alpha"}})
	newStats, err := first.Reindex(context.Background())
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if oldStats.Fingerprint == newStats.Fingerprint {
		t.Fatal("different content produced the same fingerprint")
	}

	restarted, err := NewEngine(context.Background(), testConfig(), &fakeSource{}, store, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	snap := restarted.Snapshot()
	if snap.Generation != oldStats.Generation {
		t.Fatalf("restarted generation = %d, want %d", snap.Generation, oldStats.Generation)
	}
	if snap.Fingerprint == oldStats.Fingerprint {
		t.Error("restarted snapshot shares the fingerprint of a different index with the same generation")
	}
	if snap.Fingerprint != newStats.Fingerprint {
		t.Errorf("restarted fingerprint = %s, want %s", snap.Fingerprint, newStats.Fingerprint)
	}
	if got := restarted.Stats().Fingerprint; got != snap.Fingerprint {
		t.Errorf("Stats().Fingerprint = %s", got)
	}
}
