package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	pkgredis "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/redis"
)

type memoryBackend struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{data: make(map[string]string)}
}

func (m *memoryBackend) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.data[key]
	if !ok {
		return "", pkgredis.ErrNil
	}
	return v, nil
}

func (m *memoryBackend) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value.(string)
	return nil
}

func (m *memoryBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func results() []ranker.ScoredDoc {
	return []ranker.ScoredDoc{{DocID: "a.txt", Score: 0.5}, {DocID: "b.txt", Score: 0}}
}

func TestKeyDependsOnEveryInput(t *testing.T) {
	base := Key("f1", 10, []string{"GL", "CLEAR"})
	variants := map[string]string{
		"fingerprint": Key("f2", 10, []string{"GL", "CLEAR"}),
		"limit":       Key("f1", 11, []string{"GL", "CLEAR"}),
		"order":       Key("f1", 10, []string{"CLEAR", "GL"}),
		"boundary":    Key("f1", 10, []string{"GLC", "LEAR"}),
		"repeat":      Key("f1", 10, []string{"GL", "CLEAR", "CLEAR"}),
		"prefix":      Key("f", 10, []string{"1GL", "CLEAR"}),
	}
	for name, k := range variants {
		if k == base {
			t.Errorf("%s change did not change the key", name)
		}
	}
	if Key("f1", 10, []string{"GL", "CLEAR"}) != base {
		t.Error("key not stable")
	}
	if !strings.HasPrefix(base, keyPrefix) {
		t.Errorf("key %q missing prefix", base)
	}
}

func TestGetOrComputeCachesResults(t *testing.T) {
	c := New(newMemoryBackend(), config.RedisConfig{CacheTTL: time.Minute}, nil)
	calls := 0
	compute := func() ([]ranker.ScoredDoc, error) {
		calls++
		return results(), nil
	}

	got, hit, err := c.GetOrCompute(context.Background(), "f1", 10, []string{"X"}, compute)
	if err != nil || hit {
		t.Fatalf("first call: hit=%v err=%v", hit, err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results", len(got))
	}

	got, hit, err = c.GetOrCompute(context.Background(), "f1", 10, []string{"X"}, compute)
	if err != nil || !hit {
		t.Fatalf("second call: hit=%v err=%v", hit, err)
	}
	if calls != 1 {
		t.Errorf("compute called %d times, want 1", calls)
	}
	if got[0] != results()[0] {
		t.Errorf("cached result = %+v", got[0])
	}

	if _, hit, _ := c.GetOrCompute(context.Background(), "f2", 10, []string{"X"}, compute); hit {
		t.Error("another index must miss")
	}
	st := c.Stats()
	if st.Hits != 1 || st.Misses != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestGetOrComputePropagatesComputeError(t *testing.T) {
	c := New(newMemoryBackend(), config.RedisConfig{}, nil)
	want := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), "f1", 1, nil, func() ([]ranker.ScoredDoc, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Errorf("expected compute error, got %v", err)
	}
}

func TestBackendFailureFallsThrough(t *testing.T) {
	backend := newMemoryBackend()
	backend.err = errors.New("connection refused")
	c := New(backend, config.RedisConfig{}, nil)

	var calls atomic.Int32
	for i := 0; i < 10; i++ {
		got, hit, err := c.GetOrCompute(context.Background(), "f1", 10, []string{"X"}, func() ([]ranker.ScoredDoc, error) {
			calls.Add(1)
			return results(), nil
		})
		if err != nil || hit || len(got) != 2 {
			t.Fatalf("call %d: hit=%v err=%v len=%d", i, hit, err, len(got))
		}
	}
	if calls.Load() != 10 {
		t.Errorf("compute calls = %d, want 10", calls.Load())
	}
	st := c.Stats()
	if st.BreakerState != "open" {
		t.Errorf("breaker = %s, want open", st.BreakerState)
	}
	if st.Bypassed == 0 {
		t.Error("expected bypassed lookups once the breaker opened")
	}
}

func TestMissesDoNotTripBreaker(t *testing.T) {
	c := New(newMemoryBackend(), config.RedisConfig{}, nil)
	for i := 0; i < 20; i++ {
		_, _, _ = c.GetOrCompute(context.Background(), strconv.Itoa(i), 10, nil, func() ([]ranker.ScoredDoc, error) {
			return nil, errors.New("skip store")
		})
	}
	if st := c.Stats(); st.BreakerState != "closed" {
		t.Errorf("breaker = %s, want closed", st.BreakerState)
	}
}

func TestInvalidate(t *testing.T) {
	backend := newMemoryBackend()
	backend.data["unrelated"] = "keep"
	c := New(backend, config.RedisConfig{}, nil)
	for i := 0; i < 3; i++ {
		_, _, _ = c.GetOrCompute(context.Background(), "f1", i+1, nil, func() ([]ranker.ScoredDoc, error) {
			return results(), nil
		})
	}
	n, err := c.Invalidate(context.Background())
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted %d keys, want 3", n)
	}
	if _, ok := backend.data["unrelated"]; !ok {
		t.Error("unrelated key removed")
	}
}
