package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	sorted := make([]time.Duration, 100)
	for i := range sorted {
		sorted[i] = time.Duration(i+1) * time.Millisecond
	}
	tests := []struct {
		p    float64
		want time.Duration
	}{
		{0, 1 * time.Millisecond},
		{50, 50 * time.Millisecond},
		{99, 99 * time.Millisecond},
		{100, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := percentile(sorted, tt.p); got != tt.want {
			t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("percentile(nil) = %v, want 0", got)
	}
}

func TestStatsReport(t *testing.T) {
	s := NewStats()
	s.Record(Result{Latency: 10 * time.Millisecond, StatusCode: 200, CacheHit: true, Matches: 3})
	s.Record(Result{Latency: 30 * time.Millisecond, StatusCode: 200})
	s.Record(Result{Latency: 20 * time.Millisecond, StatusCode: 503})
	s.Record(Result{Err: errors.New("connection refused")})

	rep := s.Report(2 * time.Second)
	if rep.Total != 4 || rep.Succeeded != 2 || rep.Failed != 2 {
		t.Fatalf("counts = %d/%d/%d, want 4/2/2", rep.Total, rep.Succeeded, rep.Failed)
	}
	if rep.CacheHits != 1 || rep.ZeroMatch != 1 {
		t.Errorf("cacheHits=%d zeroMatch=%d, want 1 and 1", rep.CacheHits, rep.ZeroMatch)
	}
	if rep.Min != 10*time.Millisecond || rep.Max != 30*time.Millisecond || rep.Avg != 20*time.Millisecond {
		t.Errorf("min/avg/max = %v/%v/%v", rep.Min, rep.Avg, rep.Max)
	}
	if rep.RPS != 2 {
		t.Errorf("RPS = %v, want 2", rep.RPS)
	}
	if rep.StatusCodes[200] != 2 || rep.StatusCodes[503] != 1 {
		t.Errorf("status codes = %v", rep.StatusCodes)
	}

	var buf bytes.Buffer
	rep.Print(&buf)
	for _, want := range []string{"Total Requests:  4", "Cache Hit Rate:  50.00%", "  503: 1"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("report missing %q:\n%s", want, buf.String())
		}
	}
}

func TestLoadQueries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.txt")
	if err := os.WriteFile(path, []byte("# comment\nalpha beta\n\n  gamma  \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := loadQueries(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "alpha beta" || got[1] != "gamma" {
		t.Errorf("loadQueries = %q", got)
	}
}

func TestRunAgainstServer(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/api/v1/search" || r.URL.Query().Get("limit") != "5" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"cache_hit":true,"results":[{"doc_id":"a","score":0.5},{"doc_id":"b","score":0}]}`))
	}))
	defer srv.Close()

	cfg := Config{
		BaseURL:     srv.URL,
		Concurrency: 2,
		Duration:    100 * time.Millisecond,
		Limit:       5,
		Queries:     []string{"alpha", "beta gamma"},
	}
	rep := run(context.Background(), cfg, newClient(cfg.Concurrency)).Report(cfg.Duration)
	if rep.Total == 0 {
		t.Fatal("no requests recorded")
	}
	if rep.Failed != 0 {
		t.Errorf("failed = %d, want 0 (status codes %v)", rep.Failed, rep.StatusCodes)
	}
	if rep.CacheHits != rep.Succeeded {
		t.Errorf("cacheHits = %d, want %d", rep.CacheHits, rep.Succeeded)
	}
	if hits.Load() < rep.Total {
		t.Errorf("server saw %d requests, report has %d", hits.Load(), rep.Total)
	}
}
