// Command loadtest drives concurrent GET /api/v1/search requests against a
// running searcher and prints throughput, latency percentiles, cache hit
// rate and status codes.
//
// Usage:
//
//	go run ./cmd/loadtest [--url http://localhost:6969] [--concurrency 10] [--duration 30s] [--queries file]
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/pflag"
)

var defaultQueries = []string{
	"search engine",
	"inverted index",
	"term frequency",
	"document ranking",
	"full text search",
	"tokenizer",
	"query processing",
	"cache",
	"",
	"zzzz-no-such-term",
}

// Config describes one load run.
type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Limit       int
	Queries     []string
}

func main() {
	baseURL := pflag.StringP("url", "u", "http://localhost:6969", "base URL of the search service")
	concurrency := pflag.IntP("concurrency", "n", 10, "number of concurrent workers")
	duration := pflag.DurationP("duration", "d", 30*time.Second, "test duration")
	limit := pflag.Int("limit", 10, "limit parameter sent with every query")
	queriesFile := pflag.String("queries", "", "file with one query per line (default: built-in list)")
	pflag.Parse()

	queries := defaultQueries
	if *queriesFile != "" {
		loaded, err := loadQueries(*queriesFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "loading queries: %v\n", err)
			os.Exit(1)
		}
		queries = loaded
	}
	if len(queries) == 0 || *concurrency < 1 {
		fmt.Fprintln(os.Stderr, "need at least one query and one worker")
		os.Exit(1)
	}

	cfg := Config{
		BaseURL:     strings.TrimRight(*baseURL, "/"),
		Concurrency: *concurrency,
		Duration:    *duration,
		Limit:       *limit,
		Queries:     queries,
	}

	fmt.Println("=== docsearch Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Queries:     %d unique\n", len(cfg.Queries))
	fmt.Println()

	start := time.Now()
	stats := run(context.Background(), cfg, newClient(cfg.Concurrency))
	rep := stats.Report(time.Since(start))
	rep.Print(os.Stdout)

	if rep.Total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func newClient(concurrency int) *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        concurrency * 2,
			MaxIdleConnsPerHost: concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func loadQueries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var queries []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if q := strings.TrimSpace(sc.Text()); q != "" && !strings.HasPrefix(q, "#") {
			queries = append(queries, q)
		}
	}
	return queries, sc.Err()
}

// run keeps cfg.Concurrency workers cycling through the queries until
// cfg.Duration has passed or ctx is cancelled.
func run(ctx context.Context, cfg Config, client *http.Client) *Stats {
	stats := NewStats()
	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := range cfg.Concurrency {
		wg.Go(func() {
			for i := w; ctx.Err() == nil; i++ {
				query := cfg.Queries[i%len(cfg.Queries)]
				res := searchOnce(ctx, client, cfg, query)
				if ctx.Err() != nil && res.Err != nil {
					return
				}
				stats.Record(res)
			}
		})
	}
	wg.Wait()
	return stats
}

type searchResponse struct {
	CacheHit bool `json:"cache_hit"`
	Results  []struct {
		Score float64 `json:"score"`
	} `json:"results"`
}

func searchOnce(ctx context.Context, client *http.Client, cfg Config, query string) Result {
	searchURL := fmt.Sprintf("%s/api/v1/search?q=%s&limit=%d", cfg.BaseURL, url.QueryEscape(query), cfg.Limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return Result{Err: err}
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return Result{Latency: time.Since(start), Err: err}
	}
	defer resp.Body.Close()

	res := Result{StatusCode: resp.StatusCode}
	if resp.StatusCode == http.StatusOK {
		var body searchResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
			res.CacheHit = body.CacheHit
			for _, r := range body.Results {
				if r.Score > 0 {
					res.Matches++
				}
			}
		}
	}
	io.Copy(io.Discard, resp.Body)
	res.Latency = time.Since(start)
	return res
}
