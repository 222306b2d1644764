package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
)

// AggregatedStats is the analytics summary served to dashboards.
type AggregatedStats struct {
	TotalSearches    int64         `json:"total_searches"`
	ZeroMatchCount   int64         `json:"zero_match_count"`
	EmptyQueryCount  int64         `json:"empty_query_count"`
	CacheHits        int64         `json:"cache_hits"`
	CacheMisses      int64         `json:"cache_misses"`
	AvgLatencyUs     float64       `json:"avg_latency_us"`
	P50LatencyUs     int64         `json:"p50_latency_us"`
	P95LatencyUs     int64         `json:"p95_latency_us"`
	P99LatencyUs     int64         `json:"p99_latency_us"`
	TopQueries       []QueryCount  `json:"top_queries"`
	ZeroMatchQueries []QueryCount  `json:"zero_match_queries"`
	TopDocuments     []QueryCount  `json:"top_documents"`
	QueriesPerMinute float64       `json:"queries_per_minute"`
	Reindexes        int64         `json:"reindexes"`
	LastReindex      *ReindexEvent `json:"last_reindex,omitempty"`
	UnknownEvents    int64         `json:"unknown_events"`
	CapturedAt       time.Time     `json:"captured_at"`
}

// QueryCount pairs a key (query or document ID) with its frequency.
type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator folds events into running totals. It is safe for concurrent
// use.
type Aggregator struct {
	mu sync.Mutex

	totalSearches int64
	zeroMatches   int64
	emptyQueries  int64
	cacheHits     int64
	cacheMisses   int64
	unknown       int64
	reindexes     int64
	lastReindex   *ReindexEvent

	// latencies is a ring of the most recent samples.
	latencies []int64
	next      int
	filled    bool

	queryCounts     map[string]int64
	zeroMatchCounts map[string]int64
	topDocCounts    map[string]int64
	startTime       time.Time

	logger *slog.Logger
}

// NewAggregator creates an Aggregator keeping at most latencySamples
// latency samples for percentiles.
func NewAggregator(latencySamples int) *Aggregator {
	if latencySamples <= 0 {
		latencySamples = 10000
	}
	return &Aggregator{
		latencies:       make([]int64, latencySamples),
		queryCounts:     make(map[string]int64),
		zeroMatchCounts: make(map[string]int64),
		topDocCounts:    make(map[string]int64),
		startTime:       time.Now(),
		logger:          slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent returns a Kafka handler feeding agg. Messages that cannot be
// decoded are logged and acknowledged so they do not block the partition.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		if err := agg.Ingest(value); err != nil {
			agg.logger.Warn("skipping analytics event", "key", string(key), "error", err)
		}
		return nil
	}
}

// Ingest decodes one JSON event and records it.
func (a *Aggregator) Ingest(value []byte) error {
	env, err := kafka.DecodeJSON[envelope](value)
	if err != nil {
		a.countUnknown()
		return err
	}
	switch env.Type {
	case EventSearch:
		event, err := kafka.DecodeJSON[SearchEvent](value)
		if err != nil {
			a.countUnknown()
			return err
		}
		a.RecordSearch(event)
	case EventReindex:
		event, err := kafka.DecodeJSON[ReindexEvent](value)
		if err != nil {
			a.countUnknown()
			return err
		}
		a.RecordReindex(event)
	default:
		a.countUnknown()
		return fmt.Errorf("unknown event type %q", env.Type)
	}
	return nil
}

func (a *Aggregator) countUnknown() {
	a.mu.Lock()
	a.unknown++
	a.mu.Unlock()
}

// RecordSearch adds one query to the totals.
func (a *Aggregator) RecordSearch(event SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalSearches++
	if event.CacheHit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}
	if len(event.Tokens) == 0 {
		a.emptyQueries++
	} else {
		a.queryCounts[event.Query]++
	}
	if event.Matches == 0 && len(event.Tokens) > 0 {
		a.zeroMatches++
		a.zeroMatchCounts[event.Query]++
	}
	if event.TopDocID != "" && event.Matches > 0 {
		a.topDocCounts[event.TopDocID]++
	}

	a.latencies[a.next] = event.LatencyUs
	a.next++
	if a.next == len(a.latencies) {
		a.next = 0
		a.filled = true
	}
}

// RecordReindex notes a completed rebuild. Out-of-order events for older
// generations do not replace the latest one.
func (a *Aggregator) RecordReindex(event ReindexEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reindexes++
	if a.lastReindex == nil || event.Generation >= a.lastReindex.Generation {
		e := event
		a.lastReindex = &e
	}
}

// Stats returns a snapshot of the totals.
func (a *Aggregator) Stats() AggregatedStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := AggregatedStats{
		TotalSearches:   a.totalSearches,
		ZeroMatchCount:  a.zeroMatches,
		EmptyQueryCount: a.emptyQueries,
		CacheHits:       a.cacheHits,
		CacheMisses:     a.cacheMisses,
		Reindexes:       a.reindexes,
		UnknownEvents:   a.unknown,
		CapturedAt:      time.Now().UTC(),
	}
	if a.lastReindex != nil {
		last := *a.lastReindex
		stats.LastReindex = &last
	}

	n := a.next
	if a.filled {
		n = len(a.latencies)
	}
	if n > 0 {
		sorted := slices.Clone(a.latencies[:n])
		slices.Sort(sorted)
		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyUs = float64(sum) / float64(n)
		stats.P50LatencyUs = percentile(sorted, 50)
		stats.P95LatencyUs = percentile(sorted, 95)
		stats.P99LatencyUs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroMatchQueries = topN(a.zeroMatchCounts, 10)
	stats.TopDocuments = topN(a.topDocCounts, 10)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}
	return stats
}

// Restore seeds the totals from a persisted snapshot. Counters resume from
// the snapshot; per-query tables resume from its top lists.
func (a *Aggregator) Restore(s AggregatedStats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalSearches = s.TotalSearches
	a.zeroMatches = s.ZeroMatchCount
	a.emptyQueries = s.EmptyQueryCount
	a.cacheHits = s.CacheHits
	a.cacheMisses = s.CacheMisses
	a.reindexes = s.Reindexes
	a.unknown = s.UnknownEvents
	if s.LastReindex != nil {
		last := *s.LastReindex
		a.lastReindex = &last
	}
	for _, qc := range s.TopQueries {
		a.queryCounts[qc.Query] = qc.Count
	}
	for _, qc := range s.ZeroMatchQueries {
		a.zeroMatchCounts[qc.Query] = qc.Count
	}
	for _, qc := range s.TopDocuments {
		a.topDocCounts[qc.Query] = qc.Count
	}
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
