package main

import (
	"fmt"
	"io"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Stats accumulates request outcomes from concurrent workers.
type Stats struct {
	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	cacheHits atomic.Int64
	zeroMatch atomic.Int64

	mu          sync.Mutex
	latencies   []time.Duration
	statusCodes map[int]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]int64),
	}
}

// Result is the outcome of one search request. StatusCode is 0 when the
// request never got a response.
type Result struct {
	Latency    time.Duration
	StatusCode int
	CacheHit   bool
	Matches    int
	Err        error
}

func (s *Stats) Record(r Result) {
	s.total.Add(1)
	if r.Err != nil {
		s.failed.Add(1)
		return
	}
	if r.StatusCode >= 200 && r.StatusCode < 300 {
		s.succeeded.Add(1)
		if r.CacheHit {
			s.cacheHits.Add(1)
		}
		if r.Matches == 0 {
			s.zeroMatch.Add(1)
		}
	} else {
		s.failed.Add(1)
	}

	s.mu.Lock()
	s.latencies = append(s.latencies, r.Latency)
	s.statusCodes[r.StatusCode]++
	s.mu.Unlock()
}

// Report is a summary of everything recorded.
type Report struct {
	Total       int64
	Succeeded   int64
	Failed      int64
	CacheHits   int64
	ZeroMatch   int64
	RPS         float64
	Min, Avg    time.Duration
	P50, P90    time.Duration
	P95, P99    time.Duration
	Max, StdDev time.Duration
	StatusCodes map[int]int64
}

func (s *Stats) Report(elapsed time.Duration) Report {
	rep := Report{
		Total:     s.total.Load(),
		Succeeded: s.succeeded.Load(),
		Failed:    s.failed.Load(),
		CacheHits: s.cacheHits.Load(),
		ZeroMatch: s.zeroMatch.Load(),
	}
	if elapsed > 0 {
		rep.RPS = float64(rep.Total) / elapsed.Seconds()
	}

	s.mu.Lock()
	latencies := slices.Clone(s.latencies)
	rep.StatusCodes = make(map[int]int64, len(s.statusCodes))
	for code, n := range s.statusCodes {
		rep.StatusCodes[code] = n
	}
	s.mu.Unlock()

	if len(latencies) == 0 {
		return rep
	}
	slices.Sort(latencies)
	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	rep.Avg = sum / time.Duration(len(latencies))
	rep.Min = latencies[0]
	rep.Max = latencies[len(latencies)-1]
	rep.P50 = percentile(latencies, 50)
	rep.P90 = percentile(latencies, 90)
	rep.P95 = percentile(latencies, 95)
	rep.P99 = percentile(latencies, 99)

	var sumSquared float64
	for _, l := range latencies {
		diff := float64(l - rep.Avg)
		sumSquared += diff * diff
	}
	rep.StdDev = time.Duration(math.Sqrt(sumSquared / float64(len(latencies))))
	return rep
}

// Print writes rep in the plain-text layout of the CLI.
func (rep Report) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", rep.Total)
	fmt.Fprintf(w, "Successful:      %d\n", rep.Succeeded)
	fmt.Fprintf(w, "Errors:          %d\n", rep.Failed)
	if rep.Total > 0 {
		fmt.Fprintf(w, "Error Rate:      %.2f%%\n", float64(rep.Failed)/float64(rep.Total)*100)
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", rep.RPS)
	}
	if rep.Succeeded > 0 {
		fmt.Fprintf(w, "Cache Hit Rate:  %.2f%%\n", float64(rep.CacheHits)/float64(rep.Succeeded)*100)
		fmt.Fprintf(w, "Zero Matches:    %d\n", rep.ZeroMatch)
	}

	if rep.Max > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Latency ===")
		fmt.Fprintf(w, "Min:    %s\n", rep.Min)
		fmt.Fprintf(w, "Avg:    %s\n", rep.Avg)
		fmt.Fprintf(w, "P50:    %s\n", rep.P50)
		fmt.Fprintf(w, "P90:    %s\n", rep.P90)
		fmt.Fprintf(w, "P95:    %s\n", rep.P95)
		fmt.Fprintf(w, "P99:    %s\n", rep.P99)
		fmt.Fprintf(w, "Max:    %s\n", rep.Max)
		fmt.Fprintf(w, "StdDev: %s\n", rep.StdDev)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Status Codes ===")
	codes := make([]int, 0, len(rep.StatusCodes))
	for code := range rep.StatusCodes {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "  %d: %d\n", code, rep.StatusCodes[code])
	}
}

// percentile uses the nearest-rank method on an ascending slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
