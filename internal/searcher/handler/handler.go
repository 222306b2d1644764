// Package handler serves the search HTTP API and the embedded search page.
package handler

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/lexer"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/middleware"
)

//go:embed static
var staticFiles embed.FS

// maxQueryBytes bounds the body of POST /api/search.
const maxQueryBytes = 64 << 10

// Paths lists the routes served by Register, for metrics labelling.
var Paths = []string{
	"/",
	"/index.js",
	"/api/search",
	"/api/v1/search",
	"/api/v1/index/rebuild",
	"/api/v1/index/stats",
	"/api/v1/cache/stats",
	"/api/v1/cache/invalidate",
}

// IndexProvider is the part of the indexer engine the handler needs.
type IndexProvider interface {
	Snapshot() *indexer.Snapshot
	Stats() indexer.Stats
	Reindex(ctx context.Context) (indexer.ReindexStats, error)
}

// EventTracker receives analytics events. *analytics.Collector satisfies
// it.
type EventTracker interface {
	Track(event analytics.Event)
}

// Options configures a Handler. Cache, Tracker and Metrics may be nil.
type Options struct {
	Cache        *cache.QueryCache
	Tracker      EventTracker
	Metrics      *metrics.Metrics
	DefaultLimit int
	MaxResults   int
}

// Handler answers search requests against the engine's current snapshot.
type Handler struct {
	index        IndexProvider
	cache        *cache.QueryCache
	tracker      EventTracker
	metrics      *metrics.Metrics
	defaultLimit int
	maxResults   int
	static       http.Handler
	logger       *slog.Logger
}

// New creates a Handler.
func New(index IndexProvider, opts Options) *Handler {
	if opts.DefaultLimit < 1 {
		opts.DefaultLimit = 20
	}
	if opts.MaxResults < opts.DefaultLimit {
		opts.MaxResults = opts.DefaultLimit
	}
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(fmt.Sprintf("embedded static files: %v", err))
	}
	return &Handler{
		index:        index,
		cache:        opts.Cache,
		tracker:      opts.Tracker,
		metrics:      opts.Metrics,
		defaultLimit: opts.DefaultLimit,
		maxResults:   opts.MaxResults,
		static:       http.FileServerFS(sub),
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// Register adds every route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Static)
	mux.HandleFunc("GET /index.js", h.Static)
	mux.HandleFunc("POST /api/search", h.SearchText)
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/index/rebuild", h.Rebuild)
	mux.HandleFunc("GET /api/v1/index/stats", h.IndexStats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// Static serves the embedded search page and its script.
func (h *Handler) Static(w http.ResponseWriter, r *http.Request) {
	h.static.ServeHTTP(w, r)
}

// SearchResponse is the body of GET /api/v1/search.
type SearchResponse struct {
	Query      string             `json:"query"`
	Tokens     []string           `json:"tokens"`
	TotalDocs  int                `json:"total_docs"`
	Generation uint64             `json:"generation"`
	CacheHit   bool               `json:"cache_hit"`
	Results    []ranker.ScoredDoc `json:"results"`
}

// SearchText serves POST /api/search: the request body is the query and the
// response is a JSON array of [doc_id, score] pairs, best first.
func (h *Handler) SearchText(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxQueryBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusRequestEntityTooLarge,
				"query exceeds %d bytes", maxQueryBytes))
			return
		}
		h.writeError(w, fmt.Errorf("%w: reading query: %v", apperrors.ErrInvalidInput, err))
		return
	}

	resp, err := h.search(r.Context(), string(body), h.defaultLimit, "text")
	if err != nil {
		h.writeError(w, err)
		return
	}
	pairs := make([][2]any, len(resp.Results))
	for i, doc := range resp.Results {
		pairs[i] = [2]any{doc.DocID, doc.Score}
	}
	h.writeJSON(w, http.StatusOK, pairs)
}

// Search serves GET /api/v1/search?q=&limit=. An empty q ranks every
// document with score 0.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	limit := h.defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, fmt.Errorf("%w: limit must be a positive integer", apperrors.ErrInvalidInput))
			return
		}
		limit = min(parsed, h.maxResults)
	}

	resp, err := h.search(r.Context(), r.URL.Query().Get("q"), limit, "v1")
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) search(ctx context.Context, query string, limit int, endpoint string) (*SearchResponse, error) {
	start := time.Now()
	log := logger.FromContext(ctx)

	snap := h.index.Snapshot()
	tokens := lexer.Tokenize(query)
	compute := func() ([]ranker.ScoredDoc, error) {
		return ranker.Top(ranker.Rank(snap.Index, tokens), limit), nil
	}

	var (
		results  []ranker.ScoredDoc
		cacheHit bool
		err      error
	)
	cacheStatus := "disabled"
	if h.cache != nil && len(tokens) > 0 {
		results, cacheHit, err = h.cache.GetOrCompute(ctx, snap.Fingerprint, limit, tokens, compute)
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	} else {
		results, err = compute()
	}
	if err != nil {
		h.observe("error", cacheStatus, len(tokens), time.Since(start))
		log.Error("search failed", "query", query, "error", err)
		return nil, fmt.Errorf("ranking query: %w", err)
	}

	latency := time.Since(start)
	matches := ranker.Matches(results)
	resultType := "match"
	switch {
	case len(tokens) == 0:
		resultType = "empty_query"
	case matches == 0:
		resultType = "zero_score"
	}
	h.observe(resultType, cacheStatus, len(tokens), latency)

	log.Debug("search completed",
		"query", query,
		"tokens", len(tokens),
		"matches", matches,
		"returned", len(results),
		"cache", cacheStatus,
		"generation", snap.Generation,
		"latency_us", latency.Microseconds(),
	)

	if h.tracker != nil {
		event := analytics.SearchEvent{
			Type:       analytics.EventSearch,
			Query:      query,
			Tokens:     tokens,
			Endpoint:   endpoint,
			TotalDocs:  snap.Index.DocCount(),
			Matches:    matches,
			Returned:   len(results),
			LatencyUs:  latency.Microseconds(),
			CacheHit:   cacheHit,
			Generation: snap.Generation,
			Timestamp:  time.Now().UTC(),
			RequestID:  middleware.GetRequestID(ctx),
		}
		if matches > 0 {
			event.TopDocID = results[0].DocID
		}
		h.tracker.Track(event)
	}

	if tokens == nil {
		tokens = []string{}
	}
	return &SearchResponse{
		Query:      query,
		Tokens:     tokens,
		TotalDocs:  snap.Index.DocCount(),
		Generation: snap.Generation,
		CacheHit:   cacheHit,
		Results:    results,
	}, nil
}

func (h *Handler) observe(resultType, cacheStatus string, tokens int, latency time.Duration) {
	if h.metrics == nil {
		return
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
	h.metrics.SearchQueryTokens.Observe(float64(tokens))
}

// Rebuild serves POST /api/v1/index/rebuild. The rebuild outlives a
// disconnecting client; the engine's own timeout bounds it.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	stats, err := h.index.Reindex(context.WithoutCancel(r.Context()))
	if err != nil {
		logger.FromContext(r.Context()).Warn("rebuild request failed", "error", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// IndexStats serves GET /api/v1/index/stats.
func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.index.Stats())
}

// CacheStats serves GET /api/v1/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	st := h.cache.Stats()
	total := st.Hits + st.Misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(st.Hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":          st.Hits,
		"misses":        st.Misses,
		"errors":        st.Errors,
		"bypassed":      st.Bypassed,
		"breaker_state": st.BreakerState,
		"total":         total,
		"hit_rate":      fmt.Sprintf("%.1f%%", hitRate),
	})
}

// CacheInvalidate serves POST /api/v1/cache/invalidate.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		message = "internal error"
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
