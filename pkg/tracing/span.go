// Package tracing records nested timing spans for multi-stage operations
// such as a reindex (crawl, build, persist, swap). Spans are carried in the
// context and the finished tree is written to slog.
package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type contextKey struct{}

var enabled atomic.Bool

// SetEnabled turns span logging on or off process-wide. Spans are still
// timed when disabled; Log becomes a no-op.
func SetEnabled(on bool) { enabled.Store(on) }

// Enabled reports whether span logging is on.
func Enabled() bool { return enabled.Load() }

// Span is a timed operation within a trace.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	Duration  time.Duration

	mu       sync.Mutex
	children []*Span
	attrs    []slog.Attr
	err      error
}

// NewTraceID returns 16 random bytes hex encoded.
func NewTraceID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// StartSpan begins a span named name. If ctx already carries a span the new
// one becomes its child and shares its trace ID; otherwise it is a root with
// a fresh trace ID.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	span := &Span{Name: name, StartTime: time.Now()}
	if parent := FromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, span)
		parent.mu.Unlock()
	} else {
		span.TraceID = NewTraceID()
	}
	return context.WithValue(ctx, contextKey{}, span), span
}

// FromContext returns the current span in ctx, or nil.
func FromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(contextKey{}).(*Span)
	return span
}

// SetAttr attaches a key/value attribute to the span.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, value))
	s.mu.Unlock()
}

// SetError records err on the span. A nil err is ignored.
func (s *Span) SetError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// End records the span's duration.
func (s *Span) End() {
	s.mu.Lock()
	s.Duration = time.Since(s.StartTime)
	s.mu.Unlock()
}

// Children returns a copy of the span's direct children.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Span, len(s.children))
	copy(out, s.children)
	return out
}

// Log writes the span tree to logger, depth first. It does nothing when
// tracing is disabled.
func (s *Span) Log(logger *slog.Logger) {
	if !Enabled() {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	s.log(logger, 0)
}

func (s *Span) log(logger *slog.Logger, depth int) {
	s.mu.Lock()
	attrs := make([]slog.Attr, 0, len(s.attrs)+5)
	attrs = append(attrs,
		slog.String("trace_id", s.TraceID),
		slog.String("span", s.Name),
		slog.Float64("duration_ms", float64(s.Duration.Microseconds())/1000),
		slog.Int("depth", depth),
	)
	attrs = append(attrs, s.attrs...)
	level := slog.LevelInfo
	if s.err != nil {
		attrs = append(attrs, slog.String("error", s.err.Error()))
		level = slog.LevelWarn
	}
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	logger.LogAttrs(context.Background(), level, "span", attrs...)
	for _, child := range children {
		child.log(logger, depth+1)
	}
}
