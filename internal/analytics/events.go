// Package analytics carries query and rebuild telemetry from the search
// service to the analytics service over Kafka and aggregates it there.
package analytics

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer"
)

// EventType discriminates the JSON envelope of every analytics message.
type EventType string

const (
	EventSearch  EventType = "search"
	EventReindex EventType = "reindex"
)

// Event is anything the Collector can publish.
type Event interface {
	EventType() EventType
	PartitionKey() string
}

// SearchEvent describes one answered query.
type SearchEvent struct {
	Type       EventType `json:"type"`
	Query      string    `json:"query"`
	Tokens     []string  `json:"tokens"`
	Endpoint   string    `json:"endpoint"`
	TotalDocs  int       `json:"total_docs"`
	Matches    int       `json:"matches"`
	Returned   int       `json:"returned"`
	TopDocID   string    `json:"top_doc_id,omitempty"`
	LatencyUs  int64     `json:"latency_us"`
	CacheHit   bool      `json:"cache_hit"`
	Generation uint64    `json:"generation"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
}

func (e SearchEvent) EventType() EventType { return EventSearch }

// PartitionKey keeps repeats of one query on one partition.
func (e SearchEvent) PartitionKey() string { return e.Query }

// ReindexEvent describes one completed index rebuild.
type ReindexEvent struct {
	Type       EventType `json:"type"`
	Generation uint64    `json:"generation"`
	Documents  int       `json:"documents"`
	Terms      int       `json:"terms"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e ReindexEvent) EventType() EventType { return EventReindex }

func (e ReindexEvent) PartitionKey() string { return "reindex" }

type envelope struct {
	Type EventType `json:"type"`
}

// NewReindexEvent describes a finished rebuild.
func NewReindexEvent(st indexer.ReindexStats) ReindexEvent {
	return ReindexEvent{
		Type:       EventReindex,
		Generation: st.Generation,
		Documents:  st.Documents,
		Terms:      st.Terms,
		DurationMs: st.Duration.Milliseconds(),
		Timestamp:  st.FinishedAt.UTC(),
	}
}
