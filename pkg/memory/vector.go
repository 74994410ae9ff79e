// Package memory owns both sides of the engine's dual memory: the
// run-scoped short-term state and the cross-run long-term vector store.
// The two are disjoint persistence domains; the only copy between them is
// short-term to long-term, performed by the Manager.
package memory

import (
	"context"
	"time"
)

// VectorStore defines the interface for a vector database.
type VectorStore interface {
	// CreateCollection creates a new collection if it doesn't exist.
	CreateCollection(ctx context.Context, name string, vectorSize uint64) error
	// Upsert adds points to the vector store.
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search returns the nearest points to the given vector, best first.
	Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter) ([]SearchResult, error)
}

// Embedder defines the interface for converting text to vectors.
type Embedder interface {
	// Embed converts a text string into a fixed-length vector.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Filter narrows a search. Zero value matches everything; retrieval is
// global across runs and agents unless a field is set.
type Filter struct {
	ExcludeAgentIDs []string
	Kind            string
	RunID           string
}

// Point represents a data point in the vector store.
type Point struct {
	ID        string         `json:"id"`
	Vector    []float32      `json:"vector"`
	Payload   map[string]any `json:"payload"`
	Timestamp int64          `json:"timestamp"`
}

// SearchResult represents a result from a vector search.
type SearchResult struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
	Point Point   `json:"point"`
}

// RecordKind classifies a long-term memory record.
type RecordKind string

const (
	KindOutput  RecordKind = "output"
	KindFact    RecordKind = "fact"
	KindQuery   RecordKind = "query"
	KindSummary RecordKind = "summary"
)

// Retrieved is one long-term record surfaced by Retrieve, ordered by
// descending similarity with ties broken by most recent timestamp.
type Retrieved struct {
	Text      string
	Score     float32
	AgentID   string
	RunID     string
	Kind      string
	Timestamp time.Time
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadInt64(payload map[string]any, key string) int64 {
	if payload == nil {
		return 0
	}
	switch v := payload[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
