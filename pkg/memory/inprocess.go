package memory

import (
	"context"
	"math"
	"sort"
	"sync"
)

// InProcessStore is a VectorStore backed by process memory with exact
// cosine-similarity search. Intended for tests and store-less deployments;
// it mirrors the qdrant store's ranking semantics.
type InProcessStore struct {
	mu          sync.RWMutex
	collections map[string][]Point
}

// NewInProcessStore creates an empty in-process vector store.
func NewInProcessStore() *InProcessStore {
	return &InProcessStore{collections: make(map[string][]Point)}
}

// CreateCollection implements VectorStore. Creating an existing
// collection is a no-op.
func (s *InProcessStore) CreateCollection(_ context.Context, name string, _ uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		s.collections[name] = nil
	}
	return nil
}

// Upsert implements VectorStore.
func (s *InProcessStore) Upsert(_ context.Context, collection string, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection] = append(s.collections[collection], points...)
	return nil
}

// Search implements VectorStore. Querying an unknown or empty collection
// returns an empty result, never an error.
func (s *InProcessStore) Search(_ context.Context, collection string, vector []float32, limit int, filter Filter) ([]SearchResult, error) {
	s.mu.RLock()
	points := s.collections[collection]
	s.mu.RUnlock()

	var results []SearchResult
	for _, p := range points {
		if !matches(p, filter) {
			continue
		}
		results = append(results, SearchResult{
			ID:    p.ID,
			Score: cosine(vector, p.Vector),
			Point: p,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Point.Timestamp > results[j].Point.Timestamp
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Count returns the number of points in a collection.
func (s *InProcessStore) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

func matches(p Point, filter Filter) bool {
	agentID := payloadString(p.Payload, "agent_id")
	for _, excluded := range filter.ExcludeAgentIDs {
		if agentID == excluded {
			return false
		}
	}
	if filter.Kind != "" && payloadString(p.Payload, "kind") != filter.Kind {
		return false
	}
	if filter.RunID != "" && payloadString(p.Payload, "run_id") != filter.RunID {
		return false
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
