package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taxis-ai/taxis/pkg/errors"
)

const (
	defaultRetrieveTimeout = 5 * time.Second
	defaultPersistTimeout  = 10 * time.Second
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRetrieveTimeout bounds every Retrieve call.
func WithRetrieveTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.retrieveTimeout = d
		}
	}
}

// WithPersistTimeout bounds every Persist call.
func WithPersistTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.persistTimeout = d
		}
	}
}

// Manager owns both memory domains. Short-term state is per run and
// exclusively handed to one executor; long-term records live in the
// vector store and are shared across concurrent runs. The Manager is
// safe for concurrent use by multiple runs.
type Manager struct {
	store      VectorStore
	embedder   Embedder
	collection string

	retrieveTimeout time.Duration
	persistTimeout  time.Duration

	mu   sync.RWMutex
	runs map[string]*RunState
}

// NewManager creates a Manager. store and embedder may be nil for
// deployments without long-term memory; Retrieve then always returns
// empty and Persist degrades.
func NewManager(store VectorStore, embedder Embedder, collection string, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:           store,
		embedder:        embedder,
		collection:      collection,
		retrieveTimeout: defaultRetrieveTimeout,
		persistTimeout:  defaultPersistTimeout,
		runs:            make(map[string]*RunState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize ensures the long-term collection exists, probing the
// embedder once for the vector dimension.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.store == nil || m.embedder == nil {
		return nil
	}
	vec, err := m.embedder.Embed(ctx, "dimension probe")
	if err != nil {
		return errors.New(errors.CodeMemoryDegradation, "embedder probe failed", err)
	}
	if err := m.store.CreateCollection(ctx, m.collection, uint64(len(vec))); err != nil {
		// The collection may already exist; a working search settles it.
		if _, searchErr := m.store.Search(ctx, m.collection, vec, 1, Filter{}); searchErr == nil {
			return nil
		}
		return errors.New(errors.CodeMemoryDegradation, "collection create failed", err)
	}
	return nil
}

// BeginRun creates and registers the short-term state for a new run.
func (m *Manager) BeginRun(runID, query string) *RunState {
	state := NewRunState(runID, query)
	m.mu.Lock()
	m.runs[runID] = state
	m.mu.Unlock()
	return state
}

// EndRun discards a run's short-term state. Long-term records persist.
func (m *Manager) EndRun(runID string) {
	m.mu.Lock()
	delete(m.runs, runID)
	m.mu.Unlock()
}

// ReadContext returns the ordered short-term snapshot for a run.
func (m *Manager) ReadContext(runID string) ([]OutputEntry, error) {
	state, err := m.runState(runID)
	if err != nil {
		return nil, err
	}
	return state.Snapshot(), nil
}

// WriteOutput appends an agent's output to a run's short-term state.
// A second write for the same (run, agent) pair fails with DUPLICATE_WRITE.
func (m *Manager) WriteOutput(runID, agentID, text string) error {
	state, err := m.runState(runID)
	if err != nil {
		return err
	}
	return state.Write(agentID, text)
}

// Retrieve embeds the query and returns up to k long-term records sorted
// by descending similarity, ties broken by most recent timestamp. The
// call is bounded by the configured timeout; on timeout or store failure
// it returns an empty slice and a MEMORY_DEGRADATION error the caller is
// expected to log, not propagate. An empty store is not an error.
func (m *Manager) Retrieve(ctx context.Context, query string, k int, filter Filter) ([]Retrieved, error) {
	if m.store == nil || m.embedder == nil || k <= 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.retrieveTimeout)
	defer cancel()

	vector, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.New(errors.CodeMemoryDegradation, "query embedding failed", err)
	}

	results, err := m.store.Search(ctx, m.collection, vector, k, filter)
	if err != nil {
		return nil, errors.New(errors.CodeMemoryDegradation, "vector search failed", err)
	}

	retrieved := make([]Retrieved, 0, len(results))
	for _, r := range results {
		retrieved = append(retrieved, Retrieved{
			Text:      payloadString(r.Point.Payload, "text"),
			Score:     r.Score,
			AgentID:   payloadString(r.Point.Payload, "agent_id"),
			RunID:     payloadString(r.Point.Payload, "run_id"),
			Kind:      payloadString(r.Point.Payload, "kind"),
			Timestamp: time.Unix(payloadInt64(r.Point.Payload, "timestamp"), 0).UTC(),
		})
	}
	sort.SliceStable(retrieved, func(i, j int) bool {
		if retrieved[i].Score != retrieved[j].Score {
			return retrieved[i].Score > retrieved[j].Score
		}
		return retrieved[i].Timestamp.After(retrieved[j].Timestamp)
	})
	if len(retrieved) > k {
		retrieved = retrieved[:k]
	}
	return retrieved, nil
}

// Persist embeds text and upserts a new long-term record. Every call
// creates a fresh record; there is no deduplication by content.
func (m *Manager) Persist(ctx context.Context, runID, agentID, text string, kind RecordKind, meta map[string]any) error {
	if m.store == nil || m.embedder == nil {
		return errors.New(errors.CodeMemoryDegradation, "long-term memory not configured", nil)
	}
	if state, err := m.runState(runID); err == nil && state.Cancelled() {
		return errors.New(errors.CodeMemoryDegradation, "run cancelled, persist refused", nil).
			WithContext("run_id", runID)
	}

	ctx, cancel := context.WithTimeout(ctx, m.persistTimeout)
	defer cancel()

	vector, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return errors.New(errors.CodeMemoryDegradation, "output embedding failed", err).
			WithContext("agent_id", agentID)
	}

	now := time.Now().UTC()
	payload := map[string]any{
		"text":      text,
		"agent_id":  agentID,
		"run_id":    runID,
		"kind":      string(kind),
		"timestamp": now.Unix(),
	}
	for k, v := range meta {
		payload[k] = v
	}

	point := Point{
		ID:        uuid.NewString(),
		Vector:    vector,
		Payload:   payload,
		Timestamp: now.Unix(),
	}
	if err := m.store.Upsert(ctx, m.collection, []Point{point}); err != nil {
		return errors.New(errors.CodeMemoryDegradation, "vector upsert failed", err).
			WithContext("agent_id", agentID)
	}
	return nil
}

// PersistWithFacts stores the full output plus each extracted fact as an
// individual record, logging per-fact failures as degradations.
func (m *Manager) PersistWithFacts(ctx context.Context, runID, agentID, role, text string) error {
	if err := m.Persist(ctx, runID, agentID, text, KindOutput, map[string]any{"role": role}); err != nil {
		return err
	}
	for _, fact := range ExtractFacts(text, agentID, role) {
		if err := m.Persist(ctx, runID, agentID, fact.Content, RecordKind(fact.Kind), map[string]any{
			"role":       role,
			"confidence": fact.Confidence,
		}); err != nil {
			slog.Warn("memory.fact_persist_degraded",
				slog.String("run_id", runID),
				slog.String("agent_id", agentID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (m *Manager) runState(runID string) (*RunState, error) {
	m.mu.RLock()
	state, ok := m.runs[runID]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.CodeInternal, "unknown run", nil).
			WithContext("run_id", runID)
	}
	return state, nil
}
