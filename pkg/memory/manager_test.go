package memory

import (
	"context"
	"testing"
	"time"

	"github.com/taxis-ai/taxis/pkg/core"
	"github.com/taxis-ai/taxis/pkg/errors"
)

// stubEmbedder returns fixed vectors per text, with a default for
// anything unlisted.
type stubEmbedder struct {
	vectors map[string][]float32
	def     []float32
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return s.def, nil
}

// slowStore blocks until the context expires.
type slowStore struct{ InProcessStore }

func (s *slowStore) Search(ctx context.Context, _ string, _ []float32, _ int, _ Filter) ([]SearchResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *InProcessStore) {
	t.Helper()
	store := NewInProcessStore()
	embedder := &stubEmbedder{
		vectors: map[string][]float32{},
		def:     []float32{1, 0, 0},
	}
	return NewManager(store, embedder, "records", opts...), store
}

func TestWriteOutputDuplicateFails(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.BeginRun("r1", "q")
	defer mgr.EndRun("r1")

	if err := mgr.WriteOutput("r1", "researcher", "first"); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	err := mgr.WriteOutput("r1", "researcher", "second")
	if err == nil {
		t.Fatal("expected duplicate write to fail")
	}
	if errors.CodeOf(err) != errors.CodeDuplicateWrite {
		t.Errorf("expected DUPLICATE_WRITE, got %s", errors.CodeOf(err))
	}

	// First write must be unaffected.
	entries, err := mgr.ReadContext("r1")
	if err != nil {
		t.Fatalf("ReadContext failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Text != "first" {
		t.Errorf("first write was disturbed: %+v", entries)
	}
}

func TestRunStateStatusLifecycle(t *testing.T) {
	state := NewRunState("r1", "q")
	if got := state.Status(); got != core.RunPending {
		t.Errorf("initial status = %s, want pending", got)
	}

	state.SetStatus(core.RunRunning)
	state.SetStatus(core.RunAggregating)
	if got := state.Status(); got != core.RunAggregating {
		t.Errorf("status = %s, want aggregating", got)
	}

	state.SetStatus(core.RunCompleted)
	if !state.Status().Terminal() {
		t.Error("completed must be terminal")
	}
	// A terminal state is final.
	state.SetStatus(core.RunRunning)
	if got := state.Status(); got != core.RunCompleted {
		t.Errorf("terminal status was overwritten: %s", got)
	}
}

func TestReadContextPreservesInsertionOrder(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.BeginRun("r1", "q")
	defer mgr.EndRun("r1")

	for _, id := range []string{"a", "b", "c"} {
		if err := mgr.WriteOutput("r1", id, "out-"+id); err != nil {
			t.Fatalf("write %s failed: %v", id, err)
		}
	}
	entries, _ := mgr.ReadContext("r1")
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"a", "b", "c"} {
		if entries[i].AgentID != want {
			t.Errorf("entry %d: got %s, want %s", i, entries[i].AgentID, want)
		}
	}
}

func TestRetrieveEmptyStoreReturnsEmpty(t *testing.T) {
	mgr, _ := newTestManager(t)
	got, err := mgr.Retrieve(context.Background(), "anything", 5, Filter{})
	if err != nil {
		t.Fatalf("empty store must not error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no results, got %d", len(got))
	}
}

func TestRetrieveOrderingAndLimit(t *testing.T) {
	store := NewInProcessStore()
	embedder := &stubEmbedder{def: []float32{1, 0, 0}}
	mgr := NewManager(store, embedder, "records")

	now := time.Now().UTC().Unix()
	points := []Point{
		{ID: "far", Vector: []float32{0, 1, 0}, Timestamp: now, Payload: map[string]any{"text": "far", "timestamp": now}},
		{ID: "near-old", Vector: []float32{1, 0, 0}, Timestamp: now - 100, Payload: map[string]any{"text": "near-old", "timestamp": now - 100}},
		{ID: "near-new", Vector: []float32{1, 0, 0}, Timestamp: now, Payload: map[string]any{"text": "near-new", "timestamp": now}},
		{ID: "mid", Vector: []float32{1, 1, 0}, Timestamp: now, Payload: map[string]any{"text": "mid", "timestamp": now}},
	}
	if err := store.Upsert(context.Background(), "records", points); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := mgr.Retrieve(context.Background(), "query", 3, Filter{})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
	// Exact matches first, tie broken by newer timestamp.
	if got[0].Text != "near-new" || got[1].Text != "near-old" {
		t.Errorf("tie-break order wrong: %q, %q", got[0].Text, got[1].Text)
	}
	if got[2].Text != "mid" {
		t.Errorf("expected mid third, got %q", got[2].Text)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("scores not descending at %d", i)
		}
	}
}

func TestRetrieveTimeoutDegrades(t *testing.T) {
	embedder := &stubEmbedder{def: []float32{1, 0, 0}}
	mgr := NewManager(&slowStore{}, embedder, "records",
		WithRetrieveTimeout(10*time.Millisecond))

	got, err := mgr.Retrieve(context.Background(), "query", 5, Filter{})
	if len(got) != 0 {
		t.Errorf("expected no results on timeout, got %d", len(got))
	}
	if errors.CodeOf(err) != errors.CodeMemoryDegradation {
		t.Errorf("expected MEMORY_DEGRADATION, got %v", err)
	}
}

func TestCrossRunRecall(t *testing.T) {
	store := NewInProcessStore()
	embedder := &stubEmbedder{
		vectors: map[string][]float32{
			"project name is X":         {0.9, 0.1, 0},
			"what is the project name?": {0.92, 0.08, 0},
			"unrelated trivia":          {0, 0, 1},
		},
		def: []float32{0.5, 0.5, 0.5},
	}
	mgr := NewManager(store, embedder, "records")

	mgr.BeginRun("run-1", "remember this")
	if err := mgr.Persist(context.Background(), "run-1", "writer", "project name is X", KindFact, nil); err != nil {
		t.Fatalf("persist failed: %v", err)
	}
	if err := mgr.Persist(context.Background(), "run-1", "writer", "unrelated trivia", KindFact, nil); err != nil {
		t.Fatalf("persist failed: %v", err)
	}
	mgr.EndRun("run-1")

	mgr.BeginRun("run-2", "recall")
	defer mgr.EndRun("run-2")
	got, err := mgr.Retrieve(context.Background(), "what is the project name?", 1, Filter{})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(got) != 1 || got[0].Text != "project name is X" {
		t.Errorf("cross-run recall failed: %+v", got)
	}
	if got[0].RunID != "run-1" {
		t.Errorf("expected record from run-1, got %q", got[0].RunID)
	}
}

func TestPersistAlwaysCreatesNewRecord(t *testing.T) {
	mgr, store := newTestManager(t)
	mgr.BeginRun("r1", "q")
	defer mgr.EndRun("r1")

	for i := 0; i < 3; i++ {
		if err := mgr.Persist(context.Background(), "r1", "a", "same text", KindOutput, nil); err != nil {
			t.Fatalf("persist %d failed: %v", i, err)
		}
	}
	if n := store.Count("records"); n != 3 {
		t.Errorf("expected 3 records, got %d", n)
	}
}

func TestPersistRefusedAfterCancellation(t *testing.T) {
	mgr, store := newTestManager(t)
	state := mgr.BeginRun("r1", "q")
	defer mgr.EndRun("r1")

	state.MarkCancelled()
	err := mgr.Persist(context.Background(), "r1", "a", "text", KindOutput, nil)
	if errors.CodeOf(err) != errors.CodeMemoryDegradation {
		t.Errorf("expected refusal after cancel, got %v", err)
	}
	if store.Count("records") != 0 {
		t.Error("no record should be written after cancellation")
	}

	if err := mgr.WriteOutput("r1", "a", "text"); err == nil {
		t.Error("short-term write should be refused after cancellation")
	}
}

func TestRetrieveFilterExcludesAgents(t *testing.T) {
	store := NewInProcessStore()
	embedder := &stubEmbedder{def: []float32{1, 0, 0}}
	mgr := NewManager(store, embedder, "records")
	mgr.BeginRun("r1", "q")
	defer mgr.EndRun("r1")

	if err := mgr.Persist(context.Background(), "r1", "self", "own note", KindFact, nil); err != nil {
		t.Fatalf("persist failed: %v", err)
	}
	if err := mgr.Persist(context.Background(), "r1", "peer", "peer note", KindFact, nil); err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	got, err := mgr.Retrieve(context.Background(), "note", 10, Filter{ExcludeAgentIDs: []string{"self"}})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(got) != 1 || got[0].AgentID != "peer" {
		t.Errorf("filter did not exclude agent: %+v", got)
	}
}
