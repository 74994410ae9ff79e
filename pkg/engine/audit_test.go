package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/taxis-ai/taxis/pkg/core"
)

func newAuditStore(t *testing.T) *AuditStore {
	t.Helper()
	store, err := OpenAuditStore(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("OpenAuditStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAuditStoreRunRoundTrip(t *testing.T) {
	store := newAuditStore(t)
	ctx := context.Background()

	result := &Result{
		RunID:       "run-1",
		Status:      core.RunRunning,
		FlowType:    "sequential",
		Query:       "research the market",
		Elapsed:     0,
	}
	if err := store.RecordRun(ctx, result); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	// A second record for the same run updates in place.
	result.Status = core.RunCompleted
	result.FinalOutput = "the market is large"
	result.Elapsed = 1500 * time.Millisecond
	if err := store.RecordRun(ctx, result); err != nil {
		t.Fatalf("RecordRun update failed: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.FinalOutput != "the market is large" {
		t.Errorf("final output = %q", got.FinalOutput)
	}
	if got.Query != "research the market" {
		t.Errorf("query = %q", got.Query)
	}
	if got.ElapsedMS != 1500 {
		t.Errorf("elapsed_ms = %d, want 1500", got.ElapsedMS)
	}

	if _, err := store.GetRun(ctx, "run-unknown"); err == nil {
		t.Errorf("expected error for unknown run")
	}
}

func TestAuditStoreEventLog(t *testing.T) {
	store := newAuditStore(t)
	ctx := context.Background()

	events := []core.Event{
		core.NewEvent(core.EventRunStart, "run-1", "", map[string]any{"query": "q"}),
		core.NewEvent(core.EventStepStart, "run-1", "researcher", nil),
		core.NewEvent(core.EventStepComplete, "run-1", "researcher", map[string]any{"elapsed_ms": 12}),
		core.NewEvent(core.EventRunStart, "run-2", "", nil),
	}
	for _, e := range events {
		store.Append(ctx, e)
	}

	got, err := store.ListEvents(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events for run-1, got %d", len(got))
	}
	wantKinds := []core.EventKind{core.EventRunStart, core.EventStepStart, core.EventStepComplete}
	for i, e := range got {
		if e.Kind != wantKinds[i] {
			t.Errorf("event %d kind = %s, want %s", i, e.Kind, wantKinds[i])
		}
		if e.RunID != "run-1" {
			t.Errorf("event %d run id = %q", i, e.RunID)
		}
	}
	if got[1].AgentID != "researcher" {
		t.Errorf("agent id = %q, want researcher", got[1].AgentID)
	}
	if got[0].Payload["query"] != "q" {
		t.Errorf("payload not preserved: %v", got[0].Payload)
	}

	empty, err := store.ListEvents(ctx, "run-none")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no events, got %d", len(empty))
	}
}

func TestAuditStoreAsEngineSink(t *testing.T) {
	store := newAuditStore(t)
	ctx := context.Background()

	var sink core.EventSink = store
	sink.Append(ctx, core.NewEvent(core.EventExecutionComplete, "run-1", "", nil))

	got, err := store.ListEvents(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(got) != 1 || got[0].Kind != core.EventExecutionComplete {
		t.Errorf("unexpected events: %+v", got)
	}
}
