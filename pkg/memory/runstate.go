package memory

import (
	"sync"
	"time"

	"github.com/taxis-ai/taxis/pkg/core"
	"github.com/taxis-ai/taxis/pkg/errors"
)

// OutputEntry is one short-term entry: an agent's final output for a run.
type OutputEntry struct {
	AgentID string
	Text    string
	Stored  time.Time
}

// RunState is the short-term memory of a single run. Entries are
// insertion-ordered and append-only; an agent id is written at most once
// per run. The state is created at run start and discarded at run end.
type RunState struct {
	mu        sync.Mutex
	runID     string
	query     string
	status    core.RunStatus
	entries   []OutputEntry
	index     map[string]int
	events    []core.Event
	cancelled bool
	created   time.Time
}

// NewRunState creates the short-term state for one run.
func NewRunState(runID, query string) *RunState {
	return &RunState{
		runID:   runID,
		query:   query,
		status:  core.RunPending,
		index:   make(map[string]int),
		created: time.Now().UTC(),
	}
}

// Status returns the run's current lifecycle state.
func (s *RunState) Status() core.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus advances the run lifecycle. Transitions out of a terminal
// state are ignored.
func (s *RunState) SetStatus(next core.RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.status = next
}

// RunID returns the owning run's id.
func (s *RunState) RunID() string { return s.runID }

// Query returns the user query that started the run.
func (s *RunState) Query() string { return s.query }

// Write appends an agent's output. A second write for the same agent id
// fails with DUPLICATE_WRITE and leaves the first write untouched.
func (s *RunState) Write(agentID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return errors.New(errors.CodeInternal, "run cancelled, write refused", nil).
			WithContext("run_id", s.runID).
			WithContext("agent_id", agentID)
	}
	if _, exists := s.index[agentID]; exists {
		return errors.New(errors.CodeDuplicateWrite, "short-term output already written", nil).
			WithContext("run_id", s.runID).
			WithContext("agent_id", agentID)
	}
	s.index[agentID] = len(s.entries)
	s.entries = append(s.entries, OutputEntry{
		AgentID: agentID,
		Text:    text,
		Stored:  time.Now().UTC(),
	})
	return nil
}

// Snapshot returns an ordered copy of all entries written so far.
func (s *RunState) Snapshot() []OutputEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OutputEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// SnapshotFor returns, in insertion order, only the entries of the given
// agent ids. Used for aggregator and synthesis contexts.
func (s *RunState) SnapshotFor(agentIDs []string) []OutputEntry {
	want := make(map[string]bool, len(agentIDs))
	for _, id := range agentIDs {
		want[id] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []OutputEntry
	for _, e := range s.entries {
		if want[e.AgentID] {
			out = append(out, e)
		}
	}
	return out
}

// Get returns the output for one agent id.
func (s *RunState) Get(agentID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[agentID]
	if !ok {
		return "", false
	}
	return s.entries[i].Text, true
}

// Outputs returns agent_id -> output for reporting.
func (s *RunState) Outputs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.entries))
	for _, e := range s.entries {
		out[e.AgentID] = e.Text
	}
	return out
}

// AppendEvent records an event in the run's append-only log.
func (s *RunState) AppendEvent(event core.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of the event log in append order.
func (s *RunState) Events() []core.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Event, len(s.events))
	copy(out, s.events)
	return out
}

// MarkCancelled blocks any further short-term writes. Entries already
// committed remain readable.
func (s *RunState) MarkCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

// Cancelled reports whether cancellation has been observed.
func (s *RunState) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}
