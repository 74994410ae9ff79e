package core

import (
	"context"
	"time"
)

// EventKind identifies a semantic event emitted during a workflow run.
type EventKind string

const (
	EventRunStart          EventKind = "run_start"
	EventStepStart         EventKind = "step_start"
	EventStepComplete      EventKind = "step_complete"
	EventStepFailed        EventKind = "step_failed"
	EventOutputStored      EventKind = "output_stored"
	EventMemoryRetrieved   EventKind = "memory_retrieved"
	EventMemoryPersisted   EventKind = "memory_persisted"
	EventMemoryDegraded    EventKind = "memory_degraded"
	EventToolDiscovered    EventKind = "tool_discovered"
	EventToolCall          EventKind = "tool_call"
	EventToolResult        EventKind = "tool_result"
	EventToolError         EventKind = "tool_error"
	EventBranchStart       EventKind = "branch_start"
	EventBranchComplete    EventKind = "branch_complete"
	EventBranchFailed      EventKind = "branch_failed"
	EventDelegationPlanned EventKind = "delegation_planned"
	EventAggregationStart  EventKind = "aggregation_start"
	EventExecutionComplete EventKind = "execution_complete"
	EventExecutionFailed   EventKind = "execution_failed"
)

// Event is one entry in a run's append-only event log.
type Event struct {
	Kind      EventKind      `json:"kind"`
	RunID     string         `json:"run_id"`
	AgentID   string         `json:"agent_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// EventSink receives run events. Implementations must tolerate
// concurrent appends from parallel branches.
type EventSink interface {
	Append(ctx context.Context, event Event)
}

// NoopEventSink discards all events.
type NoopEventSink struct{}

// Append implements EventSink.
func (NoopEventSink) Append(_ context.Context, _ Event) {}

// NewEvent builds an event stamped with the current UTC time.
func NewEvent(kind EventKind, runID, agentID string, payload map[string]any) Event {
	return Event{
		Kind:      kind,
		RunID:     runID,
		AgentID:   agentID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
