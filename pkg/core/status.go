package core

// RunStatus describes the lifecycle state of a workflow run.
type RunStatus string

const (
	RunPending     RunStatus = "pending"
	RunRunning     RunStatus = "running"
	RunAggregating RunStatus = "aggregating"
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}
