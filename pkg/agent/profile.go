// Package agent implements the stateless agent runtime. An agent is a
// profile (role, goal, model binding, tool grants) plus a conversation
// turn; all state lives in the turn, so a single runtime instance can
// serve any number of concurrent runs.
package agent

// Profile describes one agent as declared in a workflow document. The
// engine resolves the model binding and tool grants before handing the
// profile to the runtime.
type Profile struct {
	ID            string
	Role          string
	Goal          string
	Description   string
	Instruction   string
	Model         string
	Tools         []string
	MemoryEnabled bool
	SubAgents     []string
}

// IsManager reports whether the profile delegates to sub-agents.
func (p Profile) IsManager() bool {
	return len(p.SubAgents) > 0
}
