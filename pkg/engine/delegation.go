package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/taxis-ai/taxis/pkg/agent"
	"github.com/taxis-ai/taxis/pkg/config"
	"github.com/taxis-ai/taxis/pkg/core"
	taxiserrors "github.com/taxis-ai/taxis/pkg/errors"
)

// delegation is one planned worker assignment.
type delegation struct {
	Agent string `json:"agent"`
	Task  string `json:"task"`
}

// planDelegation asks the manager to split the query into per-worker
// tasks. The reply must be a JSON array of {agent, task} objects
// restricted to the manager's sub-agents; an unparseable or empty plan
// falls back to delegating the full query to every sub-agent.
func (e *Engine) planDelegation(ctx context.Context, r *run, manager config.AgentSpec) ([]delegation, error) {
	profile := e.profileFor(manager)
	if !profile.IsManager() {
		return nil, taxiserrors.New(taxiserrors.CodeConfig,
			fmt.Sprintf("agent %q has no sub-agents to delegate to", manager.ID), nil)
	}

	handle, err := e.registry.Resolve(manager.Model)
	if err != nil {
		return nil, err
	}

	var roster strings.Builder
	for _, id := range manager.SubAgents {
		spec, _ := e.workflow.Agent(id)
		fmt.Fprintf(&roster, "- %s: %s (%s)\n", spec.ID, spec.Role, spec.Goal)
	}

	systemPrompt := agent.BuildSystemPrompt(profile, nil)
	taskPrompt := fmt.Sprintf(`Plan how to delegate this request across your workers.

Request: %s

Available workers:
%s
Reply with ONLY a JSON array of assignments, for example:
[{"agent": "worker-id", "task": "what the worker should do"}]

Use only the worker ids listed above. Assign a worker more than once if
the request needs it.`, r.query, roster.String())

	turn := e.runtime.Begin(profile, handle, nil, systemPrompt, taskPrompt)
	outcome, err := e.runtime.Step(ctx, turn)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordTokens(ctx, manager.ID, outcome.Usage.PromptTokens, outcome.Usage.CompletionTokens)

	plan := parseDelegationPlan(outcome.Text, manager.SubAgents)
	if len(plan) == 0 {
		slog.WarnContext(ctx, "delegation plan unusable, delegating query to all workers",
			slog.String("run_id", r.id),
			slog.String("manager", manager.ID))
		r.sink.Append(ctx, core.NewEvent(core.EventDelegationPlanned, r.id, manager.ID, map[string]any{
			"fallback": true,
		}))
		for _, id := range manager.SubAgents {
			plan = append(plan, delegation{Agent: id, Task: r.query})
		}
	}
	return plan, nil
}

// parseDelegationPlan extracts the JSON assignment array from the
// manager's reply, tolerating markdown code fences and surrounding
// prose. Assignments naming unknown workers are dropped.
func parseDelegationPlan(text string, subAgents []string) []delegation {
	raw := extractJSONArray(text)
	if raw == "" {
		return nil
	}

	var parsed []delegation
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil
	}

	allowed := make(map[string]bool, len(subAgents))
	for _, id := range subAgents {
		allowed[id] = true
	}

	plan := make([]delegation, 0, len(parsed))
	for _, d := range parsed {
		if !allowed[d.Agent] || strings.TrimSpace(d.Task) == "" {
			continue
		}
		plan = append(plan, d)
	}
	return plan
}

// extractJSONArray returns the first top-level JSON array in text.
func extractJSONArray(text string) string {
	start := strings.IndexByte(text, '[')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
