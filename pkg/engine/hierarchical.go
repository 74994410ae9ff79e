package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/taxis-ai/taxis/pkg/agent"
	"github.com/taxis-ai/taxis/pkg/core"
	taxiserrors "github.com/taxis-ai/taxis/pkg/errors"
)

// runHierarchical executes a manager-worker flow in three phases: the
// manager plans the delegation, workers execute their tasks in
// parallel, and the manager synthesizes the worker outputs into the
// final answer. Worker outputs are stored under namespaced ids
// ("analyst#1") so the same sub-agent can appear in several tasks
// without colliding in short-term memory.
func (e *Engine) runHierarchical(ctx context.Context, r *run) (string, error) {
	manager, _ := e.workflow.Agent(e.workflow.Flow.Manager)

	plan, err := e.planDelegation(ctx, r, manager)
	if err != nil {
		return "", err
	}
	r.sink.Append(ctx, core.NewEvent(core.EventDelegationPlanned, r.id, manager.ID, map[string]any{
		"tasks": len(plan),
	}))

	type workerResult struct {
		writeID string
		task    string
		output  string
		err     error
	}
	results := make([]workerResult, len(plan))

	var wg sync.WaitGroup
	for i, d := range plan {
		wg.Add(1)
		go func(i int, d delegation) {
			defer wg.Done()
			writeID := fmt.Sprintf("%s#%d", d.Agent, i+1)
			r.sink.Append(ctx, core.NewEvent(core.EventBranchStart, r.id, writeID, map[string]any{
				"task": d.Task,
			}))

			spec, _ := e.workflow.Agent(d.Agent)
			output, err := e.runStep(ctx, r, spec, writeID, d.Task, nil)
			results[i] = workerResult{writeID: writeID, task: d.Task, output: output, err: err}

			if err != nil {
				r.sink.Append(ctx, core.NewEvent(core.EventBranchFailed, r.id, writeID, map[string]any{
					"error": err.Error(),
				}))
			} else {
				r.sink.Append(ctx, core.NewEvent(core.EventBranchComplete, r.id, writeID, nil))
			}
		}(i, d)
	}
	wg.Wait()

	var failed []string
	var firstErr error
	for _, res := range results {
		if res.err != nil {
			failed = append(failed, res.writeID)
			if firstErr == nil {
				firstErr = res.err
			}
		}
	}
	if firstErr != nil {
		return "", taxiserrors.New(taxiserrors.CodeStepFailure,
			"delegated workers failed: "+strings.Join(failed, ", "), firstErr)
	}

	r.state.SetStatus(core.RunAggregating)
	r.sink.Append(ctx, core.NewEvent(core.EventAggregationStart, r.id, manager.ID, map[string]any{
		"workers": len(results),
	}))

	previous := make([]agent.PreviousOutput, 0, len(results))
	for _, res := range results {
		spec, _ := e.workflow.Agent(baseAgentID(res.writeID))
		previous = append(previous, agent.PreviousOutput{
			AgentID: res.writeID,
			Role:    spec.Role,
			Content: res.output,
		})
	}

	input := fmt.Sprintf("Synthesize your workers' outputs into a single answer to: %s", r.query)
	return e.runStep(ctx, r, manager, "", input, previous)
}

// baseAgentID strips the worker namespace suffix.
func baseAgentID(id string) string {
	if i := strings.IndexByte(id, '#'); i >= 0 {
		return id[:i]
	}
	return id
}
