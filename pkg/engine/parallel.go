package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/taxis-ai/taxis/pkg/agent"
	"github.com/taxis-ai/taxis/pkg/core"
	taxiserrors "github.com/taxis-ai/taxis/pkg/errors"
)

// runParallel executes every branch concurrently against a snapshot of
// the state taken before any branch starts, so no branch observes
// another's output. The join barrier is strict: all branches finish
// before failure is decided, and a failed branch fails the run at the
// join even when others succeeded. The optional aggregation step then
// sees branch outputs in declaration order.
func (e *Engine) runParallel(ctx context.Context, r *run) (string, error) {
	branches := e.workflow.Flow.Branches
	snapshot := e.previousFor(r.state.Snapshot())

	type branchResult struct {
		agentID string
		output  string
		err     error
	}
	results := make([]branchResult, len(branches))

	var wg sync.WaitGroup
	for i, agentID := range branches {
		wg.Add(1)
		go func(i int, agentID string) {
			defer wg.Done()
			r.sink.Append(ctx, core.NewEvent(core.EventBranchStart, r.id, agentID, nil))

			spec, _ := e.workflow.Agent(agentID)
			output, err := e.runStep(ctx, r, spec, "", r.query, snapshot)
			results[i] = branchResult{agentID: agentID, output: output, err: err}

			if err != nil {
				r.sink.Append(ctx, core.NewEvent(core.EventBranchFailed, r.id, agentID, map[string]any{
					"error": err.Error(),
				}))
			} else {
				r.sink.Append(ctx, core.NewEvent(core.EventBranchComplete, r.id, agentID, nil))
			}
		}(i, agentID)
	}
	wg.Wait()

	var failed []string
	var firstErr error
	for _, res := range results {
		if res.err != nil {
			failed = append(failed, res.agentID)
			if firstErr == nil {
				firstErr = res.err
			}
		}
	}
	if firstErr != nil {
		return "", taxiserrors.New(taxiserrors.CodeStepFailure,
			"parallel branches failed: "+strings.Join(failed, ", "), firstErr)
	}

	// No aggregation step: concatenate branch outputs in declaration
	// order.
	if e.workflow.Flow.Then == nil {
		var sb strings.Builder
		for i, res := range results {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(res.output)
		}
		return sb.String(), nil
	}

	r.state.SetStatus(core.RunAggregating)
	r.sink.Append(ctx, core.NewEvent(core.EventAggregationStart, r.id, e.workflow.Flow.Then.Agent, map[string]any{
		"branches": branches,
	}))

	previous := make([]agent.PreviousOutput, 0, len(results))
	for _, res := range results {
		spec, _ := e.workflow.Agent(res.agentID)
		previous = append(previous, agent.PreviousOutput{
			AgentID: res.agentID,
			Role:    spec.Role,
			Content: res.output,
		})
	}

	then := e.workflow.Flow.Then
	spec, _ := e.workflow.Agent(then.Agent)
	input := r.query
	if then.Input != "" {
		input = then.Input
	}
	return e.runStep(ctx, r, spec, "", input, previous)
}
