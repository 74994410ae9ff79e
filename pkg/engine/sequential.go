package engine

import (
	"context"
)

// runSequential executes steps in declaration order, fail-fast. Each
// step's prompt carries all outputs written so far, in insertion
// order; the last step's output is the run's final output.
func (e *Engine) runSequential(ctx context.Context, r *run) (string, error) {
	var final string
	for _, step := range e.workflow.Flow.Steps {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		spec, _ := e.workflow.Agent(step.Agent)

		input := r.query
		if step.Input != "" {
			input = step.Input
		}

		previous := e.previousFor(r.state.Snapshot())
		output, err := e.runStep(ctx, r, spec, "", input, previous)
		if err != nil {
			return "", err
		}
		final = output
	}
	return final, nil
}
