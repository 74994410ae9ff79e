package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/taxis-ai/taxis/pkg/agent"
	"github.com/taxis-ai/taxis/pkg/config"
	"github.com/taxis-ai/taxis/pkg/core"
	"github.com/taxis-ai/taxis/pkg/llm"
	"github.com/taxis-ai/taxis/pkg/mcp"
	"github.com/taxis-ai/taxis/pkg/memory"
	"github.com/taxis-ai/taxis/pkg/telemetry"
)

const memoryTopK = 5

// runStep executes one agent step: long-term retrieval, prompt
// assembly, the model conversation with bounded tool round-trips, the
// short-term write, and long-term persistence. writeID is the id the
// output is stored under; it differs from the agent id only for
// namespaced hierarchical workers.
func (e *Engine) runStep(ctx context.Context, r *run, spec config.AgentSpec, writeID, input string, previous []agent.PreviousOutput) (string, error) {
	if writeID == "" {
		writeID = spec.ID
	}
	started := time.Now()
	profile := e.profileFor(spec)

	ctx, span := e.tracer.Start(ctx, "Engine.Step",
		trace.WithAttributes(
			attribute.String(telemetry.AttrRunID, r.id),
			attribute.String(telemetry.AttrAgentID, writeID),
			attribute.String(telemetry.AttrAgentRole, spec.Role),
			attribute.String(telemetry.AttrAgentModel, spec.Model),
		),
	)
	defer span.End()

	r.sink.Append(ctx, core.NewEvent(core.EventStepStart, r.id, writeID, map[string]any{
		"role":  spec.Role,
		"model": spec.Model,
	}))

	// Long-term retrieval happens before prompt assembly so retrieved
	// records can inform the task prompt. An agent's own records are
	// excluded; it already knows what it said. Failures degrade to an
	// empty result and never abort the step.
	var memories []memory.Retrieved
	if spec.MemoryEnabled && e.mem != nil {
		exclude := []string{writeID}
		if writeID != spec.ID {
			exclude = append(exclude, spec.ID)
		}
		retrieved, err := e.mem.Retrieve(ctx, input, memoryTopK, memory.Filter{ExcludeAgentIDs: exclude})
		if err != nil {
			r.sink.Append(ctx, core.NewEvent(core.EventMemoryDegraded, r.id, writeID, map[string]any{
				"operation": "retrieve",
				"error":     err.Error(),
			}))
			e.metrics.RecordDegradation(ctx, writeID)
			slog.WarnContext(ctx, "memory retrieval degraded",
				slog.String("run_id", r.id),
				slog.String("agent_id", writeID),
				slog.String("error", err.Error()))
		} else {
			memories = retrieved
			r.sink.Append(ctx, core.NewEvent(core.EventMemoryRetrieved, r.id, writeID, map[string]any{
				"count": len(retrieved),
			}))
		}
	}

	// Tool grants resolve against the run's discovered catalog.
	var descriptors []mcp.Descriptor
	var tools []llm.Tool
	if len(spec.Tools) > 0 && r.session != nil {
		resolved, err := r.session.ToolsFor(ctx, writeID, spec.Tools)
		if err != nil {
			return "", err
		}
		descriptors = resolved
		tools = mcp.LLMTools(descriptors)
	}

	handle, err := e.registry.Resolve(spec.Model)
	if err != nil {
		return "", err
	}

	toolNames := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		toolNames = append(toolNames, d.Name)
	}
	systemPrompt := agent.BuildSystemPrompt(profile, toolNames)
	taskPrompt := agent.BuildTaskPrompt(profile, input, memories, previous)

	turn := e.runtime.Begin(profile, handle, tools, systemPrompt, taskPrompt)
	output, err := e.converse(ctx, r, turn, writeID)
	if err != nil {
		span.RecordError(err)
		r.sink.Append(ctx, core.NewEvent(core.EventStepFailed, r.id, writeID, map[string]any{
			"error": err.Error(),
		}))
		return "", err
	}

	if err := r.state.Write(writeID, output); err != nil {
		span.RecordError(err)
		r.sink.Append(ctx, core.NewEvent(core.EventStepFailed, r.id, writeID, map[string]any{
			"error": err.Error(),
		}))
		return "", err
	}
	r.sink.Append(ctx, core.NewEvent(core.EventOutputStored, r.id, writeID, map[string]any{
		"length": len(output),
	}))

	if spec.MemoryEnabled && e.mem != nil {
		if err := e.mem.PersistWithFacts(ctx, r.id, writeID, spec.Role, output); err != nil {
			r.sink.Append(ctx, core.NewEvent(core.EventMemoryDegraded, r.id, writeID, map[string]any{
				"operation": "persist",
				"error":     err.Error(),
			}))
			e.metrics.RecordDegradation(ctx, writeID)
			slog.WarnContext(ctx, "memory persistence degraded",
				slog.String("run_id", r.id),
				slog.String("agent_id", writeID),
				slog.String("error", err.Error()))
		} else {
			r.sink.Append(ctx, core.NewEvent(core.EventMemoryPersisted, r.id, writeID, nil))
		}
	}

	elapsed := time.Since(started)
	r.sink.Append(ctx, core.NewEvent(core.EventStepComplete, r.id, writeID, map[string]any{
		"elapsed_ms": elapsed.Milliseconds(),
	}))
	e.metrics.RecordStep(ctx, writeID, elapsed)
	return output, nil
}

// converse drives the two-phase tool protocol: model turns alternate
// with mediated tool executions until the model answers or the
// iteration budget runs out, at which point the model is forced to
// close without tools.
func (e *Engine) converse(ctx context.Context, r *run, turn *agent.Turn, writeID string) (string, error) {
	for i := 0; i < e.maxToolIterations; i++ {
		outcome, err := e.runtime.Step(ctx, turn)
		if err != nil {
			return "", err
		}
		e.metrics.RecordTokens(ctx, writeID, outcome.Usage.PromptTokens, outcome.Usage.CompletionTokens)

		if outcome.Kind == agent.OutcomeFinal {
			return outcome.Text, nil
		}

		for _, call := range outcome.Calls {
			result := e.invokeTool(ctx, r, writeID, call)
			turn.ProvideToolResult(call.ID, result)
		}
	}

	outcome, err := e.runtime.Finalize(ctx, turn)
	if err != nil {
		return "", err
	}
	e.metrics.RecordTokens(ctx, writeID, outcome.Usage.PromptTokens, outcome.Usage.CompletionTokens)
	return outcome.Text, nil
}

// invokeTool mediates one tool call. Recoverable failures are fed back
// to the model as the tool result so the conversation can continue.
func (e *Engine) invokeTool(ctx context.Context, r *run, writeID string, call llm.ToolCall) string {
	name := call.Function.Name
	args, err := agent.ParseArguments(call)
	if err != nil {
		e.metrics.RecordToolCall(ctx, name, false)
		return fmt.Sprintf("Error: %s", err.Error())
	}

	if r.session == nil {
		e.metrics.RecordToolCall(ctx, name, false)
		return fmt.Sprintf("Error: tool %q is not available", name)
	}

	// Invocation failures surface to the model as the tool result
	// rather than aborting the step; the tool layer owns retries.
	output, err := r.session.Invoke(ctx, writeID, name, args)
	if err != nil {
		e.metrics.RecordToolCall(ctx, name, false)
		return fmt.Sprintf("Error: %s", err.Error())
	}
	e.metrics.RecordToolCall(ctx, name, true)
	return output
}

// previousFor converts short-term entries to prompt inputs, resolving
// roles where the entry id names a declared agent.
func (e *Engine) previousFor(entries []memory.OutputEntry) []agent.PreviousOutput {
	out := make([]agent.PreviousOutput, 0, len(entries))
	for _, entry := range entries {
		role := ""
		if spec, ok := e.workflow.Agent(baseAgentID(entry.AgentID)); ok {
			role = spec.Role
		}
		out = append(out, agent.PreviousOutput{
			AgentID: entry.AgentID,
			Role:    role,
			Content: entry.Text,
		})
	}
	return out
}
