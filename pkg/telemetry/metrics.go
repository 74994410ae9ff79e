// Copyright 2026 © The Taxis Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Semantic conventions for workflow telemetry. LLM attributes follow
// the standard gen_ai conventions.
const (
	AttrRunID      = "taxis.run.id"
	AttrFlowType   = "taxis.flow.type"
	AttrRunStatus  = "taxis.run.status"
	AttrAgentID    = "taxis.agent.id"
	AttrAgentRole  = "taxis.agent.role"
	AttrAgentModel = "taxis.agent.model"
	AttrToolName   = "taxis.tool.name"
	AttrServerID   = "taxis.tool.server_id"
	AttrErrorCode  = "taxis.error.code"

	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
)

// RunMetrics tracks workflow execution counters and latencies.
type RunMetrics struct {
	runsTotal        metric.Int64Counter
	stepDuration     metric.Float64Histogram
	toolCalls        metric.Int64Counter
	degradations     metric.Int64Counter
	tokensConsumed   metric.Int64Counter
}

// NewRunMetrics registers the workflow meters.
func NewRunMetrics() (*RunMetrics, error) {
	meter := otel.Meter("taxis/engine")

	runsTotal, err := meter.Int64Counter(
		"taxis.runs.total",
		metric.WithDescription("Workflow runs by flow type and final status"),
	)
	if err != nil {
		return nil, err
	}

	stepDuration, err := meter.Float64Histogram(
		"taxis.step.duration_ms",
		metric.WithDescription("Step execution latency in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	toolCalls, err := meter.Int64Counter(
		"taxis.tool.calls",
		metric.WithDescription("Tool invocations by tool and outcome"),
	)
	if err != nil {
		return nil, err
	}

	degradations, err := meter.Int64Counter(
		"taxis.memory.degradations",
		metric.WithDescription("Long-term memory operations degraded to empty results"),
	)
	if err != nil {
		return nil, err
	}

	tokensConsumed, err := meter.Int64Counter(
		"taxis.llm.tokens",
		metric.WithDescription("Token consumption by agent and direction"),
	)
	if err != nil {
		return nil, err
	}

	return &RunMetrics{
		runsTotal:      runsTotal,
		stepDuration:   stepDuration,
		toolCalls:      toolCalls,
		degradations:   degradations,
		tokensConsumed: tokensConsumed,
	}, nil
}

// RecordRun counts one finished run.
func (m *RunMetrics) RecordRun(ctx context.Context, flowType, status string) {
	if m == nil {
		return
	}
	m.runsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrFlowType, flowType),
		attribute.String(AttrRunStatus, status),
	))
}

// RecordStep records the latency of one completed step.
func (m *RunMetrics) RecordStep(ctx context.Context, agentID string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(
		attribute.String(AttrAgentID, agentID),
	))
}

// RecordToolCall counts one tool invocation.
func (m *RunMetrics) RecordToolCall(ctx context.Context, tool string, success bool) {
	if m == nil {
		return
	}
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrToolName, tool),
		attribute.Bool("success", success),
	))
}

// RecordDegradation counts one memory degradation.
func (m *RunMetrics) RecordDegradation(ctx context.Context, agentID string) {
	if m == nil {
		return
	}
	m.degradations.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAgentID, agentID),
	))
}

// RecordTokens counts token usage for one model invocation.
func (m *RunMetrics) RecordTokens(ctx context.Context, agentID string, input, output int) {
	if m == nil {
		return
	}
	m.tokensConsumed.Add(ctx, int64(input), metric.WithAttributes(
		attribute.String(AttrAgentID, agentID),
		attribute.String("direction", "input"),
	))
	m.tokensConsumed.Add(ctx, int64(output), metric.WithAttributes(
		attribute.String(AttrAgentID, agentID),
		attribute.String("direction", "output"),
	))
}
