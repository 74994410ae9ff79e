// Package engine executes declarative workflows. The executor is the
// single mediator of data flow: agents never talk to each other, to
// memory, or to tools directly. Every exchange passes through the
// engine and is recorded in the run's event log.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/taxis-ai/taxis/pkg/agent"
	"github.com/taxis-ai/taxis/pkg/config"
	"github.com/taxis-ai/taxis/pkg/core"
	taxiserrors "github.com/taxis-ai/taxis/pkg/errors"
	"github.com/taxis-ai/taxis/pkg/llm"
	"github.com/taxis-ai/taxis/pkg/mcp"
	"github.com/taxis-ai/taxis/pkg/memory"
	"github.com/taxis-ai/taxis/pkg/telemetry"
)

const defaultMaxToolIterations = 5

// Engine runs workflows against a fixed set of model bindings. Handles
// are resolved once at load time; execution never looks up bindings by
// name.
type Engine struct {
	workflow *config.Workflow
	registry *llm.Registry
	runtime  *agent.Runtime
	mem      *memory.Manager
	mediator *mcp.Mediator
	sink     core.EventSink
	metrics  *telemetry.RunMetrics
	tracer   trace.Tracer

	maxToolIterations int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMemoryManager enables the dual memory system.
func WithMemoryManager(m *memory.Manager) Option {
	return func(e *Engine) { e.mem = m }
}

// WithMediator enables tool mediation.
func WithMediator(m *mcp.Mediator) Option {
	return func(e *Engine) { e.mediator = m }
}

// WithEventSink forwards run events to an external sink, in addition
// to the run's own event log.
func WithEventSink(sink core.EventSink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithMetrics records run, step, and tool metrics.
func WithMetrics(m *telemetry.RunMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithMaxToolIterations bounds the tool round-trips per step.
func WithMaxToolIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxToolIterations = n
		}
	}
}

// New creates an Engine for one validated workflow. The registry must
// hold a handle for every binding the workflow's agents reference.
func New(workflow *config.Workflow, registry *llm.Registry, opts ...Option) (*Engine, error) {
	if workflow == nil {
		return nil, taxiserrors.New(taxiserrors.CodeConfig, "workflow is required", nil)
	}
	if registry == nil {
		return nil, taxiserrors.New(taxiserrors.CodeConfig, "model registry is required", nil)
	}
	for _, a := range workflow.Agents {
		if _, err := registry.Resolve(a.Model); err != nil {
			return nil, taxiserrors.New(taxiserrors.CodeConfig,
				fmt.Sprintf("agent %q: no handle for model binding %q", a.ID, a.Model), err)
		}
	}

	e := &Engine{
		workflow:          workflow,
		registry:          registry,
		runtime:           agent.NewRuntime(),
		sink:              core.NoopEventSink{},
		tracer:            otel.Tracer("taxis/engine"),
		maxToolIterations: defaultMaxToolIterations,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Result is the outcome of one workflow run.
type Result struct {
	RunID       string            `json:"run_id"`
	Status      core.RunStatus    `json:"status"`
	FlowType    string            `json:"flow_type"`
	Query       string            `json:"query"`
	FinalOutput string            `json:"final_output"`
	Outputs     map[string]string `json:"outputs"`
	Events      []core.Event      `json:"events"`
	Elapsed     time.Duration     `json:"elapsed"`
	Err         error             `json:"-"`
	ErrorText   string            `json:"error,omitempty"`
}

// run bundles the per-run collaborators handed down the flow
// implementations.
type run struct {
	id      string
	query   string
	state   *memory.RunState
	session *mcp.Session
	sink    core.EventSink
}

// Execute runs the workflow for one query. The returned Result is
// populated even when the run fails; the run's error is also returned.
func (e *Engine) Execute(ctx context.Context, query string) (*Result, error) {
	started := time.Now()
	ctx, runID := core.EnsureRunID(ctx)

	ctx, span := e.tracer.Start(ctx, "Engine.Execute",
		trace.WithAttributes(
			attribute.String(telemetry.AttrRunID, runID),
			attribute.String(telemetry.AttrFlowType, e.workflow.Flow.Type),
		),
	)
	defer span.End()

	state := e.beginState(runID, query)
	defer e.endState(runID)

	r := &run{
		id:    runID,
		query: query,
		state: state,
		sink:  multiSink{stateSink{state}, e.sink},
	}

	if e.mediator != nil {
		session, err := e.mediator.Discover(ctx, runID, r.sink)
		if err != nil {
			return e.fail(ctx, r, started, err)
		}
		r.session = session
	}

	r.sink.Append(ctx, core.NewEvent(core.EventRunStart, runID, "", map[string]any{
		"flow_type": e.workflow.Flow.Type,
		"query":     query,
	}))
	slog.InfoContext(ctx, "run started",
		slog.String("run_id", runID),
		slog.String("flow_type", e.workflow.Flow.Type))
	state.SetStatus(core.RunRunning)

	var finalOutput string
	var err error
	switch e.workflow.Flow.Type {
	case config.FlowSequential:
		finalOutput, err = e.runSequential(ctx, r)
	case config.FlowParallel:
		finalOutput, err = e.runParallel(ctx, r)
	case config.FlowHierarchical:
		finalOutput, err = e.runHierarchical(ctx, r)
	default:
		err = taxiserrors.New(taxiserrors.CodeConfig,
			fmt.Sprintf("unsupported workflow type %q", e.workflow.Flow.Type), nil)
	}
	if err != nil {
		return e.fail(ctx, r, started, err)
	}

	r.sink.Append(ctx, core.NewEvent(core.EventExecutionComplete, runID, "", map[string]any{
		"final_output": finalOutput,
	}))
	e.metrics.RecordRun(ctx, e.workflow.Flow.Type, string(core.RunCompleted))
	state.SetStatus(core.RunCompleted)

	return &Result{
		RunID:       runID,
		Status:      state.Status(),
		FlowType:    e.workflow.Flow.Type,
		Query:       query,
		FinalOutput: finalOutput,
		Outputs:     state.Outputs(),
		Events:      state.Events(),
		Elapsed:     time.Since(started),
	}, nil
}

func (e *Engine) fail(ctx context.Context, r *run, started time.Time, err error) (*Result, error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(taxiserrors.CodeOf(err)))

	r.state.MarkCancelled()
	r.state.SetStatus(core.RunFailed)
	r.sink.Append(ctx, core.NewEvent(core.EventExecutionFailed, r.id, "", map[string]any{
		"error": err.Error(),
	}))
	e.metrics.RecordRun(ctx, e.workflow.Flow.Type, string(core.RunFailed))
	slog.ErrorContext(ctx, "run failed",
		slog.String("run_id", r.id),
		slog.String("error", err.Error()))

	return &Result{
		RunID:     r.id,
		Status:    r.state.Status(),
		FlowType:  e.workflow.Flow.Type,
		Query:     r.query,
		Outputs:   r.state.Outputs(),
		Events:    r.state.Events(),
		Elapsed:   time.Since(started),
		Err:       err,
		ErrorText: err.Error(),
	}, err
}

func (e *Engine) beginState(runID, query string) *memory.RunState {
	if e.mem != nil {
		return e.mem.BeginRun(runID, query)
	}
	return memory.NewRunState(runID, query)
}

func (e *Engine) endState(runID string) {
	if e.mem != nil {
		e.mem.EndRun(runID)
	}
}

func (e *Engine) profileFor(spec config.AgentSpec) agent.Profile {
	return agent.Profile{
		ID:            spec.ID,
		Role:          spec.Role,
		Goal:          spec.Goal,
		Description:   spec.Description,
		Instruction:   spec.Instruction,
		Model:         spec.Model,
		Tools:         spec.Tools,
		MemoryEnabled: spec.MemoryEnabled,
		SubAgents:     spec.SubAgents,
	}
}
