package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/taxis-ai/taxis/pkg/core"
	taxiserrors "github.com/taxis-ai/taxis/pkg/errors"
	"github.com/taxis-ai/taxis/pkg/llm"
)

// Mediator owns the connections to all configured tool servers and
// brokers every tool interaction on behalf of agents. Discovery happens
// once per run; a server that fails discovery is disabled for that run
// while the remaining servers stay available.
type Mediator struct {
	mu         sync.Mutex
	transports map[string]Transport
	order      []string
	sink       core.EventSink
}

// MediatorOption customizes a Mediator.
type MediatorOption func(*Mediator)

// WithEventSink routes tool lifecycle events to the given sink.
func WithEventSink(sink core.EventSink) MediatorOption {
	return func(m *Mediator) {
		if sink != nil {
			m.sink = sink
		}
	}
}

// WithTransport registers a pre-built transport under the given server
// id. Used by tests and by callers that construct transports themselves.
func WithTransport(serverID string, t Transport) MediatorOption {
	return func(m *Mediator) {
		m.addTransport(serverID, t)
	}
}

// NewMediator connects to every configured server. A server with an
// unsupported protocol fails construction; connection problems surface
// later, at discovery.
func NewMediator(ctx context.Context, servers []ServerConfig, opts ...MediatorOption) (*Mediator, error) {
	m := &Mediator{
		transports: make(map[string]Transport),
		sink:       core.NoopEventSink{},
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, server := range servers {
		switch strings.ToLower(server.Protocol) {
		case "", "http":
			m.addTransport(server.ID, NewHTTPTransport(server.ID, server.BaseURL))
		case "mcp", "streamable-http":
			transport, err := NewMCPTransport(ctx, server.ID, server.BaseURL)
			if err != nil {
				// Treated like a discovery failure: log, disable
				// this server, keep the rest.
				slog.Warn("tool server connection failed",
					slog.String("server_id", server.ID),
					slog.String("error", err.Error()))
				continue
			}
			m.addTransport(server.ID, transport)
		default:
			return nil, taxiserrors.New(taxiserrors.CodeConfig,
				fmt.Sprintf("tool server %q has unsupported protocol %q", server.ID, server.Protocol), nil)
		}
	}
	return m, nil
}

func (m *Mediator) addTransport(serverID string, t Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.transports[serverID]; !exists {
		m.order = append(m.order, serverID)
	}
	m.transports[serverID] = t
}

// Close shuts down all server connections.
func (m *Mediator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, id := range m.order {
		if err := m.transports[id].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Session holds the tool catalog discovered for one run. Descriptors
// and compiled schemas are cached for the run's lifetime and thrown
// away with it.
type Session struct {
	runID    string
	mediator *Mediator
	sink     core.EventSink
	tools    map[string]Descriptor
	schemas  map[string]*gojsonschema.Schema
	names    []string
	failed   []string
}

// Discover queries every enabled server and builds the run's tool
// catalog. A nil sink falls back to the mediator's configured sink. A
// server that fails to answer is skipped with a warning; an empty
// catalog is a valid outcome. Duplicate tool names resolve to the
// first server that offered them.
func (m *Mediator) Discover(ctx context.Context, runID string, sink core.EventSink) (*Session, error) {
	if sink == nil {
		sink = m.sink
	}
	m.mu.Lock()
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	transports := make(map[string]Transport, len(m.transports))
	for id, t := range m.transports {
		transports[id] = t
	}
	m.mu.Unlock()

	session := &Session{
		runID:    runID,
		mediator: m,
		sink:     sink,
		tools:    make(map[string]Descriptor),
		schemas:  make(map[string]*gojsonschema.Schema),
	}

	for _, id := range ids {
		descriptors, err := transports[id].ListTools(ctx)
		if err != nil {
			discErr := taxiserrors.New(taxiserrors.CodeDiscovery,
				fmt.Sprintf("tool discovery failed for server %q", id), err)
			slog.Warn("tool discovery failed, server disabled for run",
				slog.String("run_id", runID),
				slog.String("server_id", id),
				slog.String("error", discErr.Error()))
			session.failed = append(session.failed, id)
			continue
		}
		for _, desc := range descriptors {
			if _, taken := session.tools[desc.Name]; taken {
				slog.Warn("duplicate tool name ignored",
					slog.String("tool", desc.Name),
					slog.String("server_id", desc.ServerID))
				continue
			}
			schema, err := compileSchema(desc.Schema)
			if err != nil {
				slog.Warn("tool has invalid parameter schema, skipped",
					slog.String("tool", desc.Name),
					slog.String("error", err.Error()))
				continue
			}
			session.tools[desc.Name] = desc
			if schema != nil {
				session.schemas[desc.Name] = schema
			}
			session.names = append(session.names, desc.Name)
			sink.Append(ctx, core.NewEvent(core.EventToolDiscovered, runID, "", map[string]any{
				"tool":      desc.Name,
				"server_id": desc.ServerID,
			}))
		}
	}
	sort.Strings(session.names)
	return session, nil
}

func compileSchema(raw json.RawMessage) (*gojsonschema.Schema, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
}

// Names lists the discovered tool names in sorted order.
func (s *Session) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// ToolsFor resolves an agent's tool references against the catalog.
// When a server failed discovery its tools are missing from the catalog,
// so refs without a match are skipped and the agent runs with whatever
// survived; the run continues. An unknown ref with every server
// discovered is a configuration error.
func (s *Session) ToolsFor(ctx context.Context, agentID string, refs []string) ([]Descriptor, error) {
	descriptors := make([]Descriptor, 0, len(refs))
	for _, ref := range refs {
		desc, ok := s.tools[ref]
		if !ok {
			if len(s.failed) > 0 {
				slog.WarnContext(ctx, "tool unavailable, server failed discovery",
					slog.String("run_id", s.runID),
					slog.String("agent_id", agentID),
					slog.String("tool", ref))
				s.sink.Append(ctx, core.NewEvent(core.EventToolError, s.runID, agentID, map[string]any{
					"tool":  ref,
					"error": fmt.Sprintf("tool %q unavailable, discovery failed for server(s): %s", ref, strings.Join(s.failed, ", ")),
				}))
				continue
			}
			return nil, taxiserrors.New(taxiserrors.CodeConfig,
				fmt.Sprintf("agent references unknown tool %q", ref), nil)
		}
		descriptors = append(descriptors, desc)
	}
	return descriptors, nil
}

// LLMTools converts descriptors into the function definitions sent to a
// model.
func LLMTools(descriptors []Descriptor) []llm.Tool {
	tools := make([]llm.Tool, 0, len(descriptors))
	for _, desc := range descriptors {
		var params any
		if len(desc.Schema) > 0 {
			if err := json.Unmarshal(desc.Schema, &params); err != nil {
				params = map[string]any{"type": "object"}
			}
		} else {
			params = map[string]any{"type": "object"}
		}
		tools = append(tools, llm.Tool{
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionDef{
				Name:        desc.Name,
				Description: desc.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

// Invoke validates the arguments against the tool's schema and, only if
// they conform, forwards the call to the owning server. Validation
// failures never reach the network. Every invocation is attributed to
// the calling agent in the event log.
func (s *Session) Invoke(ctx context.Context, agentID, toolName string, args map[string]any) (string, error) {
	desc, ok := s.tools[toolName]
	if !ok {
		err := taxiserrors.New(taxiserrors.CodeToolError,
			fmt.Sprintf("unknown tool %q", toolName), nil)
		s.appendError(ctx, agentID, toolName, err)
		return "", err
	}

	if schema, ok := s.schemas[toolName]; ok {
		result, err := schema.Validate(gojsonschema.NewGoLoader(args))
		if err != nil {
			invalidErr := taxiserrors.New(taxiserrors.CodeInvalidArguments,
				fmt.Sprintf("argument validation failed for tool %q", toolName), err)
			s.appendError(ctx, agentID, toolName, invalidErr)
			return "", invalidErr
		}
		if !result.Valid() {
			details := make([]string, 0, len(result.Errors()))
			for _, desc := range result.Errors() {
				details = append(details, desc.String())
			}
			invalidErr := taxiserrors.New(taxiserrors.CodeInvalidArguments,
				fmt.Sprintf("invalid arguments for tool %q: %s", toolName, strings.Join(details, "; ")), nil)
			s.appendError(ctx, agentID, toolName, invalidErr)
			return "", invalidErr
		}
	}

	s.mediator.mu.Lock()
	transport, ok := s.mediator.transports[desc.ServerID]
	s.mediator.mu.Unlock()
	if !ok {
		err := taxiserrors.New(taxiserrors.CodeToolError,
			fmt.Sprintf("server %q for tool %q is no longer available", desc.ServerID, toolName), nil)
		s.appendError(ctx, agentID, toolName, err)
		return "", err
	}

	s.sink.Append(ctx, core.NewEvent(core.EventToolCall, s.runID, agentID, map[string]any{
		"tool":      toolName,
		"server_id": desc.ServerID,
		"args":      args,
	}))

	output, err := transport.CallTool(ctx, toolName, args)
	if err != nil {
		toolErr := taxiserrors.New(taxiserrors.CodeToolError,
			fmt.Sprintf("tool %q execution failed", toolName), err)
		s.appendError(ctx, agentID, toolName, toolErr)
		return "", toolErr
	}

	s.sink.Append(ctx, core.NewEvent(core.EventToolResult, s.runID, agentID, map[string]any{
		"tool":      toolName,
		"server_id": desc.ServerID,
		"output":    output,
	}))
	return output, nil
}

func (s *Session) appendError(ctx context.Context, agentID, toolName string, err error) {
	s.sink.Append(ctx, core.NewEvent(core.EventToolError, s.runID, agentID, map[string]any{
		"tool":  toolName,
		"error": err.Error(),
	}))
}
