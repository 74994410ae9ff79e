package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/taxis-ai/taxis/pkg/config"
	"github.com/taxis-ai/taxis/pkg/core"
	"github.com/taxis-ai/taxis/pkg/llm"
	"github.com/taxis-ai/taxis/pkg/mcp"
	"github.com/taxis-ai/taxis/pkg/memory"
)

// fixedEmbedder maps every text onto the same vector, so any stored
// record matches any query.
type fixedEmbedder struct {
	err error
}

func (e *fixedEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0, 0}, nil
}

func memoryWorkflow() *config.Workflow {
	return &config.Workflow{
		Agents: []config.AgentSpec{
			{ID: "analyst", Role: "Analyst", Goal: "Analyze", Model: "m", MemoryEnabled: true},
		},
		Models: map[string]config.ModelSpec{
			"m": {Provider: "mock", Model: "test-model"},
		},
		Flow: config.FlowSpec{
			Type:  config.FlowSequential,
			Steps: []config.StepSpec{{Agent: "analyst"}},
		},
	}
}

func TestStepRetrievesAndPersistsMemory(t *testing.T) {
	const collection = "taxis_memory"
	store := memory.NewInProcessStore()
	store.Upsert(context.Background(), collection, []memory.Point{{
		ID:     "seed-1",
		Vector: []float32{1, 0, 0},
		Payload: map[string]any{
			"text":      "the project codename is Atlas",
			"agent_id":  "archivist",
			"run_id":    "run-0",
			"kind":      "output",
			"timestamp": time.Now().Unix(),
		},
		Timestamp: time.Now().Unix(),
	}})
	mem := memory.NewManager(store, &fixedEmbedder{}, collection)

	mock := llm.NewScriptedMockProvider("analysis done")
	eng := newTestEngine(t, memoryWorkflow(), mock, WithMemoryManager(mem))

	result, err := eng.Execute(context.Background(), "what is the codename?")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// The retrieved record reaches the task prompt.
	task := mock.Requests()[0].Messages[1].Content
	if !strings.Contains(task, "the project codename is Atlas") {
		t.Errorf("task prompt missing retrieved memory:\n%s", task)
	}
	if !strings.Contains(task, "Relevant context from memory") {
		t.Errorf("task prompt missing memory section:\n%s", task)
	}

	// The step output was persisted back, on top of the seed record.
	if store.Count(collection) < 2 {
		t.Errorf("expected persisted output, store has %d points", store.Count(collection))
	}

	assertSubsequence(t, kindsOf(result.Events),
		core.EventMemoryRetrieved,
		core.EventOutputStored,
		core.EventMemoryPersisted,
		core.EventStepComplete,
	)
}

func TestStepMemoryFailureDegrades(t *testing.T) {
	store := memory.NewInProcessStore()
	mem := memory.NewManager(store, &fixedEmbedder{err: errors.New("embedder offline")}, "taxis_memory")

	mock := llm.NewScriptedMockProvider("analysis done")
	eng := newTestEngine(t, memoryWorkflow(), mock, WithMemoryManager(mem))

	result, err := eng.Execute(context.Background(), "q")
	if err != nil {
		t.Fatalf("memory failure must not fail the run: %v", err)
	}
	if result.Status != core.RunCompleted {
		t.Errorf("status = %s, want completed", result.Status)
	}
	if result.FinalOutput != "analysis done" {
		t.Errorf("final output = %q", result.FinalOutput)
	}

	// Both retrieval and persistence degraded.
	degraded := 0
	for _, e := range result.Events {
		if e.Kind == core.EventMemoryDegraded {
			degraded++
		}
	}
	if degraded != 2 {
		t.Errorf("expected 2 memory_degraded events, got %d", degraded)
	}
}

func toolWorkflow() *config.Workflow {
	return &config.Workflow{
		Agents: []config.AgentSpec{
			{ID: "forecaster", Role: "Forecaster", Goal: "Forecast weather", Model: "m",
				Tools: []string{"get_weather"}},
		},
		Models: map[string]config.ModelSpec{
			"m": {Provider: "mock", Model: "test-model"},
		},
		Flow: config.FlowSpec{
			Type:  config.FlowSequential,
			Steps: []config.StepSpec{{Agent: "forecaster"}},
		},
	}
}

func newWeatherServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tools", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"tools":[{
			"name": "get_weather",
			"description": "Current weather for a city",
			"parameters": {
				"type": "object",
				"properties": {"city": {"type": "string"}},
				"required": ["city"]
			}
		}]}`)
	})
	mux.HandleFunc("POST /tools/get_weather/execute", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"result": "sunny, 28C"}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestStepToolRoundTrip(t *testing.T) {
	server := newWeatherServer(t)
	mediator, err := mcp.NewMediator(context.Background(), []mcp.ServerConfig{
		{ID: "weather", BaseURL: server.URL, Protocol: "http"},
	})
	if err != nil {
		t.Fatalf("mediator setup failed: %v", err)
	}
	defer mediator.Close()

	mock := llm.NewScriptedMockProvider()
	mock.AddToolCallResponse(llm.ToolCall{
		ID:   "call-1",
		Type: "function",
		Function: llm.FunctionCall{
			Name:      "get_weather",
			Arguments: `{"city": "Valencia"}`,
		},
	})
	mock.AddResponse("It is sunny, 28C in Valencia.")

	eng := newTestEngine(t, toolWorkflow(), mock, WithMediator(mediator))

	result, err := eng.Execute(context.Background(), "weather in Valencia?")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.FinalOutput != "It is sunny, 28C in Valencia." {
		t.Errorf("final output = %q", result.FinalOutput)
	}

	// First request offered the tool; the follow-up carried its result.
	reqs := mock.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(reqs))
	}
	if len(reqs[0].Tools) != 1 || reqs[0].Tools[0].Function.Name != "get_weather" {
		t.Errorf("tool not offered to the model: %+v", reqs[0].Tools)
	}
	var toolMsg *llm.Message
	for i := range reqs[1].Messages {
		if reqs[1].Messages[i].Role == llm.RoleTool {
			toolMsg = &reqs[1].Messages[i]
		}
	}
	if toolMsg == nil || toolMsg.Content != "sunny, 28C" || toolMsg.ToolCallID != "call-1" {
		t.Errorf("tool result not fed back: %+v", toolMsg)
	}

	assertSubsequence(t, kindsOf(result.Events),
		core.EventToolDiscovered,
		core.EventRunStart,
		core.EventStepStart,
		core.EventToolCall,
		core.EventToolResult,
		core.EventStepComplete,
		core.EventExecutionComplete,
	)
}

func TestStepToolFailureSurfacesToModel(t *testing.T) {
	server := newWeatherServer(t)
	mediator, err := mcp.NewMediator(context.Background(), []mcp.ServerConfig{
		{ID: "weather", BaseURL: server.URL, Protocol: "http"},
	})
	if err != nil {
		t.Fatalf("mediator setup failed: %v", err)
	}
	defer mediator.Close()

	// Arguments violate the tool schema, so invocation fails locally.
	mock := llm.NewScriptedMockProvider()
	mock.AddToolCallResponse(llm.ToolCall{
		ID:   "call-1",
		Type: "function",
		Function: llm.FunctionCall{
			Name:      "get_weather",
			Arguments: `{"city": 42}`,
		},
	})
	mock.AddResponse("I could not determine the weather.")

	eng := newTestEngine(t, toolWorkflow(), mock, WithMediator(mediator))

	result, err := eng.Execute(context.Background(), "weather?")
	if err != nil {
		t.Fatalf("tool failure must not fail the step: %v", err)
	}
	if result.Status != core.RunCompleted {
		t.Errorf("status = %s, want completed", result.Status)
	}

	// The failure reaches the model as the tool result.
	reqs := mock.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(reqs))
	}
	var toolMsg string
	for _, m := range reqs[1].Messages {
		if m.Role == llm.RoleTool {
			toolMsg = m.Content
		}
	}
	if !strings.HasPrefix(toolMsg, "Error:") {
		t.Errorf("expected error fed back as tool result, got %q", toolMsg)
	}
}

func TestStepToolServerDownRunCompletes(t *testing.T) {
	// The only configured server fails discovery, so the agent's tool
	// ref resolves to nothing. The run must still complete, with the
	// agent offered an empty tool set.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	mediator, err := mcp.NewMediator(context.Background(), []mcp.ServerConfig{
		{ID: "weather", BaseURL: server.URL, Protocol: "http"},
	})
	if err != nil {
		t.Fatalf("mediator setup failed: %v", err)
	}
	defer mediator.Close()

	mock := llm.NewScriptedMockProvider("No live data; answering from prior knowledge.")
	eng := newTestEngine(t, toolWorkflow(), mock, WithMediator(mediator))

	result, err := eng.Execute(context.Background(), "weather in Valencia?")
	if err != nil {
		t.Fatalf("discovery failure must not fail the run: %v", err)
	}
	if result.Status != core.RunCompleted {
		t.Errorf("status = %s, want completed", result.Status)
	}
	if result.FinalOutput != "No live data; answering from prior knowledge." {
		t.Errorf("final output = %q", result.FinalOutput)
	}

	reqs := mock.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 model call, got %d", len(reqs))
	}
	if len(reqs[0].Tools) != 0 {
		t.Errorf("unresolvable tool still offered: %+v", reqs[0].Tools)
	}

	// The skipped ref is recorded for audit.
	toolErrors := 0
	for _, e := range result.Events {
		if e.Kind == core.EventToolError {
			toolErrors++
		}
	}
	if toolErrors != 1 {
		t.Errorf("expected 1 tool_error event for the skipped ref, got %d", toolErrors)
	}
}

func TestConverseToolBudgetForcesFinalize(t *testing.T) {
	server := newWeatherServer(t)
	mediator, err := mcp.NewMediator(context.Background(), []mcp.ServerConfig{
		{ID: "weather", BaseURL: server.URL, Protocol: "http"},
	})
	if err != nil {
		t.Fatalf("mediator setup failed: %v", err)
	}
	defer mediator.Close()

	// The model keeps asking for tools past the budget of 2; the engine
	// must force a final answer without tools.
	mock := llm.NewScriptedMockProvider()
	for i := 0; i < 2; i++ {
		mock.AddToolCallResponse(llm.ToolCall{
			ID:   fmt.Sprintf("call-%d", i+1),
			Type: "function",
			Function: llm.FunctionCall{
				Name:      "get_weather",
				Arguments: `{"city": "Valencia"}`,
			},
		})
	}
	mock.AddResponse("Best guess: sunny.")

	eng := newTestEngine(t, toolWorkflow(), mock,
		WithMediator(mediator),
		WithMaxToolIterations(2))

	result, err := eng.Execute(context.Background(), "weather?")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.FinalOutput != "Best guess: sunny." {
		t.Errorf("final output = %q", result.FinalOutput)
	}

	// 2 budgeted turns plus the forced finalization; the last request
	// offers no tools.
	reqs := mock.Requests()
	if len(reqs) != 3 {
		t.Fatalf("expected 3 model calls, got %d", len(reqs))
	}
	if len(reqs[2].Tools) != 0 {
		t.Errorf("finalization offered tools: %+v", reqs[2].Tools)
	}
}
