package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/taxis-ai/taxis/pkg/config"
	"github.com/taxis-ai/taxis/pkg/engine"
	"github.com/taxis-ai/taxis/pkg/llm"
)

const serveWorkflow = `
name: pipeline
agents:
  - id: researcher
    role: Researcher
    goal: Gather facts
    model: m
models:
  m:
    provider: mock
    model: test-model
workflow:
  type: sequential
  steps:
    - agent: researcher
`

func newAPIServer(t *testing.T) *apiServer {
	t.Helper()
	wf, err := config.ParseWorkflow([]byte(serveWorkflow))
	if err != nil {
		t.Fatalf("workflow parse failed: %v", err)
	}
	registry, err := llm.NewRegistryWithProviders(
		[]llm.Binding{{Name: "m", Provider: "mock", Model: "test-model"}},
		map[string]llm.Provider{"m": &llm.MockProvider{Response: "mock findings"}},
	)
	if err != nil {
		t.Fatalf("registry setup failed: %v", err)
	}
	eng, err := engine.New(wf, registry)
	if err != nil {
		t.Fatalf("engine setup failed: %v", err)
	}
	return &apiServer{engine: eng, timeout: 30 * time.Second}
}

func jsonDecode(resp *http.Response, value any) error {
	return json.NewDecoder(resp.Body).Decode(value)
}

func TestAPIHealth(t *testing.T) {
	server := httptest.NewServer(newAPIServer(t).routes())
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAPIExecute(t *testing.T) {
	server := httptest.NewServer(newAPIServer(t).routes())
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/execute", "application/json",
		strings.NewReader(`{"query": "research the market"}`))
	if err != nil {
		t.Fatalf("execute request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var result engine.Result
	if err := jsonDecode(resp, &result); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if result.FinalOutput != "mock findings" {
		t.Errorf("final output = %q", result.FinalOutput)
	}
	if result.Status != "completed" {
		t.Errorf("status = %q, want completed", result.Status)
	}
}

func TestAPIExecuteRejectsEmptyQuery(t *testing.T) {
	server := httptest.NewServer(newAPIServer(t).routes())
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/execute", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("execute request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAPIValidate(t *testing.T) {
	server := httptest.NewServer(newAPIServer(t).routes())
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/validate", "application/yaml",
		strings.NewReader(serveWorkflow))
	if err != nil {
		t.Fatalf("validate request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	bad, err := http.Post(server.URL+"/api/validate", "application/yaml",
		strings.NewReader("name: broken\nworkflow:\n  type: sequential\n"))
	if err != nil {
		t.Fatalf("validate request failed: %v", err)
	}
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", bad.StatusCode)
	}
}

func TestAPIRunEventsWithoutAudit(t *testing.T) {
	server := httptest.NewServer(newAPIServer(t).routes())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/runs/run-1/events")
	if err != nil {
		t.Fatalf("events request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", resp.StatusCode)
	}
}
