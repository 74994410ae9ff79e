package config

import (
	"strings"
	"testing"

	taxiserrors "github.com/taxis-ai/taxis/pkg/errors"
)

const validSequential = `
name: research-pipeline
agents:
  - id: researcher
    role: Researcher
    goal: Gather facts
    model: default
    tools: [search]
  - id: writer
    role: Writer
    goal: Write the report
    model: default
    memory_enabled: true
models:
  default:
    provider: openai
    model: gpt-4o-mini
workflow:
  type: sequential
  steps:
    - agent: researcher
    - agent: writer
tool_servers:
  - id: local
    url: http://localhost:9000
`

func TestParseWorkflowValid(t *testing.T) {
	wf, err := ParseWorkflow([]byte(validSequential))
	if err != nil {
		t.Fatalf("ParseWorkflow failed: %v", err)
	}
	if wf.Name != "research-pipeline" {
		t.Errorf("unexpected name %q", wf.Name)
	}
	if len(wf.Agents) != 2 || len(wf.Flow.Steps) != 2 {
		t.Errorf("unexpected shape: %d agents, %d steps", len(wf.Agents), len(wf.Flow.Steps))
	}

	m := wf.Models["default"]
	if m.MaxTokens != defaultMaxTokens {
		t.Errorf("max_tokens default not applied: %d", m.MaxTokens)
	}
	if m.Temperature != defaultTemperature {
		t.Errorf("temperature default not applied: %v", m.Temperature)
	}
	if wf.ToolServers[0].Protocol != ProtocolHTTP {
		t.Errorf("protocol default not applied: %q", wf.ToolServers[0].Protocol)
	}

	writer, ok := wf.Agent("writer")
	if !ok || !writer.MemoryEnabled {
		t.Errorf("writer agent not found or memory flag lost: %+v", writer)
	}
}

func TestParseWorkflowInvalid(t *testing.T) {
	cases := []struct {
		name  string
		doc   string
		field string
	}{
		{
			"no agents",
			"agents: []\nworkflow:\n  type: sequential",
			"agents",
		},
		{
			"duplicate agent id",
			`
agents:
  - {id: a, role: R, goal: G, model: m}
  - {id: a, role: R, goal: G, model: m}
models:
  m: {provider: openai, model: gpt-4o-mini}
workflow:
  type: sequential
  steps: [{agent: a}]
`,
			"agents[1].id",
		},
		{
			"unknown model binding",
			`
agents:
  - {id: a, role: R, goal: G, model: missing}
models:
  m: {provider: openai, model: gpt-4o-mini}
workflow:
  type: sequential
  steps: [{agent: a}]
`,
			"agents[0].model",
		},
		{
			"step references unknown agent",
			`
agents:
  - {id: a, role: R, goal: G, model: m}
models:
  m: {provider: openai, model: gpt-4o-mini}
workflow:
  type: sequential
  steps: [{agent: ghost}]
`,
			"workflow.steps[0].agent",
		},
		{
			"unsupported flow type",
			`
agents:
  - {id: a, role: R, goal: G, model: m}
models:
  m: {provider: openai, model: gpt-4o-mini}
workflow:
  type: circular
`,
			"workflow.type",
		},
		{
			"parallel branch duplicated",
			`
agents:
  - {id: a, role: R, goal: G, model: m}
models:
  m: {provider: openai, model: gpt-4o-mini}
workflow:
  type: parallel
  branches: [a, a]
`,
			"workflow.branches[1]",
		},
		{
			"hierarchical manager without sub-agents",
			`
agents:
  - {id: boss, role: R, goal: G, model: m}
models:
  m: {provider: openai, model: gpt-4o-mini}
workflow:
  type: hierarchical
  manager: boss
`,
			"workflow.manager",
		},
		{
			"manager lists itself",
			`
agents:
  - {id: boss, role: R, goal: G, model: m, sub_agents: [boss]}
models:
  m: {provider: openai, model: gpt-4o-mini}
workflow:
  type: hierarchical
  manager: boss
`,
			"agents[0].sub_agents",
		},
		{
			"tool server bad protocol",
			`
agents:
  - {id: a, role: R, goal: G, model: m}
models:
  m: {provider: openai, model: gpt-4o-mini}
workflow:
  type: sequential
  steps: [{agent: a}]
tool_servers:
  - {id: s, url: "http://x", protocol: carrier-pigeon}
`,
			"tool_servers[0].protocol",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseWorkflow([]byte(tc.doc))
			if taxiserrors.CodeOf(err) != taxiserrors.CodeConfig {
				t.Fatalf("expected CONFIG_ERROR, got %v", err)
			}
			taxisErr := taxiserrors.As(err)
			if got := taxisErr.Context["field"]; got != tc.field {
				t.Errorf("field = %v, want %q (message: %s)", got, tc.field, taxisErr.Message)
			}
		})
	}
}

func TestParseWorkflowMalformedYAML(t *testing.T) {
	_, err := ParseWorkflow([]byte("agents: [\n"))
	if taxiserrors.CodeOf(err) != taxiserrors.CodeConfig {
		t.Errorf("expected CONFIG_ERROR, got %v", err)
	}
}

func TestParseWorkflowParallelWithAggregation(t *testing.T) {
	doc := `
agents:
  - {id: a, role: R, goal: G, model: m}
  - {id: b, role: R, goal: G, model: m}
  - {id: reviewer, role: R, goal: G, model: m}
models:
  m: {provider: anthropic, model: claude-sonnet-4-20250514}
workflow:
  type: parallel
  branches: [a, b]
  then: {agent: reviewer}
`
	wf, err := ParseWorkflow([]byte(doc))
	if err != nil {
		t.Fatalf("ParseWorkflow failed: %v", err)
	}
	if wf.Flow.Then == nil || wf.Flow.Then.Agent != "reviewer" {
		t.Errorf("aggregation step lost: %+v", wf.Flow.Then)
	}
	if !strings.EqualFold(wf.Flow.Type, FlowParallel) {
		t.Errorf("unexpected type %q", wf.Flow.Type)
	}
}
