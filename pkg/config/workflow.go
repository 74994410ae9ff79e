package config

import (
	"fmt"
	"os"

	goyaml "gopkg.in/yaml.v3"

	taxiserrors "github.com/taxis-ai/taxis/pkg/errors"
)

// Flow types supported by the executor.
const (
	FlowSequential   = "sequential"
	FlowParallel     = "parallel"
	FlowHierarchical = "hierarchical"
)

// Tool server protocols.
const (
	ProtocolHTTP = "http"
	ProtocolMCP  = "mcp"
)

// Workflow is a declarative workflow document. It names the agents,
// the model bindings they draw on, the flow that sequences them, and
// the tool servers available to the run.
type Workflow struct {
	Name        string               `yaml:"name"`
	Agents      []AgentSpec          `yaml:"agents"`
	Models      map[string]ModelSpec `yaml:"models"`
	Flow        FlowSpec             `yaml:"workflow"`
	ToolServers []ToolServerSpec     `yaml:"tool_servers"`
}

// AgentSpec declares one agent.
type AgentSpec struct {
	ID            string   `yaml:"id"`
	Role          string   `yaml:"role"`
	Goal          string   `yaml:"goal"`
	Model         string   `yaml:"model"`
	Tools         []string `yaml:"tools"`
	Instruction   string   `yaml:"instruction"`
	Description   string   `yaml:"description"`
	SubAgents     []string `yaml:"sub_agents"`
	MemoryEnabled bool     `yaml:"memory_enabled"`
}

// ModelSpec is one named model binding.
type ModelSpec struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// StepSpec is one step in a sequential flow or the aggregation step of
// a parallel flow.
type StepSpec struct {
	Agent string `yaml:"agent"`
	Input string `yaml:"input"`
}

// FlowSpec selects and parameterizes the execution pattern.
type FlowSpec struct {
	Type     string     `yaml:"type"`
	Steps    []StepSpec `yaml:"steps"`    // sequential
	Branches []string   `yaml:"branches"` // parallel
	Then     *StepSpec  `yaml:"then"`     // parallel aggregation
	Manager  string     `yaml:"manager"`  // hierarchical
}

// ToolServerSpec declares one tool server endpoint.
type ToolServerSpec struct {
	ID       string `yaml:"id"`
	URL      string `yaml:"url"`
	Protocol string `yaml:"protocol"`
}

const (
	defaultMaxTokens   = 4096
	defaultTemperature = 0.7
)

// LoadWorkflow reads and validates a workflow document from disk.
func LoadWorkflow(path string) (*Workflow, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, taxiserrors.New(taxiserrors.CodeConfig,
			fmt.Sprintf("cannot read workflow document %q", path), err)
	}
	return ParseWorkflow(raw)
}

// ParseWorkflow decodes and validates a workflow document.
func ParseWorkflow(raw []byte) (*Workflow, error) {
	var wf Workflow
	if err := goyaml.Unmarshal(raw, &wf); err != nil {
		return nil, taxiserrors.New(taxiserrors.CodeConfig, "malformed workflow document", err)
	}
	wf.applyDefaults()
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (w *Workflow) applyDefaults() {
	for name, m := range w.Models {
		if m.MaxTokens == 0 {
			m.MaxTokens = defaultMaxTokens
		}
		if m.Temperature == 0 {
			m.Temperature = defaultTemperature
		}
		w.Models[name] = m
	}
	for i := range w.ToolServers {
		if w.ToolServers[i].Protocol == "" {
			w.ToolServers[i].Protocol = ProtocolHTTP
		}
	}
}

// Agent returns the agent with the given id.
func (w *Workflow) Agent(id string) (AgentSpec, bool) {
	for _, a := range w.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentSpec{}, false
}

// Validate checks structural integrity: unique ids, resolvable
// references, and a well-formed flow. The first violation is returned
// as a configuration error naming the offending field.
func (w *Workflow) Validate() error {
	if len(w.Agents) == 0 {
		return configErr("agents", "at least one agent is required")
	}

	seen := make(map[string]bool, len(w.Agents))
	for i, a := range w.Agents {
		if a.ID == "" {
			return configErr(fmt.Sprintf("agents[%d].id", i), "agent id is required")
		}
		if seen[a.ID] {
			return configErr(fmt.Sprintf("agents[%d].id", i), fmt.Sprintf("duplicate agent id %q", a.ID))
		}
		seen[a.ID] = true
		if a.Role == "" {
			return configErr(fmt.Sprintf("agents[%d].role", i), fmt.Sprintf("agent %q has no role", a.ID))
		}
		if a.Goal == "" {
			return configErr(fmt.Sprintf("agents[%d].goal", i), fmt.Sprintf("agent %q has no goal", a.ID))
		}
		if a.Model == "" {
			return configErr(fmt.Sprintf("agents[%d].model", i), fmt.Sprintf("agent %q has no model binding", a.ID))
		}
		if _, ok := w.Models[a.Model]; !ok {
			return configErr(fmt.Sprintf("agents[%d].model", i),
				fmt.Sprintf("agent %q references unknown model binding %q", a.ID, a.Model))
		}
		for _, sub := range a.SubAgents {
			if !w.hasAgent(sub) {
				return configErr(fmt.Sprintf("agents[%d].sub_agents", i),
					fmt.Sprintf("agent %q references unknown sub-agent %q", a.ID, sub))
			}
			if sub == a.ID {
				return configErr(fmt.Sprintf("agents[%d].sub_agents", i),
					fmt.Sprintf("agent %q lists itself as a sub-agent", a.ID))
			}
		}
	}

	for name, m := range w.Models {
		if m.Provider == "" {
			return configErr(fmt.Sprintf("models.%s.provider", name), "provider is required")
		}
		if m.Model == "" {
			return configErr(fmt.Sprintf("models.%s.model", name), "model name is required")
		}
	}

	serverIDs := make(map[string]bool, len(w.ToolServers))
	for i, s := range w.ToolServers {
		if s.ID == "" {
			return configErr(fmt.Sprintf("tool_servers[%d].id", i), "tool server id is required")
		}
		if serverIDs[s.ID] {
			return configErr(fmt.Sprintf("tool_servers[%d].id", i), fmt.Sprintf("duplicate tool server id %q", s.ID))
		}
		serverIDs[s.ID] = true
		if s.URL == "" {
			return configErr(fmt.Sprintf("tool_servers[%d].url", i), fmt.Sprintf("tool server %q has no url", s.ID))
		}
		if s.Protocol != ProtocolHTTP && s.Protocol != ProtocolMCP {
			return configErr(fmt.Sprintf("tool_servers[%d].protocol", i),
				fmt.Sprintf("tool server %q has unsupported protocol %q", s.ID, s.Protocol))
		}
	}

	return w.validateFlow()
}

func (w *Workflow) validateFlow() error {
	switch w.Flow.Type {
	case FlowSequential:
		if len(w.Flow.Steps) == 0 {
			return configErr("workflow.steps", "sequential flow requires at least one step")
		}
		for i, step := range w.Flow.Steps {
			if !w.hasAgent(step.Agent) {
				return configErr(fmt.Sprintf("workflow.steps[%d].agent", i),
					fmt.Sprintf("step references unknown agent %q", step.Agent))
			}
		}
	case FlowParallel:
		if len(w.Flow.Branches) == 0 {
			return configErr("workflow.branches", "parallel flow requires at least one branch")
		}
		branchSeen := make(map[string]bool, len(w.Flow.Branches))
		for i, branch := range w.Flow.Branches {
			if !w.hasAgent(branch) {
				return configErr(fmt.Sprintf("workflow.branches[%d]", i),
					fmt.Sprintf("branch references unknown agent %q", branch))
			}
			if branchSeen[branch] {
				return configErr(fmt.Sprintf("workflow.branches[%d]", i),
					fmt.Sprintf("agent %q appears in more than one branch", branch))
			}
			branchSeen[branch] = true
		}
		if w.Flow.Then != nil && !w.hasAgent(w.Flow.Then.Agent) {
			return configErr("workflow.then.agent",
				fmt.Sprintf("aggregation step references unknown agent %q", w.Flow.Then.Agent))
		}
	case FlowHierarchical:
		if w.Flow.Manager == "" {
			return configErr("workflow.manager", "hierarchical flow requires a manager agent")
		}
		manager, ok := w.Agent(w.Flow.Manager)
		if !ok {
			return configErr("workflow.manager",
				fmt.Sprintf("manager references unknown agent %q", w.Flow.Manager))
		}
		if len(manager.SubAgents) == 0 {
			return configErr("workflow.manager",
				fmt.Sprintf("manager %q has no sub-agents", w.Flow.Manager))
		}
	case "":
		return configErr("workflow.type", "workflow type is required")
	default:
		return configErr("workflow.type", fmt.Sprintf("unsupported workflow type %q", w.Flow.Type))
	}
	return nil
}

func (w *Workflow) hasAgent(id string) bool {
	_, ok := w.Agent(id)
	return ok
}

func configErr(field, msg string) error {
	return taxiserrors.New(taxiserrors.CodeConfig, msg, nil).WithContext("field", field)
}
