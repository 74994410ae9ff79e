package agent

import (
	"fmt"
	"strings"

	"github.com/taxis-ai/taxis/pkg/memory"
)

// PreviousOutput is one prior step result handed to the next agent, in
// the order the steps completed.
type PreviousOutput struct {
	AgentID string
	Role    string
	Content string
}

// BuildSystemPrompt assembles the persona section of the conversation
// from the agent's profile and its granted tool names.
func BuildSystemPrompt(p Profile, toolNames []string) string {
	parts := []string{
		fmt.Sprintf("You are a %s.", p.Role),
		fmt.Sprintf("Your goal is: %s", p.Goal),
	}
	if p.Description != "" {
		parts = append(parts, fmt.Sprintf("Description: %s", p.Description))
	}
	if p.Instruction != "" {
		parts = append(parts, fmt.Sprintf("\nInstructions:\n%s", p.Instruction))
	}
	if len(toolNames) > 0 {
		parts = append(parts, fmt.Sprintf("\nYou have access to these tools: %s", strings.Join(toolNames, ", ")))
	}
	parts = append(parts, "\nProvide clear, well-structured responses that fulfill your goal.")
	return strings.Join(parts, "\n")
}

// BuildTaskPrompt assembles the task section: the user query, any
// long-term memories retrieved for this step, and the outputs of the
// steps that already completed, in completion order.
func BuildTaskPrompt(p Profile, query string, memories []memory.Retrieved, outputs []PreviousOutput) string {
	parts := []string{
		fmt.Sprintf("Complete your task as %s.", p.Role),
		fmt.Sprintf("\nYour goal: %s", p.Goal),
	}
	if query != "" {
		parts = append(parts, fmt.Sprintf("\nUser Query: %s", query))
	}
	if len(memories) > 0 {
		var sb strings.Builder
		sb.WriteString("\nRelevant context from memory:")
		for _, m := range memories {
			sb.WriteString(fmt.Sprintf("\n- %s", m.Text))
		}
		parts = append(parts, sb.String())
	}
	if len(outputs) > 0 {
		var sb strings.Builder
		sb.WriteString("\nPrevious agent outputs:")
		for _, out := range outputs {
			label := out.AgentID
			if out.Role != "" {
				label = fmt.Sprintf("%s (%s)", out.Role, out.AgentID)
			}
			sb.WriteString(fmt.Sprintf("\n\n## %s\n%s", label, out.Content))
		}
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, "\n")
}
