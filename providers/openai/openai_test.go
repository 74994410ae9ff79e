package openai

import (
	"testing"

	"github.com/taxis-ai/taxis/pkg/llm"
)

func TestNewProvider(t *testing.T) {
	p := New()
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
	if p.model != "gpt-4o-mini" {
		t.Errorf("expected model gpt-4o-mini, got %s", p.model)
	}
}

func TestWithModel(t *testing.T) {
	p := New(WithModel("gpt-4.1"))
	if p.model != "gpt-4.1" {
		t.Errorf("expected model gpt-4.1, got %s", p.model)
	}
}

func TestConvertMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  llm.Message
	}{
		{"system message", llm.Message{Role: llm.RoleSystem, Content: "You are helpful"}},
		{"user message", llm.Message{Role: llm.RoleUser, Content: "Hello"}},
		{"assistant message", llm.Message{Role: llm.RoleAssistant, Content: "Hi there"}},
		{"tool message", llm.Message{Role: llm.RoleTool, Content: "result", ToolCallID: "call_123"}},
		{
			"assistant with tool calls",
			llm.Message{
				Role: llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{{
					ID:       "call_1",
					Type:     llm.ToolTypeFunction,
					Function: llm.FunctionCall{Name: "search", Arguments: `{"q":"x"}`},
				}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Conversion must not panic for any supported role.
			_ = convertMessage(tt.msg)
		})
	}
}

func TestConvertTool(t *testing.T) {
	tool := llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        "search",
			Description: "Search the web",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"q": map[string]any{"type": "string"}},
			},
		},
	}
	converted := convertTool(tool)
	if converted.Function.Name != "search" {
		t.Errorf("expected name search, got %s", converted.Function.Name)
	}
}
