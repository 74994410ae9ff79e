package llm

import (
	"context"
	"errors"
	"sync"
)

// MockProvider is a testing implementation of Provider.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &ChatResponse{
		Content: m.Response,
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: 10,
			TotalTokens:      20,
		},
	}, nil
}

// ScriptedResponse is one step in a scripted conversation. Either Content
// or ToolCalls is set; an Error step fails the call.
type ScriptedResponse struct {
	Content   string
	ToolCalls []ToolCall
	Error     error
}

// ScriptedMockProvider returns a pre-defined sequence of responses and
// captures every request it receives. Useful for testing multi-turn
// interactions such as tool round-trips, and for asserting on assembled
// prompt contents.
type ScriptedMockProvider struct {
	mu        sync.Mutex
	responses []ScriptedResponse
	requests  []ChatRequest
}

// NewScriptedMockProvider creates a provider that replies with the given
// text responses in order.
func NewScriptedMockProvider(responses ...string) *ScriptedMockProvider {
	p := &ScriptedMockProvider{}
	for _, r := range responses {
		p.responses = append(p.responses, ScriptedResponse{Content: r})
	}
	return p
}

// AddResponse appends a text response to the script.
func (s *ScriptedMockProvider) AddResponse(content string) *ScriptedMockProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, ScriptedResponse{Content: content})
	return s
}

// AddToolCallResponse appends a response that requests tool calls.
func (s *ScriptedMockProvider) AddToolCallResponse(calls ...ToolCall) *ScriptedMockProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, ScriptedResponse{ToolCalls: calls})
	return s
}

// AddErrorResponse appends a failing step to the script.
func (s *ScriptedMockProvider) AddErrorResponse(err error) *ScriptedMockProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, ScriptedResponse{Error: err})
	return s
}

// Chat pops the next scripted response, recording the request.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)

	if len(s.responses) == 0 {
		return nil, errors.New("scripted mock: no more responses available")
	}
	next := s.responses[0]
	s.responses = s.responses[1:]

	if next.Error != nil {
		return nil, next.Error
	}
	return &ChatResponse{
		Content:   next.Content,
		ToolCalls: next.ToolCalls,
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: 10,
			TotalTokens:      20,
		},
	}, nil
}

// Requests returns a copy of all captured requests.
func (s *ScriptedMockProvider) Requests() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// CallCount returns how many times Chat has been called.
func (s *ScriptedMockProvider) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
