package agent

import (
	"context"
	"encoding/json"
	"fmt"

	taxiserrors "github.com/taxis-ai/taxis/pkg/errors"
	"github.com/taxis-ai/taxis/pkg/llm"
)

// OutcomeKind tags the result of one model invocation.
type OutcomeKind int

const (
	// OutcomeFinal means the model produced its answer.
	OutcomeFinal OutcomeKind = iota
	// OutcomeToolRequest means the model asked for tool executions and
	// is waiting for their results.
	OutcomeToolRequest
)

// Outcome is the result of one invocation: either final text or a
// batch of requested tool calls.
type Outcome struct {
	Kind  OutcomeKind
	Text  string
	Calls []llm.ToolCall
	Usage llm.Usage
}

// Turn is the conversation state of one step. It accumulates the
// message history across tool round-trips and is discarded when the
// step completes.
type Turn struct {
	profile  Profile
	handle   *llm.Handle
	tools    []llm.Tool
	messages []llm.Message
}

// Profile returns the profile this turn executes for.
func (t *Turn) Profile() Profile { return t.profile }

// Messages returns a copy of the conversation so far.
func (t *Turn) Messages() []llm.Message {
	out := make([]llm.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// ProvideToolResult appends a tool result message, answering one of the
// calls from the last tool request.
func (t *Turn) ProvideToolResult(callID, content string) {
	t.messages = append(t.messages, llm.Message{
		Role:       llm.RoleTool,
		Content:    content,
		ToolCallID: callID,
	})
}

// Runtime invokes models on behalf of agents. It holds no per-run
// state; everything it needs arrives in the Turn.
type Runtime struct{}

// NewRuntime creates a Runtime.
func NewRuntime() *Runtime { return &Runtime{} }

// Begin opens a conversation turn with the system and task prompts.
func (r *Runtime) Begin(profile Profile, handle *llm.Handle, tools []llm.Tool, systemPrompt, taskPrompt string) *Turn {
	return &Turn{
		profile: profile,
		handle:  handle,
		tools:   tools,
		messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: taskPrompt},
		},
	}
}

// Step sends the conversation to the model and classifies the reply.
// A reply with tool calls suspends the turn until the caller provides
// results; a reply without them is the final answer.
func (r *Runtime) Step(ctx context.Context, turn *Turn) (Outcome, error) {
	resp, err := turn.handle.Chat(ctx, turn.messages, turn.tools)
	if err != nil {
		return Outcome{}, taxiserrors.New(taxiserrors.CodeStepFailure,
			fmt.Sprintf("agent %q invocation failed", turn.profile.ID), err)
	}

	turn.messages = append(turn.messages, llm.Message{
		Role:      llm.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})

	if len(resp.ToolCalls) > 0 {
		return Outcome{Kind: OutcomeToolRequest, Calls: resp.ToolCalls, Usage: resp.Usage}, nil
	}
	return Outcome{Kind: OutcomeFinal, Text: resp.Content, Usage: resp.Usage}, nil
}

// Finalize forces a closing answer after the tool budget is spent: the
// model is invoked once more without any tools on offer.
func (r *Runtime) Finalize(ctx context.Context, turn *Turn) (Outcome, error) {
	turn.messages = append(turn.messages, llm.Message{
		Role:    llm.RoleUser,
		Content: "Tool budget exhausted. Produce your final answer from the information gathered so far.",
	})
	resp, err := turn.handle.Chat(ctx, turn.messages, nil)
	if err != nil {
		return Outcome{}, taxiserrors.New(taxiserrors.CodeStepFailure,
			fmt.Sprintf("agent %q finalization failed", turn.profile.ID), err)
	}
	turn.messages = append(turn.messages, llm.Message{
		Role:    llm.RoleAssistant,
		Content: resp.Content,
	})
	return Outcome{Kind: OutcomeFinal, Text: resp.Content, Usage: resp.Usage}, nil
}

// ParseArguments decodes a tool call's argument payload. An empty
// payload is an empty argument map.
func ParseArguments(call llm.ToolCall) (map[string]any, error) {
	if call.Function.Arguments == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return nil, taxiserrors.New(taxiserrors.CodeInvalidArguments,
			fmt.Sprintf("malformed arguments for tool %q", call.Function.Name), err)
	}
	return args, nil
}
