// Package errors provides typed error handling for the orchestration engine.
// Every failure is classified with an ErrorCode so the executor can decide
// between aborting the run and degrading locally.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies engine errors for propagation policy and monitoring.
type ErrorCode string

const (
	// CodeConfig indicates a malformed or unsatisfiable workflow document.
	// Surfaced before execution starts; no run state is created.
	CodeConfig ErrorCode = "CONFIG_ERROR"

	// CodeStepFailure indicates an LLM or internal agent error during a step.
	CodeStepFailure ErrorCode = "STEP_FAILURE"

	// CodeMemoryDegradation indicates a long-term memory read/write timeout
	// or failure. Recovered locally; the run continues without that context.
	CodeMemoryDegradation ErrorCode = "MEMORY_DEGRADATION"

	// CodeToolError indicates a tool invocation failure. Recovered locally
	// as an observation fed back to the agent.
	CodeToolError ErrorCode = "TOOL_ERROR"

	// CodeDiscovery indicates a tool server was unreachable at discovery.
	// Disables only that server's tools for the run.
	CodeDiscovery ErrorCode = "DISCOVERY_ERROR"

	// CodeInvalidArguments indicates tool arguments violated the cached
	// parameter schema. Raised locally, before any network I/O.
	CodeInvalidArguments ErrorCode = "INVALID_ARGUMENTS"

	// CodeDuplicateWrite indicates a short-term write collision, which
	// points at a workflow-graph bug.
	CodeDuplicateWrite ErrorCode = "DUPLICATE_WRITE"

	// CodeLLM indicates an LLM provider error.
	CodeLLM ErrorCode = "LLM_ERROR"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Error is a typed error with context for structured logging and policy
// decisions. It can be unwrapped with errors.As/errors.Is.
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]any
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	payload := map[string]any{
		"code":        string(e.Code),
		"message":     e.Message,
		"recoverable": e.Recoverable,
	}
	if e.Err != nil {
		payload["cause"] = e.Err.Error()
	}
	if len(e.Context) > 0 {
		payload["context"] = e.Context
	}
	return json.Marshal(payload)
}

// New creates a typed error with the given code, message, and cause.
// Degradation-class codes are marked recoverable by default.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]any),
		Recoverable: defaultRecoverable(code),
	}
}

// WithContext adds a key-value pair to the error context.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRecoverable overrides the default recoverability of the error.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// As attempts to convert an error to *Error, searching the wrap chain.
// Unknown errors are wrapped as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if stderrors.As(err, &te) {
		return te
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the error code of err, or CodeInternal for untyped errors.
// The wrap chain is searched, so a fmt.Errorf("%w") wrap keeps its code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var te *Error
	if stderrors.As(err, &te) {
		return te.Code
	}
	return CodeInternal
}

// IsRecoverable reports whether err may be degraded locally instead of
// aborting the run. Untyped errors are never recoverable.
func IsRecoverable(err error) bool {
	var te *Error
	if stderrors.As(err, &te) {
		return te.Recoverable
	}
	return false
}

func defaultRecoverable(code ErrorCode) bool {
	switch code {
	case CodeMemoryDegradation, CodeToolError, CodeDiscovery, CodeInvalidArguments:
		return true
	default:
		return false
	}
}
