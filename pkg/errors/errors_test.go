package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := New(CodeDiscovery, "tool server unreachable", cause).
		WithContext("server_id", "demo")

	msg := err.Error()
	if !strings.Contains(msg, "DISCOVERY_ERROR") {
		t.Errorf("expected code in message, got %q", msg)
	}
	if !strings.Contains(msg, "connection refused") {
		t.Errorf("expected cause in message, got %q", msg)
	}
	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestDefaultRecoverability(t *testing.T) {
	cases := []struct {
		code        ErrorCode
		recoverable bool
	}{
		{CodeConfig, false},
		{CodeStepFailure, false},
		{CodeDuplicateWrite, false},
		{CodeLLM, false},
		{CodeMemoryDegradation, true},
		{CodeToolError, true},
		{CodeDiscovery, true},
		{CodeInvalidArguments, true},
	}
	for _, tc := range cases {
		err := New(tc.code, "x", nil)
		if got := IsRecoverable(err); got != tc.recoverable {
			t.Errorf("%s: recoverable = %v, want %v", tc.code, got, tc.recoverable)
		}
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(New(CodeDuplicateWrite, "x", nil)); got != CodeDuplicateWrite {
		t.Errorf("CodeOf typed = %s", got)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeInternal {
		t.Errorf("CodeOf untyped = %s", got)
	}
	if got := CodeOf(nil); got != "" {
		t.Errorf("CodeOf nil = %s", got)
	}
}

func TestCodeSurvivesWrapping(t *testing.T) {
	inner := New(CodeToolError, "tool exploded", nil)
	wrapped := fmt.Errorf("step researcher: %w", inner)

	if got := CodeOf(wrapped); got != CodeToolError {
		t.Errorf("CodeOf wrapped = %s, want TOOL_ERROR", got)
	}
	if !IsRecoverable(wrapped) {
		t.Error("recoverability lost through fmt.Errorf wrap")
	}
	if As(wrapped) != inner {
		t.Error("As should find the typed error in the chain")
	}
}

func TestAsWrapsUntyped(t *testing.T) {
	plain := stderrors.New("plain")
	wrapped := As(plain)
	if wrapped.Code != CodeInternal {
		t.Errorf("expected INTERNAL_ERROR, got %s", wrapped.Code)
	}
	if !stderrors.Is(wrapped, plain) {
		t.Error("wrapped error should unwrap to the original")
	}
}
