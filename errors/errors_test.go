package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"
)

// --- Code and Category Tests ---

func TestErrorCode_DefaultCategory(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want Category
	}{
		{CodeBrokerUnavailable, CategoryTransient},
		{CodeTimeout, CategoryTransient},
		{CodeHandlerNotFound, CategoryPermanent},
		{CodeHandlerError, CategoryPermanent},
		{CodeInitialization, CategoryFatal},
		{CodeInternal, CategoryPermanent},
		{ErrorCode("UNKNOWN"), CategoryPermanent},
	}

	for _, tt := range tests {
		if got := tt.code.DefaultCategory(); got != tt.want {
			t.Errorf("%s.DefaultCategory() = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestCategory_IsRetryable(t *testing.T) {
	if !CategoryTransient.IsRetryable() {
		t.Error("transient should be retryable")
	}
	if CategoryPermanent.IsRetryable() {
		t.Error("permanent should not be retryable")
	}
	if CategoryFatal.IsRetryable() {
		t.Error("fatal should not be retryable")
	}
}

// --- Constructor Tests ---

func TestBrokerUnavailable(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := BrokerUnavailable("dial redis", WithCause(cause))

	if err.Code() != CodeBrokerUnavailable {
		t.Errorf("Code() = %s, want %s", err.Code(), CodeBrokerUnavailable)
	}
	if !err.Retryable() {
		t.Error("broker unavailable should be retryable")
	}
	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if err.Error() != "dial redis: connection refused" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestHandlerNotFound(t *testing.T) {
	err := HandlerNotFound("unknown_type")

	if err.Retryable() {
		t.Error("handler not found should not be retryable")
	}
	want := `no handler registered for task type "unknown_type"`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestHandlerError(t *testing.T) {
	cause := stderrors.New("boom")
	err := HandlerError("t1", cause)

	if err.TaskID() != "t1" {
		t.Errorf("TaskID() = %q, want t1", err.TaskID())
	}
	if !stderrors.Is(err, cause) {
		t.Error("expected wrapped cause")
	}
}

func TestInitialization_Fatal(t *testing.T) {
	err := Initialization("model load failed", WithAgentID("dq-1"))

	if err.Category() != CategoryFatal {
		t.Errorf("Category() = %s, want fatal", err.Category())
	}
	if err.AgentID() != "dq-1" {
		t.Errorf("AgentID() = %q", err.AgentID())
	}
}

func TestWithCategory_Override(t *testing.T) {
	err := New(CodeInternal, "flaky thing", WithCategory(CategoryTransient))
	if !err.Retryable() {
		t.Error("override to transient should make error retryable")
	}
}

// --- Helper Tests ---

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(BrokerUnavailable("down")) {
		t.Error("expected retryable")
	}
	if IsRetryable(HandlerNotFound("x")) {
		t.Error("expected not retryable")
	}
	if IsRetryable(stderrors.New("plain")) {
		t.Error("plain errors should not be retryable")
	}

	// Wrapped structured error is still detected
	wrapped := fmt.Errorf("poll failed: %w", BrokerUnavailable("down"))
	if !IsRetryable(wrapped) {
		t.Error("expected retryable through wrapping")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(Timeout("wait expired")); got != CodeTimeout {
		t.Errorf("CodeOf = %s, want %s", got, CodeTimeout)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeInternal {
		t.Errorf("CodeOf(plain) = %s, want %s", got, CodeInternal)
	}
}

// --- JSON Tests ---

func TestError_JSONRoundTrip(t *testing.T) {
	orig := HandlerError("t1", stderrors.New("boom"), WithAgentID("dq-1"))

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var got Error
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if got.Code() != CodeHandlerError {
		t.Errorf("Code = %s, want %s", got.Code(), CodeHandlerError)
	}
	if got.TaskID() != "t1" || got.AgentID() != "dq-1" {
		t.Errorf("context lost: task=%q agent=%q", got.TaskID(), got.AgentID())
	}
	if got.Unwrap() == nil || got.Unwrap().Error() != "boom" {
		t.Errorf("cause lost: %v", got.Unwrap())
	}
}
