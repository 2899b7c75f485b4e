package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestCode_Category(t *testing.T) {
	tests := []struct {
		code Code
		want string
	}{
		{CodeValidationRequired, "VAL"},
		{CodeAuthorizationDenied, "AUTHZ"},
		{CodeNotFoundContext, "NF"},
		{CodeUnavailableCircuitOpen, "UNAVAIL"},
		{CodeTimeoutDependency, "TIMEOUT"},
		{Code("PLAIN"), "PLAIN"},
	}
	for _, tt := range tests {
		if got := tt.code.Category(); got != tt.want {
			t.Errorf("Category(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestError_HTTPStatus(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{Required("user_id"), http.StatusBadRequest},
		{Unauthorized("missing token"), http.StatusUnauthorized},
		{Forbidden("role denied"), http.StatusForbidden},
		{ContextNotFound("ctx-1"), http.StatusNotFound},
		{AlreadyExistsf("run %q", "r1"), http.StatusConflict},
		{CircuitOpen("llm", "open", time.Second), http.StatusServiceUnavailable},
		{Timeout("late"), http.StatusGatewayTimeout},
		{Internal("boom"), http.StatusInternalServerError},
		{New(Code("ODD_001"), "odd"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.err.HTTPStatus(); got != tt.want {
			t.Errorf("%s HTTPStatus() = %d, want %d", tt.err.Code, got, tt.want)
		}
	}
}

func TestError_MessageIncludesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(cause, CodeInternalDatabase, "store: save report")

	if got := err.Error(); got != "INT_002: store: save report: connection refused" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestWrap_NilReturnsNil(t *testing.T) {
	if Wrap(nil, CodeInternal, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, CodeInternal, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}
}

func TestSentinels_MatchByCode(t *testing.T) {
	err := CircuitOpen("db", "open", 5*time.Second)

	if !errors.Is(err, ErrCircuitOpen) {
		t.Error("CircuitOpen should match ErrCircuitOpen")
	}
	if errors.Is(err, ErrContextNotFound) {
		t.Error("CircuitOpen should not match ErrContextNotFound")
	}
	if !errors.Is(fmt.Errorf("call: %w", ContextNotFound("c")), ErrContextNotFound) {
		t.Error("wrapped ContextNotFound should match ErrContextNotFound")
	}
	if !errors.Is(CapabilityUnavailable("ai_chat", "llm"), ErrCapabilityUnavailable) {
		t.Error("CapabilityUnavailable should match ErrCapabilityUnavailable")
	}
}

func TestIs_DistinctMessagesDoNotMatch(t *testing.T) {
	a := New(CodeNotFound, "a")
	b := New(CodeNotFound, "b")
	if errors.Is(a, b) {
		t.Error("errors with messages compare by identity")
	}
}

func TestCircuitOpen_Details(t *testing.T) {
	err := CircuitOpen("llm", "half_open", 0)

	if err.Details["service"] != "llm" {
		t.Errorf("service detail = %v", err.Details["service"])
	}
	if err.Details["state"] != "half_open" {
		t.Errorf("state detail = %v", err.Details["state"])
	}
	if !IsCircuitOpen(err) || !IsRetryable(err) {
		t.Error("circuit open errors are unavailable and retryable")
	}
}

func TestCapabilityUnavailable_Message(t *testing.T) {
	err := CapabilityUnavailable("ai_chat", "llm")
	if !strings.Contains(err.Error(), `capability "ai_chat" unavailable, dependency "llm" down`) {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestWithDetails_DoesNotMutateOriginal(t *testing.T) {
	orig := New(CodeValidation, "bad").WithDetail("a", 1)
	derived := orig.WithDetails(map[string]any{"b": 2})

	if _, ok := orig.Details["b"]; ok {
		t.Error("original details were mutated")
	}
	if derived.Details["a"] != 1 || derived.Details["b"] != 2 {
		t.Errorf("derived details = %v", derived.Details)
	}
}

func TestCategoryChecks(t *testing.T) {
	if !IsValidation(Required("agent_name")) {
		t.Error("Required should be a validation error")
	}
	if !IsNotFound(ServiceNotFound("cache")) {
		t.Error("ServiceNotFound should be a not found error")
	}
	if !IsAuthorization(Forbidden("no")) {
		t.Error("Forbidden should be an authorization error")
	}
	if !IsAuthentication(Unauthorized("no")) {
		t.Error("Unauthorized should be an authentication error")
	}
	if !IsConflict(Conflict("dup")) {
		t.Error("Conflict should be a conflict error")
	}
	if !IsTimeout(New(CodeTimeoutDependency, "late")) {
		t.Error("TIMEOUT_003 should be a timeout error")
	}
	if IsNotFound(context.Canceled) || IsRetryable(context.Canceled) {
		t.Error("foreign errors have no category")
	}
	if !IsClientError(Required("x")) || IsClientError(Internal("x")) {
		t.Error("IsClientError mismatch")
	}
}

func TestFromError(t *testing.T) {
	if FromError(nil) != nil {
		t.Error("FromError(nil) should be nil")
	}
	orig := NotFound("gone")
	if FromError(fmt.Errorf("ctx: %w", orig)) != orig {
		t.Error("FromError should return the wrapped *Error")
	}
	if got := FromError(errors.New("plain")); got.Code != CodeInternal {
		t.Errorf("FromError(plain).Code = %s", got.Code)
	}
}

func TestFormat_Verbose(t *testing.T) {
	err := Wrap(errors.New("eof"), CodeInternal, "read").WithDetail("k", "v")
	out := fmt.Sprintf("%+v", err)
	for _, want := range []string{`Code: "INT_001"`, `Message: "read"`, "Details:", "Cause: eof"} {
		if !strings.Contains(out, want) {
			t.Errorf("%%+v output %q missing %q", out, want)
		}
	}
	if q := fmt.Sprintf("%q", New(CodeNotFound, "x")); q != `"NF_001: x"` {
		t.Errorf("%%q = %s", q)
	}
}
