package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrapKeepsCodeThroughChain(t *testing.T) {
	cause := stdErrors.New("status 500")
	err := fmt.Errorf("build: %w", Wrap(CodeRemoteService, cause, "查询 Safe nonce 失败"))

	if CodeOf(err) != CodeRemoteService {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if !HasCode(err, CodeRemoteService) {
		t.Fatalf("expected HasCode to match")
	}
	if HasCode(err, CodeRelayRejected) {
		t.Fatalf("unexpected match for different code")
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
}

func TestAttributesDefaults(t *testing.T) {
	e := New(CodeInvalidArgument, "")
	if e.Message() != "invalid argument" {
		t.Fatalf("unexpected default message %q", e.Message())
	}
	if e.ShouldAlert() {
		t.Fatalf("invalid argument must not alert")
	}
	if !New(CodeExecutionFailed, "x").ShouldAlert() {
		t.Fatalf("execution failure must alert")
	}
	if New(CodeExecutionFailed, "x", WithAlert(false)).ShouldAlert() {
		t.Fatalf("WithAlert override ignored")
	}
	if SeverityOf(New(CodeSigningFailure, "")) != SeverityCritical {
		t.Fatalf("unexpected severity")
	}
}

func TestUnknownCodeFallsBack(t *testing.T) {
	attr := AttributesOf(Code("NOPE"))
	if attr.Severity != SeverityCritical {
		t.Fatalf("expected UNKNOWN attributes, got %+v", attr)
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors should map to UNKNOWN")
	}
}

func TestStageAppearsInMessage(t *testing.T) {
	err := New(CodeRelayRejected, "中继服务拒绝提案", WithStage("propose"))
	if err.Stage() != "propose" {
		t.Fatalf("unexpected stage %q", err.Stage())
	}
	if got := err.Error(); got != "[RELAY_REJECTED@propose] 中继服务拒绝提案" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestHTTPStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{New(CodeInvalidArgument, ""), http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", New(CodeTimeout, "")), http.StatusGatewayTimeout},
		{New(CodeStorageFailure, ""), http.StatusInternalServerError},
		{stdErrors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatusOf(tc.err); got != tc.want {
			t.Fatalf("HTTPStatusOf(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}

	Register(Code("TEST_GONE"), Attributes{Message: "gone", HTTPStatus: http.StatusGone})
	if got := HTTPStatusOf(New(Code("TEST_GONE"), "")); got != http.StatusGone {
		t.Fatalf("registered status ignored: %d", got)
	}
}
