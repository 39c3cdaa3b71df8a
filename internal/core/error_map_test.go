package core

import (
	"errors"
	"testing"

	"github.com/eemcp/eemcp/internal/webservice"
)

type testCodedError struct{ code, msg string }

func (e *testCodedError) Error() string     { return e.msg }
func (e *testCodedError) ErrorCode() string { return e.code }

func TestMapErrorCommonCases(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		fallback int
		wantCode string
		wantHTTP int
	}{
		{name: "invalid json", err: errors.New("invalid JSON: unexpected EOF"), fallback: 500, wantCode: "invalid_request_schema", wantHTTP: 400},
		{name: "unsupported action", err: errors.New(`unsupported action "delete_entry"`), fallback: 500, wantCode: "invalid_params", wantHTTP: 400},
		{name: "not found", err: errors.New("tool call not found"), fallback: 500, wantCode: "tool_call_not_found", wantHTTP: 404},
		{name: "fallback 4xx", err: errors.New("weird"), fallback: 400, wantCode: "bad_request", wantHTTP: 400},
		{name: "fallback 5xx", err: errors.New("weird"), fallback: 500, wantCode: "internal_error", wantHTTP: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err, tt.fallback)
			if got.Code != tt.wantCode {
				t.Fatalf("want code %q, got %q", tt.wantCode, got.Code)
			}
			if got.HTTPStatus != tt.wantHTTP {
				t.Fatalf("want status %d, got %d", tt.wantHTTP, got.HTTPStatus)
			}
		})
	}
}

func TestMapErrorCodedErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantHTTP int
	}{
		{name: "validation", err: &ValidationError{Action: ActionGetEntry, Missing: []string{"entry_id"}}, wantCode: "invalid_params", wantHTTP: 400},
		{name: "policy", err: &PolicyViolation{Code: ViolationChannelNotAllowed, Subject: "x"}, wantCode: "channel_not_allowed", wantHTTP: 403},
		{name: "timeout", err: &webservice.TransportError{Operation: "get read_entry", Timeout: true, Err: errors.New("deadline")}, wantCode: "remote_timeout", wantHTTP: 504},
		{name: "remote http", err: &webservice.TransportError{Operation: "get read_entry", StatusCode: 500}, wantCode: "remote_http_error", wantHTTP: 502},
		{name: "unknown coded", err: &testCodedError{code: "something_else", msg: "boom"}, wantCode: "internal_error", wantHTTP: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err, 500)
			if got.Code != tt.wantCode {
				t.Fatalf("want code %q, got %q", tt.wantCode, got.Code)
			}
			if got.HTTPStatus != tt.wantHTTP {
				t.Fatalf("want status %d, got %d", tt.wantHTTP, got.HTTPStatus)
			}
		})
	}
}

func TestStatusForResult(t *testing.T) {
	tests := []struct {
		result ActionResult
		want   int
	}{
		{result: ActionResult{Kind: KindOK}, want: 200},
		{result: ActionResult{Kind: KindEmpty}, want: 200},
		{result: ActionResult{Kind: KindValidationError, Code: "invalid_params"}, want: 400},
		{result: ActionResult{Kind: KindValidationError, Code: "action_not_allowed"}, want: 403},
		{result: ActionResult{Kind: KindResourceExhausted}, want: 422},
		{result: ActionResult{Kind: KindRemoteError, Code: "remote_timeout"}, want: 504},
		{result: ActionResult{Kind: KindRemoteError, Code: "remote_http_error"}, want: 502},
		{result: ActionResult{Kind: KindRemoteError, Code: "internal_error"}, want: 500},
	}
	for _, tt := range tests {
		if got := StatusForResult(tt.result); got != tt.want {
			t.Errorf("StatusForResult(%s/%s) = %d, want %d", tt.result.Kind, tt.result.Code, got, tt.want)
		}
	}
}
