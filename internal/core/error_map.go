package core

import (
	"errors"
	"net/http"
	"strings"
)

// CodedError is implemented by domain errors that carry a machine-readable code.
type CodedError interface {
	error
	ErrorCode() string
}

type ErrorInfo struct {
	Code       string
	Message    string
	HTTPStatus int
}

// StatusForResult maps a result onto the HTTP status of the REST surface.
func StatusForResult(r ActionResult) int {
	switch r.Kind {
	case KindOK, KindEmpty:
		return http.StatusOK
	case KindValidationError:
		if r.Code == string(ViolationActionNotAllowed) || r.Code == string(ViolationChannelNotAllowed) {
			return http.StatusForbidden
		}
		return http.StatusBadRequest
	case KindResourceExhausted:
		return http.StatusUnprocessableEntity
	}
	switch r.Code {
	case "remote_timeout":
		return http.StatusGatewayTimeout
	case "internal_error":
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// MapError classifies errors raised outside dispatch, such as a malformed
// request body.
func MapError(err error, fallbackStatus int) ErrorInfo {
	if err == nil {
		return ErrorInfo{Code: "internal_error", Message: "internal server error", HTTPStatus: fallbackStatus}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	var coded CodedError
	if errors.As(err, &coded) {
		code := coded.ErrorCode()
		switch code {
		case "invalid_params":
			return ErrorInfo{Code: code, Message: msg, HTTPStatus: http.StatusBadRequest}
		case string(ViolationActionNotAllowed), string(ViolationChannelNotAllowed):
			return ErrorInfo{Code: code, Message: msg, HTTPStatus: http.StatusForbidden}
		case "remote_timeout":
			return ErrorInfo{Code: code, Message: msg, HTTPStatus: http.StatusGatewayTimeout}
		case "remote_http_error", "remote_unreachable":
			return ErrorInfo{Code: code, Message: msg, HTTPStatus: http.StatusBadGateway}
		case "config_invalid":
			return ErrorInfo{Code: code, Message: msg, HTTPStatus: http.StatusInternalServerError}
		}
	}

	switch {
	case strings.Contains(lower, "invalid json"), strings.Contains(lower, "request body must contain a single json object"):
		return ErrorInfo{Code: "invalid_request_schema", Message: msg, HTTPStatus: http.StatusBadRequest}
	case strings.Contains(lower, "unsupported action"):
		return ErrorInfo{Code: "invalid_params", Message: msg, HTTPStatus: http.StatusBadRequest}
	case strings.Contains(lower, "tool call not found"):
		return ErrorInfo{Code: "tool_call_not_found", Message: "tool call not found", HTTPStatus: http.StatusNotFound}
	default:
		code := "internal_error"
		if fallbackStatus >= 400 && fallbackStatus < 500 {
			code = "bad_request"
		}
		return ErrorInfo{Code: code, Message: msg, HTTPStatus: fallbackStatus}
	}
}
