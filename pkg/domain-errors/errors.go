// Package domainerrors provides typed errors shared across the gatekeeper.
// Services return these so transport can map them to HTTP statuses without
// inspecting error strings.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the class of a domain error.
type Code string

const (
	// CodeConfiguration: startup-fatal configuration problems (missing or
	// malformed policy file). Never recovered at request time.
	CodeConfiguration Code = "configuration_error"
	// CodePolicyNotFound: no policy registered for a role. Recovered by the
	// pipeline via the most restrictive known policy.
	CodePolicyNotFound Code = "policy_not_found"
	// CodeRateLimited: subject exceeded its quota.
	CodeRateLimited Code = "rate_limit_exceeded"
	// CodeMalformedPayload: response body is not structured data. Recovered
	// locally, redaction is skipped.
	CodeMalformedPayload Code = "malformed_payload"
	// CodeUnavailable: a shared resource (counter store, audit sink) could not
	// be reached within its deadline.
	CodeUnavailable Code = "unavailable"
	// CodeForbidden: caller lacks the role required for the operation.
	CodeForbidden Code = "forbidden"
	// CodeBadRequest: invalid caller input.
	CodeBadRequest Code = "bad_request"
	// CodeInternal: everything else. Descriptions are never exposed to callers.
	CodeInternal Code = "internal_error"
)

// Error carries a code plus a human-readable message.
type Error struct {
	Code    Code
	Message string
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// New builds a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message while keeping the chain intact.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, wrapped: err}
}

// CodeOf extracts the domain code from err, or CodeInternal when err is not a
// domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Is lets errors.Is match on code equality.
func (e *Error) Is(target error) bool {
	var de *Error
	if errors.As(target, &de) {
		return e.Code == de.Code
	}
	return false
}

// ToHTTPStatus maps a domain code to its HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeMalformedPayload:
		return http.StatusBadRequest
	case CodeForbidden:
		return http.StatusForbidden
	case CodePolicyNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
