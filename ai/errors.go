package ai

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies a provider failure.
type Code string

const (
	CodeRateLimited    Code = "rate_limited"
	CodeTimeout        Code = "timeout"
	CodeAuth           Code = "auth"
	CodeInvalidRequest Code = "invalid_request"
	CodeUnavailable    Code = "unavailable"
	CodeInternal       Code = "internal"
)

// retryableByCode holds the default retryable flag per code. Rate limits,
// timeouts and upstream unavailability are transient; auth and request
// errors will fail the same way on every attempt.
var retryableByCode = map[Code]bool{
	CodeRateLimited: true,
	CodeTimeout:     true,
	CodeUnavailable: true,
}

// Error is the typed failure surfaced by provider calls.
type Error struct {
	Code      Code   `json:"code"`
	Provider  string `json:"provider,omitempty"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	cause     error
}

// NewError creates an Error with the code's default retryable flag.
func NewError(provider string, code Code, message string) *Error {
	return &Error{
		Code:      code,
		Provider:  provider,
		Message:   message,
		Retryable: retryableByCode[code],
	}
}

// WrapError creates an Error around an underlying cause.
func WrapError(provider string, code Code, cause error) *Error {
	e := NewError(provider, code, "")
	if cause != nil {
		e.Message = cause.Error()
	}
	e.cause = cause
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.cause }

// Is matches errors by code, so errors.Is(err, &ai.Error{Code: ...}) works
// without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// From extracts the typed error from err's chain.
func From(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code of err, or CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code
	}
	return CodeInternal
}

// IsRetryable reports whether err is worth another attempt. Untyped errors
// are not retryable; context cancellation never is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if e, ok := From(err); ok {
		return e.Retryable
	}
	return false
}
