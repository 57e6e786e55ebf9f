// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-net.

package api

import (
	"errors"
	"fmt"
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeIllegalReferenceCount
	ErrCodeIndexOutOfBounds
	ErrCodeAllocationExhausted
	ErrCodeChannelClosed
	ErrCodeIllegalState
	ErrCodeCancelled
	ErrCodeTimeout
	ErrCodeDuplicateName
	ErrCodeNotFound
	ErrCodeNotSupported
	ErrCodeBlockingInLoop
	ErrCodeInternal
	ErrCodeDecoder
	ErrCodeTooLongFrame
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid argument"
	case ErrCodeIllegalReferenceCount:
		return "illegal reference count"
	case ErrCodeIndexOutOfBounds:
		return "index out of bounds"
	case ErrCodeAllocationExhausted:
		return "allocation exhausted"
	case ErrCodeChannelClosed:
		return "channel closed"
	case ErrCodeIllegalState:
		return "illegal state"
	case ErrCodeCancelled:
		return "cancelled"
	case ErrCodeTimeout:
		return "timeout"
	case ErrCodeDuplicateName:
		return "duplicate name"
	case ErrCodeNotFound:
		return "not found"
	case ErrCodeNotSupported:
		return "not supported"
	case ErrCodeBlockingInLoop:
		return "blocking operation in event loop"
	case ErrCodeDecoder:
		return "decoder failure"
	case ErrCodeTooLongFrame:
		return "frame too long"
	default:
		return "internal"
	}
}

// Common errors used across the library. Each carries a code, so wrapped or
// contextualised variants still match with errors.Is.
var (
	ErrInvalidArgument       = NewError(ErrCodeInvalidArgument, "invalid argument")
	ErrIllegalReferenceCount = NewError(ErrCodeIllegalReferenceCount, "illegal reference count")
	ErrIndexOutOfBounds      = NewError(ErrCodeIndexOutOfBounds, "index out of bounds")
	ErrAllocationExhausted   = NewError(ErrCodeAllocationExhausted, "allocation exhausted")
	ErrChannelClosed         = NewError(ErrCodeChannelClosed, "channel closed")
	ErrIllegalState          = NewError(ErrCodeIllegalState, "illegal state")
	ErrCancelled             = NewError(ErrCodeCancelled, "operation cancelled")
	ErrTimeout               = NewError(ErrCodeTimeout, "operation timeout")
	ErrDuplicateName         = NewError(ErrCodeDuplicateName, "duplicate handler name")
	ErrNotFound              = NewError(ErrCodeNotFound, "resource not found")
	ErrNotSupported          = NewError(ErrCodeNotSupported, "operation not supported")
	ErrBlockingInLoop        = NewError(ErrCodeBlockingInLoop, "blocking wait from inside the event loop")
	ErrInternal              = NewError(ErrCodeInternal, "internal error")
	ErrDecoder               = NewError(ErrCodeDecoder, "decoder failure")
	ErrTooLongFrame          = NewError(ErrCodeTooLongFrame, "frame too long")
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if len(e.Context) != 0 {
		msg = fmt.Sprintf("%s (context: %+v)", msg, e.Context)
	}
	if e.cause != nil {
		msg = msg + ": " + e.cause.Error()
	}
	return msg
}

// Unwrap exposes the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithContext returns a copy of the error carrying an additional context value.
// Sentinels are never mutated.
func (e *Error) WithContext(key string, value any) *Error {
	ctx := make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	return &Error{Code: e.Code, Message: e.Message, Context: ctx, cause: e.cause}
}

// Wrap returns a copy of the error with cause attached.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Context: e.Context, cause: cause}
}

// CodeOf reports the code of the first *Error in err's chain.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsLifetimeViolation reports whether err signals misuse of a released resource.
func IsLifetimeViolation(err error) bool {
	switch CodeOf(err) {
	case ErrCodeIllegalReferenceCount, ErrCodeChannelClosed:
		return true
	}
	return false
}
