package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced to callers of the wallet service.
type ErrorKind string

const (
	KindNotFound                ErrorKind = "not_found"
	KindForbidden               ErrorKind = "forbidden"
	KindInvalidState            ErrorKind = "invalid_state"
	KindInsufficientFunds       ErrorKind = "insufficient_funds"
	KindDuplicatePendingRequest ErrorKind = "duplicate_pending_request"
	KindUnavailable             ErrorKind = "unavailable"
	KindInvalidArgument         ErrorKind = "invalid_argument"
	KindConflict                ErrorKind = "conflict"
	KindRateLimited             ErrorKind = "rate_limited"
)

// Error is a typed failure carrying its kind, a caller-facing message and an optional cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches bare kind sentinels (ErrNotFound, ErrForbidden, ...) against any error of the
// same kind. Specific sentinels with a message only match themselves.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// NewError creates a new error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates a new error of the given kind wrapping a cause.
func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when there is none.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// MessageOf returns the caller-facing message of the first *Error in err's chain.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		if de.Message != "" {
			return de.Message
		}
		return string(de.Kind)
	}
	return ""
}

var (
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrForbidden               = &Error{Kind: KindForbidden}
	ErrInvalidState            = &Error{Kind: KindInvalidState}
	ErrInsufficientFunds       = &Error{Kind: KindInsufficientFunds}
	ErrDuplicatePendingRequest = &Error{Kind: KindDuplicatePendingRequest}
	ErrUnavailable             = &Error{Kind: KindUnavailable}
	ErrInvalidArgument         = &Error{Kind: KindInvalidArgument}
	ErrConflict                = &Error{Kind: KindConflict}
	ErrRateLimited             = &Error{Kind: KindRateLimited}
)

// RateLimitError carries the retry hint for a KindRateLimited failure.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded; retry after %ds", e.RetryAfterSeconds)
}
