package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrCapacityExceeded   = errors.New("capacity exceeded")
	ErrDuplicateName      = errors.New("duplicate name")
	ErrUnauthorized       = errors.New("invalid API key")
	ErrRateLimited        = errors.New("rate limited")
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// ValidationError is a client input error whose message is safe to show.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Invalid returns a *ValidationError with a formatted message.
func Invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// RateLimitError carries how long the caller should wait before retrying.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return e.Message
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// CapacityError reports a size cap that an operation would break.
type CapacityError struct {
	Message string
}

func (e *CapacityError) Error() string {
	return e.Message
}

func (e *CapacityError) Unwrap() error {
	return ErrCapacityExceeded
}

// NotFoundError is ErrNotFound with a message naming what was missing.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	return e.Message
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NotFound returns a *NotFoundError with the given message.
func NotFound(msg string) error {
	return &NotFoundError{Message: msg}
}
