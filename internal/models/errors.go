package models

import (
	"errors"
	"fmt"
)

// Category classifies a stage failure for the caller-facing payload and the
// operator log entry.
type Category string

const (
	CategoryInvalidRequest  Category = "invalid_request"
	CategoryRemoteService   Category = "remote_service"
	CategoryBudgetExhausted Category = "budget_exhausted"
	CategoryPersistence     Category = "persistence"
	CategoryNotFound        Category = "not_found"
)

// Error is the structured error carried across pipeline stages. Op names
// the failing component, Message the condition; Err holds the wrapped
// cause, if any.
type Error struct {
	Category Category
	Op       string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// WrapRemote wraps a remote-service failure. Timeouts surface here too:
// a deadline exceeded from any collaborator call is a remote failure, not
// a hang.
func WrapRemote(op string, err error) error {
	return &Error{Category: CategoryRemoteService, Op: op, Err: err}
}

// WrapPersistence wraps a ledger read/write failure.
func WrapPersistence(op string, err error) error {
	return &Error{Category: CategoryPersistence, Op: op, Err: err}
}

// NotFound reports an absent conversation or content. Callers render it as
// an empty/null result rather than a failure.
func NotFound(op, msg string) error {
	return &Error{Category: CategoryNotFound, Op: op, Message: msg}
}

// CategoryOf extracts the category from err, walking the wrap chain.
// Unclassified errors report as remote-service failures, the broadest
// retriable class.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return CategoryRemoteService
}

// IsNotFound reports whether err is an absence, not a failure.
func IsNotFound(err error) bool {
	return CategoryOf(err) == CategoryNotFound
}
