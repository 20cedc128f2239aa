package services

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindFetch      ErrorKind = "fetch"
	KindAdd        ErrorKind = "add"
	KindDelete     ErrorKind = "delete"
	KindUpdate     ErrorKind = "update"
)

// User-visible messages shown next to the board.
const (
	MsgFetchFailed    = "Error fetching tasks. Please try again later."
	MsgAddFailed      = "Error adding task. Please try again later."
	MsgDeleteFailed   = "Error deleting task. Please try again later."
	MsgCompleteFailed = "Error completing task. Please try again later."
	MsgUpdateFailed   = "Error updating task. Please try again later."
	MsgPastDueDate    = "Due date cannot be in the past."
	MsgEmptyTitle     = "Title is required."
)

var (
	ErrNoIdentity  = errors.New("no signed-in user")
	ErrForeignTask = errors.New("task belongs to another user")
)

// Error is a lifecycle failure. Message is safe to show to the user; Err
// carries the cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of a lifecycle error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
