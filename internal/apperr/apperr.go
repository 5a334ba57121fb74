// Package apperr carries the orchestrator's error taxonomy alongside the
// wrapped cause, so HTTP and SSE layers can map a failure to a status code or
// event without string-matching error messages.
package apperr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy.
type Kind string

const (
	RequestInvalid       Kind = "RequestInvalid"
	NoStrategyConfigured Kind = "NoStrategyConfigured"
	VersionConflict      Kind = "VersionConflict"
	UnknownTopic         Kind = "UnknownTopic"
	ToolTimeout          Kind = "ToolTimeout"
	ToolUnavailable      Kind = "ToolUnavailable"
	ToolBadResponse      Kind = "ToolBadResponse"
	CancelledByTimeout   Kind = "CancelledByTimeout"
	CancelledByCaller    Kind = "CancelledByCaller"
	PersistenceError     Kind = "PersistenceError"
	InternalInvariant    Kind = "InternalInvariant"
)

// Error wraps a cause with a Kind so callers can type-switch on behavior
// without depending on message text.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a Kind-tagged error with no underlying cause.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap tags an existing error with a Kind, preserving it as the cause.
func Wrap(kind Kind, message string, cause error) error {
	if cause == nil {
		return New(kind, message)
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind carried by err, or "" if err was never tagged.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
