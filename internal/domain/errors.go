package domain

import (
	"errors"
	"fmt"
)

// ErrorKind tags every error surfaced by the core.
// User-visible failure is always a short line plus a stable kind, never
// matched by text.
type ErrorKind string

const (
	// KindValidation covers bad CLI args or malformed PRD/plan/bootstrap input.
	KindValidation ErrorKind = "validation"
	// KindPrecondition covers state-machine violations; it never mutates state.
	KindPrecondition ErrorKind = "precondition"
	// KindTaskFailure covers Agent-reported failures and nonzero session exits.
	KindTaskFailure ErrorKind = "task_failure"
	// KindDeadlock covers a scheduler verdict of no runnable task with work remaining.
	KindDeadlock ErrorKind = "deadlock"
	// KindInfrastructure covers pane wrapper or store unavailability.
	KindInfrastructure ErrorKind = "infrastructure"
)

// Error is a tagged error carrying an optional subject (task or session id).
type Error struct {
	Kind    ErrorKind
	Subject string
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	if e.Subject != "" {
		s += fmt.Sprintf(" (subject: %s)", e.Subject)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a tagged error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapErr tags an underlying error without losing its chain.
func WrapErr(kind ErrorKind, err error, msg string) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// SubjectErrorf builds a tagged error pointing at an offending subject.
func SubjectErrorf(kind ErrorKind, subject, format string, args ...any) error {
	return &Error{Kind: kind, Subject: subject, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from an error chain.
// Untagged errors report KindInfrastructure: anything the core did not
// classify is by definition an environmental failure.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
