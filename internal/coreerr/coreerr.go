// Package coreerr defines the caller-visible error taxonomy shared by every
// component of the SQL generation core, and the Transient/Permanent
// classification the SQL Agent uses to decide whether a failure is
// retryable without LLM involvement.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind is a caller-visible error classification.
type Kind string

const (
	KindAuthFailure        Kind = "AuthFailure"
	KindUnreachable        Kind = "Unreachable"
	KindUnsupportedDialect Kind = "UnsupportedDialect"
	KindSessionExpired     Kind = "SessionExpired"
	KindUnknownSession     Kind = "UnknownSession"
	KindPoolExhausted      Kind = "PoolExhausted"
	KindTimeout            Kind = "Timeout"
	KindUnknownIdentifier  Kind = "UnknownIdentifier"
	KindUnknownTable       Kind = "UnknownTable"
	KindTypeMismatch       Kind = "TypeMismatch"
	KindSyntaxError        Kind = "SyntaxError"
	KindUnsafe             Kind = "Unsafe"
	KindLLMUnavailable     Kind = "LLMUnavailable"
	KindLLMBudgetExceeded  Kind = "LLMBudgetExceeded"
	KindInternal           Kind = "Internal"
)

// Error is the structured error type returned across the core's external
// interfaces. Callers should use errors.As to recover it rather than
// string-matching Error().
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

// New constructs a *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a *Error wrapping an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// Severity distinguishes errors the SQL Agent retries without LLM
// involvement from ones that require an Analyzer-driven repair.
type Severity int

const (
	// Transient covers network, deadlock, deadline, and rate-limit
	// conditions. The Agent retries EXECUTE a small bounded number of
	// times without regenerating the prompt.
	Transient Severity = iota
	// Permanent covers syntax, unknown-identifier, and type-mismatch
	// conditions. The Agent routes these through the Error Analyzer and
	// regenerates a focused prompt.
	Permanent
)

// Classified pairs a dialect adapter error with its retry severity.
type Classified struct {
	Severity Severity
	Kind     Kind
	Err      error
}

func (c *Classified) Error() string { return c.Err.Error() }
func (c *Classified) Unwrap() error { return c.Err }

// NewTransient wraps err as a transient, LLM-independent, retryable failure.
func NewTransient(kind Kind, err error) *Classified {
	return &Classified{Severity: Transient, Kind: kind, Err: err}
}

// NewPermanent wraps err as a permanent failure requiring repair.
func NewPermanent(kind Kind, err error) *Classified {
	return &Classified{Severity: Permanent, Kind: kind, Err: err}
}

// IsTransient reports whether err is a Classified error of Transient severity.
func IsTransient(err error) bool {
	var c *Classified
	if errors.As(err, &c) {
		return c.Severity == Transient
	}
	return false
}
