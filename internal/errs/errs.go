// Package errs carries the service error taxonomy. Every error that crosses a
// component boundary is tagged with a Kind so the HTTP layer can map it to a
// status without inspecting messages.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation              Kind = "validation_error"
	KindUnknownDestination      Kind = "unknown_destination"
	KindNotFound                Kind = "not_found"
	KindForbidden               Kind = "forbidden"
	KindInvalidStatusTransition Kind = "invalid_status_transition"
	KindIncompletePayload       Kind = "incomplete_payload"
	KindTokenNotFound           Kind = "token_not_found"
	KindTokenExpired            Kind = "token_expired"
	KindTokenAlreadyUsed        Kind = "token_already_used"
	KindConflict                Kind = "conflict"
	KindInternal                Kind = "internal_error"
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" && e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a tagged error. The format arguments follow fmt.Sprintf.
func E(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error without losing its chain.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of err, or KindInternal for untagged errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the outermost tagged message, without the wrapped chain.
// Used where an error is shown to a caller who must not see internals.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return err.Error()
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
