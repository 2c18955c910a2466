// Package errs implements the error taxonomy from spec §7: every
// control-plane operation surfaces one of a small closed set of kinds,
// which the api package maps 1:1 onto HTTP status codes.
package errs

import (
	"errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Kind is the closed taxonomy spec §7 requires.
type Kind int

const (
	Unauthorized Kind = iota
	BadRequest
	NotFound
	Unavailable
	MonitorUpdateInProgress
	Conflict
	Internal
)

func (k Kind) String() string {
	switch k {
	case Unauthorized:
		return "Unauthorized"
	case BadRequest:
		return "BadRequest"
	case NotFound:
		return "NotFound"
	case Unavailable:
		return "Unavailable"
	case MonitorUpdateInProgress:
		return "MonitorUpdateInProgress"
	case Conflict:
		return "Conflict"
	default:
		return "Internal"
	}
}

// HTTPStatus is the status code api handlers should answer with for a
// given kind, per spec §7 "User-visible failure".
func (k Kind) HTTPStatus() int {
	switch k {
	case Unauthorized:
		return 401
	case BadRequest:
		return 400
	case NotFound:
		return 404
	case Unavailable:
		return 503
	case Conflict, MonitorUpdateInProgress:
		return 409
	default:
		return 500
	}
}

// Error is a taxonomy-tagged error. Internal-kind errors carry a
// go-errors stack trace so the warn-level log line callers are required
// to emit (spec §7) has full context; the other kinds are expected,
// routine outcomes and don't need one.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	if kind == Internal && cause != nil {
		cause = goerrors.Wrap(cause, 1)
	}
	return &Error{Kind: kind, Message: message, cause: cause}
}

func Unauthorizedf(format string, a ...any) *Error {
	return New(Unauthorized, fmt.Sprintf(format, a...))
}

func BadRequestf(format string, a ...any) *Error {
	return New(BadRequest, fmt.Sprintf(format, a...))
}

func NotFoundf(format string, a ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, a...))
}

func Unavailablef(format string, a ...any) *Error {
	return New(Unavailable, fmt.Sprintf(format, a...))
}

func Conflictf(format string, a ...any) *Error {
	return New(Conflict, fmt.Sprintf(format, a...))
}

func Internalf(cause error, format string, a ...any) *Error {
	return Wrap(Internal, fmt.Sprintf(format, a...), cause)
}

// KindOf extracts the taxonomy kind of err, defaulting to Internal for
// anything that didn't originate as an *Error — library "API misuse",
// unexpected panics-as-errors, etc. all collapse to Internal per spec §7.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
