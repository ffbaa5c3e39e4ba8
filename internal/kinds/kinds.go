// Package kinds defines the shared error taxonomy that every protocol
// session maps to wire responses at its boundary. Components return a
// *kinds.Error (or a sentinel wrapped with kinds.Wrap) instead of ad-hoc
// errors, so SMTP/IMAP/POP3 sessions never need to guess what a lower
// layer meant by a bare error.
package kinds

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for wire-response mapping. It is not a
// human-facing message; sessions choose the reply text per protocol.
type Kind int

const (
	Internal Kind = iota
	Syntax
	AuthFailed
	LockedOut
	NotFound
	QuotaExceeded
	Transient
)

func (k Kind) String() string {
	switch k {
	case Syntax:
		return "syntax"
	case AuthFailed:
		return "auth_failed"
	case LockedOut:
		return "locked_out"
	case NotFound:
		return "not_found"
	case QuotaExceeded:
		return "quota_exceeded"
	case Transient:
		return "transient"
	default:
		return "internal"
	}
}

// Error is a Kind-tagged error. LockedUntil is populated only for Kind ==
// LockedOut, carrying the timestamp a session may report back (spec §8.B's
// "NO [ALERT] Account locked until <ts>").
type Error struct {
	Kind        Kind
	Msg         string
	LockedUntil time.Time
	Wrapped     error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Wrapped != nil {
		return e.Wrapped.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Wrapped }

// New builds a Kind-tagged error with a message.
func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Msg: msg}
}

// Newf builds a Kind-tagged error with a formatted message.
func Newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a Kind, preserving it for errors.Is/As.
func Wrap(k Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Wrapped: err}
}

// LockedOutUntil builds a LockedOut error carrying the lockout expiry.
func LockedOutUntil(until time.Time) *Error {
	return &Error{Kind: LockedOut, LockedUntil: until}
}

// Is reports whether err carries the given Kind.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
