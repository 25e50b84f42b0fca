// Package fault classifies errors into the categories Pettry reports to
// users. A [Kind] decides how an error is surfaced (validation message, retry
// affordance, permission prompt) without callers having to know which
// package produced it.
//
// Wrap an error with [Wrap] or create one with [New]; inspect it with [KindOf]
// or errors.As on *[Error]. Wrapped errors keep their chain, so errors.Is on
// package sentinels continues to work.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the user-facing category of an error.
type Kind int

const (
	// Internal is the zero value: an unexpected failure inside Pettry.
	Internal Kind = iota

	// Validation means the input was rejected before any network call
	// (oversized image, too many chat messages, empty utterance).
	Validation

	// Permission means the user or the platform denied access to a device
	// such as the microphone. Voice features degrade to text.
	Permission

	// Transient means a remote service failed or was unreachable. The user
	// may retry; nothing retries automatically.
	Transient

	// NotFound means the addressed session, product or order does not exist.
	NotFound
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Permission:
		return "permission"
	case Transient:
		return "transient"
	case NotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error attaches a [Kind] and a user-presentable message to an underlying
// error.
type Error struct {
	Kind Kind

	// Msg is safe to show to end users.
	Msg string

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return e.Msg
	case e.Msg == "":
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// New returns an error of kind k with a formatted user message.
func New(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err as kind k. It returns nil when err is nil.
func Wrap(k Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Msg: msg, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// Internal when none is present.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Message returns the user-presentable message of err. Errors that carry no
// *Error get a generic message so internal details are never shown.
func Message(err error) string {
	var fe *Error
	if errors.As(err, &fe) && fe.Msg != "" {
		return fe.Msg
	}
	return "something went wrong"
}
