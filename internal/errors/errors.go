// Package errors defines the failure taxonomy shared by the collectors,
// the source resolver and the protocol clients.
//
// Every failure in the collection pipeline falls into one of a small set of
// kinds. The kind decides how far an error travels:
//
//   - Unavailable: the VM is not connected or no isolate exists. Fatal for
//     the calling operation, recoverable by reconnecting.
//   - Timeout: a single remote call exceeded its budget. Recovered locally
//     as an absent field.
//   - NotFound, NoInstances: expected absence of data.
//   - Malformed: the remote answered with an unexpected shape. Recovered as
//     a partial result and logged.
//
// Collector-level errors never escape the facade; they degrade the
// corresponding snapshot section to nil.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnavailable
	KindTimeout
	KindNotFound
	KindNoInstances
	KindMalformed
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	case KindNotFound:
		return "not_found"
	case KindNoInstances:
		return "no_instances"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Sentinel values for errors.Is checks.
var (
	ErrUnavailable = &Error{Kind: KindUnavailable}
	ErrTimeout     = &Error{Kind: KindTimeout}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrNoInstances = &Error{Kind: KindNoInstances}
	ErrMalformed   = &Error{Kind: KindMalformed}
)

// Error is a classified failure of one operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels work with
// errors.Is regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a classified error.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified error with a formatted cause.
func Newf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of err. Context deadlines count as timeouts.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Soft reports whether err is an expected absence of data rather than a
// fault worth surfacing at warn level.
func Soft(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindNoInstances, KindTimeout:
		return true
	default:
		return false
	}
}

// DeferClose closes closer and logs a failure instead of dropping it. Use
// it in defer statements for connections, stores and files.
func DeferClose(logger zerolog.Logger, closer io.Closer, msg string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn().Err(err).Msg(msg)
	}
}
