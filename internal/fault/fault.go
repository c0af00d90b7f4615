// Package fault defines the failure taxonomy shared by the camera, motion and
// signal source layers. Every error that crosses a source boundary carries one
// of the Kind values so callers can render "data unavailable" distinctly from
// "no incidents".
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// Kind classifies a failure.
type Kind string

const (
	// Connection means the transport could not be reached.
	Connection Kind = "connection"
	// Read means the transport was reachable but delivered no frame or data.
	Read Kind = "read"
	// Timeout means the upstream exceeded its allotted time.
	Timeout Kind = "timeout"
	// Parse means the upstream responded but the payload had an unexpected shape.
	Parse Kind = "parse"
	// Upstream means a non-2xx status, an open circuit or a malformed response.
	Upstream Kind = "upstream"
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind with no Op, so
// errors.Is(err, fault.ErrTimeout) works against any timeout.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrConnection = &Error{Kind: Connection}
	ErrRead       = &Error{Kind: Read}
	ErrTimeout    = &Error{Kind: Timeout}
	ErrParse      = &Error{Kind: Parse}
	ErrUpstream   = &Error{Kind: Upstream}
)

// New wraps err with the given kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind carried by err, or the classified kind when err
// was never wrapped.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Classify(err)
}

// Classify maps an arbitrary error to a Kind. Deadline and net timeouts are
// Timeout, dial and DNS failures are Connection, everything else is Upstream.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Connection
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Connection
	}
	return Upstream
}

// Wrap classifies err and wraps it under op. A nil err stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return New(Classify(err), op, err)
}
