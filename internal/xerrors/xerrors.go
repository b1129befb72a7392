// Package xerrors implements the sum-typed error seam called for in the
// platform's design notes: rather than catching a parallel-execution error
// and re-throwing its first nested I/O cause (the pattern the source
// platform uses), every boundary between a workgroup.Group task and its
// caller returns one of a fixed set of kinds, unwrapped explicitly here.
package xerrors

import "github.com/pkg/errors"

// Kind classifies an error by how the caller must react to it, per §7 of
// the specification.
type Kind int

const (
	// Transport is connection-level I/O: timeout, reset, TLS failure.
	// The connection is closed, the sync fails, and reconnecting is
	// permitted.
	Transport Kind = iota
	// Protocol is a malformed frame, unknown sentinel, or topological
	// violation. Treated as Byzantine: the connection is closed and not
	// immediately retried.
	Protocol
	// Validation is a signature or ancestry failure on a single event.
	// The event is discarded; the sync continues unless the event was
	// the one being inserted inline.
	Validation
	// QueueFull is a rejected offer() of a non-system transaction.
	QueueFull
	// StateTransition is a freeze-state violation. Fatal.
	StateTransition
	// Consensus is an impossibility reported by the consensus oracle. Fatal.
	Consensus
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	case Validation:
		return "validation"
	case QueueFull:
		return "queue_full"
	case StateTransition:
		return "state_transition"
	case Consensus:
		return "consensus"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this kind must terminate the owning
// thread and signal the supervising runtime, rather than being recovered
// locally.
func (k Kind) Fatal() bool {
	return k == StateTransition || k == Consensus
}

// Error is the concrete sum-typed error value. It wraps an underlying
// cause with a Kind so that a seam can switch on it without resorting to
// type assertions or sentinel error chains.
type Error struct {
	Kind  Kind
	cause error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, cause: errors.New(msg)}
}

func Wrap(kind Kind, cause error, msg string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, cause: errors.Wrap(cause, msg)}
}

func (e *Error) Error() string { return e.cause.Error() }
func (e *Error) Cause() error  { return e.cause }
func (e *Error) Unwrap() error { return e.cause }

// As extracts a *Error from any error value produced by a workgroup-parallel
// task, unwrapping chained causes the way the platform's supervising runtime
// must: if none of the causes in the chain are a *Error, the original error
// is classified as a Transport error, since that is the seam's default for
// raw I/O errors that escaped a socket read/write without being annotated.
func As(err error) *Error {
	if err == nil {
		return nil
	}

	for cause := err; cause != nil; {
		if xe, ok := cause.(*Error); ok {
			return xe
		}

		type causer interface{ Cause() error }
		c, ok := cause.(causer)
		if !ok {
			break
		}
		cause = c.Cause()
	}

	return Wrap(Transport, err, "unclassified error at parallel-task seam")
}
