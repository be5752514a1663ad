// Package pipelineerr defines the error taxonomy shared by every pipeline
// component: configuration compilation, attribute evaluation and task
// execution all report failures through the same Kind enum so callers can
// branch on cause without string matching.
package pipelineerr

import (
	"errors"
	"fmt"
)

// Kind classifies the cause of a pipeline error.
type Kind int

const (
	// Unknown is the zero value; it should never be returned deliberately.
	Unknown Kind = iota
	// ConfigInvalid marks a configuration document that failed validation
	// or compilation (bad CEL source, unknown service reference, ...).
	ConfigInvalid
	// EvaluationError marks a predicate or expression that raised a runtime
	// error while being evaluated against a context.
	EvaluationError
	// DataPending marks an attribute that is still Pending when a caller
	// required it to be resolved.
	DataPending
	// ServiceFailure marks a remote dispatch (auth, rate limit, trace
	// export) that failed at the transport or protocol layer.
	ServiceFailure
	// InvariantViolation marks a condition the executor or blueprint
	// factory asserts can never happen; seeing one means a bug.
	InvariantViolation
)

// String renders the kind for logging.
func (k Kind) String() string {
	switch k {
	case ConfigInvalid:
		return "config_invalid"
	case EvaluationError:
		return "evaluation_error"
	case DataPending:
		return "data_pending"
	case ServiceFailure:
		return "service_failure"
	case InvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a classification Kind.
type Error struct {
	Kind Kind
	Op   string
	err  error
}

// New builds an Error of the given kind for operation op wrapping cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, err: cause}
}

// Newf builds an Error of the given kind for operation op with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.err)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.err }

// Is reports whether target is a *Error with the same Kind, letting callers
// write errors.Is(err, pipelineerr.New(pipelineerr.DataPending, "", nil)).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// KindOf extracts the Kind from err, returning Unknown if err is not (or does
// not wrap) a *Error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return Unknown
}
