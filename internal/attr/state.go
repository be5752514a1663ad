package attr

// availability is the three-valued result of an attribute read.
type availability int

const (
	available availability = iota
	pending
	failed
)

// State is the three-valued result of an attribute read: Available(T),
// Pending (the attribute is not yet observable in the current phase), or an
// error. Callers that see Pending must re-queue their work rather than treat
// it as absent.
type State[T any] struct {
	state availability
	value T
	err   error
}

// Avail wraps a resolved value.
func Avail[T any](v T) State[T] { return State[T]{state: available, value: v} }

// Pending reports an attribute not yet observable.
func Pending[T any]() State[T] { return State[T]{state: pending} }

// Err wraps a structural read error.
func Err[T any](err error) State[T] { return State[T]{state: failed, err: err} }

// IsAvailable reports whether the state carries a resolved value.
func (s State[T]) IsAvailable() bool { return s.state == available }

// IsPending reports whether the attribute is not yet observable.
func (s State[T]) IsPending() bool { return s.state == pending }

// IsError reports whether the read failed structurally.
func (s State[T]) IsError() bool { return s.state == failed }

// Value returns the resolved value and true, or the zero value and false.
func (s State[T]) Value() (T, bool) {
	return s.value, s.state == available
}

// Error returns the wrapped error, if any.
func (s State[T]) Error() error { return s.err }

// Map transforms an available value, leaving Pending/Err states unchanged.
func Map[T, U any](s State[T], f func(T) U) State[U] {
	switch s.state {
	case available:
		return Avail(f(s.value))
	case pending:
		return Pending[U]()
	default:
		return Err[U](s.err)
	}
}
