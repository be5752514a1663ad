// Package task implements the unit-of-work model the executor drains: a
// Task returns an Outcome describing what happened, never blocking and
// never mutating the queue itself.
package task

import (
	"github.com/kuadrant/policy-pipeline/internal/pctx"
)

// Task is a polymorphic unit of policy work. Its progress is encoded
// entirely in the Outcome returned from Apply; the task itself is
// stateless with respect to the queue that holds it.
type Task interface {
	Apply(ctx *pctx.Context) Outcome
	ID() (string, bool)
	Dependencies() []string
	PausesFilter() bool
}

// Kind tags which variant an Outcome carries.
type Kind int

const (
	KindDone Kind = iota
	KindDeferred
	KindRequeued
	KindFailed
	KindTerminate
)

// Outcome is the sum type a Task's Apply returns: Done, Deferred (parked on
// a correlation token), Requeued (replaced by zero or more follow-up
// tasks), Failed, or Terminate (preempts the rest of the pipeline).
type Outcome struct {
	Kind     Kind
	Token    uint32
	Pending  Task
	Next     []Task
	Terminal Task
	Err      error
}

// Done reports a task finished with no further work.
func Done() Outcome { return Outcome{Kind: KindDone} }

// DeferredOutcome reports a task parked awaiting a gRPC response, keyed by
// token; pending is re-invoked on resume.
func DeferredOutcome(token uint32, pending Task) Outcome {
	return Outcome{Kind: KindDeferred, Token: token, Pending: pending}
}

// Requeued replaces the task with zero or more follow-up tasks, prepended
// to the front of the ready queue.
func Requeued(next ...Task) Outcome {
	return Outcome{Kind: KindRequeued, Next: next}
}

// Failed reports a task failure. Decorators may rewrite this to Terminate
// or Done depending on configured failure mode.
func Failed(err error) Outcome {
	return Outcome{Kind: KindFailed, Err: err}
}

// TerminateOutcome preempts the rest of the pipeline: once set, the
// executor drops all other queued and deferred work and runs terminal
// once it is the only live task remaining.
func TerminateOutcome(terminal Task) Outcome {
	return Outcome{Kind: KindTerminate, Terminal: terminal}
}

// PendingTask is a task plus an opaque resume closure; Apply simply invokes
// the closure and returns its Outcome. Auth, RateLimit and ExportTraces
// return it in their Deferred outcomes; decorators such as FailureMode and
// Tracing park a wrapped copy instead.
type PendingTask struct {
	TaskID string
	Deps   []string
	Paused bool
	Resume func(ctx *pctx.Context) Outcome
}

func (p PendingTask) Apply(ctx *pctx.Context) Outcome { return p.Resume(ctx) }

func (p PendingTask) ID() (string, bool) { return p.TaskID, p.TaskID != "" }

func (p PendingTask) Dependencies() []string { return p.Deps }

func (p PendingTask) PausesFilter() bool { return p.Paused }
