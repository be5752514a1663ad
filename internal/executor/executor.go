// Package executor drains a per-request task queue to completion, honoring
// dependency gates and the gRPC-dispatch suspension points tasks return as
// Deferred outcomes.
package executor

import (
	"log/slog"

	"github.com/kuadrant/policy-pipeline/internal/pctx"
	"github.com/kuadrant/policy-pipeline/internal/task"
)

// Pipeline drains one request's task queue front-to-back, parking deferred
// tasks by correlation token until their gRPC response arrives. It is not
// shared across requests: the host runs one filter callback at a time for a
// given request, so Pipeline holds no locks of its own.
type Pipeline struct {
	ctx    *pctx.Context
	logger *slog.Logger

	queue     []task.Task
	completed map[string]struct{}
	deferred  map[uint32]task.Task

	terminal     task.Task
	terminalDone bool
}

// New builds a Pipeline seeded with the given ready queue.
func New(ctx *pctx.Context, ready []task.Task, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		ctx:       ctx,
		logger:    logger,
		queue:     append([]task.Task(nil), ready...),
		completed: make(map[string]struct{}),
		deferred:  make(map[uint32]task.Task),
	}
}

// Drain runs the ready queue to a fixpoint, then runs the terminal task if
// one was set and every deferred task has drained.
func (p *Pipeline) Drain() {
	p.drainQueue()
	p.maybeRunTerminal()
}

// Resume feeds a host gRPC-response callback back into the pipeline: the
// task parked under token is looked up, handed the response, and re-applied.
// An unknown token is logged and ignored; the host may replay callbacks for
// a request the pipeline already tore down.
func (p *Pipeline) Resume(token uint32, status int32, body []byte) {
	pending, ok := p.deferred[token]
	if !ok {
		if p.logger != nil {
			p.logger.Warn("executor: resume for unknown token", slog.Uint64("token", uint64(token)))
		}
		return
	}
	delete(p.deferred, token)

	p.ctx.SetGRPCResponse(status, body)
	outcome := pending.Apply(p.ctx)
	p.handleOutcome(pending, outcome)
	p.Drain()
}

// RequiresPause reports whether the host should withhold its
// ProcessingResponse on the current callback: true iff some live queued or
// deferred task pauses the filter, or a terminal task is waiting on
// outstanding deferred work before it can run.
func (p *Pipeline) RequiresPause() bool {
	if p.terminal != nil && !p.terminalDone {
		return true
	}
	for _, t := range p.queue {
		if t.PausesFilter() {
			return true
		}
	}
	for _, t := range p.deferred {
		if t.PausesFilter() {
			return true
		}
	}
	return false
}

// IsLive reports whether the pipeline still has work outstanding.
func (p *Pipeline) IsLive() bool {
	if len(p.queue) > 0 || len(p.deferred) > 0 {
		return true
	}
	return p.terminal != nil && !p.terminalDone
}

// drainQueue repeatedly scans the queue for dependency-ready tasks, applying
// each and feeding its outcome back, until a full pass makes no progress.
// Requeued outcomes prepend to the front and are picked up by the same scan,
// giving same-callback re-entry to a fixpoint as spec'd.
func (p *Pipeline) drainQueue() {
	for {
		if p.terminal != nil {
			return
		}
		progressed := false
		i := 0
		for i < len(p.queue) {
			t := p.queue[i]
			if !p.depsReady(t) {
				i++
				continue
			}
			p.queue = append(p.queue[:i:i], p.queue[i+1:]...)
			outcome := t.Apply(p.ctx)
			advanced := p.handleOutcome(t, outcome)
			if p.terminal != nil {
				return
			}
			if advanced {
				progressed = true
				i = 0
				continue
			}
			i++
		}
		if !progressed {
			return
		}
	}
}

func (p *Pipeline) depsReady(t task.Task) bool {
	for _, dep := range t.Dependencies() {
		if _, ok := p.completed[dep]; !ok {
			return false
		}
	}
	return true
}

// handleOutcome applies outcome's side effects and reports whether the
// pipeline made forward progress. Done/Deferred/Failed/Terminate always
// count as progress. Requeued counts as progress only when it hands back
// fresh work (e.g. a follow-up task after a dispatch resume); a task that
// requeues only itself unchanged — as TokenUsage does between body chunks —
// is waiting for the next host callback, not for another pass of this one,
// so it is parked without driving the same-callback fixpoint loop further.
func (p *Pipeline) handleOutcome(t task.Task, outcome task.Outcome) bool {
	id, hasID := t.ID()
	switch outcome.Kind {
	case task.KindDone:
		if hasID {
			p.completed[id] = struct{}{}
		}
		return true
	case task.KindDeferred:
		if hasID {
			p.completed[id] = struct{}{}
		}
		if _, dup := p.deferred[outcome.Token]; dup && p.logger != nil {
			p.logger.Error("executor: duplicate dispatch token", slog.Uint64("token", uint64(outcome.Token)))
		}
		p.deferred[outcome.Token] = outcome.Pending
		return true
	case task.KindRequeued:
		selfParked := len(outcome.Next) == 1 && outcome.Next[0] == t
		p.queue = append(append([]task.Task(nil), outcome.Next...), p.queue...)
		return !selfParked
	case task.KindFailed:
		if p.logger != nil {
			name := id
			if !hasID {
				name = "<anonymous>"
			}
			p.logger.Error("executor: task failed", slog.String("task", name), slog.Any("error", outcome.Err))
		}
		return true
	case task.KindTerminate:
		p.terminate(outcome.Terminal)
		return true
	}
	return true
}

// terminate discards queued work outright and marks the pipeline as waiting
// to run the terminal task. Tasks already deferred correspond to in-flight
// gRPC calls the host cannot cancel (§5: no explicit cancel API), so they
// are not dropped from bookkeeping; instead their eventual resume is
// replaced with a no-op so the executor still waits for the stream to quiesce
// before running the terminal action, per the pause contract.
func (p *Pipeline) terminate(terminal task.Task) {
	p.queue = nil
	for token := range p.deferred {
		p.deferred[token] = discardedTask{}
	}
	p.terminal = terminal
	p.terminalDone = false
}

// discardedTask absorbs a stale Deferred resume once the pipeline has gone
// terminal: the real outcome no longer matters, only that the stream drains.
type discardedTask struct{}

func (discardedTask) Apply(*pctx.Context) task.Outcome { return task.Done() }
func (discardedTask) ID() (string, bool)               { return "", false }
func (discardedTask) Dependencies() []string           { return nil }
func (discardedTask) PausesFilter() bool               { return false }

func (p *Pipeline) maybeRunTerminal() {
	if p.terminal == nil || p.terminalDone || len(p.deferred) > 0 {
		return
	}
	t := p.terminal
	p.terminalDone = true
	outcome := t.Apply(p.ctx)
	switch outcome.Kind {
	case task.KindRequeued:
		p.queue = append(p.queue, outcome.Next...)
		p.drainQueue()
	case task.KindDeferred:
		p.deferred[outcome.Token] = outcome.Pending
	case task.KindFailed:
		if p.logger != nil {
			p.logger.Error("executor: terminal task failed", slog.Any("error", outcome.Err))
		}
	}
}
