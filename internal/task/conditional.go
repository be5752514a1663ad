package task

import (
	"fmt"

	"github.com/kuadrant/policy-pipeline/internal/expr"
	"github.com/kuadrant/policy-pipeline/internal/pctx"
)

// Conditional wraps a task with an action-scoped predicate: the inner task
// only runs when the predicate evaluates true. A Pending predicate requeues
// the whole conditional rather than skipping or running its inner task.
type Conditional struct {
	Inner       Task
	Predicate   expr.Program
	RequestData expr.RequestData
}

func (c *Conditional) ID() (string, bool) { return c.Inner.ID() }

func (c *Conditional) Dependencies() []string { return c.Inner.Dependencies() }

func (c *Conditional) PausesFilter() bool { return c.Inner.PausesFilter() }

func (c *Conditional) Apply(ctx *pctx.Context) Outcome {
	state, err := expr.EvalPredicate(c.Predicate, ctx, c.RequestData)
	if err != nil {
		return Failed(fmt.Errorf("task: conditional: %w", err))
	}
	if state.IsPending() {
		return Requeued(c)
	}
	matched, _ := state.Value()
	if !matched {
		return Done()
	}
	return c.Inner.Apply(ctx)
}
