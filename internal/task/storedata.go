package task

import (
	"fmt"

	"github.com/kuadrant/policy-pipeline/internal/attr"
	"github.com/kuadrant/policy-pipeline/internal/expr"
	"github.com/kuadrant/policy-pipeline/internal/pctx"
)

// DataEntry is one (Path, expression) pair a StoreData task writes once
// evaluated.
type DataEntry struct {
	Path attr.Path
	Expr expr.Program
}

// StoreData evaluates a set of expressions against the context and writes
// the results into the context's attribute cache. It attempts every entry
// before reporting failure so partial writes are visible to later tasks.
type StoreData struct {
	TaskID      string
	Deps        []string
	Entries     []DataEntry
	RequestData expr.RequestData
}

func (s *StoreData) ID() (string, bool) { return s.TaskID, s.TaskID != "" }

func (s *StoreData) Dependencies() []string { return s.Deps }

func (s *StoreData) PausesFilter() bool { return false }

func (s *StoreData) Apply(ctx *pctx.Context) Outcome {
	var firstErr error
	for _, entry := range s.Entries {
		state, err := expr.EvalValue(entry.Expr, ctx, s.RequestData)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if state.IsPending() {
			return Requeued(s)
		}
		val, _ := state.Value()
		raw, err := encodeValue(val.Value())
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ctx.SetAttribute(entry.Path, raw)
	}
	if firstErr != nil {
		return Failed(fmt.Errorf("task: store_data: %w", firstErr))
	}
	return Done()
}
