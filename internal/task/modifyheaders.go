package task

import (
	"fmt"

	"github.com/kuadrant/policy-pipeline/internal/expr"
	"github.com/kuadrant/policy-pipeline/internal/pctx"
)

// HeaderOp identifies the mutation a HeaderMutation applies.
type HeaderOp int

const (
	HeaderAdd HeaderOp = iota
	HeaderSet
	HeaderRemove
)

// HeaderMutation describes one add/set/remove operation against a header
// map. Value is left as the zero Program for HeaderRemove and is not
// evaluated.
type HeaderMutation struct {
	Op    HeaderOp
	Name  string
	Value expr.Program
}

// ModifyHeaders reads the current request or response header map, applies
// its mutations in order, and writes the map back. If the map is not yet
// available in the current filter phase, it requeues itself.
type ModifyHeaders struct {
	TaskID      string
	Deps        []string
	Kind        pctx.MapKind
	Mutations   []HeaderMutation
	RequestData expr.RequestData
}

func (m *ModifyHeaders) ID() (string, bool) { return m.TaskID, m.TaskID != "" }

func (m *ModifyHeaders) Dependencies() []string { return m.Deps }

func (m *ModifyHeaders) PausesFilter() bool { return false }

func (m *ModifyHeaders) Apply(ctx *pctx.Context) Outcome {
	state := ctx.GetMap(m.Kind)
	if state.IsError() {
		return Failed(fmt.Errorf("task: modify_headers: %w", state.Error()))
	}
	if state.IsPending() {
		return Requeued(m)
	}
	live, _ := state.Value()
	headers := live.Clone()

	for _, mutation := range m.Mutations {
		var value string
		if mutation.Op != HeaderRemove {
			valState, err := expr.EvalValue(mutation.Value, ctx, m.RequestData)
			if err != nil {
				return Failed(fmt.Errorf("task: modify_headers: %w", err))
			}
			if valState.IsPending() {
				return Requeued(m)
			}
			v, _ := valState.Value()
			value = fmt.Sprintf("%v", v.Value())
		}
		switch mutation.Op {
		case HeaderAdd:
			headers.Append(mutation.Name, value)
		case HeaderSet:
			headers.Set(mutation.Name, value)
		case HeaderRemove:
			headers.RemoveAll(mutation.Name)
		}
	}

	if err := ctx.SetMap(m.Kind, headers); err != nil {
		return Failed(fmt.Errorf("task: modify_headers: write: %w", err))
	}
	return Done()
}
