package expr

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/kuadrant/policy-pipeline/internal/attr"
	"github.com/kuadrant/policy-pipeline/internal/pctx"
	"github.com/kuadrant/policy-pipeline/internal/pipelineerr"
)

// RequestData is the shared, immutable table of compiled request-data
// expressions every Pipeline evaluates "vars" against.
type RequestData map[string]Program

// EvalPredicate evaluates p as a boolean predicate against ctx. Pending
// propagates whenever p references an attribute not yet observable in the
// current filter phase.
func EvalPredicate(p Program, ctx *pctx.Context, data RequestData) (attr.State[bool], error) {
	val, pending, err := evalAgainstContext(p, ctx, data)
	if err != nil {
		return attr.Err[bool](err), err
	}
	if pending {
		return attr.Pending[bool](), nil
	}
	b, ok := val.Value().(bool)
	if !ok {
		nonBool := pipelineerr.Newf(pipelineerr.EvaluationError, "expr.EvalPredicate", "predicate %q yielded non-boolean result", p.Source())
		return attr.Err[bool](nonBool), nonBool
	}
	return attr.Avail(b), nil
}

// EvalValue evaluates p as a value expression against ctx, returning the raw
// CEL value. Pending propagates the same way as EvalPredicate.
func EvalValue(p Program, ctx *pctx.Context, data RequestData) (attr.State[ref.Val], error) {
	val, pending, err := evalAgainstContext(p, ctx, data)
	if err != nil {
		return attr.Err[ref.Val](err), err
	}
	if pending {
		return attr.Pending[ref.Val](), nil
	}
	return attr.Avail(val), nil
}

func evalAgainstContext(p Program, ctx *pctx.Context, data RequestData) (ref.Val, bool, error) {
	if p.literal != nil {
		return types.String(*p.literal), false, nil
	}
	vars := map[string]any{"now": time.Now()}
	var unknowns []*cel.AttributePattern

	reqVar, reqUnknown := buildRequestVar(ctx)
	vars["request"] = reqVar
	unknowns = append(unknowns, reqUnknown...)

	respVar, respUnknown := buildResponseVar(ctx)
	vars["response"] = respVar
	unknowns = append(unknowns, respUnknown...)

	srcVar, srcUnknown := buildSourceVar(ctx)
	vars["source"] = srcVar
	unknowns = append(unknowns, srcUnknown...)

	varsMap, varsUnknown := buildVarsVar(ctx, data)
	vars["vars"] = varsMap
	unknowns = append(unknowns, varsUnknown...)

	val, err := p.EvalPartial(vars, unknowns...)
	if err != nil {
		return nil, false, err
	}
	if types.IsUnknown(val) {
		return nil, true, nil
	}
	if types.IsError(val) {
		return nil, false, fmt.Errorf("expr: %v", val)
	}
	return val, false, nil
}

func buildRequestVar(ctx *pctx.Context) (map[string]any, []*cel.AttributePattern) {
	m := map[string]any{}
	var unknowns []*cel.AttributePattern
	for field, path := range map[string]attr.Path{
		"host":   attr.NewPath("request", "host"),
		"method": attr.NewPath("request", "method"),
		"path":   attr.NewPath("request", "path"),
	} {
		state := ctx.GetAttribute(path)
		if v, ok := state.Value(); ok {
			m[field] = v.AsString()
		} else if state.IsPending() {
			unknowns = append(unknowns, cel.AttributePattern("request").QualString(field))
		}
	}
	if hdrs := ctx.GetMap(pctx.RequestHeaderMap); hdrs.IsAvailable() {
		if h, ok := hdrs.Value(); ok {
			m["headers"] = h.Map()
		}
	} else if hdrs.IsPending() {
		unknowns = append(unknowns, cel.AttributePattern("request").QualString("headers"))
	}
	return m, unknowns
}

func buildResponseVar(ctx *pctx.Context) (map[string]any, []*cel.AttributePattern) {
	m := map[string]any{}
	var unknowns []*cel.AttributePattern
	state := ctx.GetAttribute(attr.NewPath("response", "code"))
	if v, ok := state.Value(); ok {
		m["code"] = v.AsString()
	} else if state.IsPending() {
		unknowns = append(unknowns, cel.AttributePattern("response").QualString("code"))
	}
	if hdrs := ctx.GetMap(pctx.ResponseHeaderMap); hdrs.IsAvailable() {
		if h, ok := hdrs.Value(); ok {
			m["headers"] = h.Map()
		}
	} else if hdrs.IsPending() {
		unknowns = append(unknowns, cel.AttributePattern("response").QualString("headers"))
	}
	return m, unknowns
}

func buildSourceVar(ctx *pctx.Context) (map[string]any, []*cel.AttributePattern) {
	m := map[string]any{}
	var unknowns []*cel.AttributePattern
	for field, path := range map[string]attr.Path{
		"address":        attr.NewPath("source", "address"),
		"remote_address": attr.NewPath("source", "remote_address"),
	} {
		state := ctx.GetAttribute(path)
		if v, ok := state.Value(); ok {
			m[field] = v.AsString()
		} else if state.IsPending() {
			unknowns = append(unknowns, cel.AttributePattern("source").QualString(field))
		}
	}
	return m, unknowns
}

func buildVarsVar(ctx *pctx.Context, data RequestData) (map[string]any, []*cel.AttributePattern) {
	m := map[string]any{}
	var unknowns []*cel.AttributePattern
	for name, prog := range data {
		val, pending, err := evalAgainstContext(prog, ctx, nil)
		if err != nil || pending {
			unknowns = append(unknowns, cel.AttributePattern("vars").QualString(name))
			continue
		}
		m[name] = val.Value()
	}
	return m, unknowns
}
