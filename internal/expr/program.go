package expr

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// EvalBool executes the program against a fully-resolved activation and
// coerces the result to bool.
func (p Program) EvalBool(vars map[string]any) (bool, error) {
	if p.program == nil {
		return false, fmt.Errorf("expr: program not initialized")
	}
	if !p.wantBool {
		return false, fmt.Errorf("expr: program %q does not return a boolean", p.source)
	}
	val, _, err := p.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("expr: eval %q: %w", p.source, err)
	}
	switch v := val.(type) {
	case types.Bool:
		return bool(v), nil
	case ref.Val:
		if v.Type() == types.BoolType {
			if b, ok := v.Value().(bool); ok {
				return b, nil
			}
		}
	}
	return false, fmt.Errorf("expr: %q yielded non-bool result %T", p.source, val)
}

// Eval executes the program against a fully-resolved activation and returns
// the native Go value.
func (p Program) Eval(vars map[string]any) (any, error) {
	if p.program == nil {
		return nil, fmt.Errorf("expr: program not initialized")
	}
	val, _, err := p.program.Eval(vars)
	if err != nil {
		return nil, fmt.Errorf("expr: eval %q: %w", p.source, err)
	}
	return val.Value(), nil
}

// EvalPartial executes the program against a partially-resolved activation;
// vars carries the values known so far and unknowns marks attribute patterns
// (e.g. cel.AttributePattern("request").QualString("host")) whose values are
// not yet observable. The returned ref.Val is types.Unknown when the result
// depends on one of those unresolved attributes.
func (p Program) EvalPartial(vars map[string]any, unknowns ...*cel.AttributePattern) (ref.Val, error) {
	if p.program == nil {
		return nil, fmt.Errorf("expr: program not initialized")
	}
	activation, err := cel.PartialVars(vars, unknowns...)
	if err != nil {
		return nil, fmt.Errorf("expr: partial activation %q: %w", p.source, err)
	}
	val, _, err := p.program.Eval(activation)
	if err != nil && !types.IsUnknown(val) {
		return nil, fmt.Errorf("expr: eval %q: %w", p.source, err)
	}
	return val, nil
}
