// Package expr implements the predicate / expression evaluator: CEL sources
// compiled once at configure-time, then evaluated per request against a
// Context. Identifiers resolve against a fixed set of top-level namespaces
// (request, response, source, vars, now); Pending propagates through CEL's
// own partial-evaluation support whenever a referenced attribute is not yet
// observable in the current filter phase.
package expr

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// Environment builds and compiles CEL programs against the pipeline's
// request context.
type Environment struct {
	env *cel.Env
}

// NewEnvironment declares the CEL variables exposed to predicates and
// request-data expressions.
func NewEnvironment() (*Environment, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.DynType),
		cel.Variable("response", cel.DynType),
		cel.Variable("source", cel.DynType),
		cel.Variable("vars", cel.DynType),
		cel.Variable("now", cel.DynType),
		cel.Function("lookup",
			cel.Overload("lookup_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(lookupMapValue),
			),
		),
		cel.HomogeneousAggregateLiterals(),
	)
	if err != nil {
		return nil, fmt.Errorf("expr: build environment: %w", err)
	}
	return &Environment{env: env}, nil
}

// Program wraps a compiled CEL program.
type Program struct {
	source   string
	program  cel.Program
	wantBool bool
	literal  *string
}

// Literal wraps a fixed string as a Program without compiling a CEL source,
// for values only known at request time rather than declared in
// configuration (e.g. a header value decoded from an authorization
// service's response). Only EvalValue supports a literal Program.
func Literal(value string) Program {
	return Program{source: value, literal: &value}
}

// Compile prepares the program for execution, ensuring the expression yields
// a boolean. Used for predicates; compile errors are configure-time failures.
func (e *Environment) Compile(expression string) (Program, error) {
	return e.compile(expression, true)
}

// CompileValue prepares the program for execution without enforcing a
// boolean return type, used for request-data extraction where CEL programs
// can yield arbitrary values.
func (e *Environment) CompileValue(expression string) (Program, error) {
	return e.compile(expression, false)
}

// Source returns the original CEL expression for logging.
func (p Program) Source() string { return p.source }

func (e *Environment) compile(expression string, wantBool bool) (Program, error) {
	trimmed := strings.TrimSpace(expression)
	if trimmed == "" {
		return Program{}, fmt.Errorf("expr: expression required")
	}
	ast, issues := e.env.Compile(trimmed)
	if issues != nil && issues.Err() != nil {
		return Program{}, fmt.Errorf("expr: compile %q: %w", trimmed, issues.Err())
	}
	if wantBool {
		if t := ast.OutputType(); t != cel.BoolType && t != cel.DynType {
			return Program{}, fmt.Errorf("expr: %q must return bool, got %s", trimmed, cel.FormatCELType(t))
		}
	}
	program, err := e.env.Program(ast, cel.EvalOptions(cel.OptPartialEval))
	if err != nil {
		return Program{}, fmt.Errorf("expr: program %q: %w", trimmed, err)
	}
	return Program{source: trimmed, program: program, wantBool: wantBool}, nil
}

func lookupMapValue(mapVal ref.Val, key ref.Val) ref.Val {
	mapper, ok := mapVal.(traits.Mapper)
	if !ok {
		return types.NewErr("expr: lookup only supports string-key maps")
	}
	value, found := mapper.Find(key)
	if !found {
		return types.NullValue
	}
	if value == nil {
		return types.NullValue
	}
	return value
}
