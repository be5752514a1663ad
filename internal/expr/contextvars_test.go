package expr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kuadrant/policy-pipeline/internal/attr"
	"github.com/kuadrant/policy-pipeline/internal/pctx"
)

func newTestContext(resolver *pctx.MockResolver) *pctx.Context {
	return pctx.New(resolver, nil, attr.NewDefaultTypeRegistry(), nil)
}

func TestEvalPredicateSourceRemoteAddress(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)
	prog, err := env.Compile(`source.remote_address != '50.0.0.1'`)
	require.NoError(t, err)

	resolver := pctx.NewMockResolver()
	resolver.Properties[attr.NewPath("source", "remote_address").String()] = attr.StringProperty("127.0.0.1")
	ctx := newTestContext(resolver)

	state, err := EvalPredicate(prog, ctx, nil)
	require.NoError(t, err)
	v, ok := state.Value()
	require.True(t, ok)
	require.True(t, v)
}

func TestEvalPredicatePendingPropagates(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)
	prog, err := env.Compile(`request.host == 'example.com'`)
	require.NoError(t, err)

	resolver := pctx.NewMockResolver()
	resolver.AlwaysPending[attr.NewPath("request", "host").String()] = true
	ctx := newTestContext(resolver)

	state, err := EvalPredicate(prog, ctx, nil)
	require.NoError(t, err)
	require.True(t, state.IsPending())
}

func TestEvalPredicateUsesRequestData(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)
	tierExpr, err := env.CompileValue(`"gold"`)
	require.NoError(t, err)
	prog, err := env.Compile(`vars.tier == "gold"`)
	require.NoError(t, err)

	resolver := pctx.NewMockResolver()
	ctx := newTestContext(resolver)

	state, err := EvalPredicate(prog, ctx, RequestData{"tier": tierExpr})
	require.NoError(t, err)
	v, ok := state.Value()
	require.True(t, ok)
	require.True(t, v)
}

func TestEvalPredicateNonBooleanIsError(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)
	prog, err := env.CompileValue(`"not-a-bool"`)
	require.NoError(t, err)

	resolver := pctx.NewMockResolver()
	ctx := newTestContext(resolver)

	_, err = EvalPredicate(prog, ctx, nil)
	require.Error(t, err)
}
