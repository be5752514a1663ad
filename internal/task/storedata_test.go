package task

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kuadrant/policy-pipeline/internal/attr"
	"github.com/kuadrant/policy-pipeline/internal/expr"
	"github.com/kuadrant/policy-pipeline/internal/pctx"
)

func mustCompileValue(t *testing.T, env *expr.Environment, source string) expr.Program {
	t.Helper()
	p, err := env.CompileValue(source)
	require.NoError(t, err)
	return p
}

func TestStoreDataWritesAllEntriesThenDone(t *testing.T) {
	env, err := expr.NewEnvironment()
	require.NoError(t, err)

	resolver := pctx.NewMockResolver()
	resolver.Properties[attr.NewPath("request", "host").String()] = attr.StringProperty("example.com")
	target := attr.NewPath("vars", "chosen_host")
	reg := attr.NewDefaultTypeRegistry()
	reg.RegisterString(target)
	ctx := pctx.New(resolver, nil, reg, nil)

	st := &StoreData{
		TaskID:  "store",
		Entries: []DataEntry{{Path: target, Expr: mustCompileValue(t, env, "request.host")}},
	}

	outcome := st.Apply(ctx)
	require.Equal(t, KindDone, outcome.Kind)

	state := ctx.GetAttribute(target)
	val, ok := state.Value()
	require.True(t, ok)
	require.Equal(t, "example.com", val.AsString())
}

func TestStoreDataRequeuesWhenPending(t *testing.T) {
	env, err := expr.NewEnvironment()
	require.NoError(t, err)

	resolver := pctx.NewMockResolver()
	ctx := pctx.New(resolver, nil, attr.NewTypeRegistry(), nil)

	st := &StoreData{
		Entries: []DataEntry{{Path: attr.NewPath("vars", "x"), Expr: mustCompileValue(t, env, "request.host")}},
	}

	outcome := st.Apply(ctx)
	require.Equal(t, KindRequeued, outcome.Kind)
	require.Equal(t, []Task{st}, outcome.Next)
}

func TestStoreDataAttemptsEveryEntryBeforeFailing(t *testing.T) {
	env, err := expr.NewEnvironment()
	require.NoError(t, err)

	resolver := pctx.NewMockResolver()
	resolver.Properties[attr.NewPath("request", "host").String()] = attr.StringProperty("example.com")
	good := attr.NewPath("vars", "good")
	reg := attr.NewDefaultTypeRegistry()
	reg.RegisterString(good)
	ctx := pctx.New(resolver, nil, reg, nil)

	st := &StoreData{
		Entries: []DataEntry{
			{Path: good, Expr: mustCompileValue(t, env, "request.host")},
			{Path: attr.NewPath("vars", "bad"), Expr: mustCompileValue(t, env, "[1, 2]")},
		},
	}

	outcome := st.Apply(ctx)
	require.Equal(t, KindFailed, outcome.Kind)
	require.Error(t, outcome.Err)

	state := ctx.GetAttribute(good)
	val, ok := state.Value()
	require.True(t, ok)
	require.Equal(t, "example.com", val.AsString())
}
