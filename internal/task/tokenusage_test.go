package task

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kuadrant/policy-pipeline/internal/pctx"
	"github.com/kuadrant/policy-pipeline/internal/sse"
)

func feedResponseBody(ctx *pctx.Context, resolver *pctx.MockResolver, chunk string, eos bool) {
	resolver.Body = append(resolver.Body, []byte(chunk)...)
	ctx.SetCurrentResponseBodyBufferSize(len(resolver.Body), eos)
}

func TestTokenUsageRequeuesMidStream(t *testing.T) {
	resolver := pctx.NewMockResolver()
	ctx := newContextWithResolver(resolver)

	tu := &TokenUsage{TaskID: "usage"}
	feedResponseBody(ctx, resolver, "data:one\n\n", false)

	outcome := tu.Apply(ctx)
	require.Equal(t, KindRequeued, outcome.Kind)
	require.Equal(t, []Task{tu}, outcome.Next)
}

func TestTokenUsageFailsWhenStreamEndsWithFewerThanTwoEvents(t *testing.T) {
	resolver := pctx.NewMockResolver()
	ctx := newContextWithResolver(resolver)

	tu := &TokenUsage{TaskID: "usage"}
	feedResponseBody(ctx, resolver, "data:one\n\n", true)

	outcome := tu.Apply(ctx)
	require.Equal(t, KindFailed, outcome.Kind)
}

func TestTokenUsageDoneWithLastTwoEventsOnEOS(t *testing.T) {
	resolver := pctx.NewMockResolver()
	ctx := newContextWithResolver(resolver)

	var captured []sse.Event
	tu := &TokenUsage{TaskID: "usage", OnUsage: func(events []sse.Event) { captured = events }}

	feedResponseBody(ctx, resolver, "data:one\n\n", false)
	outcome := tu.Apply(ctx)
	require.Equal(t, KindRequeued, outcome.Kind)

	feedResponseBody(ctx, resolver, "data:two\n\ndata:three\n\n", true)
	outcome = tu.Apply(ctx)
	require.Equal(t, KindDone, outcome.Kind)

	require.Len(t, captured, 2)
	require.Equal(t, "two", captured[0].Data())
	require.Equal(t, "three", captured[1].Data())
}
