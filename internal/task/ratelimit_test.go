package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuadrant/policy-pipeline/internal/pctx"
)

type fakeRateLimitCodec struct {
	result RateLimitResult
	err    error
}

func (f *fakeRateLimitCodec) EncodeShouldRateLimit(*pctx.Context) ([]byte, error) {
	return []byte("req"), nil
}

func (f *fakeRateLimitCodec) DecodeRateLimitResponse(int32, []byte) (RateLimitResult, error) {
	return f.result, f.err
}

func TestRateLimitOverLimitTerminatesWith429(t *testing.T) {
	ctx := newTestContext()
	codec := &fakeRateLimitCodec{result: RateLimitResult{OverLimit: true}}
	r := &RateLimit{TaskID: "rl", Upstream: "ratelimit", Codec: codec, Timeout: time.Second}

	outcome := r.Apply(ctx)
	require.Equal(t, KindDeferred, outcome.Kind)
	require.True(t, r.PausesFilter())

	ctx.SetGRPCResponse(0, nil)
	resumed := outcome.Pending.Apply(ctx)
	require.Equal(t, KindTerminate, resumed.Kind)
	reply, ok := resumed.Terminal.(*SendReply)
	require.True(t, ok)
	require.EqualValues(t, 429, reply.Status)
}

func TestRateLimitUnderLimitDone(t *testing.T) {
	ctx := newTestContext()
	codec := &fakeRateLimitCodec{result: RateLimitResult{OverLimit: false}}
	r := &RateLimit{TaskID: "rl", Upstream: "ratelimit", Codec: codec, Timeout: time.Second}

	outcome := r.Apply(ctx)
	ctx.SetGRPCResponse(0, nil)
	resumed := outcome.Pending.Apply(ctx)
	require.Equal(t, KindDone, resumed.Kind)
}

func TestRateLimitReportOnlyIgnoresOverLimit(t *testing.T) {
	ctx := newTestContext()
	codec := &fakeRateLimitCodec{result: RateLimitResult{OverLimit: true}}
	r := &RateLimit{TaskID: "rl", Upstream: "ratelimit", Codec: codec, Timeout: time.Second, ReportOnly: true}

	outcome := r.Apply(ctx)
	ctx.SetGRPCResponse(0, nil)
	resumed := outcome.Pending.Apply(ctx)
	require.Equal(t, KindDone, resumed.Kind)
}
