package task

import (
	"fmt"
	"time"

	"github.com/kuadrant/policy-pipeline/internal/attr"
	"github.com/kuadrant/policy-pipeline/internal/pctx"
)

// RateLimitResult is the decoded outcome of a ShouldRateLimit call.
type RateLimitResult struct {
	OverLimit       bool
	ResponseStatus  int32
	ResponseHeaders *attr.Headers
	ResponseBody    []byte
}

// RateLimitCodec builds the wire request and decodes the service's
// response; it is the boundary to the envoy.service.ratelimit.v3 protobuf
// contract. Report-only requests (service type ratelimit-report) use the
// same RPC with HitsAddend set and ignore the OverLimit verdict.
type RateLimitCodec interface {
	EncodeShouldRateLimit(ctx *pctx.Context) ([]byte, error)
	DecodeRateLimitResponse(status int32, body []byte) (RateLimitResult, error)
}

// RateLimit dispatches a ShouldRateLimit call and defers on the returned
// token. On resume, OverLimit preempts the pipeline with a 429 reply.
type RateLimit struct {
	TaskID     string
	Deps       []string
	Upstream   string
	Timeout    time.Duration
	Codec      RateLimitCodec
	ReportOnly bool
}

func (r *RateLimit) ID() (string, bool) { return r.TaskID, r.TaskID != "" }

func (r *RateLimit) Dependencies() []string { return r.Deps }

func (r *RateLimit) PausesFilter() bool { return true }

func (r *RateLimit) Apply(ctx *pctx.Context) Outcome {
	msg, err := r.Codec.EncodeShouldRateLimit(ctx)
	if err != nil {
		return Failed(fmt.Errorf("task: ratelimit: encode: %w", err))
	}
	token := ctx.DispatchGRPC(r.Upstream, "envoy.service.ratelimit.v3.RateLimitService", "ShouldRateLimit", msg, r.Timeout)
	pending := PendingTask{
		TaskID: r.TaskID,
		Deps:   r.Deps,
		Paused: true,
		Resume: r.resume,
	}
	return DeferredOutcome(token, pending)
}

func (r *RateLimit) resume(ctx *pctx.Context) Outcome {
	status := ctx.GRPCResponseStatus()
	if status < 0 {
		return Failed(fmt.Errorf("task: ratelimit: dispatch failed"))
	}
	body := ctx.GetGRPCResponse(0)
	result, err := r.Codec.DecodeRateLimitResponse(status, body)
	if err != nil {
		return Failed(fmt.Errorf("task: ratelimit: decode: %w", err))
	}
	if r.ReportOnly {
		return Done()
	}
	if result.OverLimit {
		respStatus := result.ResponseStatus
		if respStatus == 0 {
			respStatus = 429
		}
		return TerminateOutcome(&SendReply{
			Status:  respStatus,
			Headers: result.ResponseHeaders,
			Body:    result.ResponseBody,
		})
	}
	return Done()
}
