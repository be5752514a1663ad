package task

import (
	"fmt"
	"time"

	"github.com/kuadrant/policy-pipeline/internal/attr"
	"github.com/kuadrant/policy-pipeline/internal/pctx"
)

// AuthResult is the decoded outcome of an authorization Check call.
type AuthResult struct {
	Allowed         bool
	HeaderMutations []HeaderMutation
	ResponseStatus  int32
	ResponseHeaders *attr.Headers
	ResponseBody    []byte
}

// AuthCodec builds the wire request from context attributes and decodes
// the service's response; it is the boundary to the envoy.service.auth.v3
// protobuf contract.
type AuthCodec interface {
	EncodeCheckRequest(ctx *pctx.Context) ([]byte, error)
	DecodeCheckResponse(status int32, body []byte) (AuthResult, error)
}

// Auth dispatches an authorization Check call and defers on the returned
// token. On resume, Denied preempts the pipeline with a synthesized reply;
// Allowed with header mutations enqueues a follow-up ModifyHeaders task.
type Auth struct {
	TaskID   string
	Deps     []string
	Upstream string
	Service  string
	Timeout  time.Duration
	Codec    AuthCodec
}

func (a *Auth) ID() (string, bool) { return a.TaskID, a.TaskID != "" }

func (a *Auth) Dependencies() []string { return a.Deps }

func (a *Auth) PausesFilter() bool { return true }

func (a *Auth) Apply(ctx *pctx.Context) Outcome {
	msg, err := a.Codec.EncodeCheckRequest(ctx)
	if err != nil {
		return Failed(fmt.Errorf("task: auth: encode: %w", err))
	}
	token := ctx.DispatchGRPC(a.Upstream, "envoy.service.auth.v3.Authorization", "Check", msg, a.Timeout)
	pending := PendingTask{
		TaskID: a.TaskID,
		Deps:   a.Deps,
		Paused: true,
		Resume: a.resume,
	}
	return DeferredOutcome(token, pending)
}

func (a *Auth) resume(ctx *pctx.Context) Outcome {
	status := ctx.GRPCResponseStatus()
	if status < 0 {
		return Failed(fmt.Errorf("task: auth: dispatch failed"))
	}
	body := ctx.GetGRPCResponse(0)
	result, err := a.Codec.DecodeCheckResponse(status, body)
	if err != nil {
		return Failed(fmt.Errorf("task: auth: decode: %w", err))
	}
	if !result.Allowed {
		return TerminateOutcome(&SendReply{
			Status:  result.ResponseStatus,
			Headers: result.ResponseHeaders,
			Body:    result.ResponseBody,
		})
	}
	if len(result.HeaderMutations) > 0 {
		return Requeued(&ModifyHeaders{
			Kind:      pctx.RequestHeaderMap,
			Mutations: result.HeaderMutations,
		})
	}
	return Done()
}
