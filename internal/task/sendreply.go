package task

import (
	"github.com/kuadrant/policy-pipeline/internal/attr"
	"github.com/kuadrant/policy-pipeline/internal/pctx"
)

// SendReply is a terminal task: it sends an immediate response and signals
// pipeline teardown. It never defers and never requeues. The reply is
// delivered through the Context's Responder rather than a field on the
// task itself, since send-local-response is inherently per-request: a
// Blueprint's action templates are compiled once and shared by every
// request, so nothing at compile time can supply a single stream's host
// callback.
type SendReply struct {
	Status  int32
	Headers *attr.Headers
	Body    []byte
}

func (s *SendReply) ID() (string, bool) { return "", false }

func (s *SendReply) Dependencies() []string { return nil }

func (s *SendReply) PausesFilter() bool { return false }

func (s *SendReply) Apply(ctx *pctx.Context) Outcome {
	ctx.SendLocalResponse(s.Status, s.Headers, s.Body)
	return Done()
}
