package extproc

import (
	"github.com/kuadrant/policy-pipeline/internal/attr"
)

// responder captures a single task.SendReply invocation for the stream
// handler to translate into an ImmediateResponse. A pipeline issues at most
// one SendReply before going terminal, so replied is enough to detect
// reentry.
type responder struct {
	replied bool
	status  int32
	headers *attr.Headers
	body    []byte
}

func (r *responder) SendReply(status int32, headers *attr.Headers, body []byte) {
	r.replied = true
	r.status = status
	r.headers = headers
	r.body = body
}
