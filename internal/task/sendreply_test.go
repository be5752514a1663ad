package task

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kuadrant/policy-pipeline/internal/attr"
	"github.com/kuadrant/policy-pipeline/internal/pctx"
)

type fakeResponder struct {
	status  int32
	headers *attr.Headers
	body    []byte
	called  bool
}

func (f *fakeResponder) SendReply(status int32, headers *attr.Headers, body []byte) {
	f.called = true
	f.status = status
	f.headers = headers
	f.body = body
}

func TestSendReplyInvokesResponderAndCompletes(t *testing.T) {
	resolver := pctx.NewMockResolver()
	ctx := pctx.New(resolver, nil, attr.NewTypeRegistry(), nil)

	responder := &fakeResponder{}
	ctx.SetResponder(responder)
	s := &SendReply{Status: 403, Body: []byte("denied")}

	outcome := s.Apply(ctx)
	require.Equal(t, KindDone, outcome.Kind)
	require.True(t, responder.called)
	require.EqualValues(t, 403, responder.status)
	require.Equal(t, []byte("denied"), responder.body)

	id, ok := s.ID()
	require.False(t, ok)
	require.Empty(t, id)
	require.False(t, s.PausesFilter())
}
