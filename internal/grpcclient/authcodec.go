package grpcclient

import (
	"fmt"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	"google.golang.org/genproto/googleapis/rpc/code"
	"google.golang.org/protobuf/proto"

	"github.com/kuadrant/policy-pipeline/internal/attr"
	"github.com/kuadrant/policy-pipeline/internal/expr"
	"github.com/kuadrant/policy-pipeline/internal/pctx"
	"github.com/kuadrant/policy-pipeline/internal/task"
)

// AuthCodec builds envoy.service.auth.v3.CheckRequest messages from context
// attributes and decodes CheckResponse, satisfying task.AuthCodec. It is the
// concrete realization of the wire-format codec the spec calls an external
// collaborator.
type AuthCodec struct{}

// EncodeCheckRequest implements task.AuthCodec.
func (AuthCodec) EncodeCheckRequest(ctx *pctx.Context) ([]byte, error) {
	httpReq := &authv3.AttributeContext_HttpRequest{
		Headers: map[string]string{},
	}

	if headers, ok := ctx.GetMap(pctx.RequestHeaderMap).Value(); ok && headers != nil {
		httpReq.Headers = headers.Map()
		if method, ok := headers.GetFirst(":method"); ok {
			httpReq.Method = method
		}
		if path, ok := headers.GetFirst(":path"); ok {
			httpReq.Path = path
		}
		if authority, ok := headers.GetFirst(":authority"); ok {
			httpReq.Host = authority
		}
		if scheme, ok := headers.GetFirst(":scheme"); ok {
			httpReq.Scheme = scheme
		}
	}

	attrCtx := &authv3.AttributeContext{
		Request: &authv3.AttributeContext_Request{Http: httpReq},
	}

	if addr, ok := ctx.GetAttribute(attr.NewPath("source", "remote_address")).Value(); ok {
		attrCtx.Source = &authv3.AttributeContext_Peer{
			Address: socketAddress(addr.AsString()),
		}
	}

	return proto.Marshal(&authv3.CheckRequest{Attributes: attrCtx})
}

// DecodeCheckResponse implements task.AuthCodec.
func (AuthCodec) DecodeCheckResponse(status int32, body []byte) (task.AuthResult, error) {
	if status < 0 {
		return task.AuthResult{}, fmt.Errorf("grpcclient: auth: dispatch failed")
	}
	resp := &authv3.CheckResponse{}
	if err := proto.Unmarshal(body, resp); err != nil {
		return task.AuthResult{}, fmt.Errorf("grpcclient: auth: decode response: %w", err)
	}

	if resp.GetStatus().GetCode() != int32(code.Code_OK) {
		denied := resp.GetDeniedResponse()
		result := task.AuthResult{
			Allowed:        false,
			ResponseStatus: int32(denied.GetStatus().GetCode()),
			ResponseBody:   []byte(denied.GetBody()),
		}
		if result.ResponseStatus == 0 {
			result.ResponseStatus = 403
		}
		result.ResponseHeaders = headerOptionsToHeaders(denied.GetHeaders())
		return result, nil
	}

	ok := resp.GetOkResponse()
	result := task.AuthResult{Allowed: true}
	for _, hvo := range ok.GetHeaders() {
		result.HeaderMutations = append(result.HeaderMutations, task.HeaderMutation{
			Op:    mutationOp(hvo),
			Name:  hvo.GetHeader().GetKey(),
			Value: expr.Literal(hvo.GetHeader().GetValue()),
		})
	}
	for _, name := range ok.GetHeadersToRemove() {
		result.HeaderMutations = append(result.HeaderMutations, task.HeaderMutation{
			Op:   task.HeaderRemove,
			Name: name,
		})
	}
	return result, nil
}

func mutationOp(hvo *corev3.HeaderValueOption) task.HeaderOp {
	if hvo.GetAppendAction() == corev3.HeaderValueOption_APPEND_IF_EXISTS_OR_ADD {
		return task.HeaderAdd
	}
	return task.HeaderSet
}

func headerOptionsToHeaders(opts []*corev3.HeaderValueOption) *attr.Headers {
	if len(opts) == 0 {
		return nil
	}
	out := attr.NewHeaders()
	for _, o := range opts {
		value := o.GetHeader().GetValue()
		if value == "" && len(o.GetHeader().GetRawValue()) > 0 {
			value = string(o.GetHeader().GetRawValue())
		}
		out.Append(o.GetHeader().GetKey(), value)
	}
	return out
}

func socketAddress(hostport string) *corev3.Address {
	return &corev3.Address{
		Address: &corev3.Address_SocketAddress{
			SocketAddress: &corev3.SocketAddress{
				Address:       hostport,
				PortSpecifier: &corev3.SocketAddress_PortValue{PortValue: 0},
			},
		},
	}
}
