package grpcclient

import (
	"fmt"

	ratelimitv3 "github.com/envoyproxy/go-control-plane/envoy/service/ratelimit/v3"
	rlv3 "github.com/envoyproxy/go-control-plane/envoy/extensions/common/ratelimit/v3"
	"google.golang.org/protobuf/proto"

	"github.com/kuadrant/policy-pipeline/internal/attr"
	"github.com/kuadrant/policy-pipeline/internal/pctx"
	"github.com/kuadrant/policy-pipeline/internal/task"
)

// RateLimitCodec builds envoy.service.ratelimit.v3.RateLimitRequest messages
// and decodes RateLimitResponse, satisfying task.RateLimitCodec. Domain is
// the rate-limit domain every descriptor is evaluated under; it is fixed
// per codec instance (one per configured ratelimit/ratelimit-check/
// ratelimit-report service).
type RateLimitCodec struct {
	Domain string
}

// EncodeShouldRateLimit implements task.RateLimitCodec. The descriptor is
// built from the request's host and synthesized remote address, the two
// dimensions every rate-limit policy in this system keys off; richer
// per-route descriptors are a service-side (limitador) concern, not this
// codec's.
func (c RateLimitCodec) EncodeShouldRateLimit(ctx *pctx.Context) ([]byte, error) {
	descriptor := &rlv3.RateLimitDescriptor{}

	if host, ok := ctx.GetAttribute(attr.NewPath("request", "host")).Value(); ok {
		descriptor.Entries = append(descriptor.Entries, &rlv3.RateLimitDescriptor_Entry{
			Key:   "generic_key",
			Value: host.AsString(),
		})
	}
	if remote, ok := ctx.GetAttribute(attr.NewPath("source", "remote_address")).Value(); ok {
		descriptor.Entries = append(descriptor.Entries, &rlv3.RateLimitDescriptor_Entry{
			Key:   "remote_address",
			Value: remote.AsString(),
		})
	}

	domain := c.Domain
	if domain == "" {
		domain = "policy-pipeline"
	}

	req := &ratelimitv3.RateLimitRequest{
		Domain:      domain,
		Descriptors: []*rlv3.RateLimitDescriptor{descriptor},
		HitsAddend:  1,
	}
	return proto.Marshal(req)
}

// DecodeRateLimitResponse implements task.RateLimitCodec.
func (RateLimitCodec) DecodeRateLimitResponse(status int32, body []byte) (task.RateLimitResult, error) {
	if status < 0 {
		return task.RateLimitResult{}, fmt.Errorf("grpcclient: ratelimit: dispatch failed")
	}
	resp := &ratelimitv3.RateLimitResponse{}
	if err := proto.Unmarshal(body, resp); err != nil {
		return task.RateLimitResult{}, fmt.Errorf("grpcclient: ratelimit: decode response: %w", err)
	}

	if resp.GetOverallCode() != ratelimitv3.RateLimitResponse_OK {
		return task.RateLimitResult{
			OverLimit:       true,
			ResponseStatus:  429,
			ResponseHeaders: headerOptionsToHeaders(resp.GetResponseHeadersToAdd()),
		}, nil
	}
	return task.RateLimitResult{OverLimit: false}, nil
}
