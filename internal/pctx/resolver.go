package pctx

import (
	"strings"

	"github.com/kuadrant/policy-pipeline/internal/attr"
)

// Resolver is the capability boundary to the host: attribute reads, header
// map reads/writes, and buffered response-body reads. It has two concrete
// implementations: HostResolver, fed by the ext_proc stream as
// ProcessingRequest messages arrive, and MockResolver, used by tests.
type Resolver interface {
	GetAttribute(path attr.Path) attr.State[attr.TypedProperty]
	GetMap(kind MapKind) attr.State[*attr.Headers]
	SetMap(kind MapKind, headers *attr.Headers) error
	GetHTTPResponseBody(start, length int) attr.State[[]byte]
}

// HostResolver is fed by the ext_proc server as ProcessingRequest messages
// arrive on the stream; it stands in for the proxy-wasm hostcall surface the
// original filter read from directly.
type HostResolver struct {
	properties      map[string]attr.TypedProperty
	requestHeaders  *attr.Headers
	responseHeaders *attr.Headers
	responseBody    []byte
	haveReqHeaders  bool
	haveRespHeaders bool
}

// NewHostResolver returns an empty resolver; callers populate it as
// ProcessingRequest messages arrive.
func NewHostResolver() *HostResolver {
	return &HostResolver{properties: make(map[string]attr.TypedProperty)}
}

// SetProperty records a resolved attribute, synthesizing
// source.remote_address from source.address by splitting at the first ":"
// the way the original host binding does.
func (h *HostResolver) SetProperty(path attr.Path, value attr.TypedProperty) {
	h.properties[path.String()] = value
	if path.String() == "source.address" && value.Kind == attr.KindString {
		host, _, ok := strings.Cut(value.Str, ":")
		if ok {
			h.properties["source.remote_address"] = attr.StringProperty(host)
		} else {
			h.properties["source.remote_address"] = attr.StringProperty(value.Str)
		}
	}
}

// SetRequestHeaders records the request header map, available from the
// request-headers phase onward.
func (h *HostResolver) SetRequestHeaders(headers *attr.Headers) {
	h.requestHeaders = headers
	h.haveReqHeaders = true
}

// SetResponseHeaders records the response header map, available from the
// response-headers phase onward.
func (h *HostResolver) SetResponseHeaders(headers *attr.Headers) {
	h.responseHeaders = headers
	h.haveRespHeaders = true
}

// AppendResponseBody appends a newly-delivered response-body chunk.
func (h *HostResolver) AppendResponseBody(chunk []byte) {
	h.responseBody = append(h.responseBody, chunk...)
}

// BodyLen reports how many response-body bytes have been appended so far,
// for callers that must report the buffer size back to the context without
// reaching into the resolver's internal storage.
func (h *HostResolver) BodyLen() int { return len(h.responseBody) }

// GetAttribute implements Resolver.
func (h *HostResolver) GetAttribute(path attr.Path) attr.State[attr.TypedProperty] {
	if v, ok := h.properties[path.String()]; ok {
		return attr.Avail(v)
	}
	return attr.Pending[attr.TypedProperty]()
}

// GetMap implements Resolver.
func (h *HostResolver) GetMap(kind MapKind) attr.State[*attr.Headers] {
	switch kind {
	case RequestHeaderMap:
		if !h.haveReqHeaders {
			return attr.Pending[*attr.Headers]()
		}
		return attr.Avail(h.requestHeaders)
	default:
		if !h.haveRespHeaders {
			return attr.Pending[*attr.Headers]()
		}
		return attr.Avail(h.responseHeaders)
	}
}

// SetMap implements Resolver.
func (h *HostResolver) SetMap(kind MapKind, headers *attr.Headers) error {
	switch kind {
	case RequestHeaderMap:
		h.requestHeaders = headers
		h.haveReqHeaders = true
	default:
		h.responseHeaders = headers
		h.haveRespHeaders = true
	}
	return nil
}

// GetHTTPResponseBody implements Resolver.
func (h *HostResolver) GetHTTPResponseBody(start, length int) attr.State[[]byte] {
	if start < 0 || start > len(h.responseBody) {
		return attr.Pending[[]byte]()
	}
	end := start + length
	if end > len(h.responseBody) {
		end = len(h.responseBody)
	}
	out := make([]byte, end-start)
	copy(out, h.responseBody[start:end])
	return attr.Avail(out)
}

// MockResolver is a test double configurable with fixed properties, fixed
// maps, and an always-pending set, matching the test-only variant the
// original attribute resolver trait describes.
type MockResolver struct {
	Properties     map[string]attr.TypedProperty
	RequestHeaders *attr.Headers
	ResponseHdrs   *attr.Headers
	Body           []byte
	AlwaysPending  map[string]bool
}

// NewMockResolver returns an empty MockResolver ready for field assignment.
func NewMockResolver() *MockResolver {
	return &MockResolver{
		Properties:    make(map[string]attr.TypedProperty),
		AlwaysPending: make(map[string]bool),
	}
}

// GetAttribute implements Resolver.
func (m *MockResolver) GetAttribute(path attr.Path) attr.State[attr.TypedProperty] {
	if m.AlwaysPending[path.String()] {
		return attr.Pending[attr.TypedProperty]()
	}
	if v, ok := m.Properties[path.String()]; ok {
		return attr.Avail(v)
	}
	return attr.Pending[attr.TypedProperty]()
}

// GetMap implements Resolver.
func (m *MockResolver) GetMap(kind MapKind) attr.State[*attr.Headers] {
	if kind == RequestHeaderMap {
		if m.RequestHeaders == nil {
			return attr.Pending[*attr.Headers]()
		}
		return attr.Avail(m.RequestHeaders)
	}
	if m.ResponseHdrs == nil {
		return attr.Pending[*attr.Headers]()
	}
	return attr.Avail(m.ResponseHdrs)
}

// SetMap implements Resolver.
func (m *MockResolver) SetMap(kind MapKind, headers *attr.Headers) error {
	if kind == RequestHeaderMap {
		m.RequestHeaders = headers
		return nil
	}
	m.ResponseHdrs = headers
	return nil
}

// GetHTTPResponseBody implements Resolver.
func (m *MockResolver) GetHTTPResponseBody(start, length int) attr.State[[]byte] {
	if start < 0 || start > len(m.Body) {
		return attr.Pending[[]byte]()
	}
	end := start + length
	if end > len(m.Body) {
		end = len(m.Body)
	}
	out := make([]byte, end-start)
	copy(out, m.Body[start:end])
	return attr.Avail(out)
}
