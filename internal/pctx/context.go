package pctx

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/kuadrant/policy-pipeline/internal/attr"
)

// Dispatcher performs an outgoing gRPC call on behalf of a task. It is the
// Go-native replacement for a delegated "dispatch_grpc" hostcall: since the
// filter is a standalone process, it dials the upstream itself instead of
// asking a host to do so.
type Dispatcher interface {
	Dispatch(ctx context.Context, upstream, service, method string, message []byte, timeout time.Duration) (status int32, body []byte, err error)
}

// ResumeFunc is invoked from the dispatch goroutine once a response (or
// error) is available; the executor supplies one per Context so dispatch
// results flow back into Pipeline.Resume.
type ResumeFunc func(token uint32, status int32, body []byte)

// Responder performs the host-visible send-local-response action for this
// Context's own request stream. Unlike Dispatcher (one pooled connection
// shared by every request to a given upstream), a Responder is inherently
// per-request: replying on one stream must never touch another's, so it is
// set on the Context itself (via SetResponder) rather than passed to tasks
// at blueprint-compile time.
type Responder interface {
	SendReply(status int32, headers *attr.Headers, body []byte)
}

type cacheEntry struct {
	value   []byte
	present bool
}

// Context is the per-request scratchpad: a reference to the resolver, an
// in-memory attribute cache, the current filter phase, response-body
// buffering state, span handles, and gRPC dispatch/resume plumbing.
type Context struct {
	resolver   Resolver
	dispatcher Dispatcher
	resume     ResumeFunc
	responder  Responder
	types      *attr.TypeRegistry

	cache map[string]cacheEntry

	phase          Phase
	bodyBufferSize int
	endOfStream    bool

	tokenSeq uint32

	grpcStatus int32
	grpcBody   []byte

	spanStack []trace.Span
}

// New builds a Context around a resolver and dispatcher. resume is called
// (from a goroutine) whenever a dispatched gRPC call completes.
func New(resolver Resolver, dispatcher Dispatcher, types *attr.TypeRegistry, resume ResumeFunc) *Context {
	return &Context{
		resolver:   resolver,
		dispatcher: dispatcher,
		resume:     resume,
		types:      types,
		cache:      make(map[string]cacheEntry),
		phase:      RequestHeaders,
	}
}

// SetPhase advances the context to a new filter phase. The attribute cache is
// not cleared: a value observed Available in one phase remains so, but
// Pending reads are re-attempted against the resolver every time (the
// resolver, not the cache, tracks per-phase availability).
func (c *Context) SetPhase(p Phase) { c.phase = p }

// Phase returns the current filter phase.
func (c *Context) Phase() Phase { return c.phase }

// GetProperty reads a raw property, consulting the cache before the
// resolver and caching Available outcomes.
func (c *Context) GetProperty(path attr.Path) attr.State[[]byte] {
	key := path.Key()
	if entry, ok := c.cache[key]; ok {
		return attr.Avail(entry.value)
	}
	state := c.resolver.GetAttribute(path)
	val, ok := state.Value()
	if ok {
		raw := propertyBytes(val)
		c.cache[key] = cacheEntry{value: raw, present: true}
		return attr.Avail(raw)
	}
	if state.IsError() {
		return attr.Err[[]byte](state.Error())
	}
	return attr.Pending[[]byte]()
}

// GetAttribute reads a property and decodes it to its declared type via the
// context's type registry.
func (c *Context) GetAttribute(path attr.Path) attr.State[attr.TypedProperty] {
	raw := c.GetProperty(path)
	bytes, ok := raw.Value()
	if !ok {
		if raw.IsError() {
			return attr.Err[attr.TypedProperty](raw.Error())
		}
		return attr.Pending[attr.TypedProperty]()
	}
	return attr.Avail(c.types.Decode(path, bytes))
}

// SetAttribute writes an attribute into the cache, as the original design's
// core does not expose a host-side attribute write surface beyond the
// request/response header maps.
func (c *Context) SetAttribute(path attr.Path, value []byte) {
	c.cache[path.Key()] = cacheEntry{value: value, present: true}
}

// GetMap reads a header map through the resolver.
func (c *Context) GetMap(kind MapKind) attr.State[*attr.Headers] {
	return c.resolver.GetMap(kind)
}

// SetMap writes a header map back through the resolver.
func (c *Context) SetMap(kind MapKind, headers *attr.Headers) error {
	return c.resolver.SetMap(kind, headers)
}

// SetResponder attaches the host-visible send-local-response capability for
// this request. Called once, by the owning stream, before the pipeline's
// first drain.
func (c *Context) SetResponder(r Responder) { c.responder = r }

// SendLocalResponse performs the host-visible send-local-response action
// via this Context's Responder; it is a no-op if none was attached (tests
// exercising a terminal outcome without a live stream).
func (c *Context) SendLocalResponse(status int32, headers *attr.Headers, body []byte) {
	if c.responder != nil {
		c.responder.SendReply(status, headers, body)
	}
}

// GetHTTPResponseBody reads a byte range of the buffered response body.
func (c *Context) GetHTTPResponseBody(start, length int) attr.State[[]byte] {
	return c.resolver.GetHTTPResponseBody(start, length)
}

// SetCurrentResponseBodyBufferSize records how many bytes of response body
// have been delivered so far and whether the stream has ended.
func (c *Context) SetCurrentResponseBodyBufferSize(size int, eos bool) {
	c.bodyBufferSize = size
	c.endOfStream = eos
}

// ResponseBodyBufferSize returns the most recently recorded buffer size.
func (c *Context) ResponseBodyBufferSize() int { return c.bodyBufferSize }

// IsEndOfStream reports whether the response body stream has ended.
func (c *Context) IsEndOfStream() bool { return c.endOfStream }

// DispatchGRPC issues an asynchronous gRPC call and returns a correlation
// token immediately; the call itself runs on a goroutine and reports its
// result through the Context's ResumeFunc.
func (c *Context) DispatchGRPC(upstream, service, method string, message []byte, timeout time.Duration) uint32 {
	token := atomic.AddUint32(&c.tokenSeq, 1)
	go func() {
		status, body, err := c.dispatcher.Dispatch(context.Background(), upstream, service, method, message, timeout)
		if err != nil {
			status = -1
		}
		if c.resume != nil {
			c.resume(token, status, body)
		}
	}()
	return token
}

// SetGRPCResponse records the decoded response for a resumed dispatch; the
// executor calls this immediately before re-invoking the parked task.
func (c *Context) SetGRPCResponse(status int32, body []byte) {
	c.grpcStatus = status
	c.grpcBody = body
}

// GetGRPCResponse returns up to size bytes of the most recently recorded
// gRPC response body.
func (c *Context) GetGRPCResponse(size int) []byte {
	if size <= 0 || size > len(c.grpcBody) {
		return c.grpcBody
	}
	return c.grpcBody[:size]
}

// GRPCResponseStatus returns the most recently recorded gRPC response status.
func (c *Context) GRPCResponseStatus() int32 { return c.grpcStatus }

// EnterSpan pushes a span onto the context's span stack.
func (c *Context) EnterSpan(span trace.Span) { c.spanStack = append(c.spanStack, span) }

// ExitSpan pops and returns the most recently entered span, if any.
func (c *Context) ExitSpan() trace.Span {
	if len(c.spanStack) == 0 {
		return nil
	}
	last := c.spanStack[len(c.spanStack)-1]
	c.spanStack = c.spanStack[:len(c.spanStack)-1]
	return last
}

// CurrentSpan returns the span at the top of the stack, if any.
func (c *Context) CurrentSpan() trace.Span {
	if len(c.spanStack) == 0 {
		return nil
	}
	return c.spanStack[len(c.spanStack)-1]
}

func propertyBytes(p attr.TypedProperty) []byte {
	switch p.Kind {
	case attr.KindBytes:
		return p.RawByte
	default:
		return []byte(p.AsString())
	}
}
