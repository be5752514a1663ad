// Package grpcclient is the concrete realization of the pctx.Dispatcher
// boundary and the task.AuthCodec/task.RateLimitCodec wire contracts: it
// owns one grpc.ClientConn per configured upstream and marshals/unmarshals
// the envoy.service.auth.v3 and envoy.service.ratelimit.v3 protobufs the
// spec treats as an external collaborator. This is the only place in the
// repository that dials an upstream decision service.
package grpcclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	ratelimitv3 "github.com/envoyproxy/go-control-plane/envoy/service/ratelimit/v3"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
)

const (
	authService      = "envoy.service.auth.v3.Authorization"
	rateLimitService = "envoy.service.ratelimit.v3.RateLimitService"
	traceService     = "opentelemetry.proto.collector.trace.v1.TraceService"
)

// Dispatcher implements pctx.Dispatcher by dialing (and caching) one
// grpc.ClientConn per upstream address, then invoking the typed client stub
// that matches the (service, method) pair a task dispatched with. Request
// and response protobufs travel as opaque bytes across the pctx.Context
// boundary, the same shape a wasm hostcall would have used.
type Dispatcher struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewDispatcher returns a Dispatcher with no upstreams dialed yet; dialing
// is lazy and memoized per upstream address.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{conns: make(map[string]*grpc.ClientConn)}
}

// Close tears down every dialed connection. Safe to call once at process
// shutdown.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for addr, conn := range d.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("grpcclient: close %s: %w", addr, err)
		}
	}
	return firstErr
}

func (d *Dispatcher) connFor(upstream string) (*grpc.ClientConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if conn, ok := d.conns[upstream]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(upstream, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpcclient: dial %s: %w", upstream, err)
	}
	d.conns[upstream] = conn
	return conn, nil
}

// Dispatch implements pctx.Dispatcher. It unmarshals message into the
// request type matching service, invokes the upstream's typed RPC, and
// marshals the typed response back to bytes. status is a google.rpc.Status
// code on success; callers treat a non-nil err the same way a failed
// hostcall dispatch would (task Failed, subject to FailureMode).
func (d *Dispatcher) Dispatch(ctx context.Context, upstream, service, method string, message []byte, timeout time.Duration) (int32, []byte, error) {
	conn, err := d.connFor(upstream)
	if err != nil {
		return -1, nil, err
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	switch service {
	case authService:
		return d.dispatchAuth(callCtx, conn, method, message)
	case rateLimitService:
		return d.dispatchRateLimit(callCtx, conn, method, message)
	case traceService:
		return d.dispatchTrace(callCtx, conn, method, message)
	default:
		return -1, nil, fmt.Errorf("grpcclient: unknown service %q", service)
	}
}

func (d *Dispatcher) dispatchAuth(ctx context.Context, conn *grpc.ClientConn, method string, message []byte) (int32, []byte, error) {
	if method != "Check" {
		return -1, nil, fmt.Errorf("grpcclient: auth: unsupported method %q", method)
	}
	req := &authv3.CheckRequest{}
	if err := proto.Unmarshal(message, req); err != nil {
		return -1, nil, fmt.Errorf("grpcclient: auth: decode request: %w", err)
	}
	resp, err := authv3.NewAuthorizationClient(conn).Check(ctx, req)
	if err != nil {
		return -1, nil, fmt.Errorf("grpcclient: auth: check: %w", err)
	}
	body, err := proto.Marshal(resp)
	if err != nil {
		return -1, nil, fmt.Errorf("grpcclient: auth: encode response: %w", err)
	}
	return 0, body, nil
}

func (d *Dispatcher) dispatchRateLimit(ctx context.Context, conn *grpc.ClientConn, method string, message []byte) (int32, []byte, error) {
	if method != "ShouldRateLimit" {
		return -1, nil, fmt.Errorf("grpcclient: ratelimit: unsupported method %q", method)
	}
	req := &ratelimitv3.RateLimitRequest{}
	if err := proto.Unmarshal(message, req); err != nil {
		return -1, nil, fmt.Errorf("grpcclient: ratelimit: decode request: %w", err)
	}
	resp, err := ratelimitv3.NewRateLimitServiceClient(conn).ShouldRateLimit(ctx, req)
	if err != nil {
		return -1, nil, fmt.Errorf("grpcclient: ratelimit: shouldratelimit: %w", err)
	}
	body, err := proto.Marshal(resp)
	if err != nil {
		return -1, nil, fmt.Errorf("grpcclient: ratelimit: encode response: %w", err)
	}
	return 0, body, nil
}

func (d *Dispatcher) dispatchTrace(ctx context.Context, conn *grpc.ClientConn, method string, message []byte) (int32, []byte, error) {
	if method != "Export" {
		return -1, nil, fmt.Errorf("grpcclient: trace: unsupported method %q", method)
	}
	req := &coltracepb.ExportTraceServiceRequest{}
	if err := proto.Unmarshal(message, req); err != nil {
		return -1, nil, fmt.Errorf("grpcclient: trace: decode request: %w", err)
	}
	resp, err := coltracepb.NewTraceServiceClient(conn).Export(ctx, req)
	if err != nil {
		return -1, nil, fmt.Errorf("grpcclient: trace: export: %w", err)
	}
	body, err := proto.Marshal(resp)
	if err != nil {
		return -1, nil, fmt.Errorf("grpcclient: trace: encode response: %w", err)
	}
	return 0, body, nil
}
