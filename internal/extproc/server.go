// Package extproc implements the Envoy external processing (ext_proc) v3
// gRPC service: the host-facing boundary that replaces the original
// proxy-wasm filter's callback lifecycle with a bidirectional stream. Each
// stream drives exactly one blueprint.Factory-built executor.Pipeline
// through the request-headers, request-body, response-headers and
// response-body phases, pausing the stream's own goroutine (never the
// process) while a dispatched gRPC call is outstanding.
package extproc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"sync/atomic"

	extprocconfigv3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/ext_proc/v3"
	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	typev3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/kuadrant/policy-pipeline/internal/attr"
	"github.com/kuadrant/policy-pipeline/internal/blueprint"
	"github.com/kuadrant/policy-pipeline/internal/executor"
	"github.com/kuadrant/policy-pipeline/internal/metrics"
	"github.com/kuadrant/policy-pipeline/internal/pctx"
	"github.com/kuadrant/policy-pipeline/internal/task"
)

// Server implements extprocv3.ExternalProcessorServer.
type Server struct {
	extprocv3.UnimplementedExternalProcessorServer

	factory    atomic.Pointer[blueprint.Factory]
	types      *attr.TypeRegistry
	dispatcher pctx.Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Recorder

	traceUpstream string
	traceTimeout  time.Duration
	drainer       task.SpanDrainer
}

// Options configures a Server beyond its mandatory Factory, TypeRegistry
// and Dispatcher.
type Options struct {
	Metrics       *metrics.Recorder
	Logger        *slog.Logger
	TraceUpstream string
	TraceTimeout  time.Duration
	Drainer       task.SpanDrainer
}

// NewServer builds a Server around a compiled Factory.
func NewServer(factory *blueprint.Factory, types *attr.TypeRegistry, dispatcher pctx.Dispatcher, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		types:         types,
		dispatcher:    dispatcher,
		logger:        logger,
		metrics:       opts.Metrics,
		traceUpstream: opts.TraceUpstream,
		traceTimeout:  opts.TraceTimeout,
		drainer:       opts.Drainer,
	}
	s.factory.Store(factory)
	return s
}

// SetFactory atomically swaps the compiled Factory a live server builds
// pipelines from. In-flight streams keep the factory they read at the start
// of their request-headers phase; only new requests observe the swap. This
// is how the config Watcher's reload callback takes effect without
// restarting the process.
func (s *Server) SetFactory(factory *blueprint.Factory) {
	s.factory.Store(factory)
}

type resumeMsg struct {
	token  uint32
	status int32
	body   []byte
}

// requestStream holds the mutable state threaded through one Process call.
type requestStream struct {
	requestID string
	resolver  *pctx.HostResolver
	ctx       *pctx.Context
	resumeCh  chan resumeMsg
	responder *responder
	pipeline  *executor.Pipeline
	actionSet string
	built     bool
	skip      bool
	decided   bool
	exported  bool
}

// Process implements the bidirectional streaming RPC Envoy drives the
// filter through: one ProcessingRequest in, one ProcessingResponse out,
// per message, in order.
func (s *Server) Process(ps extprocv3.ExternalProcessor_ProcessServer) error {
	streamCtx := ps.Context()
	st := s.newStream(streamCtx)

	for {
		req, err := ps.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return status.Errorf(codes.Unknown, "extproc: recv: %v", err)
		}

		resp, err := s.handle(streamCtx, st, req)
		if err != nil {
			return status.Errorf(codes.Internal, "extproc: handle: %v", err)
		}
		if err := ps.Send(resp); err != nil {
			return status.Errorf(codes.Unknown, "extproc: send: %v", err)
		}
	}
}

func (s *Server) newStream(streamCtx context.Context) *requestStream {
	resolver := pctx.NewHostResolver()
	st := &requestStream{
		requestID: uuid.New().String(),
		resolver:  resolver,
		resumeCh:  make(chan resumeMsg, 8),
		responder: &responder{},
	}
	st.ctx = pctx.New(resolver, s.dispatcher, s.types, func(token uint32, status int32, body []byte) {
		st.resumeCh <- resumeMsg{token: token, status: status, body: body}
	})
	st.ctx.SetResponder(st.responder)
	if p, ok := peer.FromContext(streamCtx); ok && p.Addr != nil {
		resolver.SetProperty(attr.NewPath("source", "address"), attr.StringProperty(p.Addr.String()))
	}
	return st
}

func (s *Server) handle(ctx context.Context, st *requestStream, req *extprocv3.ProcessingRequest) (*extprocv3.ProcessingResponse, error) {
	switch r := req.Request.(type) {
	case *extprocv3.ProcessingRequest_RequestHeaders:
		return s.handleRequestHeaders(ctx, st, r.RequestHeaders)
	case *extprocv3.ProcessingRequest_RequestBody:
		return s.handleRequestBody(st, r.RequestBody)
	case *extprocv3.ProcessingRequest_ResponseHeaders:
		return s.handleResponseHeaders(st, r.ResponseHeaders)
	case *extprocv3.ProcessingRequest_ResponseBody:
		return s.handleResponseBody(st, r.ResponseBody)
	default:
		return immediateError(typev3.StatusCode_InternalServerError, "extproc: unknown processing phase"), nil
	}
}

func (s *Server) handleRequestHeaders(ctx context.Context, st *requestStream, headers *extprocv3.HttpHeaders) (*extprocv3.ProcessingResponse, error) {
	reqHeaders := headersFromProto(headers.GetHeaders())
	st.resolver.SetRequestHeaders(reqHeaders)
	setPseudoProperties(st.resolver, reqHeaders)
	st.ctx.SetPhase(pctx.RequestHeaders)

	result := s.factory.Load().Build(st.ctx)
	switch result.Status {
	case blueprint.StatusNone:
		st.skip = true
		return skipResponse(), nil
	case blueprint.StatusDataPending:
		// request.host is read straight from :authority above, so this
		// should not recur; treat it as "no policy applies" rather than
		// stall the stream waiting for a phase that will never supply it.
		s.logger.Warn("extproc: request.host not observable at request-headers phase", slog.String("request_id", st.requestID))
		st.skip = true
		return skipResponse(), nil
	case blueprint.StatusEvaluationError:
		s.logger.Error("extproc: blueprint selection failed", slog.String("request_id", st.requestID), slog.Any("error", result.Err))
		return immediateError(typev3.StatusCode_InternalServerError, "policy selection failed"), nil
	}

	st.actionSet = result.ActionSet
	st.pipeline = executor.New(st.ctx, result.Tasks, s.logger)
	st.built = true

	before := reqHeaders.Clone()
	if err := s.drainAndWait(st); err != nil {
		return immediateError(typev3.StatusCode_InternalServerError, "policy execution failed"), nil
	}
	if st.responder.replied {
		s.recordDecision(st, false)
		return s.terminalResponse(st), nil
	}

	after, _ := st.ctx.GetMap(pctx.RequestHeaderMap).Value()
	return &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_RequestHeaders{
			RequestHeaders: &extprocv3.HeadersResponse{
				Response: &extprocv3.CommonResponse{HeaderMutation: diffHeaderMutation(before, after)},
			},
		},
	}, nil
}

func (s *Server) handleRequestBody(st *requestStream, body *extprocv3.HttpBody) (*extprocv3.ProcessingResponse, error) {
	if !st.built || st.responder.replied {
		return passThroughRequestBody(), nil
	}
	if err := s.drainAndWait(st); err != nil {
		return immediateError(typev3.StatusCode_InternalServerError, "policy execution failed"), nil
	}
	if st.responder.replied {
		s.recordDecision(st, false)
		return s.terminalResponse(st), nil
	}
	_ = body
	return passThroughRequestBody(), nil
}

func (s *Server) handleResponseHeaders(st *requestStream, headers *extprocv3.HttpHeaders) (*extprocv3.ProcessingResponse, error) {
	respHeaders := headersFromProto(headers.GetHeaders())
	st.resolver.SetResponseHeaders(respHeaders)
	if code, ok := respHeaders.GetFirst(":status"); ok {
		st.resolver.SetProperty(attr.NewPath("response", "code"), attr.StringProperty(code))
	}
	if !st.built || st.responder.replied {
		return passThroughResponseHeaders(), nil
	}

	st.ctx.SetPhase(pctx.ResponseHeaders)
	before := respHeaders.Clone()
	if err := s.drainAndWait(st); err != nil {
		return immediateError(typev3.StatusCode_InternalServerError, "policy execution failed"), nil
	}
	if st.responder.replied {
		s.recordDecision(st, false)
		return s.terminalResponse(st), nil
	}

	after, _ := st.ctx.GetMap(pctx.ResponseHeaderMap).Value()
	return &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_ResponseHeaders{
			ResponseHeaders: &extprocv3.HeadersResponse{
				Response: &extprocv3.CommonResponse{HeaderMutation: diffHeaderMutation(before, after)},
			},
		},
	}, nil
}

func (s *Server) handleResponseBody(st *requestStream, body *extprocv3.HttpBody) (*extprocv3.ProcessingResponse, error) {
	eos := body.GetEndOfStream()

	if !st.built || st.responder.replied {
		if eos {
			s.recordDecision(st, !st.responder.replied)
			s.exportTraces(st)
		}
		return passThroughResponseBody(), nil
	}

	st.resolver.AppendResponseBody(body.GetBody())
	st.ctx.SetCurrentResponseBodyBufferSize(st.resolver.BodyLen(), eos)
	st.ctx.SetPhase(pctx.ResponseBody)

	if err := s.drainAndWait(st); err != nil {
		return immediateError(typev3.StatusCode_InternalServerError, "policy execution failed"), nil
	}

	if eos {
		s.recordDecision(st, !st.responder.replied)
		s.exportTraces(st)
	}

	if st.responder.replied {
		return s.terminalResponse(st), nil
	}
	return passThroughResponseBody(), nil
}

// drainAndWait runs the pipeline to a fixpoint, blocking this stream's
// goroutine on resumeCh whenever the pipeline still requires the filter
// paused (an Auth or RateLimit dispatch in flight).
func (s *Server) drainAndWait(st *requestStream) error {
	st.pipeline.Drain()
	for st.pipeline.RequiresPause() {
		msg, ok := <-st.resumeCh
		if !ok {
			return fmt.Errorf("extproc: resume channel closed while pipeline still pausing")
		}
		st.pipeline.Resume(msg.token, msg.status, msg.body)
	}
	return nil
}

func (s *Server) recordDecision(st *requestStream, allowed bool) {
	if st.decided {
		return
	}
	st.decided = true
	if s.metrics != nil {
		s.metrics.TerminalDecision(st.actionSet, allowed)
	}
}

// exportTraces flushes whatever spans accumulated for this request through
// its own tiny one-task pipeline, independent of the allow/deny outcome.
func (s *Server) exportTraces(st *requestStream) {
	if st.exported || s.drainer == nil || s.traceUpstream == "" {
		return
	}
	st.exported = true

	exportTask := &task.ExportTraces{
		TaskID:   "export-traces",
		Upstream: s.traceUpstream,
		Timeout:  s.traceTimeout,
		Drainer:  s.drainer,
		Logger:   s.logger,
	}
	p := executor.New(st.ctx, []task.Task{exportTask}, s.logger)
	p.Drain()
	for p.IsLive() {
		msg, ok := <-st.resumeCh
		if !ok {
			return
		}
		p.Resume(msg.token, msg.status, msg.body)
	}
}

func (s *Server) terminalResponse(st *requestStream) *extprocv3.ProcessingResponse {
	code := st.responder.status
	if code == 0 {
		code = 403
	}
	return &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_ImmediateResponse{
			ImmediateResponse: &extprocv3.ImmediateResponse{
				Status:  &typev3.HttpStatus{Code: typev3.StatusCode(code)},
				Headers: diffHeaderMutation(nil, st.responder.headers),
				Body:    st.responder.body,
			},
		},
	}
}

func setPseudoProperties(resolver *pctx.HostResolver, headers *attr.Headers) {
	if v, ok := headers.GetFirst(":authority"); ok {
		resolver.SetProperty(attr.NewPath("request", "host"), attr.StringProperty(v))
	}
	if v, ok := headers.GetFirst(":method"); ok {
		resolver.SetProperty(attr.NewPath("request", "method"), attr.StringProperty(v))
	}
	if v, ok := headers.GetFirst(":path"); ok {
		resolver.SetProperty(attr.NewPath("request", "path"), attr.StringProperty(v))
	}
}

func passThroughRequestBody() *extprocv3.ProcessingResponse {
	return &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_RequestBody{RequestBody: &extprocv3.BodyResponse{}},
	}
}

func passThroughResponseHeaders() *extprocv3.ProcessingResponse {
	return &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_ResponseHeaders{ResponseHeaders: &extprocv3.HeadersResponse{}},
	}
}

func passThroughResponseBody() *extprocv3.ProcessingResponse {
	return &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_ResponseBody{ResponseBody: &extprocv3.BodyResponse{}},
	}
}

func skipResponse() *extprocv3.ProcessingResponse {
	return &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_RequestHeaders{
			RequestHeaders: &extprocv3.HeadersResponse{},
		},
		ModeOverride: &extprocconfigv3.ProcessingMode{
			RequestBodyMode:     extprocconfigv3.ProcessingMode_NONE,
			ResponseHeaderMode:  extprocconfigv3.ProcessingMode_SKIP,
			ResponseBodyMode:    extprocconfigv3.ProcessingMode_NONE,
			RequestTrailerMode:  extprocconfigv3.ProcessingMode_SKIP,
			ResponseTrailerMode: extprocconfigv3.ProcessingMode_SKIP,
		},
	}
}

func immediateError(code typev3.StatusCode, msg string) *extprocv3.ProcessingResponse {
	return &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_ImmediateResponse{
			ImmediateResponse: &extprocv3.ImmediateResponse{
				Status: &typev3.HttpStatus{Code: code},
				Body:   []byte(msg),
			},
		},
	}
}
