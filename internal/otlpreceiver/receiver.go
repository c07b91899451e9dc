// Package otlpreceiver accepts OTLP/gRPC trace exports and hands the spans to
// a SpanReceiver, usually the ring-buffered storage.
package otlpreceiver

import (
	"context"
	"fmt"
	"net"
	"sync"

	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tobert/otlp-waterfall/internal/metrics"
)

// DefaultMaxRecvMsgSize matches the OpenTelemetry collector's default.
const DefaultMaxRecvMsgSize = 16 * 1024 * 1024

// SpanReceiver is the interface for storing received spans.
// Implementations should be thread-safe as Export may be called concurrently.
type SpanReceiver interface {
	ReceiveSpans(ctx context.Context, spans []*tracepb.ResourceSpans) error
}

// Config holds configuration for the OTLP receiver.
type Config struct {
	Host           string // e.g., "127.0.0.1"
	Port           int    // 0 for ephemeral port assignment
	MaxRecvMsgSize int    // bytes; 0 uses DefaultMaxRecvMsgSize
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics counts accepted spans and failed exports.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server is the OTLP gRPC server that receives trace data.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	metrics    *metrics.Metrics
	stopOnce   sync.Once
	stopChan   chan struct{}
	stopDone   chan struct{}
}

// NewServer creates a new OTLP gRPC server bound to the configured host and
// port (use port 0 for ephemeral). Received spans are passed to receiver.
func NewServer(cfg Config, receiver SpanReceiver, opts ...Option) (*Server, error) {
	if receiver == nil {
		return nil, fmt.Errorf("span receiver cannot be nil")
	}

	maxMsg := cfg.MaxRecvMsgSize
	if maxMsg <= 0 {
		maxMsg = DefaultMaxRecvMsgSize
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &Server{
		listener:   listener,
		grpcServer: grpc.NewServer(grpc.MaxRecvMsgSize(maxMsg)),
		stopChan:   make(chan struct{}),
		stopDone:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(server)
	}

	collectortrace.RegisterTraceServiceServer(server.grpcServer, &traceService{
		receiver: receiver,
		metrics:  server.metrics,
	})

	return server, nil
}

// Start begins serving OTLP requests. This method blocks until Stop is called
// or ctx is cancelled. It should typically be run in a goroutine.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stopChan:
		}
	}()

	err := s.grpcServer.Serve(s.listener)
	s.stopDone <- struct{}{}
	return err
}

// Stop initiates graceful shutdown of the server.
// Safe to call multiple times.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.grpcServer.GracefulStop()
		close(s.stopChan)
	})
}

// StopWait stops the server and waits for Start to return.
func (s *Server) StopWait() {
	s.Stop()
	<-s.stopDone
}

// Endpoint returns the actual listening address, e.g. "127.0.0.1:54321".
func (s *Server) Endpoint() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type traceService struct {
	collectortrace.UnimplementedTraceServiceServer
	receiver SpanReceiver
	metrics  *metrics.Metrics
}

// Export stores the well-formed spans of a request. Spans without a 16-byte
// trace id or 8-byte span id cannot be placed in a waterfall; they are
// dropped and reported through partial success.
func (t *traceService) Export(
	ctx context.Context,
	req *collectortrace.ExportTraceServiceRequest,
) (*collectortrace.ExportTraceServiceResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}

	accepted, rejected := validSpans(req.GetResourceSpans())
	count := 0
	for _, rs := range accepted {
		for _, ss := range rs.GetScopeSpans() {
			count += len(ss.GetSpans())
		}
	}

	if count > 0 {
		if err := t.receiver.ReceiveSpans(ctx, accepted); err != nil {
			t.metrics.RecordExport(count, err)
			return nil, status.Errorf(codes.Internal, "failed to receive spans: %v", err)
		}
	}
	t.metrics.RecordExport(count, nil)

	resp := &collectortrace.ExportTraceServiceResponse{}
	if rejected > 0 {
		resp.PartialSuccess = &collectortrace.ExportTracePartialSuccess{
			RejectedSpans: int64(rejected),
			ErrorMessage:  fmt.Sprintf("%d spans without valid trace or span id", rejected),
		}
	}
	return resp, nil
}

// validSpans returns a copy of the resource spans holding only spans with
// well-formed ids, and the number of spans removed.
func validSpans(in []*tracepb.ResourceSpans) ([]*tracepb.ResourceSpans, int) {
	rejected := 0
	out := make([]*tracepb.ResourceSpans, 0, len(in))
	for _, rs := range in {
		scopes := make([]*tracepb.ScopeSpans, 0, len(rs.GetScopeSpans()))
		for _, ss := range rs.GetScopeSpans() {
			spans := make([]*tracepb.Span, 0, len(ss.GetSpans()))
			for _, span := range ss.GetSpans() {
				if len(span.GetTraceId()) != 16 || len(span.GetSpanId()) != 8 {
					rejected++
					continue
				}
				spans = append(spans, span)
			}
			if len(spans) > 0 {
				scopes = append(scopes, &tracepb.ScopeSpans{
					Scope:     ss.GetScope(),
					Spans:     spans,
					SchemaUrl: ss.GetSchemaUrl(),
				})
			}
		}
		if len(scopes) > 0 {
			out = append(out, &tracepb.ResourceSpans{
				Resource:   rs.GetResource(),
				ScopeSpans: scopes,
				SchemaUrl:  rs.GetSchemaUrl(),
			})
		}
	}
	return out, rejected
}
