package otlpreceiver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/tobert/otlp-waterfall/internal/metrics"
	"github.com/tobert/otlp-waterfall/internal/storage"
)

// mockReceiver records received spans.
type mockReceiver struct {
	mu    sync.Mutex
	spans []*tracepb.ResourceSpans
	err   error
}

func (m *mockReceiver) ReceiveSpans(ctx context.Context, spans []*tracepb.ResourceSpans) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.spans = append(m.spans, spans...)
	return nil
}

func (m *mockReceiver) getSpans() []*tracepb.ResourceSpans {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spans
}

// startServer runs a server on an ephemeral port and returns a connected client.
func startServer(t *testing.T, receiver SpanReceiver, opts ...Option) (*Server, collectortrace.TraceServiceClient) {
	t.Helper()

	server, err := NewServer(Config{Host: "127.0.0.1", Port: 0}, receiver, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = server.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		server.StopWait()
	})

	conn, err := grpc.NewClient(server.Endpoint(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return server, collectortrace.NewTraceServiceClient(conn)
}

func request(spans ...*tracepb.Span) *collectortrace.ExportTraceServiceRequest {
	return &collectortrace.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{{
			Resource: &resourcepb.Resource{Attributes: []*commonpb.KeyValue{{
				Key:   "service.name",
				Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "test-service"}},
			}}},
			ScopeSpans: []*tracepb.ScopeSpans{{
				Scope: &commonpb.InstrumentationScope{Name: "test"},
				Spans: spans,
			}},
		}},
	}
}

func testSpan(id byte, parent byte, name string) *tracepb.Span {
	now := uint64(time.Now().UnixNano())
	s := &tracepb.Span{
		TraceId:           []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10},
		SpanId:            []byte{id, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18},
		Name:              name,
		StartTimeUnixNano: now,
		EndTimeUnixNano:   now + 1_000_000,
	}
	if parent != 0 {
		s.ParentSpanId = []byte{parent, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18}
	}
	return s
}

func TestNewServer(t *testing.T) {
	server, err := NewServer(Config{Host: "127.0.0.1", Port: 0}, &mockReceiver{})
	require.NoError(t, err)
	defer server.Stop()

	assert.NotEmpty(t, server.Endpoint())
}

func TestNewServerNilReceiver(t *testing.T) {
	_, err := NewServer(Config{Host: "127.0.0.1", Port: 0}, nil)
	assert.Error(t, err)
}

func TestServerStopsOnContextCancel(t *testing.T) {
	server, err := NewServer(Config{Host: "127.0.0.1", Port: 0}, &mockReceiver{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() { errChan <- server.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-errChan:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop in time")
	}
}

func TestOTLPExport(t *testing.T) {
	receiver := &mockReceiver{}
	_, client := startServer(t, receiver)

	resp, err := client.Export(context.Background(), request(testSpan(1, 0, "test-span")))
	require.NoError(t, err)
	assert.Nil(t, resp.GetPartialSuccess())

	received := receiver.getSpans()
	require.Len(t, received, 1)
	require.Len(t, received[0].ScopeSpans, 1)
	assert.Equal(t, "test-span", received[0].ScopeSpans[0].Spans[0].Name)
	assert.Equal(t, "test", received[0].ScopeSpans[0].Scope.GetName())
	assert.Equal(t, "test-service", received[0].Resource.Attributes[0].Value.GetStringValue())
}

func TestOTLPExportRejectsMalformedIDs(t *testing.T) {
	receiver := &mockReceiver{}
	m := metrics.New()
	_, client := startServer(t, receiver, WithMetrics(m))

	bad := testSpan(2, 1, "bad")
	bad.TraceId = []byte{0x01}

	resp, err := client.Export(context.Background(), request(testSpan(1, 0, "good"), bad))
	require.NoError(t, err)
	require.NotNil(t, resp.GetPartialSuccess())
	assert.Equal(t, int64(1), resp.GetPartialSuccess().GetRejectedSpans())

	received := receiver.getSpans()
	require.Len(t, received, 1)
	require.Len(t, received[0].ScopeSpans[0].Spans, 1)
	assert.Equal(t, "good", received[0].ScopeSpans[0].Spans[0].Name)

	assert.Equal(t, 1.0, counterValue(t, m, "otlp_waterfall_spans_received_total"))
}

func TestOTLPExportReceiverError(t *testing.T) {
	receiver := &mockReceiver{err: errors.New("disk full")}
	_, client := startServer(t, receiver)

	_, err := client.Export(context.Background(), request(testSpan(1, 0, "span")))
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestOTLPExportIntoStorage(t *testing.T) {
	store := storage.NewTraceStorage(100)
	_, client := startServer(t, store)

	for i := byte(1); i <= 3; i++ {
		parent := byte(0)
		if i > 1 {
			parent = 1
		}
		_, err := client.Export(context.Background(), request(testSpan(i, parent, "op")))
		require.NoError(t, err)
	}

	traces := store.ListTraces(storage.TraceQuery{})
	require.Len(t, traces, 1)
	assert.Equal(t, 3, traces[0].SpanCount)

	txn, ok := store.Transaction(traces[0].TraceID)
	require.True(t, ok)
	assert.Len(t, txn.Spans, 2)
}

func TestValidSpans(t *testing.T) {
	noSpanID := testSpan(3, 0, "x")
	noSpanID.SpanId = nil

	out, rejected := validSpans(request(noSpanID).ResourceSpans)
	assert.Equal(t, 1, rejected)
	assert.Empty(t, out, "resources with no valid spans are dropped")
}

func counterValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
