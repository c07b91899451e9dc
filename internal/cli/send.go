package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tobert/otlp-waterfall/internal/traceio"
)

// SendCommand returns the 'send' subcommand, which exports a trace file or
// a generated demo trace to an OTLP gRPC endpoint.
func SendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Export traces to an OTLP gRPC endpoint",
		ArgsUsage: "[FILE]",
		Description: `Sends the OTLP traces in FILE (JSON, JSONL or protobuf) to --endpoint.
Without FILE a small demo request is sent: an HTTP server span with a
database query, a render step and a stretch of missing instrumentation
between them.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "endpoint",
				Usage:    "OTLP gRPC endpoint, e.g. 127.0.0.1:4317 (see get_otlp_endpoint)",
				Required: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var resourceSpans []*tracepb.ResourceSpans
			switch cmd.Args().Len() {
			case 0:
				resourceSpans = demoTrace(time.Now())
			case 1:
				var err error
				resourceSpans, err = readOTLPFile(cmd.Args().First())
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("send takes at most one FILE argument")
			}

			n, err := sendTraces(ctx, cmd.String("endpoint"), resourceSpans)
			if err != nil {
				return err
			}
			fmt.Printf("✅ Exported %d spans to %s\n", n, cmd.String("endpoint"))
			return nil
		},
	}
}

func readOTLPFile(path string) ([]*tracepb.ResourceSpans, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if traceio.DetectFormat(data) == traceio.FormatOTLPProto {
		return traceio.ReadOTLPProto(data)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return traceio.ReadOTLPJSON(f)
}

// sendTraces exports resourceSpans in one request and returns the span count.
func sendTraces(ctx context.Context, endpoint string, resourceSpans []*tracepb.ResourceSpans) (int, error) {
	spans := len(traceio.FlattenResourceSpans(resourceSpans))
	if spans == 0 {
		return 0, fmt.Errorf("no spans to send")
	}

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return 0, fmt.Errorf("failed to create grpc client: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := collectortrace.NewTraceServiceClient(conn)
	resp, err := client.Export(ctx, &collectortrace.ExportTraceServiceRequest{ResourceSpans: resourceSpans})
	if err != nil {
		return 0, fmt.Errorf("failed to export spans: %w", err)
	}
	if ps := resp.GetPartialSuccess(); ps != nil && ps.GetRejectedSpans() > 0 {
		return spans - int(ps.GetRejectedSpans()), fmt.Errorf("receiver rejected %d spans: %s", ps.GetRejectedSpans(), ps.GetErrorMessage())
	}
	return spans, nil
}

// demoTrace builds a request that starts at now: a 600ms server span with a
// database query at 10-100ms and a render step at 300-500ms.
func demoTrace(now time.Time) []*tracepb.ResourceSpans {
	id := uuid.New()
	traceID := id[:]

	spanID := func(b byte) []byte { return []byte{b, b, b, b, b, b, b, b} }
	at := func(ms int) uint64 { return uint64(now.Add(time.Duration(ms) * time.Millisecond).UnixNano()) }
	str := func(k, v string) *commonpb.KeyValue {
		return &commonpb.KeyValue{Key: k, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: v}}}
	}
	ok := &tracepb.Status{Code: tracepb.Status_STATUS_CODE_OK}

	spans := []*tracepb.Span{
		{
			TraceId:           traceID,
			SpanId:            spanID(0x11),
			Name:              "GET /api/users",
			Kind:              tracepb.Span_SPAN_KIND_SERVER,
			StartTimeUnixNano: at(0),
			EndTimeUnixNano:   at(600),
			Attributes: []*commonpb.KeyValue{
				str("http.request.method", "GET"),
				str("url.path", "/api/users"),
			},
			Status: ok,
		},
		{
			TraceId:           traceID,
			SpanId:            spanID(0x22),
			ParentSpanId:      spanID(0x11),
			Name:              "SELECT users",
			Kind:              tracepb.Span_SPAN_KIND_CLIENT,
			StartTimeUnixNano: at(10),
			EndTimeUnixNano:   at(100),
			Attributes: []*commonpb.KeyValue{
				str("db.system", "postgresql"),
				str("db.statement", "SELECT * FROM users WHERE id = $1"),
			},
			Status: ok,
		},
		{
			TraceId:           traceID,
			SpanId:            spanID(0x33),
			ParentSpanId:      spanID(0x11),
			Name:              "render users",
			Kind:              tracepb.Span_SPAN_KIND_INTERNAL,
			StartTimeUnixNano: at(300),
			EndTimeUnixNano:   at(500),
			Status:            ok,
		},
	}

	return []*tracepb.ResourceSpans{{
		Resource: &resourcepb.Resource{Attributes: []*commonpb.KeyValue{
			str("service.name", "demo-web-service"),
			str("deployment.environment", "development"),
		}},
		ScopeSpans: []*tracepb.ScopeSpans{{Spans: spans}},
	}}
}
