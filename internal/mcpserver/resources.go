package mcpserver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/otlp-waterfall/internal/storage"
	"github.com/tobert/otlp-waterfall/internal/viz"
)

const tracesURI = "waterfall://traces"

// registerResources registers all MCP resources and resource templates.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         tracesURI,
		Name:        "traces",
		Description: "Buffered traces, most recently updated first: root operation, span and error counts, duration.",
		MIMEType:    "text/plain",
	}, s.handleTracesResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "waterfall://endpoint",
		Name:        "endpoint",
		Description: "OTLP gRPC endpoint address and environment variable suggestions.",
		MIMEType:    "text/plain",
	}, s.handleEndpointResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "waterfall://stats",
		Name:        "stats",
		Description: "Span buffer fill level and trace count.",
		MIMEType:    "text/plain",
	}, s.handleStatsResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "waterfall://file-sources",
		Name:        "file-sources",
		Description: "Directories being followed for OTLP JSONL trace files.",
		MIMEType:    "text/plain",
	}, s.handleFileSourcesResource)

	s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: tracesURI + "/{trace_id}",
		Name:        "trace-waterfall",
		Description: "Full waterfall of one trace with operation counts. Accepts a unique trace id prefix.",
		MIMEType:    "text/plain",
	}, s.handleTraceWaterfallResource)
}

// ─── Static resource handlers ───────────────────────────────────────────

func (s *Server) handleTracesResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	traces := s.storage.ListTraces(storage.TraceQuery{Limit: 50})
	if len(traces) == 0 {
		return textResult(req.Params.URI, "No traces buffered. Send OTLP traces to "+s.otlpReceiver.Endpoint()+"\n"), nil
	}
	return textResult(req.Params.URI, viz.TraceList(traceListEntries(traces))), nil
}

func (s *Server) handleEndpointResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	endpoint := s.otlpReceiver.Endpoint()

	var b strings.Builder
	b.WriteString("OTLP Endpoint\n")
	b.WriteString("═════════════\n")
	fmt.Fprintf(&b, "  Address:   %s\n", endpoint)
	b.WriteString("  Protocol:  grpc (traces only)\n")
	b.WriteString("\n  Environment Variables:\n")
	env := endpointEnv(endpoint)
	for _, k := range []string{"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_PROTOCOL", "OTEL_TRACES_EXPORTER"} {
		fmt.Fprintf(&b, "    %s=%s\n", k, env[k])
	}

	return textResult(req.Params.URI, b.String()), nil
}

func (s *Server) handleStatsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	stats := s.storage.Stats()

	var b strings.Builder
	b.WriteString(viz.StatsOverview(viz.BufferStats{
		SpanCount:    stats.SpanCount,
		SpanCapacity: stats.Capacity,
		TraceCount:   stats.TraceCount,
	}))
	fmt.Fprintf(&b, "  Usage:    %s\n", fmtPct(stats.SpanCount, stats.Capacity))
	fmt.Fprintf(&b, "  Received: %s spans since start\n", fmtNum(int(stats.SpansReceived)))
	if evicted := int(stats.SpansReceived) - stats.SpanCount; evicted > 0 {
		fmt.Fprintf(&b, "  Evicted:  %s spans (oldest traces may be incomplete)\n", fmtNum(evicted))
	}

	return textResult(req.Params.URI, b.String()), nil
}

func (s *Server) handleFileSourcesResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	sources := s.FileSourceStats()

	var b strings.Builder
	b.WriteString("File Sources\n")
	b.WriteString("════════════\n")
	if len(sources) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, src := range sources {
		fmt.Fprintf(&b, "  %s\n", src.Directory)
		fmt.Fprintf(&b, "    Files: %d  Lines: %s  Errors: %d\n",
			src.FilesTracked, fmtNum(src.LinesRead), src.LineErrors)
	}

	return textResult(req.Params.URI, b.String()), nil
}

// ─── Template resource handlers ─────────────────────────────────────────

func (s *Server) handleTraceWaterfallResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	traceID, err := extractURIParam(req.Params.URI, tracesURI+"/")
	if err != nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	res, err := s.layout(traceID, viz.Options{Width: defaultWidth, ShowOperations: true})
	if err != nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	return textResult(req.Params.URI, res.text), nil
}

// ─── Helpers ────────────────────────────────────────────────────────────

// extractURIParam strips prefix from uri and URL-decodes the remainder.
func extractURIParam(uri, prefix string) (string, error) {
	if !strings.HasPrefix(uri, prefix) {
		return "", fmt.Errorf("invalid URI: %s", uri)
	}
	param := strings.TrimPrefix(uri, prefix)
	if param == "" {
		return "", fmt.Errorf("empty parameter in URI: %s", uri)
	}
	decoded, err := url.PathUnescape(param)
	if err != nil {
		return "", fmt.Errorf("invalid encoding in URI: %w", err)
	}
	return decoded, nil
}

// textResult wraps a string in a ReadResourceResult.
func textResult(uri, text string) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     text,
		}},
	}
}

// fmtNum formats an integer with comma separators (e.g. 10,000).
func fmtNum(n int) string {
	if n < 0 {
		return "-" + fmtNum(-n)
	}
	s := fmt.Sprintf("%d", n)
	if n < 1000 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// fmtPct formats a percentage like "62%".
func fmtPct(count, capacity int) string {
	if capacity == 0 {
		return "─"
	}
	return fmt.Sprintf("%.0f%%", float64(count)/float64(capacity)*100)
}
