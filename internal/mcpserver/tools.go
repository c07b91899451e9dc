package mcpserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/otlp-waterfall/internal/filereader"
	"github.com/tobert/otlp-waterfall/internal/storage"
	"github.com/tobert/otlp-waterfall/internal/traceio"
	"github.com/tobert/otlp-waterfall/internal/viz"
	"github.com/tobert/otlp-waterfall/internal/waterfall"
)

// ═══════════════════════════════════════════════════════════════════════════
// WATERFALL TOOLS
//
// 1. get_otlp_endpoint    - where to send traces
// 2. list_traces          - find a trace in the buffer
// 3. get_waterfall        - lay one trace out (zoom, filter, collapse, search)
// 4. get_operation_counts - operation histogram for choosing filters
// 5. clear_traces         - empty the buffer
// 6. add_file_source / remove_file_source - follow collector JSONL output
// ═══════════════════════════════════════════════════════════════════════════

// Tool 1: get_otlp_endpoint

type GetOTLPEndpointInput struct{}

type GetOTLPEndpointOutput struct {
	Endpoint        string            `json:"endpoint" jsonschema:"OTLP gRPC endpoint address for traces"`
	Protocol        string            `json:"protocol" jsonschema:"Protocol type (grpc)"`
	EnvironmentVars map[string]string `json:"environment_vars" jsonschema:"Suggested environment variables for configuring applications"`
}

func (s *Server) handleGetOTLPEndpoint(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetOTLPEndpointInput,
) (*mcp.CallToolResult, GetOTLPEndpointOutput, error) {
	endpoint := s.otlpReceiver.Endpoint()
	return &mcp.CallToolResult{}, GetOTLPEndpointOutput{
		Endpoint:        endpoint,
		Protocol:        "grpc",
		EnvironmentVars: endpointEnv(endpoint),
	}, nil
}

func endpointEnv(endpoint string) map[string]string {
	return map[string]string{
		"OTEL_EXPORTER_OTLP_ENDPOINT": "http://" + endpoint,
		"OTEL_EXPORTER_OTLP_PROTOCOL": "grpc",
		"OTEL_TRACES_EXPORTER":        "otlp",
	}
}

// Tool 2: list_traces

type ListTracesInput struct {
	Service string `json:"service,omitempty" jsonschema:"Only traces whose root service.name matches"`
	Op      string `json:"op,omitempty" jsonschema:"Only traces whose root operation matches (case-insensitive)"`
	Search  string `json:"search,omitempty" jsonschema:"Substring of the trace id or root description"`

	ErrorsOnly bool   `json:"errors_only,omitempty" jsonschema:"Only traces with at least one error span"`
	Status     string `json:"status,omitempty" jsonschema:"Root status: ok, internal_error or unset"`

	MinDurationMs *float64 `json:"min_duration_ms,omitempty" jsonschema:"Minimum trace duration in milliseconds"`
	MaxDurationMs *float64 `json:"max_duration_ms,omitempty" jsonschema:"Maximum trace duration in milliseconds"`

	HasAttribute    string            `json:"has_attribute,omitempty" jsonschema:"Some span carries this attribute key (e.g. 'db.system')"`
	AttributeEquals map[string]string `json:"attribute_equals,omitempty" jsonschema:"Some span carries all of these attribute values (e.g. {'http.status_code': '500'})"`

	Limit int `json:"limit,omitempty" jsonschema:"Maximum traces to return (default 20, 0 with no other filters also means 20)"`
}

type ListTracesOutput struct {
	Traces []storage.TraceSummary `json:"traces" jsonschema:"Matching traces, most recently updated first"`
	Table  string                 `json:"table" jsonschema:"Human-readable trace table"`
}

const defaultTraceLimit = 20

func (s *Server) handleListTraces(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ListTracesInput,
) (*mcp.CallToolResult, ListTracesOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultTraceLimit
	}

	traces := s.storage.ListTraces(storage.TraceQuery{
		Service:         input.Service,
		Op:              input.Op,
		Search:          input.Search,
		ErrorsOnly:      input.ErrorsOnly,
		Status:          input.Status,
		MinDurationMs:   input.MinDurationMs,
		MaxDurationMs:   input.MaxDurationMs,
		HasAttribute:    input.HasAttribute,
		AttributeEquals: input.AttributeEquals,
		Limit:           limit,
	})

	return &mcp.CallToolResult{}, ListTracesOutput{
		Traces: traces,
		Table:  viz.TraceList(traceListEntries(traces)),
	}, nil
}

func traceListEntries(traces []storage.TraceSummary) []viz.TraceListEntry {
	entries := make([]viz.TraceListEntry, len(traces))
	for i, t := range traces {
		entries[i] = viz.TraceListEntry{
			TraceID:     t.TraceID,
			RootOp:      t.RootOp,
			Description: t.Description,
			Status:      t.Status,
			SpanCount:   t.SpanCount,
			ErrorCount:  t.ErrorCount,
			DurationMs:  t.DurationMs,
		}
	}
	return entries
}

// Tool 3: get_waterfall

type GetWaterfallInput struct {
	TraceID string `json:"trace_id" jsonschema:"Trace id or unique prefix (see list_traces)"`

	ViewStart *float64 `json:"view_start,omitempty" jsonschema:"Left edge of the zoom window as a fraction of the trace (0-1, default 0)"`
	ViewEnd   *float64 `json:"view_end,omitempty" jsonschema:"Right edge of the zoom window as a fraction of the trace (0-1, default 1)"`

	Ops      []string `json:"ops,omitempty" jsonschema:"Only show spans with these operation names; others become filtered placeholders"`
	Collapse []string `json:"collapse,omitempty" jsonschema:"Span ids whose descendants are hidden"`
	Search   string   `json:"search,omitempty" jsonschema:"Only show spans whose op, description, id, status or tags contain this text"`

	Width       int  `json:"width,omitempty" jsonschema:"Rendered width in columns (default 100)"`
	IncludeRows bool `json:"include_rows,omitempty" jsonschema:"Also return the structured rows with screen bounds"`
}

type GetWaterfallOutput struct {
	TraceID       string              `json:"trace_id" jsonschema:"Full trace id"`
	Waterfall     string              `json:"waterfall" jsonschema:"Rendered waterfall with row summary and warnings"`
	Summary       waterfall.Summary   `json:"summary" jsonschema:"Row counts by outcome"`
	SearchMatches int                 `json:"search_matches,omitempty" jsonschema:"Spans matching the search query"`
	LimitExceeded bool                `json:"limit_exceeded" jsonschema:"The SDK probably stopped recording spans"`
	Rows          []traceio.LayoutRow `json:"rows,omitempty" jsonschema:"Structured rows (only with include_rows)"`
}

const defaultWidth = 100

func (s *Server) handleGetWaterfall(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetWaterfallInput,
) (*mcp.CallToolResult, GetWaterfallOutput, error) {
	if input.TraceID == "" {
		return nil, GetWaterfallOutput{}, fmt.Errorf("trace_id is required")
	}

	opts := viz.Options{
		Window:   waterfall.FullWindow,
		Ops:      input.Ops,
		Collapse: input.Collapse,
		Search:   input.Search,
		Width:    input.Width,
	}
	if input.ViewStart != nil {
		opts.Window.Start = *input.ViewStart
	}
	if input.ViewEnd != nil {
		opts.Window.End = *input.ViewEnd
	}
	if opts.Width <= 0 {
		opts.Width = defaultWidth
	}

	res, err := s.layout(input.TraceID, opts)
	if err != nil {
		return nil, GetWaterfallOutput{}, err
	}

	out := GetWaterfallOutput{
		TraceID:       res.model.Trace().TraceID,
		Waterfall:     res.text,
		Summary:       waterfall.Summarize(res.rows),
		SearchMatches: res.matches,
		LimitExceeded: res.model.LimitExceeded(),
	}
	if input.IncludeRows {
		out.Rows = traceio.LayoutRows(res.rows)
	}
	return &mcp.CallToolResult{}, out, nil
}

// Tool 4: get_operation_counts

type GetOperationCountsInput struct {
	TraceID string `json:"trace_id" jsonschema:"Trace id or unique prefix"`
}

type GetOperationCountsOutput struct {
	TraceID    string                     `json:"trace_id" jsonschema:"Full trace id"`
	Operations []waterfall.OperationCount `json:"operations" jsonschema:"Span count per operation name, sorted by name"`
	Chart      string                     `json:"chart" jsonschema:"Human-readable histogram"`
}

func (s *Server) handleGetOperationCounts(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetOperationCountsInput,
) (*mcp.CallToolResult, GetOperationCountsOutput, error) {
	id, ok := s.storage.ResolveTraceID(input.TraceID)
	if !ok {
		return nil, GetOperationCountsOutput{}, fmt.Errorf("trace %q not found or ambiguous", input.TraceID)
	}
	txn, ok := s.storage.Transaction(id)
	if !ok {
		return nil, GetOperationCountsOutput{}, fmt.Errorf("trace %s has no spans", id)
	}

	counts := waterfall.NewModel(txn).OperationNameCounts()
	return &mcp.CallToolResult{}, GetOperationCountsOutput{
		TraceID:    id,
		Operations: counts,
		Chart:      viz.OperationSummary(counts, waterfall.NoFilter, defaultWidth),
	}, nil
}

// Tool 5: clear_traces

type ClearTracesInput struct{}

type ClearTracesOutput struct {
	SpansCleared  int    `json:"spans_cleared" jsonschema:"Spans removed from the buffer"`
	TracesCleared int    `json:"traces_cleared" jsonschema:"Traces removed from the buffer"`
	Message       string `json:"message" jsonschema:"Confirmation message"`
}

func (s *Server) handleClearTraces(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ClearTracesInput,
) (*mcp.CallToolResult, ClearTracesOutput, error) {
	before := s.storage.Stats()
	s.storage.Clear()

	return &mcp.CallToolResult{}, ClearTracesOutput{
		SpansCleared:  before.SpanCount,
		TracesCleared: before.TraceCount,
		Message:       fmt.Sprintf("Cleared %d spans across %d traces", before.SpanCount, before.TraceCount),
	}, nil
}

// Tool 6: add_file_source / remove_file_source

type AddFileSourceInput struct {
	Directory  string `json:"directory" jsonschema:"Directory holding traces*.jsonl files or a traces/ subdirectory"`
	ActiveOnly bool   `json:"active_only,omitempty" jsonschema:"Only read traces.jsonl and skip rotated archives"`
}

type FileSourceOutput struct {
	Sources []filereader.Stats `json:"sources" jsonschema:"Directories being followed"`
	Message string             `json:"message" jsonschema:"Confirmation message"`
}

func (s *Server) handleAddFileSource(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddFileSourceInput,
) (*mcp.CallToolResult, FileSourceOutput, error) {
	if input.Directory == "" {
		return nil, FileSourceOutput{}, fmt.Errorf("directory is required")
	}
	// The source outlives this request.
	if err := s.AddFileSource(context.WithoutCancel(ctx), input.Directory, input.ActiveOnly); err != nil {
		return nil, FileSourceOutput{}, err
	}

	return &mcp.CallToolResult{}, FileSourceOutput{
		Sources: s.FileSourceStats(),
		Message: fmt.Sprintf("Following trace files in %s", input.Directory),
	}, nil
}

type RemoveFileSourceInput struct {
	Directory string `json:"directory" jsonschema:"Directory previously passed to add_file_source"`
}

func (s *Server) handleRemoveFileSource(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input RemoveFileSourceInput,
) (*mcp.CallToolResult, FileSourceOutput, error) {
	if err := s.RemoveFileSource(input.Directory); err != nil {
		return nil, FileSourceOutput{}, err
	}
	return &mcp.CallToolResult{}, FileSourceOutput{
		Sources: s.FileSourceStats(),
		Message: fmt.Sprintf("Stopped following %s; its spans stay buffered", input.Directory),
	}, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_otlp_endpoint",
		Description: "🚀 START HERE: Get the OTLP gRPC endpoint that buffers traces. Set OTEL_EXPORTER_OTLP_ENDPOINT to it before running the program you want to inspect.",
	}, s.handleGetOTLPEndpoint)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_traces",
		Description: "List buffered traces, most recently updated first, with root operation, span and error counts and duration. Filter by service, root op, status, errors, duration range or span attributes to find the request you care about.",
	}, s.handleListTraces)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_waterfall",
		Description: "Lay one trace out as a waterfall: the span tree in time order with bars scaled to the trace, gap rows where instrumentation is missing, and orphaned spans marked. Zoom with view_start/view_end, narrow with ops, fold subtrees with collapse, or search. Placeholders count what is hidden. Warns when the SDK likely hit its span limit.",
	}, s.handleGetWaterfall)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_operation_counts",
		Description: "Count spans per operation name in a trace. Use it to pick the ops filter for get_waterfall.",
	}, s.handleGetOperationCounts)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "clear_traces",
		Description: "Remove every buffered span. Use between test runs so list_traces only shows new traces.",
	}, s.handleClearTraces)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "add_file_source",
		Description: "Load and follow OTLP JSONL trace files written by an OpenTelemetry Collector file exporter in a directory.",
	}, s.handleAddFileSource)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "remove_file_source",
		Description: "Stop following a directory added with add_file_source.",
	}, s.handleRemoveFileSource)
}
