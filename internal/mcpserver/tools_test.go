package mcpserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/otlp-waterfall/internal/waterfall"
)

func TestGetOTLPEndpoint(t *testing.T) {
	srv := newTestServer(t)

	_, out, err := srv.handleGetOTLPEndpoint(context.Background(), nil, GetOTLPEndpointInput{})
	require.NoError(t, err)
	assert.Equal(t, srv.otlpReceiver.Endpoint(), out.Endpoint)
	assert.Equal(t, "grpc", out.Protocol)
	assert.Equal(t, "http://"+out.Endpoint, out.EnvironmentVars["OTEL_EXPORTER_OTLP_ENDPOINT"])
}

func TestListTraces(t *testing.T) {
	srv := newTestServer(t)
	seedTrace(t, srv)
	ctx := context.Background()

	_, out, err := srv.handleListTraces(ctx, nil, ListTracesInput{})
	require.NoError(t, err)
	require.Len(t, out.Traces, 1)
	assert.Equal(t, testTraceID, out.Traces[0].TraceID)
	assert.Equal(t, "orders", out.Traces[0].Service)
	assert.Equal(t, 4, out.Traces[0].SpanCount)
	assert.Contains(t, out.Table, "http.server GET /orders")

	_, out, err = srv.handleListTraces(ctx, nil, ListTracesInput{Service: "billing"})
	require.NoError(t, err)
	assert.Empty(t, out.Traces)

	_, out, err = srv.handleListTraces(ctx, nil, ListTracesInput{AttributeEquals: map[string]string{"db.system": "postgresql"}})
	require.NoError(t, err)
	assert.Len(t, out.Traces, 1)
}

func TestGetWaterfall(t *testing.T) {
	srv := newTestServer(t)
	seedTrace(t, srv)

	_, out, err := srv.handleGetWaterfall(context.Background(), nil, GetWaterfallInput{
		TraceID:     "0102",
		IncludeRows: true,
	})
	require.NoError(t, err)

	assert.Equal(t, testTraceID, out.TraceID)
	assert.False(t, out.LimitExceeded)
	assert.Contains(t, out.Waterfall, "Missing instrumentation")

	// root, SELECT orders, gap, SELECT items, render
	assert.Equal(t, 5, out.Summary.Total)
	assert.Equal(t, 4, out.Summary.Spans)
	assert.Equal(t, 1, out.Summary.Gaps)
	require.Len(t, out.Rows, 5)
	assert.Equal(t, "root_span", out.Rows[0].Type)
	assert.Equal(t, "gap", out.Rows[2].Type)
	assert.Equal(t, "0000000000000003-gap", out.Rows[2].SpanID)
}

func TestGetWaterfall_FilterCollapseSearch(t *testing.T) {
	srv := newTestServer(t)
	seedTrace(t, srv)
	ctx := context.Background()

	_, out, err := srv.handleGetWaterfall(ctx, nil, GetWaterfallInput{TraceID: testTraceID, Ops: []string{"db"}})
	require.NoError(t, err)
	// The http.server root and the "function" render span are filtered.
	assert.Equal(t, 2, out.Summary.FilteredOut)
	assert.Equal(t, 2, out.Summary.Spans)

	_, out, err = srv.handleGetWaterfall(ctx, nil, GetWaterfallInput{TraceID: testTraceID, Collapse: []string{"0000000000000003"}})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Summary.Collapsed)

	_, out, err = srv.handleGetWaterfall(ctx, nil, GetWaterfallInput{TraceID: testTraceID, Search: "select"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.SearchMatches)
	assert.Contains(t, out.Waterfall, `Search: "select"`)
}

func TestGetWaterfall_Zoom(t *testing.T) {
	srv := newTestServer(t)
	seedTrace(t, srv)

	start, end := 0.0, 0.5
	_, out, err := srv.handleGetWaterfall(context.Background(), nil, GetWaterfallInput{
		TraceID:   testTraceID,
		ViewStart: &start,
		ViewEnd:   &end,
	})
	require.NoError(t, err)
	// SELECT items and render start after the window ends.
	assert.Equal(t, 2, out.Summary.OutOfView)
	assert.Contains(t, out.Waterfall, "view 0%-50%")
}

func TestGetWaterfall_Errors(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, _, err := srv.handleGetWaterfall(ctx, nil, GetWaterfallInput{})
	assert.ErrorContains(t, err, "trace_id is required")

	_, _, err = srv.handleGetWaterfall(ctx, nil, GetWaterfallInput{TraceID: "abcd"})
	assert.ErrorContains(t, err, "not found")
}

func TestGetOperationCounts(t *testing.T) {
	srv := newTestServer(t)
	seedTrace(t, srv)

	_, out, err := srv.handleGetOperationCounts(context.Background(), nil, GetOperationCountsInput{TraceID: "01"})
	require.NoError(t, err)
	assert.Equal(t, testTraceID, out.TraceID)
	require.NotEmpty(t, out.Operations)
	assert.Equal(t, waterfall.OperationCount{Name: "db", Count: 2}, out.Operations[0])
	assert.Contains(t, out.Chart, "Operations (")
}

func TestClearTraces(t *testing.T) {
	srv := newTestServer(t)
	seedTrace(t, srv)

	_, out, err := srv.handleClearTraces(context.Background(), nil, ClearTracesInput{})
	require.NoError(t, err)
	assert.Equal(t, 4, out.SpansCleared)
	assert.Equal(t, 1, out.TracesCleared)
	assert.Zero(t, srv.storage.Stats().SpanCount)
}

func TestFileSourceTools(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	dir := t.TempDir()

	_, _, err := srv.handleAddFileSource(ctx, nil, AddFileSourceInput{})
	assert.Error(t, err)

	_, out, err := srv.handleAddFileSource(ctx, nil, AddFileSourceInput{Directory: dir})
	require.NoError(t, err)
	require.Len(t, out.Sources, 1)
	assert.Equal(t, dir, out.Sources[0].Directory)

	_, out, err = srv.handleRemoveFileSource(ctx, nil, RemoveFileSourceInput{Directory: dir})
	require.NoError(t, err)
	assert.Empty(t, out.Sources)
}
