package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/otlp-waterfall/internal/waterfall"
)

const cleanTraceJSON = `{
  "transaction": "GET /users",
  "start_timestamp": 100.0,
  "timestamp": 101.0,
  "contexts": {"trace": {"trace_id": "t1", "span_id": "root", "op": "http.server"}},
  "spans": [
    {"span_id": "a", "parent_span_id": "root", "start_timestamp": 100.1, "timestamp": 100.3, "op": "db", "description": "SELECT users"},
    {"span_id": "b", "parent_span_id": "root", "start_timestamp": 100.6, "timestamp": 100.9, "op": "db", "description": "SELECT orders"}
  ]
}`

const brokenTraceJSON = `{
  "transaction": "worker",
  "start_timestamp": 100.0,
  "timestamp": 101.0,
  "contexts": {"trace": {"trace_id": "t2", "span_id": "root", "op": "queue.task"}},
  "spans": [
    {"span_id": "a", "parent_span_id": "gone", "start_timestamp": 100.1, "timestamp": 100.2, "op": "db"},
    {"span_id": "c", "parent_span_id": "d", "start_timestamp": 100.2, "timestamp": 100.3, "op": "cache"},
    {"span_id": "d", "parent_span_id": "c", "start_timestamp": 100.3, "timestamp": 100.4, "op": "cache"},
    {"span_id": "e", "parent_span_id": "root", "start_timestamp": 100.8, "timestamp": 100.5, "op": "http.client"},
    {"span_id": "f", "parent_span_id": "root", "start_timestamp": 100.5, "timestamp": 100.5, "op": "mark"}
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDiagnose(t *testing.T) {
	txn := waterfall.Transaction{
		TraceID: "t", SpanID: "root", StartTimestamp: 0, EndTimestamp: 1,
		Spans: []waterfall.Span{
			{SpanID: "a", ParentSpanID: "gone", StartTimestamp: 0.1, EndTimestamp: 0.2},
			{SpanID: "a", ParentSpanID: "root", StartTimestamp: 0.3, EndTimestamp: 0.3},
			{SpanID: "b", ParentSpanID: "b", StartTimestamp: 0.5, EndTimestamp: 0.4},
			{SpanID: "c", ParentSpanID: "root", StartTimestamp: 0.6, Unfinished: true, EndTimestamp: 0.6},
		},
	}

	d := diagnose(txn)
	assert.Equal(t, 4, d.Spans)
	assert.Equal(t, 1, d.Orphans)
	assert.Equal(t, 1, d.CyclesBroken) // b is its own parent
	assert.Equal(t, 1, d.Duplicates)
	assert.Equal(t, 1, d.Reversed)
	assert.Equal(t, 1, d.Instantaneous)
	assert.Equal(t, 1, d.Unfinished)
	assert.False(t, d.LimitExceeded)

	var dup checkResult
	for _, r := range d.results() {
		if r.Name == "duplicates" {
			dup = r
		}
	}
	assert.Equal(t, "fail", dup.Status)
	assert.Contains(t, dup.Suggestion, "drawn as leaves")
}

func TestRunCheck_Clean(t *testing.T) {
	path := writeFile(t, "clean.json", cleanTraceJSON)

	var out bytes.Buffer
	require.NoError(t, runCheck(&out, path, "", ""))
	assert.Contains(t, out.String(), "✓ 2 spans, 1 gap(s) of missing instrumentation")
	assert.Contains(t, out.String(), "✅ All checks passed!")
}

func TestRunCheck_Broken(t *testing.T) {
	path := writeFile(t, "broken.json", "["+cleanTraceJSON+","+brokenTraceJSON+"]")

	var out bytes.Buffer
	err := runCheck(&out, path, "native", "")
	require.Error(t, err)

	text := out.String()
	assert.Contains(t, text, "Checking 2 trace(s)")
	assert.Contains(t, text, "⚠ 1 orphan span(s) with a missing parent")
	assert.Contains(t, text, "✗ 1 parent cycle(s) broken")
	assert.Contains(t, text, "✗ 1 span(s) end before they start")
	assert.Contains(t, text, "⚠ 1 zero-length span(s)")
	assert.Contains(t, text, "❌ Found 2 issue(s) that need attention")

	// Selecting the clean trace passes.
	out.Reset()
	require.NoError(t, runCheck(&out, path, "native", "t1"))
	assert.NotContains(t, out.String(), "Trace t2")
}

func TestRunCheck_Errors(t *testing.T) {
	path := writeFile(t, "clean.json", cleanTraceJSON)

	var out bytes.Buffer
	assert.Error(t, runCheck(&out, path, "yaml", ""))
	assert.Error(t, runCheck(&out, path, "", "nope"))
	assert.Error(t, runCheck(&out, filepath.Join(t.TempDir(), "missing.json"), "", ""))
}

func TestSummarizeResults(t *testing.T) {
	s := summarizeResults([]checkResult{
		{Status: "pass"}, {Status: "warn"}, {Status: "warn"}, {Status: "fail"},
	})
	assert.Equal(t, resultSummary{PassCount: 1, WarnCount: 2, FailCount: 1}, s)

	var out bytes.Buffer
	printSummary(&out, resultSummary{PassCount: 1, WarnCount: 1})
	assert.Contains(t, out.String(), "✅ No failures")
	assert.Contains(t, out.String(), "1 warning(s)")
}
