package viz

import (
	"strings"
	"testing"
)

func TestTraceList_Empty(t *testing.T) {
	result := TraceList(nil)
	if result != "" {
		t.Errorf("expected empty string, got %q", result)
	}
}

func TestTraceList(t *testing.T) {
	traces := []TraceListEntry{
		{TraceID: "aabbccdd11223344", RootOp: "http.server", Description: "GET /users", Status: "ok", SpanCount: 12, DurationMs: 502},
		{TraceID: "eeff00112233aabb", RootOp: "http.server", Description: "POST /orders", SpanCount: 40, ErrorCount: 2, DurationMs: 1200},
		{TraceID: "0011223344556677", RootOp: "task", SpanCount: 1, DurationMs: 3},
	}
	result := TraceList(traces)

	if !strings.Contains(result, "Traces (3)") {
		t.Errorf("expected header, got:\n%s", result)
	}
	if !strings.Contains(result, "aabbccdd") {
		t.Errorf("expected truncated trace ID, got:\n%s", result)
	}
	if !strings.Contains(result, "http.server GET /users") {
		t.Errorf("expected trace label, got:\n%s", result)
	}
	if !strings.Contains(result, "✓") {
		t.Errorf("expected OK icon, got:\n%s", result)
	}
	if !strings.Contains(result, "✗") || !strings.Contains(result, "2 errors") {
		t.Errorf("expected error icon and count, got:\n%s", result)
	}
	if !strings.Contains(result, "·") {
		t.Errorf("expected unset icon, got:\n%s", result)
	}
}

func TestTraceList_TruncatesLabel(t *testing.T) {
	traces := []TraceListEntry{
		{TraceID: "abc", RootOp: "http.server", Description: strings.Repeat("x", 80)},
	}
	result := TraceList(traces)
	if !strings.Contains(result, "…") {
		t.Errorf("expected truncated label, got:\n%s", result)
	}
}
