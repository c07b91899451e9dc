package viz

import (
	"fmt"
	"strings"
)

// TraceList renders a compact table of buffered traces, newest first as
// given.
func TraceList(traces []TraceListEntry) string {
	if len(traces) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Traces (%d)\n", len(traces))

	for _, t := range traces {
		shortID := t.TraceID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}

		status := statusIcon(t.Status, t.ErrorCount)
		durStr := fmt.Sprintf("%.0fms", t.DurationMs)

		label := t.RootOp
		if t.Description != "" {
			label += " " + t.Description
		}
		if runes := []rune(label); len(runes) > 40 {
			label = string(runes[:39]) + "…"
		}

		errStr := ""
		if t.ErrorCount > 0 {
			errStr = fmt.Sprintf("  %d errors", t.ErrorCount)
		}

		fmt.Fprintf(&b, "  %s %s  %-40s  %5d spans  %8s%s\n", status, shortID, label, t.SpanCount, durStr, errStr)
	}

	return b.String()
}

func statusIcon(status string, errorCount int) string {
	if isErrorStatus(status) || errorCount > 0 {
		return "✗"
	}
	switch strings.ToLower(status) {
	case "ok", "status_code_ok":
		return "✓"
	default:
		return "·"
	}
}
