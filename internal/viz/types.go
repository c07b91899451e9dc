package viz

import "github.com/tobert/otlp-waterfall/internal/waterfall"

// TraceHeader describes the trace above a rendered waterfall.
type TraceHeader struct {
	TraceID   string
	SpanCount int
	Duration  float64 // Seconds
	Window    waterfall.ViewWindow
}

// BufferStats describes span buffer fill levels for the stats overview.
type BufferStats struct {
	SpanCount    int
	SpanCapacity int
	TraceCount   int
}

// TraceListEntry describes one buffered trace for the trace table.
type TraceListEntry struct {
	TraceID     string
	RootOp      string
	Description string
	Status      string
	SpanCount   int
	ErrorCount  int
	DurationMs  float64
}
