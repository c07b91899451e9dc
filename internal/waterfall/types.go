// Package waterfall turns a flat list of spans into the rows of a trace
// waterfall: a depth-annotated, orphan-aware tree, a filtered and
// gap-annotated row sequence, and a mapping from timestamps to normalized
// screen bounds for a zoom window.
//
// Nothing in this package performs I/O or returns errors. Malformed input
// (missing or cyclic parents, reversed or equal timestamps) degrades to a
// renderable result instead.
package waterfall

import "math"

// Span is one timed operation within a trace.
// Timestamps are fractional unix seconds.
type Span struct {
	SpanID       string
	ParentSpanID string // Empty = no declared parent
	TraceID      string

	StartTimestamp float64
	EndTimestamp   float64
	Unfinished     bool // End timestamp was never reported; EndTimestamp == StartTimestamp

	Op          string
	Description string
	Status      string

	Data map[string]any
	Tags map[string]string

	// IsOrphan is set by ParseTrace when the declared parent is not part of
	// the trace and the span was reattached to the root.
	IsOrphan bool
}

// Duration returns end - start. It is negative for reversed spans.
func (s Span) Duration() float64 {
	return s.EndTimestamp - s.StartTimestamp
}

// Transaction is the raw payload handed to the parser: the root timed unit
// plus every child span reported with it.
type Transaction struct {
	EventID      string
	TraceID      string
	SpanID       string // Root span id
	ParentSpanID string

	Op          string
	Description string
	Status      string

	StartTimestamp float64
	EndTimestamp   float64

	SDKName  string // e.g. "sentry.javascript.browser"
	Platform string // e.g. "javascript", "webjs", "go"

	Data map[string]any
	Tags map[string]string

	Spans []Span
}

// RootSpan returns the transaction itself expressed as a span.
func (t Transaction) RootSpan() Span {
	return Span{
		SpanID:         t.SpanID,
		ParentSpanID:   t.ParentSpanID,
		TraceID:        t.TraceID,
		StartTimestamp: t.StartTimestamp,
		EndTimestamp:   t.EndTimestamp,
		Op:             t.Op,
		Description:    t.Description,
		Status:         t.Status,
		Data:           t.Data,
		Tags:           t.Tags,
	}
}

// ParsedTrace is the parser output. It is immutable once returned.
type ParsedTrace struct {
	TraceID             string
	RootSpanID          string
	RootOp              string
	TraceStartTimestamp float64
	TraceEndTimestamp   float64

	Root  Span
	Spans []Span // Child spans with effective parents and orphan flags applied

	// ChildSpans maps a parent span id (another span or RootSpanID) to its
	// children, sorted non-orphans first by start timestamp, then orphans.
	ChildSpans map[string][]Span

	// SuppressGaps is true when the payload came from a browser JavaScript
	// SDK, which does not report idle time reliably.
	SuppressGaps bool
}

// Duration returns the trace duration in seconds.
func (p *ParsedTrace) Duration() float64 {
	return p.TraceEndTimestamp - p.TraceStartTimestamp
}

// ViewWindow is the zoomed fraction [Start, End] of [traceStart, traceEnd].
type ViewWindow struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// FullWindow shows the entire trace.
var FullWindow = ViewWindow{Start: 0, End: 1}

// Normalize clamps both ends into [0,1] and orders them. A NaN end falls
// back to that end of the full window.
func (w ViewWindow) Normalize() ViewWindow {
	start, end := w.Start, w.End
	if math.IsNaN(start) {
		start = 0
	}
	if math.IsNaN(end) {
		end = 1
	}
	start = clamp(start, 0, 1)
	end = clamp(end, 0, 1)
	if start > end {
		start, end = end, start
	}
	return ViewWindow{Start: start, End: end}
}

// RowType tags a flattened row.
type RowType string

const (
	RowRootSpan    RowType = "root_span"
	RowSpan        RowType = "span"
	RowGap         RowType = "gap"
	RowFilteredOut RowType = "filtered_out"
	RowOutOfView   RowType = "out_of_view"
)

// IsPlaceholder reports whether rows of this type are counted but not drawn.
func (t RowType) IsPlaceholder() bool {
	return t == RowFilteredOut || t == RowOutOfView
}

// HiddenReason explains why a placeholder row is not drawn.
type HiddenReason string

const (
	HiddenNone       HiddenReason = ""
	HiddenByFilter   HiddenReason = "filter"
	HiddenByView     HiddenReason = "view"
	HiddenByCollapse HiddenReason = "collapse"
)

// TreeDepth is one entry of a row's continuing tree depths. Orphan entries
// are drawn with a different connector style.
type TreeDepth struct {
	Depth  int
	Orphan bool
}

// Row is one display unit of the flattened waterfall.
type Row struct {
	Type RowType
	Span Span

	TreeDepth     int
	IsLastSibling bool
	// ContinuingTreeDepths lists the ancestor depths that still have a later
	// sibling below this row.
	ContinuingTreeDepths []TreeDepth
	NumOfChildren        int

	Bounds ScreenBounds
	Hidden HiddenReason
}

// IsVisible reports whether the row is drawn as a bar (span, root or gap).
func (r Row) IsVisible() bool {
	return !r.Type.IsPlaceholder()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
