package viz

import (
	"fmt"
	"strings"

	"github.com/tobert/otlp-waterfall/internal/waterfall"
)

// Options is a view over one trace: zoom, operation filter, collapsed
// subtrees and search. The zero value shows everything.
type Options struct {
	Window   waterfall.ViewWindow // Zero value means the full trace
	Ops      []string             // Operation names toggled into the filter
	AllOps   bool                 // Toggle every operation at once, before Ops
	Collapse []string             // Span ids whose descendants are hidden
	Search   string

	Width          int
	ShowOperations bool
}

// ViewWindow returns the normalized window, substituting the full trace for
// the zero value.
func (o Options) ViewWindow() waterfall.ViewWindow {
	if o.Window == (waterfall.ViewWindow{}) {
		return waterfall.FullWindow
	}
	return o.Window.Normalize()
}

// Apply configures m for opts and returns the search match count.
func Apply(m *waterfall.Model, opts Options) int {
	if opts.AllOps {
		m.ToggleAllOperationFilters()
	}
	for _, op := range opts.Ops {
		if op = strings.TrimSpace(op); op != "" {
			m.ToggleOperationFilter(op)
		}
	}
	for _, id := range opts.Collapse {
		if !m.IsCollapsed(id) {
			m.ToggleSpanSubtree(id)
		}
	}
	return m.Search(opts.Search)
}

// Header builds the waterfall header for m.
func Header(m *waterfall.Model, window waterfall.ViewWindow) TraceHeader {
	p := m.Trace()
	return TraceHeader{
		TraceID:   p.TraceID,
		SpanCount: len(p.Spans) + 1,
		Duration:  p.Duration(),
		Window:    window,
	}
}

// Report renders the waterfall for an already configured model, followed by
// the row summary, warnings and, when requested, the operation histogram.
func Report(m *waterfall.Model, opts Options) string {
	window := opts.ViewWindow()
	rows := m.Rows(window)

	var b strings.Builder
	b.WriteString(Waterfall(Header(m, window), rows, opts.Width))
	b.WriteString(RowSummary(waterfall.Summarize(rows)))

	if q := m.Query(); q != "" {
		fmt.Fprintf(&b, "Search: %q\n", q)
	}
	if m.Trace().SuppressGaps {
		b.WriteString("Note: gap rows are not shown for browser JavaScript traces\n")
	}
	if m.LimitExceeded() {
		fmt.Fprintf(&b, "Warning: %s\n", waterfall.SpanLimitMessage)
	}

	if opts.ShowOperations {
		b.WriteByte('\n')
		b.WriteString(OperationSummary(m.OperationNameCounts(), m.Filter(), opts.Width))
	}
	return b.String()
}
