package traceio

import "github.com/tobert/otlp-waterfall/internal/waterfall"

// LayoutRow is the JSON form of a waterfall row served to clients.
type LayoutRow struct {
	Type         string  `json:"type"`
	SpanID       string  `json:"span_id"`
	ParentSpanID string  `json:"parent_span_id,omitempty"`
	Op           string  `json:"op"`
	Description  string  `json:"description,omitempty"`
	Status       string  `json:"status,omitempty"`
	Start        float64 `json:"start_timestamp"`
	End          float64 `json:"end_timestamp"`
	Orphan       bool    `json:"is_orphan,omitempty"`
	Depth        int     `json:"tree_depth"`
	LastSibling  bool    `json:"is_last_sibling"`
	Continuing   []int   `json:"continuing_depths,omitempty"`
	OrphanDepths []int   `json:"orphan_depths,omitempty"`
	Children     int     `json:"num_children"`
	Bounds       Bounds  `json:"bounds"`
	Hidden       string  `json:"hidden,omitempty"`
}

// Bounds is the JSON form of waterfall.ScreenBounds.
type Bounds struct {
	Type      string  `json:"type"`
	Start     float64 `json:"start"`
	End       float64 `json:"end,omitempty"`
	Width     float64 `json:"width,omitempty"`
	IsVisible bool    `json:"is_visible"`
}

// LayoutRows converts rows for JSON output. Continuing tree depths are split
// into all depths and the subset drawn as orphan connectors.
func LayoutRows(rows []waterfall.Row) []LayoutRow {
	out := make([]LayoutRow, len(rows))
	for i, r := range rows {
		lr := LayoutRow{
			Type:         string(r.Type),
			SpanID:       r.Span.SpanID,
			ParentSpanID: r.Span.ParentSpanID,
			Op:           r.Span.Op,
			Description:  r.Span.Description,
			Status:       r.Span.Status,
			Start:        r.Span.StartTimestamp,
			End:          r.Span.EndTimestamp,
			Orphan:       r.Span.IsOrphan,
			Depth:        r.TreeDepth,
			LastSibling:  r.IsLastSibling,
			Children:     r.NumOfChildren,
			Bounds: Bounds{
				Type:      string(r.Bounds.Type),
				Start:     r.Bounds.Start,
				End:       r.Bounds.End,
				Width:     r.Bounds.Width,
				IsVisible: r.Bounds.IsVisible,
			},
			Hidden: string(r.Hidden),
		}
		for _, d := range r.ContinuingTreeDepths {
			lr.Continuing = append(lr.Continuing, d.Depth)
			if d.Orphan {
				lr.OrphanDepths = append(lr.OrphanDepths, d.Depth)
			}
		}
		out[i] = lr
	}
	return out
}
