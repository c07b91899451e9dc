package waterfall

import "math"

// GapThreshold is the minimum idle time between siblings, in seconds, that
// produces a "Missing instrumentation" row.
const GapThreshold = 0.1

// GapOp and GapDescription label the synthetic span carried by gap rows.
const (
	GapOp          = "gap"
	GapDescription = "Missing instrumentation"
)

// ListOptions carries the per-node state of a flattening pass.
type ListOptions struct {
	TreeDepth            int
	IsLastSibling        bool
	ContinuingTreeDepths []TreeDepth

	Filter OperationFilter
	// SearchIDs restricts output to matching span ids. nil means no search
	// is active; an empty non-nil set hides everything.
	SearchIDs map[string]struct{}

	Bounds BoundsFn

	// HiddenSubtrees holds span ids whose descendants are collapsed.
	HiddenSubtrees map[string]struct{}

	PreviousSiblingEndTimestamp *float64
	SuppressGaps                bool
}

// SpansList flattens the subtree into display rows, depth-first over the
// sorted children. Every span in the subtree yields exactly one row: a full
// row, or a placeholder when it is filtered, out of view or collapsed. Gap
// rows precede full rows that start at least GapThreshold after the
// previous sibling ended.
func (n *SpanTreeNode) SpansList(opts ListOptions) []Row {
	if opts.Bounds == nil {
		opts.Bounds = func(_, _ float64) ScreenBounds {
			return ScreenBounds{Type: BoundsTraceEmpty, IsVisible: true}
		}
	}
	rows := make([]Row, 0, n.Size()+1)
	return n.appendRows(rows, opts, false)
}

func (n *SpanTreeNode) appendRows(rows []Row, opts ListOptions, collapsed bool) []Row {
	span := n.Span

	row := Row{
		Type:                 RowSpan,
		Span:                 span,
		TreeDepth:            opts.TreeDepth,
		IsLastSibling:        opts.IsLastSibling,
		ContinuingTreeDepths: opts.ContinuingTreeDepths,
		NumOfChildren:        len(n.Children),
	}
	if n.IsRoot {
		row.Type = RowRootSpan
	}

	switch {
	case collapsed:
		row.Type = RowFilteredOut
		row.Hidden = HiddenByCollapse
		rows = append(rows, row)
	case isFilteredOut(span, opts):
		row.Type = RowFilteredOut
		row.Hidden = HiddenByFilter
		rows = append(rows, row)
	default:
		row.Bounds = opts.Bounds(span.StartTimestamp, span.EndTimestamp)
		if !row.Bounds.IsVisible {
			row.Type = RowOutOfView
			row.Hidden = HiddenByView
			rows = append(rows, row)
			break
		}
		if gap, ok := gapRow(span, opts); ok {
			rows = append(rows, gap)
		}
		rows = append(rows, row)
	}

	if len(n.Children) == 0 {
		return rows
	}

	childDepths := opts.ContinuingTreeDepths
	if !opts.IsLastSibling {
		childDepths = make([]TreeDepth, len(opts.ContinuingTreeDepths), len(opts.ContinuingTreeDepths)+1)
		copy(childDepths, opts.ContinuingTreeDepths)
		childDepths = append(childDepths, TreeDepth{Depth: opts.TreeDepth, Orphan: span.IsOrphan})
	}

	_, hidden := opts.HiddenSubtrees[span.SpanID]
	childCollapsed := collapsed || hidden

	var prevEnd *float64
	last := len(n.Children) - 1
	for i, child := range n.Children {
		childOpts := opts
		childOpts.TreeDepth = opts.TreeDepth + 1
		childOpts.IsLastSibling = i == last
		childOpts.ContinuingTreeDepths = childDepths
		childOpts.PreviousSiblingEndTimestamp = prevEnd

		rows = child.appendRows(rows, childOpts, childCollapsed)

		end := child.Span.EndTimestamp
		prevEnd = &end
	}
	return rows
}

// isFilteredOut applies the operation filter (only to spans that carry an
// operation name) and the search result set.
func isFilteredOut(span Span, opts ListOptions) bool {
	if opts.Filter.IsActive() && span.Op != "" && !opts.Filter.Allows(span.Op) {
		return true
	}
	if opts.SearchIDs != nil {
		if _, ok := opts.SearchIDs[span.SpanID]; !ok {
			return true
		}
	}
	return false
}

func gapRow(span Span, opts ListOptions) (Row, bool) {
	if opts.SuppressGaps || opts.PreviousSiblingEndTimestamp == nil {
		return Row{}, false
	}
	prevEnd := *opts.PreviousSiblingEndTimestamp
	if prevEnd >= span.StartTimestamp || !isGapLongEnough(span.StartTimestamp-prevEnd) {
		return Row{}, false
	}

	gap := Span{
		SpanID:         span.SpanID + "-gap",
		ParentSpanID:   span.ParentSpanID,
		TraceID:        span.TraceID,
		StartTimestamp: prevEnd,
		EndTimestamp:   span.StartTimestamp,
		Op:             GapOp,
		Description:    GapDescription,
		IsOrphan:       span.IsOrphan,
	}
	return Row{
		Type:                 RowGap,
		Span:                 gap,
		TreeDepth:            opts.TreeDepth,
		IsLastSibling:        false,
		ContinuingTreeDepths: opts.ContinuingTreeDepths,
		Bounds:               opts.Bounds(gap.StartTimestamp, gap.EndTimestamp),
	}, true
}

// isGapLongEnough compares at microsecond resolution so a gap of exactly
// GapThreshold qualifies even when float subtraction lands just below it.
func isGapLongEnough(seconds float64) bool {
	return math.Round(seconds*1e6) >= math.Round(GapThreshold*1e6)
}
