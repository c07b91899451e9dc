package viz

import (
	"fmt"
	"math"
	"strings"

	"github.com/tobert/otlp-waterfall/internal/waterfall"
)

const (
	maxRowsPerTrace = 200
	defaultBarWidth = 20
)

// Waterfall renders an ASCII waterfall for rows produced by a layout pass.
// Width controls the total line width; 0 uses a sensible default (80).
// Runs of placeholder rows collapse into a single "N hidden spans" line.
func Waterfall(header TraceHeader, rows []waterfall.Row, width int) string {
	if len(rows) == 0 {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	var b strings.Builder

	shortID := header.TraceID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	fmt.Fprintf(&b, "Trace %s (%d spans, %s)", shortID, header.SpanCount, formatDuration(header.Duration))
	if w := header.Window; w != (waterfall.ViewWindow{}) && w != waterfall.FullWindow {
		fmt.Fprintf(&b, " view %.0f%%-%.0f%%", w.Start*100, w.End*100)
	}
	b.WriteByte('\n')

	runs := make(map[int]waterfall.HiddenRun)
	for _, run := range waterfall.HiddenRuns(rows) {
		runs[run.Index] = run
	}

	// Pass 1: widest duration + error suffix, for alignment
	maxDurErrLen := 0
	for _, row := range rows {
		if row.Type.IsPlaceholder() {
			continue
		}
		if n := len(durationText(row)); n > maxDurErrLen {
			maxDurErrLen = n
		}
	}

	// Pass 2: render
	rendered := 0
	overflow := 0
	for i := 0; i < len(rows); i++ {
		if rendered >= maxRowsPerTrace {
			overflow = countSpanRows(rows[i:])
			break
		}
		row := rows[i]
		if run, ok := runs[i]; ok {
			renderHiddenRun(&b, row, run)
			i += run.Count - 1
			rendered++
			continue
		}
		renderRow(&b, row, width, maxDurErrLen)
		rendered++
	}

	if overflow > 0 {
		fmt.Fprintf(&b, "  ... +%d more spans\n", overflow)
	}

	return b.String()
}

func countSpanRows(rows []waterfall.Row) int {
	n := 0
	for _, r := range rows {
		if r.Type != waterfall.RowGap {
			n++
		}
	}
	return n
}

// treePrefix draws the connector columns for a row. Each ancestor depth
// listed in ContinuingTreeDepths keeps its vertical line; orphan lines are
// dashed. It returns the prefix and its width in display columns.
func treePrefix(row waterfall.Row) (string, int) {
	continuing := make(map[int]bool, len(row.ContinuingTreeDepths))
	for _, d := range row.ContinuingTreeDepths {
		continuing[d.Depth] = d.Orphan
	}

	var prefix strings.Builder
	cols := 1
	prefix.WriteString(" ")

	// Tree-drawing characters are multi-byte UTF-8 but one display column.
	for d := 1; d < row.TreeDepth; d++ {
		orphan, ok := continuing[d]
		switch {
		case !ok:
			prefix.WriteString("  ")
		case orphan:
			prefix.WriteString("┆ ")
		default:
			prefix.WriteString("│ ")
		}
		cols += 2
	}

	if row.TreeDepth > 0 {
		dash := "─"
		if row.Span.IsOrphan {
			dash = "┄"
		}
		if row.IsLastSibling {
			prefix.WriteString("└" + dash + " ")
		} else {
			prefix.WriteString("├" + dash + " ")
		}
		cols += 3
	}
	return prefix.String(), cols
}

func renderHiddenRun(b *strings.Builder, first waterfall.Row, run waterfall.HiddenRun) {
	prefix, _ := treePrefix(first)
	reason := ""
	switch run.Reason {
	case waterfall.HiddenByFilter:
		reason = "filtered"
	case waterfall.HiddenByView:
		reason = "out of view"
	case waterfall.HiddenByCollapse:
		reason = "collapsed"
	}
	fmt.Fprintf(b, "%s... %s (%s)\n", prefix, run.Message(), reason)
}

func renderRow(b *strings.Builder, row waterfall.Row, width, maxDurErrLen int) {
	barWidth := defaultBarWidth
	prefix, prefixCols := treePrefix(row)

	label := spanLabel(row.Span)

	// Layout: prefix + label + " [" + bar + "] " + durErr
	fixedCols := prefixCols + 2 + barWidth + 2 + maxDurErrLen
	labelBudget := max(width-fixedCols, 8)
	if runes := []rune(label); len(runes) > labelBudget {
		label = string(runes[:labelBudget-1]) + "…"
	}
	paddedLabel := label + strings.Repeat(" ", max(0, labelBudget-len([]rune(label))))

	bar := buildBar(row, barWidth)

	durErrStr := durationText(row)
	paddedDurErr := durErrStr + strings.Repeat(" ", max(0, maxDurErrLen-len(durErrStr)))

	fmt.Fprintf(b, "%s%s [%s] %s\n", prefix, paddedLabel, bar, paddedDurErr)
}

func spanLabel(s waterfall.Span) string {
	switch {
	case s.Op == "":
		if s.Description == "" {
			return s.SpanID
		}
		return s.Description
	case s.Description == "":
		return s.Op
	default:
		return s.Op + " - " + s.Description
	}
}

func durationText(row waterfall.Row) string {
	d := formatDuration(math.Abs(row.Span.Duration()))
	if row.Type == waterfall.RowGap {
		return d
	}
	if row.Span.Unfinished {
		d += " ?"
	}
	if isErrorStatus(row.Span.Status) {
		d += " !! ERR"
	}
	return d
}

func isErrorStatus(status string) bool {
	switch strings.ToLower(status) {
	case "", "ok", "unset", "status_code_ok", "status_code_unset":
		return false
	default:
		return true
	}
}

// buildBar draws a row's screen bounds onto barWidth cells. Spans run from
// the floor of their start to the ceiling of their end so short spans still
// get a cell; instants are a single '|'.
func buildBar(row waterfall.Row, barWidth int) string {
	bar := []byte(strings.Repeat(".", barWidth))

	fill := byte('#')
	switch {
	case row.Type == waterfall.RowGap:
		fill = '~'
	case row.Bounds.Type == waterfall.BoundsReversed:
		fill = '<'
	}

	bounds := row.Bounds
	switch bounds.Type {
	case waterfall.BoundsTraceEmpty, waterfall.BoundsInvalidWindow:
		for i := range bar {
			bar[i] = fill
		}
	case waterfall.BoundsEqualTimestamps:
		pos := int(math.Floor(bounds.Start * float64(barWidth)))
		pos = min(max(pos, 0), barWidth-1)
		bar[pos] = '|'
	default:
		startPos := int(math.Floor(min(max(bounds.Start, 0), 1) * float64(barWidth)))
		endPos := int(math.Ceil(min(max(bounds.End, 0), 1) * float64(barWidth)))
		startPos = min(startPos, barWidth-1)
		endPos = min(max(endPos, startPos+1), barWidth)
		for i := startPos; i < endPos; i++ {
			bar[i] = fill
		}
	}
	return string(bar)
}

func formatDuration(seconds float64) string {
	nanos := math.Round(seconds * 1e9)
	if nanos <= 0 {
		return "0ns"
	}
	us := nanos / 1000
	if us < 1000 {
		return fmt.Sprintf("%.0fµs", us)
	}
	ms := us / 1000
	if ms < 1000 {
		return fmt.Sprintf("%.0fms", ms)
	}
	s := ms / 1000
	return fmt.Sprintf("%.1fs", s)
}
