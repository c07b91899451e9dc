package viz

import (
	"fmt"
	"strings"

	"github.com/tobert/otlp-waterfall/internal/waterfall"
)

// StatsOverview renders span buffer fill-level bars.
func StatsOverview(stats BufferStats) string {
	var b strings.Builder

	b.WriteString("Buffer Health\n")
	writeBar(&b, "Spans", stats.SpanCount, stats.SpanCapacity)
	fmt.Fprintf(&b, "  Traces: %s\n", formatCount(stats.TraceCount))

	return b.String()
}

func writeBar(b *strings.Builder, label string, count, capacity int) {
	barWidth := 20
	filled := 0
	if capacity > 0 {
		filled = count * barWidth / capacity
	}
	if filled > barWidth {
		filled = barWidth
	}

	bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)

	paddedLabel := fmt.Sprintf("%-8s", label)
	fmt.Fprintf(b, "  %s [%s]  %s / %s\n", paddedLabel, bar, formatCount(count), formatCount(capacity))
}

// OperationSummary renders a horizontal bar chart of operation counts.
// Operations allowed by an active filter are marked with '*'.
func OperationSummary(counts []waterfall.OperationCount, filter waterfall.OperationFilter, width int) string {
	if len(counts) == 0 {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	totalSpans := 0
	maxCount := 0
	maxNameLen := 0
	for _, c := range counts {
		totalSpans += c.Count
		maxCount = max(maxCount, c.Count)
		maxNameLen = max(maxNameLen, len([]rune(c.Name)))
	}
	maxNameLen = min(maxNameLen, 24)

	var b strings.Builder
	fmt.Fprintf(&b, "Operations (%d distinct, %d spans)", len(counts), totalSpans)
	if filter.IsActive() {
		fmt.Fprintf(&b, " filter: %s", strings.Join(filter.Names(), ","))
	}
	b.WriteByte('\n')

	barBudget := max(min(20, width-maxNameLen-20), 4)

	for _, c := range counts {
		name := c.Name
		if runes := []rune(name); len(runes) > maxNameLen {
			name = string(runes[:maxNameLen-1]) + "…"
		}
		paddedName := name + strings.Repeat(" ", max(0, maxNameLen-len([]rune(name))))

		barLen := 0
		if maxCount > 0 {
			barLen = c.Count * barBudget / maxCount
		}
		if barLen < 1 && c.Count > 0 {
			barLen = 1
		}
		bar := strings.Repeat("#", barLen) + strings.Repeat(" ", barBudget-barLen)

		mark := " "
		if filter.IsActive() && filter.Allows(c.Name) {
			mark = "*"
		}

		fmt.Fprintf(&b, " %s %s  %s  %d\n", mark, paddedName, bar, c.Count)
	}

	return b.String()
}

// RowSummary renders the outcome counts of a layout pass on one line.
func RowSummary(s waterfall.Summary) string {
	parts := []string{fmt.Sprintf("%d shown", s.Spans)}
	if s.Gaps > 0 {
		parts = append(parts, fmt.Sprintf("%d gaps", s.Gaps))
	}
	if s.FilteredOut > 0 {
		parts = append(parts, fmt.Sprintf("%d filtered", s.FilteredOut))
	}
	if s.OutOfView > 0 {
		parts = append(parts, fmt.Sprintf("%d out of view", s.OutOfView))
	}
	if s.Collapsed > 0 {
		parts = append(parts, fmt.Sprintf("%d collapsed", s.Collapsed))
	}
	return "Rows: " + strings.Join(parts, ", ") + "\n"
}

func formatCount(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1_000_000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1_000_000, (n%1_000_000)/1000, n%1000)
}
