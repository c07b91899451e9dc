package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/tobert/otlp-waterfall/internal/traceio"
	"github.com/tobert/otlp-waterfall/internal/waterfall"
)

// CheckCommand returns the 'check' subcommand, which diagnoses the traces
// in a payload file.
func CheckCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "Diagnose a trace payload",
		ArgsUsage: "FILE",
		Description: `Parses every trace in FILE and reports what the waterfall will repair
or warn about.

This command checks:
  - Spans whose parent is missing (shown as orphans under the root)
  - Parent cycles (broken by reattaching a span to the root)
  - Duplicate span ids
  - Spans that end before they start
  - Zero-length and unfinished spans
  - Traces that probably hit the SDK span limit

Exit codes:
  0 - No failures (warnings allowed)
  1 - Cycles, duplicate ids or reversed spans found`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "format",
				Usage: "Input format: auto, native, otlp, otlp-proto or jaeger",
				Value: string(traceio.FormatAuto),
			},
			&cli.StringFlag{
				Name:  "trace-id",
				Usage: "Check only this trace (prefix accepted)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("check takes exactly one FILE argument")
			}
			return runCheck(os.Stdout, cmd.Args().First(), cmd.String("format"), cmd.String("trace-id"))
		},
	}
}

type checkResult struct {
	Name       string
	Status     string // "pass", "warn", "fail"
	Message    string
	Suggestion string
}

// diagnosis counts what ParseTrace had to repair in one transaction.
type diagnosis struct {
	Spans         int
	Orphans       int // Declared parent missing
	CyclesBroken  int
	Duplicates    int
	Reversed      int
	Instantaneous int
	Unfinished    int
	Gaps          int
	LimitExceeded bool
	SuppressGaps  bool
}

func diagnose(txn waterfall.Transaction) diagnosis {
	d := diagnosis{Spans: len(txn.Spans)}

	known := make(map[string]int, len(txn.Spans)+1)
	if txn.SpanID != "" {
		known[txn.SpanID]++
	}
	for _, s := range txn.Spans {
		known[s.SpanID]++
	}
	for _, n := range known {
		if n > 1 {
			d.Duplicates += n - 1
		}
	}

	m := waterfall.NewModel(txn)
	parsed := m.Trace()
	for i, s := range parsed.Spans {
		declared := txn.Spans[i].ParentSpanID
		_, declaredKnown := known[declared]
		switch {
		case !s.IsOrphan:
		case declared != "" && declaredKnown:
			d.CyclesBroken++
		default:
			d.Orphans++
		}

		switch {
		case s.Unfinished:
			d.Unfinished++
		case s.EndTimestamp < s.StartTimestamp:
			d.Reversed++
		case s.EndTimestamp == s.StartTimestamp:
			d.Instantaneous++
		}
	}

	d.Gaps = m.Summary(waterfall.FullWindow).Gaps
	d.LimitExceeded = m.LimitExceeded()
	d.SuppressGaps = parsed.SuppressGaps
	return d
}

func (d diagnosis) results() []checkResult {
	results := []checkResult{{
		Name:    "spans",
		Status:  "pass",
		Message: fmt.Sprintf("%d spans, %d gap(s) of missing instrumentation", d.Spans, d.Gaps),
	}}
	if d.SuppressGaps {
		results[0].Message = fmt.Sprintf("%d spans (browser SDK, gaps not reported)", d.Spans)
	}

	add := func(name string, n int, status, message, suggestion string) {
		if n == 0 {
			return
		}
		results = append(results, checkResult{
			Name:       name,
			Status:     status,
			Message:    fmt.Sprintf(message, n),
			Suggestion: suggestion,
		})
	}
	add("orphans", d.Orphans, "warn", "%d orphan span(s) with a missing parent",
		"Parents may be in another trace or were dropped by the SDK")
	add("cycles", d.CyclesBroken, "fail", "%d parent cycle(s) broken",
		"A span is its own ancestor; check how parent ids are propagated")
	add("duplicates", d.Duplicates, "fail", "%d duplicate span id(s)",
		"Only the first span with an id shows its children; later ones are drawn as leaves")
	add("reversed", d.Reversed, "fail", "%d span(s) end before they start",
		"Check clock sources; bars are drawn with the timestamps swapped")
	add("instantaneous", d.Instantaneous, "warn", "%d zero-length span(s)", "")
	add("unfinished", d.Unfinished, "warn", "%d unfinished span(s)", "")

	if d.LimitExceeded {
		results = append(results, checkResult{
			Name:       "span_limit",
			Status:     "warn",
			Message:    "Trace probably hit the span limit",
			Suggestion: waterfall.SpanLimitMessage,
		})
	}
	return results
}

func runCheck(w io.Writer, path, formatName, traceID string) error {
	format, err := traceio.ParseFormat(formatName)
	if err != nil {
		return err
	}
	txns, err := traceio.LoadFile(path, format)
	if err != nil {
		return err
	}
	if traceID != "" {
		txn, err := traceio.SelectTransaction(txns, traceID)
		if err != nil {
			return err
		}
		txns = []waterfall.Transaction{txn}
	}
	if len(txns) == 0 {
		return fmt.Errorf("no traces found in %s", path)
	}

	fmt.Fprintf(w, "🔍 Checking %d trace(s) in %s\n", len(txns), path)

	var all []checkResult
	for _, txn := range txns {
		fmt.Fprintf(w, "\nTrace %s (%s)\n", txn.TraceID, txn.Op)
		for _, r := range diagnose(txn).results() {
			printCheckResult(w, r)
			all = append(all, r)
		}
	}

	fmt.Fprintln(w)
	summary := summarizeResults(all)
	printSummary(w, summary)

	if summary.FailCount > 0 {
		return fmt.Errorf("found %d issues that need attention", summary.FailCount)
	}
	return nil
}

func printCheckResult(w io.Writer, result checkResult) {
	var icon string
	switch result.Status {
	case "pass":
		icon = "✓"
	case "warn":
		icon = "⚠"
	case "fail":
		icon = "✗"
	}

	fmt.Fprintf(w, "%s %s\n", icon, result.Message)
	if result.Suggestion != "" {
		fmt.Fprintf(w, "  %s\n", result.Suggestion)
	}
}

type resultSummary struct {
	PassCount int
	WarnCount int
	FailCount int
}

func summarizeResults(results []checkResult) resultSummary {
	var summary resultSummary
	for _, r := range results {
		switch r.Status {
		case "pass":
			summary.PassCount++
		case "warn":
			summary.WarnCount++
		case "fail":
			summary.FailCount++
		}
	}
	return summary
}

func printSummary(w io.Writer, summary resultSummary) {
	switch {
	case summary.FailCount > 0:
		fmt.Fprintf(w, "❌ Found %d issue(s) that need attention\n", summary.FailCount)
		if summary.WarnCount > 0 {
			fmt.Fprintf(w, "⚠️  %d warning(s)\n", summary.WarnCount)
		}
	case summary.WarnCount > 0:
		fmt.Fprintf(w, "✅ No failures\n")
		fmt.Fprintf(w, "⚠️  %d warning(s)\n", summary.WarnCount)
	default:
		fmt.Fprintf(w, "✅ All checks passed!\n")
	}
}
