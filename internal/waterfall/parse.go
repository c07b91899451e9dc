package waterfall

import "sort"

// browserJavaScriptSDKs lists SDKs that do not report idle time reliably.
// Gap rows are suppressed for transactions they send.
var browserJavaScriptSDKs = map[string]struct{}{
	"sentry.javascript.browser":   {},
	"sentry.javascript.react":     {},
	"sentry.javascript.gatsby":    {},
	"sentry.javascript.ember":     {},
	"sentry.javascript.vue":       {},
	"sentry.javascript.angular":   {},
	"sentry.javascript.nextjs":    {},
	"sentry.javascript.electron":  {},
	"sentry.javascript.remix":     {},
	"sentry.javascript.svelte":    {},
	"sentry.javascript.sveltekit": {},
	"sentry.javascript.astro":     {},
	"opentelemetry.webjs":         {},
}

// IsBrowserJavaScript reports whether the transaction was produced by a
// browser JavaScript instrumentation.
func (t Transaction) IsBrowserJavaScript() bool {
	if _, ok := browserJavaScriptSDKs[t.SDKName]; ok {
		return true
	}
	return t.Platform == "webjs"
}

// ParseTrace converts a transaction payload into a ParsedTrace.
//
// Spans whose declared parent is missing, empty or unknown are reattached to
// the root and flagged as orphans. Spans caught in a parent cycle (including
// self-parents) have the span where the cycle closes reattached the same way,
// so every span is reachable from the root exactly once. The input is not
// modified.
func ParseTrace(txn Transaction) *ParsedTrace {
	rootID := txn.SpanID

	traceStart := txn.StartTimestamp
	traceEnd := txn.EndTimestamp

	// 1. Potential parents: every span id plus the root.
	potentialParents := make(map[string]struct{}, len(txn.Spans)+1)
	if rootID != "" {
		potentialParents[rootID] = struct{}{}
	}
	for _, s := range txn.Spans {
		potentialParents[s.SpanID] = struct{}{}
	}

	// 2. Effective parents.
	spans := make([]Span, len(txn.Spans))
	parentOf := make(map[string]string, len(txn.Spans))
	for i, s := range txn.Spans {
		s.IsOrphan = false
		if _, ok := potentialParents[s.ParentSpanID]; s.ParentSpanID == "" || !ok {
			s.ParentSpanID = rootID
			s.IsOrphan = true
		}
		spans[i] = s
		if _, seen := parentOf[s.SpanID]; !seen {
			parentOf[s.SpanID] = s.ParentSpanID
		}
	}

	breakCycles(spans, parentOf, rootID)

	// 3 & 4. Child lookup and global bounds.
	childSpans := make(map[string][]Span)
	for _, s := range spans {
		childSpans[s.ParentSpanID] = append(childSpans[s.ParentSpanID], s)

		// Both ends count either way so reversed spans stay inside the trace.
		traceStart = min(traceStart, s.StartTimestamp, s.EndTimestamp)
		traceEnd = max(traceEnd, s.StartTimestamp, s.EndTimestamp)
	}

	if traceStart > traceEnd {
		traceStart, traceEnd = traceEnd, traceStart
	}

	// 5. Orphans last, then ascending start; ties keep input order.
	for _, children := range childSpans {
		sortChildren(children)
	}

	return &ParsedTrace{
		TraceID:             txn.TraceID,
		RootSpanID:          rootID,
		RootOp:              txn.Op,
		TraceStartTimestamp: traceStart,
		TraceEndTimestamp:   traceEnd,
		Root:                txn.RootSpan(),
		Spans:               spans,
		ChildSpans:          childSpans,
		SuppressGaps:        txn.IsBrowserJavaScript(),
	}
}

// breakCycles walks every span's parent chain. A chain that revisits a span
// before reaching the root is a cycle; the revisited span is reattached to
// the root as an orphan.
func breakCycles(spans []Span, parentOf map[string]string, rootID string) {
	const (
		unknown uint8 = iota
		visiting
		rooted
	)
	state := make(map[string]uint8, len(parentOf))
	reattached := make(map[string]struct{})

	for _, s := range spans {
		var path []string
		id := s.SpanID
		for id != rootID {
			st := state[id]
			if st == rooted {
				break
			}
			if st == visiting {
				parentOf[id] = rootID
				reattached[id] = struct{}{}
				break
			}
			state[id] = visiting
			path = append(path, id)
			id = parentOf[id]
		}
		for _, p := range path {
			state[p] = rooted
		}
	}

	if len(reattached) == 0 {
		return
	}
	for i := range spans {
		if _, ok := reattached[spans[i].SpanID]; ok {
			spans[i].ParentSpanID = rootID
			spans[i].IsOrphan = true
		}
	}
}

func sortChildren(children []Span) {
	sort.SliceStable(children, func(i, j int) bool {
		a, b := children[i], children[j]
		if a.IsOrphan != b.IsOrphan {
			return !a.IsOrphan
		}
		return a.StartTimestamp < b.StartTimestamp
	})
}
