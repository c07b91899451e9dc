package waterfall

// SpanLimit is the span count at which SDKs typically stop recording.
const SpanLimit = 999

// SpanLimitMessage is shown when SpanLimitExceeded reports true.
const SpanLimitMessage = "The next spans are unavailable. You may have exceeded the span limit or need to address missing instrumentation."

// SpanLimitExceeded guesses whether the SDK dropped spans: the trace holds at
// least SpanLimit spans and the latest span ends at least GapThreshold before
// the trace does. It errs towards not warning.
func SpanLimitExceeded(p *ParsedTrace) bool {
	if p == nil || len(p.Spans) < SpanLimit {
		return false
	}

	latest := p.Spans[0].EndTimestamp
	for _, s := range p.Spans[1:] {
		latest = max(latest, s.EndTimestamp)
	}
	return isGapLongEnough(p.TraceEndTimestamp - latest)
}
