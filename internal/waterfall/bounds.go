package waterfall

// BoundsType classifies a ScreenBounds result.
type BoundsType string

const (
	// BoundsTraceEmpty means the trace has no duration; every span is drawn full width.
	BoundsTraceEmpty BoundsType = "TRACE_EMPTY"
	// BoundsInvalidWindow means the view window has no duration.
	BoundsInvalidWindow BoundsType = "INVALID_WINDOW"
	// BoundsEqualTimestamps is an instantaneous span.
	BoundsEqualTimestamps BoundsType = "EQUAL_TIMESTAMPS"
	// BoundsReversed is a span whose end precedes its start.
	BoundsReversed BoundsType = "REVERSED"
	// BoundsStable is the ordinary start < end case.
	BoundsStable BoundsType = "STABLE"
)

// EqualTimestampsWidth is the width, in pixels, of an instantaneous span bar.
const EqualTimestampsWidth = 1

// ScreenBounds is the normalized placement of an interval within the view
// window. 0 is the left edge of the window and 1 the right edge; values
// outside [0,1] lie off screen.
type ScreenBounds struct {
	Type      BoundsType
	Start     float64
	End       float64 // Unset for EQUAL_TIMESTAMPS
	Width     float64 // Only set for EQUAL_TIMESTAMPS
	IsVisible bool
}

// BoundsFn maps a (start, end) timestamp pair to screen bounds.
type BoundsFn func(start, end float64) ScreenBounds

type timestampStatus int

const (
	timestampsStable timestampStatus = iota
	timestampsReversed
	timestampsEqual
)

// normalizeTimestamps orders a pair so start <= end.
func normalizeTimestamps(start, end float64) (float64, float64, timestampStatus) {
	switch {
	case start > end:
		return end, start, timestampsReversed
	case start == end:
		return start, end, timestampsEqual
	default:
		return start, end, timestampsStable
	}
}

// MakeBoundsGenerator returns the bounds function for one view window. The
// returned function is pure and should be reused for every row of a layout
// pass; rebuild it only when the window changes.
func MakeBoundsGenerator(traceStart, traceEnd float64, window ViewWindow) BoundsFn {
	traceStart, traceEnd, _ = normalizeTimestamps(traceStart, traceEnd)

	traceDuration := traceEnd - traceStart
	if !(traceDuration > 0) {
		return func(_, _ float64) ScreenBounds {
			return ScreenBounds{Type: BoundsTraceEmpty, IsVisible: true}
		}
	}

	viewStart := traceStart + window.Start*traceDuration
	viewEnd := traceEnd - (1-window.End)*traceDuration
	viewDuration := viewEnd - viewStart
	// Written negated so a NaN duration is invalid too.
	if !(viewDuration > 0) {
		return func(_, _ float64) ScreenBounds {
			return ScreenBounds{Type: BoundsInvalidWindow, IsVisible: true}
		}
	}

	return func(spanStart, spanEnd float64) ScreenBounds {
		startTs, endTs, status := normalizeTimestamps(spanStart, spanEnd)

		start := (startTs - viewStart) / viewDuration

		switch status {
		case timestampsEqual:
			// Closed bounds: an instant exactly on either edge is still shown.
			return ScreenBounds{
				Type:      BoundsEqualTimestamps,
				Start:     start,
				Width:     EqualTimestampsWidth,
				IsVisible: start >= 0 && start <= 1,
			}
		case timestampsReversed:
			end := (endTs - viewStart) / viewDuration
			return ScreenBounds{
				Type:      BoundsReversed,
				Start:     start,
				End:       end,
				IsVisible: end > 0 && start < 1,
			}
		default:
			end := (endTs - viewStart) / viewDuration
			return ScreenBounds{
				Type:      BoundsStable,
				Start:     start,
				End:       end,
				IsVisible: end > 0 && start < 1,
			}
		}
	}
}
