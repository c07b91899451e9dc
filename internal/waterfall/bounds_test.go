package waterfall

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMakeBoundsGenerator(t *testing.T) {
	tests := []struct {
		name       string
		traceStart float64
		traceEnd   float64
		window     ViewWindow
		start, end float64
		want       ScreenBounds
	}{
		{
			name: "stable inside full window", traceStart: 0, traceEnd: 10, window: FullWindow,
			start: 2, end: 3,
			want: ScreenBounds{Type: BoundsStable, Start: 0.2, End: 0.3, IsVisible: true},
		},
		{
			name: "empty trace", traceStart: 5, traceEnd: 5, window: FullWindow,
			start: 5, end: 5,
			want: ScreenBounds{Type: BoundsTraceEmpty, IsVisible: true},
		},
		{
			name: "zero width window", traceStart: 0, traceEnd: 10, window: ViewWindow{Start: 0.5, End: 0.5},
			start: 1, end: 2,
			want: ScreenBounds{Type: BoundsInvalidWindow, IsVisible: true},
		},
		{
			name: "NaN window end", traceStart: 0, traceEnd: 10, window: ViewWindow{Start: 0, End: math.NaN()},
			start: 2, end: 3,
			want: ScreenBounds{Type: BoundsInvalidWindow, IsVisible: true},
		},
		{
			name: "instant on right edge", traceStart: 0, traceEnd: 10, window: FullWindow,
			start: 10, end: 10,
			want: ScreenBounds{Type: BoundsEqualTimestamps, Start: 1, Width: EqualTimestampsWidth, IsVisible: true},
		},
		{
			name: "instant on left edge", traceStart: 0, traceEnd: 10, window: FullWindow,
			start: 0, end: 0,
			want: ScreenBounds{Type: BoundsEqualTimestamps, Start: 0, Width: EqualTimestampsWidth, IsVisible: true},
		},
		{
			name: "reversed span", traceStart: 0, traceEnd: 10, window: FullWindow,
			start: 5, end: 3,
			want: ScreenBounds{Type: BoundsReversed, Start: 0.3, End: 0.5, IsVisible: true},
		},
		{
			name: "span ending at window start", traceStart: 0, traceEnd: 10, window: ViewWindow{Start: 0.5, End: 1},
			start: 2, end: 5,
			want: ScreenBounds{Type: BoundsStable, Start: -0.6, End: 0, IsVisible: false},
		},
		{
			name: "span starting at window end", traceStart: 0, traceEnd: 10, window: ViewWindow{Start: 0, End: 0.5},
			start: 5, end: 6,
			want: ScreenBounds{Type: BoundsStable, Start: 1, End: 1.2, IsVisible: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MakeBoundsGenerator(tt.traceStart, tt.traceEnd, tt.window)(tt.start, tt.end)
			assert.Equal(t, tt.want.Type, got.Type)
			assert.InDelta(t, tt.want.Start, got.Start, 1e-9)
			assert.InDelta(t, tt.want.End, got.End, 1e-9)
			assert.Equal(t, tt.want.Width, got.Width)
			assert.Equal(t, tt.want.IsVisible, got.IsVisible)
		})
	}
}

func TestMakeBoundsGenerator_InsideWindowIsOrdered(t *testing.T) {
	fn := MakeBoundsGenerator(100, 200, ViewWindow{Start: 0.25, End: 0.75})
	for _, s := range [][2]float64{{125, 175}, {130, 131}, {150, 174.9}, {125, 125.001}} {
		b := fn(s[0], s[1])
		assert.True(t, b.IsVisible)
		assert.GreaterOrEqual(t, b.Start, 0.0)
		assert.LessOrEqual(t, b.Start, b.End)
		assert.LessOrEqual(t, b.End, 1.0+1e-9)
	}
}

func TestMakeBoundsGenerator_Pure(t *testing.T) {
	fn := MakeBoundsGenerator(0, 3, ViewWindow{Start: 0.1, End: 0.9})
	assert.Equal(t, fn(1, 2), fn(1, 2))
	assert.Equal(t, fn(2, 1), fn(2, 1))
}

func TestViewWindow_Normalize(t *testing.T) {
	assert.Equal(t, ViewWindow{Start: 0.2, End: 0.8}, ViewWindow{Start: 0.8, End: 0.2}.Normalize())
	assert.Equal(t, FullWindow, ViewWindow{Start: -1, End: 3}.Normalize())
}

func TestViewWindow_NormalizeNaN(t *testing.T) {
	assert.Equal(t, ViewWindow{Start: 0, End: 0.5}, ViewWindow{Start: math.NaN(), End: 0.5}.Normalize())
	assert.Equal(t, FullWindow, ViewWindow{Start: math.NaN(), End: math.NaN()}.Normalize())

	b := MakeBoundsGenerator(0, 10, ViewWindow{Start: math.NaN(), End: 1}.Normalize())(2, 3)
	assert.Equal(t, BoundsStable, b.Type)
	assert.InDelta(t, 0.2, b.Start, 1e-9)
	assert.InDelta(t, 0.3, b.End, 1e-9)
	assert.True(t, b.IsVisible)
}
