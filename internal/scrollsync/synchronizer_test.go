package scrollsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newSync(t *testing.T) (*Synchronizer, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	s := New(Config{ViewportWidth: 100, TrackWidth: 100}, WithClock(clock.Now))
	s.RegisterRowWidth("a", 300)
	s.RegisterRowWidth("b", 150)
	return s, clock
}

func TestMeasure(t *testing.T) {
	s, _ := newSync(t)

	st := s.State()
	assert.Equal(t, 300.0, st.ContentWidth)
	assert.Equal(t, 200.0, st.MaxScrollOffset)
	// 100 / (100 + 200)
	assert.InDelta(t, 1.0/3, st.ThumbWidthRatio, 1e-9)
	assert.InDelta(t, 100.0/3, st.ThumbWidth, 1e-9)
	assert.True(t, st.ScrollbarVisible)

	s.UnregisterRow("a")
	st = s.State()
	assert.Equal(t, 150.0, st.ContentWidth)
	assert.InDelta(t, 100.0/150, st.ThumbWidthRatio, 1e-9)

	s.UnregisterRow("b")
	st = s.State()
	assert.Equal(t, 1.0, st.ThumbWidthRatio)
	assert.False(t, st.ScrollbarVisible)
}

func TestMeasure_UsesMeasurer(t *testing.T) {
	widths := map[string]float64{"a": 500, "b": 120}
	s := New(Config{ViewportWidth: 100}, WithMeasurer(MeasureFunc(func(id string) float64 {
		return widths[id]
	})))
	s.RegisterRowWidth("a", 0)
	s.RegisterRowWidth("b", 0)
	assert.Equal(t, 500.0, s.State().ContentWidth)

	widths["a"] = 200
	s.Measure()
	assert.Equal(t, 200.0, s.State().ContentWidth)
}

func TestScrollTo_Clamps(t *testing.T) {
	s, _ := newSync(t)

	assert.Equal(t, 200.0, s.ScrollTo(1000))
	assert.Equal(t, 0.0, s.ScrollTo(-50))
	assert.Equal(t, 75.0, s.ScrollTo(75))

	st := s.State()
	assert.Equal(t, -75.0, st.ContentTranslate)
	assert.InDelta(t, 25.0, st.ThumbOffset, 1e-9)
}

func TestScrollTo_ShrinkingContentReclamps(t *testing.T) {
	s, _ := newSync(t)
	s.ScrollTo(200)
	s.UnregisterRow("a")
	assert.Equal(t, 50.0, s.ScrollOffset())
}

func TestThumbAtEndOfTrack(t *testing.T) {
	s, _ := newSync(t)
	s.ScrollTo(200)
	st := s.State()
	assert.InDelta(t, st.TrackWidth-st.ThumbWidth, st.ThumbOffset, 1e-9)
}

func TestWheelDebouncesNativeScroll(t *testing.T) {
	s, clock := newSync(t)

	assert.Equal(t, 30.0, s.OnWheel(30))
	assert.False(t, s.OnNativeScroll(0))
	assert.Equal(t, 30.0, s.ScrollOffset())

	clock.Advance(199 * time.Millisecond)
	assert.False(t, s.OnNativeScroll(0))

	clock.Advance(2 * time.Millisecond)
	assert.True(t, s.OnNativeScroll(10))
	assert.Equal(t, 10.0, s.ScrollOffset())
}

func TestDrag(t *testing.T) {
	s, _ := newSync(t)
	travel := 100 - 100.0/3

	s.DragStart(10)
	st := s.State()
	assert.True(t, st.Dragging)
	assert.False(t, st.Transitions)

	assert.InDelta(t, 100.0, s.DragMove(10+travel/2), 1e-9)
	assert.InDelta(t, 200.0, s.DragMove(10+travel*5), 1e-9)
	assert.InDelta(t, 0.0, s.DragMove(-500), 1e-9)
	assert.InDelta(t, 100.0, s.OnDrag(travel/2), 1e-9)

	// Wheel and native scroll are suppressed while dragging.
	assert.InDelta(t, 100.0, s.OnWheel(40), 1e-9)
	assert.False(t, s.OnNativeScroll(0))

	s.DragEnd()
	st = s.State()
	assert.False(t, st.Dragging)
	assert.True(t, st.Transitions)
	assert.InDelta(t, 140.0, s.OnWheel(40), 1e-9)
}

func TestDragRoundTripsThumbOffset(t *testing.T) {
	s, _ := newSync(t)
	s.ScrollTo(120)
	thumb := s.State().ThumbOffset

	// Grabbing the thumb and releasing it in place must not move content.
	s.DragStart(thumb + 5)
	require.InDelta(t, 120.0, s.DragMove(thumb+5), 1e-9)
	s.DragEnd()
}

func TestDragMoveWithoutDragIsNoop(t *testing.T) {
	s, _ := newSync(t)
	s.ScrollTo(20)
	assert.Equal(t, 20.0, s.DragMove(90))
}

func TestSetViewport(t *testing.T) {
	s, _ := newSync(t)
	s.ScrollTo(200)

	s.SetViewport(250, 0)
	st := s.State()
	assert.Equal(t, 250.0, st.TrackWidth)
	assert.Equal(t, 50.0, st.MaxScrollOffset)
	assert.Equal(t, 50.0, st.ScrollOffset)

	s.SetViewport(400, 400)
	assert.False(t, s.State().ScrollbarVisible)
	assert.Equal(t, 0.0, s.ScrollOffset())
}

func TestSubscribeCoalesces(t *testing.T) {
	s, _ := newSync(t)
	ch, unsubscribe := s.Subscribe()

	s.ScrollTo(10)
	s.ScrollTo(20)

	select {
	case <-ch:
	default:
		t.Fatal("expected a notification")
	}
	select {
	case <-ch:
		t.Fatal("notifications should coalesce")
	default:
	}

	unsubscribe()
	s.ScrollTo(30)
	select {
	case <-ch:
		t.Fatal("unsubscribed channel still notified")
	default:
	}
}

func TestThumbOffsetMatchesDragTravel(t *testing.T) {
	s := New(Config{ViewportWidth: 500, TrackWidth: 500})
	s.RegisterRowWidth("a", 1000)

	s.ScrollTo(100)
	st := s.State()
	assert.InDelta(t, 250.0, st.ThumbWidth, 1e-9)
	assert.InDelta(t, 50.0, st.ThumbOffset, 1e-9)

	// Grabbing the thumb and putting it back where it was keeps the offset.
	s.DragStart(60)
	assert.InDelta(t, 100.0, s.DragMove(60), 1e-9)
	s.DragEnd()

	s.SetViewport(500, 300)
	s.ScrollTo(250)
	st = s.State()
	travel := st.TrackWidth - st.ThumbWidth
	assert.InDelta(t, 250.0/st.MaxScrollOffset*travel, st.ThumbOffset, 1e-9)
}
