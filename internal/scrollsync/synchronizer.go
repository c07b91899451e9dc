// Package scrollsync keeps many independently rendered row contents on one
// shared horizontal scroll offset with one virtual scrollbar thumb. It holds
// only the synchronization math; widths come from a rendering layer through
// RegisterRowWidth or an injected Measurer.
package scrollsync

import (
	"sync"
	"time"
)

// DefaultWheelDebounce is how long native scroll events are ignored after a
// wheel event, so both paths do not fight within one input burst.
const DefaultWheelDebounce = 200 * time.Millisecond

// Measurer reports the natural (unclipped) width of a mounted row.
type Measurer interface {
	MeasureWidth(rowID string) float64
}

// MeasureFunc adapts a function to Measurer.
type MeasureFunc func(rowID string) float64

// MeasureWidth calls f.
func (f MeasureFunc) MeasureWidth(rowID string) float64 { return f(rowID) }

// Config holds the viewport geometry.
type Config struct {
	ViewportWidth float64
	TrackWidth    float64 // Defaults to ViewportWidth
	WheelDebounce time.Duration
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		s.now = now
	}
}

// WithMeasurer makes Measure ask m for every mounted row's width instead of
// using the registered widths.
func WithMeasurer(m Measurer) Option {
	return func(s *Synchronizer) {
		s.measurer = m
	}
}

// State is a snapshot of the synchronizer.
type State struct {
	ScrollOffset     float64 `json:"scroll_offset"`
	MaxScrollOffset  float64 `json:"max_scroll_offset"`
	ContentWidth     float64 `json:"content_width"`     // Width every row is forced to
	ContentTranslate float64 `json:"content_translate"` // Horizontal translation applied to every row
	ViewportWidth    float64 `json:"viewport_width"`
	TrackWidth       float64 `json:"track_width"`
	ThumbWidthRatio  float64 `json:"thumb_width_ratio"`
	ThumbWidth       float64 `json:"thumb_width"`
	ThumbOffset      float64 `json:"thumb_offset"`
	ScrollbarVisible bool    `json:"scrollbar_visible"`
	Dragging         bool    `json:"dragging"`
	// Transitions is false while a drag is in progress; the renderer disables
	// text selection and animations until DragEnd.
	Transitions bool `json:"transitions"`
}

// Synchronizer owns the shared scroll offset and the maximum content width.
// It is safe for concurrent use, though callers normally drive it from a
// single event loop.
type Synchronizer struct {
	mu sync.Mutex

	viewportWidth float64
	trackWidth    float64
	debounce      time.Duration

	now      func() time.Time
	measurer Measurer

	rows            map[string]float64
	maxContentWidth float64
	offset          float64
	thumbRatio      float64

	dragging     bool
	dragGrab     float64 // Pointer position minus thumb offset at drag start
	dragOrigin   float64 // Pointer position at drag start
	wheelUntil   time.Time
	transitionOn bool

	subscriberMu     sync.Mutex
	subscribers      map[uint64]chan struct{}
	nextSubscriberID uint64
}

// New creates a Synchronizer with no mounted rows.
func New(cfg Config, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		viewportWidth: max(cfg.ViewportWidth, 0),
		trackWidth:    max(cfg.TrackWidth, 0),
		debounce:      cfg.WheelDebounce,
		now:           time.Now,
		rows:          make(map[string]float64),
		thumbRatio:    1,
		transitionOn:  true,
		subscribers:   make(map[uint64]chan struct{}),
	}
	if s.trackWidth == 0 {
		s.trackWidth = s.viewportWidth
	}
	if s.debounce <= 0 {
		s.debounce = DefaultWheelDebounce
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRowWidth mounts (or re-measures) a row and runs a measure pass.
func (s *Synchronizer) RegisterRowWidth(rowID string, width float64) {
	s.mu.Lock()
	s.rows[rowID] = max(width, 0)
	s.measureLocked()
	s.mu.Unlock()
	s.notifySubscribers()
}

// UnregisterRow unmounts a row and runs a measure pass.
func (s *Synchronizer) UnregisterRow(rowID string) {
	s.mu.Lock()
	delete(s.rows, rowID)
	s.measureLocked()
	s.mu.Unlock()
	s.notifySubscribers()
}

// Measure recomputes the maximum content width and the thumb size. Call it
// after the view window changes; mounts and unmounts measure on their own.
func (s *Synchronizer) Measure() {
	s.mu.Lock()
	s.measureLocked()
	s.mu.Unlock()
	s.notifySubscribers()
}

// SetViewport updates the viewport and scrollbar track widths and runs a
// measure pass. A zero track width follows the viewport.
func (s *Synchronizer) SetViewport(viewportWidth, trackWidth float64) {
	s.mu.Lock()
	s.viewportWidth = max(viewportWidth, 0)
	s.trackWidth = max(trackWidth, 0)
	if s.trackWidth == 0 {
		s.trackWidth = s.viewportWidth
	}
	s.measureLocked()
	s.mu.Unlock()
	s.notifySubscribers()
}

func (s *Synchronizer) measureLocked() {
	widest := 0.0
	for id, w := range s.rows {
		if s.measurer != nil {
			w = s.measurer.MeasureWidth(id)
		}
		widest = max(widest, w)
	}
	s.maxContentWidth = widest

	overflow := s.maxContentWidth - s.viewportWidth
	if overflow <= 0 || s.trackWidth <= 0 {
		s.thumbRatio = 1
	} else {
		s.thumbRatio = s.trackWidth / (s.trackWidth + overflow)
	}

	// The legal range may have shrunk.
	s.scrollLocked(s.offset)
}

func (s *Synchronizer) maxScrollLocked() float64 {
	return max(s.maxContentWidth-s.viewportWidth, 0)
}

func (s *Synchronizer) thumbWidthLocked() float64 {
	return s.trackWidth * s.thumbRatio
}

func (s *Synchronizer) scrollLocked(offset float64) float64 {
	s.offset = clamp(offset, 0, s.maxScrollLocked())
	return s.offset
}

// ScrollTo moves every row to offset, clamped to the legal range, and
// returns the applied offset.
func (s *Synchronizer) ScrollTo(offset float64) float64 {
	s.mu.Lock()
	applied := s.scrollLocked(offset)
	s.mu.Unlock()
	s.notifySubscribers()
	return applied
}

// OnNativeScroll applies a scroll reported by the rendering layer. It is
// ignored during a drag and within the wheel debounce window; the return
// value reports whether it was applied.
func (s *Synchronizer) OnNativeScroll(offset float64) bool {
	s.mu.Lock()
	if s.dragging || s.now().Before(s.wheelUntil) {
		s.mu.Unlock()
		return false
	}
	s.scrollLocked(offset)
	s.mu.Unlock()
	s.notifySubscribers()
	return true
}

// OnWheel adds a horizontal wheel delta to the offset and returns the new
// offset. Wheel input is ignored during a drag.
func (s *Synchronizer) OnWheel(deltaX float64) float64 {
	s.mu.Lock()
	if s.dragging {
		applied := s.offset
		s.mu.Unlock()
		return applied
	}
	s.wheelUntil = s.now().Add(s.debounce)
	applied := s.scrollLocked(s.offset + deltaX)
	s.mu.Unlock()
	s.notifySubscribers()
	return applied
}

// DragStart begins a thumb drag at pointerX (track coordinates).
func (s *Synchronizer) DragStart(pointerX float64) {
	s.mu.Lock()
	s.dragging = true
	s.transitionOn = false
	s.dragOrigin = pointerX
	s.dragGrab = pointerX - s.thumbOffsetLocked()
	s.mu.Unlock()
	s.notifySubscribers()
}

// DragMove converts the pointer position into a fraction of the thumb's
// legal travel and interpolates that fraction over [0, max scroll offset].
func (s *Synchronizer) DragMove(pointerX float64) float64 {
	s.mu.Lock()
	if !s.dragging {
		applied := s.offset
		s.mu.Unlock()
		return applied
	}
	travel := s.trackWidth - s.thumbWidthLocked()
	if travel <= 0 {
		applied := s.offset
		s.mu.Unlock()
		return applied
	}
	fraction := clamp(pointerX-s.dragGrab, 0, travel) / travel
	applied := s.scrollLocked(lerp(0, s.maxScrollLocked(), fraction))
	s.mu.Unlock()
	s.notifySubscribers()
	return applied
}

// OnDrag moves the thumb by delta pixels from where the drag started.
func (s *Synchronizer) OnDrag(delta float64) float64 {
	s.mu.Lock()
	origin := s.dragOrigin
	s.mu.Unlock()
	return s.DragMove(origin + delta)
}

// DragEnd finishes a drag and restores transitions. It is safe to call
// without a drag in progress.
func (s *Synchronizer) DragEnd() {
	s.mu.Lock()
	s.dragging = false
	s.transitionOn = true
	s.mu.Unlock()
	s.notifySubscribers()
}

func (s *Synchronizer) thumbOffsetLocked() float64 {
	// Thumb travel is ratio*overflow, so offset*ratio is the exact inverse of
	// DragMove; offset/track*viewport would drift from the pointer.
	return clamp(s.offset*s.thumbRatio, 0, s.trackWidth-s.thumbWidthLocked())
}

// ScrollOffset returns the current offset.
func (s *Synchronizer) ScrollOffset() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// ThumbWidthRatio returns the thumb width as a fraction of the track.
func (s *Synchronizer) ThumbWidthRatio() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thumbRatio
}

// State returns a snapshot of the synchronizer.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return State{
		ScrollOffset:     s.offset,
		MaxScrollOffset:  s.maxScrollLocked(),
		ContentWidth:     s.maxContentWidth,
		ContentTranslate: -s.offset,
		ViewportWidth:    s.viewportWidth,
		TrackWidth:       s.trackWidth,
		ThumbWidthRatio:  s.thumbRatio,
		ThumbWidth:       s.thumbWidthLocked(),
		ThumbOffset:      s.thumbOffsetLocked(),
		ScrollbarVisible: s.thumbRatio < 1,
		Dragging:         s.dragging,
		Transitions:      s.transitionOn,
	}
}

// Subscribe returns a notification channel and an unsubscribe function.
// The channel is buffered with capacity 1 to coalesce rapid updates.
func (s *Synchronizer) Subscribe() (<-chan struct{}, func()) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()

	id := s.nextSubscriberID
	s.nextSubscriberID++

	ch := make(chan struct{}, 1)
	s.subscribers[id] = ch

	unsubscribe := func() {
		s.subscriberMu.Lock()
		defer s.subscriberMu.Unlock()
		delete(s.subscribers, id)
	}

	return ch, unsubscribe
}

func (s *Synchronizer) notifySubscribers() {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
