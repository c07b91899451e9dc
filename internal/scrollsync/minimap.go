package scrollsync

import (
	"sort"
	"sync"
)

const (
	// MinimapRowHeight is the height of one row in the minimap, in pixels.
	MinimapRowHeight = 2
	// MinimapContainerHeight is the visible height of the minimap.
	MinimapContainerHeight = 106
)

// Minimap tracks which rows are inside the visible viewport band and pans
// the minimap so the rows in view stay inside its container.
type Minimap struct {
	mu      sync.Mutex
	inView  map[int]struct{}
	rowH    float64
	height  float64
	lastPan float64
}

// NewMinimap returns a minimap with the default geometry.
func NewMinimap() *Minimap {
	return &Minimap{
		inView: make(map[int]struct{}),
		rowH:   MinimapRowHeight,
		height: MinimapContainerHeight,
	}
}

// MarkInView records that a row (1-based) entered the viewport band.
func (m *Minimap) MarkInView(rowNumber int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inView[rowNumber] = struct{}{}
}

// MarkOutOfView records that a row left the viewport band.
func (m *Minimap) MarkOutOfView(rowNumber int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inView, rowNumber)
}

// RowsInView returns the rows currently in view, ascending.
func (m *Minimap) RowsInView() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]int, 0, len(m.inView))
	for r := range m.inView {
		rows = append(rows, r)
	}
	sort.Ints(rows)
	return rows
}

// FirstInView returns the topmost row in view, or 0 if none.
func (m *Minimap) FirstInView() int {
	rows := m.RowsInView()
	if len(rows) == 0 {
		return 0
	}
	return rows[0]
}

// RowVisibility reports what fraction of a row lies inside the viewport
// band, and the row's top relative to the band. The band starts below the
// minimap, whose height is excluded from the viewport.
func RowVisibility(rowTop, rowHeight, viewportTop, viewportHeight, minimapHeight float64) (ratio, relativeTop float64) {
	bandTop := viewportTop + minimapHeight
	bandBottom := viewportTop + viewportHeight
	relativeTop = rowTop - bandTop

	if rowHeight <= 0 {
		if rowTop >= bandTop && rowTop <= bandBottom {
			return 1, relativeTop
		}
		return 0, relativeTop
	}

	top := max(rowTop, bandTop)
	bottom := min(rowTop+rowHeight, bandBottom)
	if bottom <= top {
		return 0, relativeTop
	}
	return (bottom - top) / rowHeight, relativeTop
}

// Pan returns the minimap's vertical offset for the row crossing the top of
// the viewport band. ratio is that row's visible fraction, so the offset
// advances smoothly while the row scrolls away. The result is clamped so
// the last row never pans above the bottom of the container.
func (m *Minimap) Pan(rowNumber, totalRows int, ratio float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	maxPan := float64(totalRows)*m.rowH - m.height
	if maxPan <= 0 || rowNumber < 1 {
		m.lastPan = 0
		return 0
	}

	ratio = clamp(ratio, 0, 1)
	pan := float64(rowNumber-1)*m.rowH + (1-ratio)*m.rowH
	m.lastPan = clamp(pan, 0, maxPan)
	return m.lastPan
}

// LastPan returns the most recent Pan result.
func (m *Minimap) LastPan() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPan
}
