package waterfall

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// RowPass rewrites a flattened row sequence after layout, e.g. to group
// runs of repeated spans.
type RowPass func([]Row) []Row

// LayoutInput is everything a layout pass depends on besides the trace.
type LayoutInput struct {
	Filter    OperationFilter
	Window    ViewWindow
	Collapsed map[string]struct{}
	SearchIDs map[string]struct{} // nil = no search

	// Bounds overrides the generator built from Window.
	Bounds BoundsFn
	Passes []RowPass
}

// Layout flattens tree into rows for one set of inputs. It is pure: the same
// inputs always produce the same rows, and neither p nor tree is modified.
func Layout(p *ParsedTrace, tree *SpanTreeNode, in LayoutInput) []Row {
	bounds := in.Bounds
	if bounds == nil {
		bounds = MakeBoundsGenerator(p.TraceStartTimestamp, p.TraceEndTimestamp, in.Window.Normalize())
	}

	rows := tree.SpansList(ListOptions{
		TreeDepth:      0,
		IsLastSibling:  true,
		Filter:         in.Filter,
		SearchIDs:      in.SearchIDs,
		Bounds:         bounds,
		HiddenSubtrees: in.Collapsed,
		SuppressGaps:   p.SuppressGaps,
	})
	for _, pass := range in.Passes {
		rows = pass(rows)
	}
	return rows
}

// Model holds the interactive state of one trace waterfall: the parsed
// trace and tree, built once, plus the operation filter, search and
// collapsed subtrees. Every mutation bumps a generation counter that keys
// the row cache; the tree itself is never rebuilt.
type Model struct {
	mu sync.Mutex

	trace *ParsedTrace
	tree  *SpanTreeNode
	index SearchIndex

	passes []RowPass

	filter    OperationFilter
	query     string
	searchIDs map[string]struct{}
	collapsed map[string]struct{}

	generation uint64
	cached     *rowCache
	bounds     map[ViewWindow]BoundsFn
}

type rowCache struct {
	generation uint64
	window     ViewWindow
	rows       []Row
}

// maxCachedBounds caps the per-window bounds cache; zoom drags produce a
// stream of distinct windows.
const maxCachedBounds = 32

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithSearchIndex replaces the default TextIndex.
func WithSearchIndex(idx SearchIndex) ModelOption {
	return func(m *Model) {
		m.index = idx
	}
}

// WithRowPass appends a post-flattening pass.
func WithRowPass(pass RowPass) ModelOption {
	return func(m *Model) {
		m.passes = append(m.passes, pass)
	}
}

// WithFilter sets the initial operation filter.
func WithFilter(f OperationFilter) ModelOption {
	return func(m *Model) {
		m.filter = f
	}
}

// NewModel parses txn and builds its tree.
func NewModel(txn Transaction, opts ...ModelOption) *Model {
	p := ParseTrace(txn)
	m := &Model{
		trace:     p,
		tree:      BuildTree(p),
		filter:    NoFilter,
		collapsed: make(map[string]struct{}),
		bounds:    make(map[ViewWindow]BoundsFn),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.index == nil {
		m.index = NewTextIndex(p)
	}
	return m
}

// Trace returns the parsed trace.
func (m *Model) Trace() *ParsedTrace { return m.trace }

// Tree returns the span tree.
func (m *Model) Tree() *SpanTreeNode { return m.tree }

// Filter returns the current operation filter.
func (m *Model) Filter() OperationFilter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter
}

// SetFilter replaces the operation filter.
func (m *Model) SetFilter(f OperationFilter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.filter.Equal(f) {
		return
	}
	m.filter = f
	m.generation++
}

// ToggleOperationFilter toggles a single operation name.
func (m *Model) ToggleOperationFilter(name string) OperationFilter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filter = ToggleOperationFilter(m.filter, name)
	m.generation++
	return m.filter
}

// ToggleAllOperationFilters selects every operation in the trace, or clears
// the filter if all are already selected.
func (m *Model) ToggleAllOperationFilters() OperationFilter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filter = ToggleAllOperationFilters(m.filter, m.tree.OperationNames())
	m.generation++
	return m.filter
}

// ToggleSpanSubtree collapses or expands the descendants of a span and
// reports whether the subtree is now collapsed.
func (m *Model) ToggleSpanSubtree(spanID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	if _, ok := m.collapsed[spanID]; ok {
		delete(m.collapsed, spanID)
		return false
	}
	m.collapsed[spanID] = struct{}{}
	return true
}

// IsCollapsed reports whether a span's subtree is collapsed.
func (m *Model) IsCollapsed(spanID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.collapsed[spanID]
	return ok
}

// Collapsed returns the collapsed span ids, sorted.
func (m *Model) Collapsed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.collapsed))
	for id := range m.collapsed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Search runs query against the search index and restricts rows to the
// matches. A blank query clears the search. It returns the match count.
func (m *Model) Search(query string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
	m.query = strings.TrimSpace(query)
	if m.query == "" {
		m.searchIDs = nil
		return 0
	}

	ids := m.index.Search(m.query)
	m.searchIDs = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m.searchIDs[id] = struct{}{}
	}
	return len(m.searchIDs)
}

// Query returns the active search query.
func (m *Model) Query() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.query
}

// OperationNameCounts returns the operation histogram of the whole trace.
func (m *Model) OperationNameCounts() []OperationCount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tree.OperationNameCounts()
}

// GenerateBounds returns the bounds function for a window, reusing the one
// built for the same window earlier.
func (m *Model) GenerateBounds(w ViewWindow) BoundsFn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.boundsLocked(w.Normalize())
}

func (m *Model) boundsLocked(w ViewWindow) BoundsFn {
	if fn, ok := m.bounds[w]; ok {
		return fn
	}
	if len(m.bounds) >= maxCachedBounds {
		clear(m.bounds)
	}
	fn := MakeBoundsGenerator(m.trace.TraceStartTimestamp, m.trace.TraceEndTimestamp, w)
	m.bounds[w] = fn
	return fn
}

// Rows returns the flattened rows for a view window. The result is cached
// until the next mutation or window change and must not be modified.
func (m *Model) Rows(w ViewWindow) []Row {
	m.mu.Lock()
	defer m.mu.Unlock()

	w = w.Normalize()
	if c := m.cached; c != nil && c.generation == m.generation && c.window == w {
		return c.rows
	}

	rows := Layout(m.trace, m.tree, LayoutInput{
		Filter:    m.filter,
		Window:    w,
		Collapsed: m.collapsed,
		SearchIDs: m.searchIDs,
		Bounds:    m.boundsLocked(w),
		Passes:    m.passes,
	})
	m.cached = &rowCache{generation: m.generation, window: w, rows: rows}
	return rows
}

// LimitExceeded reports whether the trace probably hit the SDK span limit.
func (m *Model) LimitExceeded() bool {
	return SpanLimitExceeded(m.trace)
}

// Summary counts rows by outcome.
type Summary struct {
	Total       int `json:"total"`
	Spans       int `json:"spans"` // Full span and root rows
	Gaps        int `json:"gaps"`
	FilteredOut int `json:"filtered_out"`
	OutOfView   int `json:"out_of_view"`
	Collapsed   int `json:"collapsed"`
}

// Hidden returns the number of placeholder rows.
func (s Summary) Hidden() int {
	return s.FilteredOut + s.OutOfView + s.Collapsed
}

// Summarize counts rows by outcome.
func Summarize(rows []Row) Summary {
	var s Summary
	s.Total = len(rows)
	for _, r := range rows {
		switch r.Type {
		case RowRootSpan, RowSpan:
			s.Spans++
		case RowGap:
			s.Gaps++
		case RowOutOfView:
			s.OutOfView++
		case RowFilteredOut:
			if r.Hidden == HiddenByCollapse {
				s.Collapsed++
			} else {
				s.FilteredOut++
			}
		}
	}
	return s
}

// Summary counts the rows of a view window by outcome.
func (m *Model) Summary(w ViewWindow) Summary {
	return Summarize(m.Rows(w))
}

// HiddenRun is a run of consecutive placeholder rows sharing a reason.
type HiddenRun struct {
	Index  int // Position of the first row of the run
	Count  int
	Reason HiddenReason
}

// Message renders the run the way a waterfall labels it.
func (r HiddenRun) Message() string {
	if r.Count == 1 {
		return "1 hidden span"
	}
	return fmt.Sprintf("%d hidden spans", r.Count)
}

// HiddenRuns groups consecutive placeholder rows.
func HiddenRuns(rows []Row) []HiddenRun {
	var runs []HiddenRun
	for i, r := range rows {
		if !r.Type.IsPlaceholder() {
			continue
		}
		if n := len(runs); n > 0 {
			prev := &runs[n-1]
			if prev.Index+prev.Count == i && prev.Reason == r.Hidden {
				prev.Count++
				continue
			}
		}
		runs = append(runs, HiddenRun{Index: i, Count: 1, Reason: r.Hidden})
	}
	return runs
}
