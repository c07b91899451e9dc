package webui

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/tobert/otlp-waterfall/internal/scrollsync"
	"github.com/tobert/otlp-waterfall/internal/storage"
	"github.com/tobert/otlp-waterfall/internal/traceio"
	"github.com/tobert/otlp-waterfall/internal/waterfall"
)

// clientMessage is sent by the browser. Type selects which fields apply.
type clientMessage struct {
	Type string `json:"type"`

	// viewport
	ViewportWidth float64 `json:"viewport_width,omitempty"`
	TrackWidth    float64 `json:"track_width,omitempty"`

	// row_width, unmount
	RowID string  `json:"row_id,omitempty"`
	Width float64 `json:"width,omitempty"`

	// wheel, scroll, drag_start, drag_move
	DeltaX float64 `json:"delta_x,omitempty"`
	Offset float64 `json:"offset,omitempty"`
	X      float64 `json:"x,omitempty"`

	// view
	ViewStart float64 `json:"view_start,omitempty"`
	ViewEnd   float64 `json:"view_end,omitempty"`

	// toggle_op, toggle_subtree, search
	Op     string `json:"op,omitempty"`
	SpanID string `json:"span_id,omitempty"`
	Query  string `json:"query,omitempty"`

	// visibility
	Row            int     `json:"row,omitempty"`
	RowTop         float64 `json:"row_top,omitempty"`
	RowHeight      float64 `json:"row_height,omitempty"`
	ViewportTop    float64 `json:"viewport_top,omitempty"`
	ViewportHeight float64 `json:"viewport_height,omitempty"`
}

// stateMessage reports scroll and minimap state after input.
type stateMessage struct {
	Type       string           `json:"type"` // "state"
	SessionID  string           `json:"session_id"`
	Scroll     scrollsync.State `json:"scroll"`
	MinimapPan float64          `json:"minimap_pan"`
	RowsInView []int            `json:"rows_in_view"`
}

// layoutMessage carries a fresh row sequence.
type layoutMessage struct {
	Type          string                     `json:"type"` // "layout"
	SessionID     string                     `json:"session_id"`
	TraceID       string                     `json:"trace_id"`
	Window        waterfall.ViewWindow       `json:"window"`
	Filter        []string                   `json:"filter,omitempty"`
	Collapsed     []string                   `json:"collapsed,omitempty"`
	Query         string                     `json:"query,omitempty"`
	SearchMatches int                        `json:"search_matches,omitempty"`
	Summary       waterfall.Summary          `json:"summary"`
	LimitExceeded bool                       `json:"limit_exceeded"`
	Operations    []waterfall.OperationCount `json:"operations"`
	Rows          []traceio.LayoutRow        `json:"rows"`
}

type errorMessage struct {
	Type  string `json:"type"` // "error"
	Error string `json:"error"`
}

// session is one browser view of one trace: a waterfall model, the scroll
// synchronizer its rows share and the minimap. All input is handled on the
// session's event loop.
type session struct {
	id      string
	traceID string
	created time.Time

	server  *Server
	model   *waterfall.Model
	version storage.TraceVersion // Stored trace the model was built from
	window  waterfall.ViewWindow
	matches int
	scroll  *scrollsync.Synchronizer
	minimap *scrollsync.Minimap
	rows    int

	mu     sync.Mutex
	offset float64 // Mirror of the scroll offset for session listings
}

// SessionInfo describes an open scroll session.
type SessionInfo struct {
	ID           string    `json:"id"`
	TraceID      string    `json:"trace_id"`
	Created      time.Time `json:"created"`
	ScrollOffset float64   `json:"scroll_offset"`
}

func (s *Server) newSession(traceID string, viewportWidth float64) (*session, error) {
	sess := &session{
		id:      uuid.New().String(),
		traceID: traceID,
		created: time.Now(),
		server:  s,
		window:  waterfall.FullWindow,
		scroll:  scrollsync.New(scrollsync.Config{ViewportWidth: viewportWidth}),
		minimap: scrollsync.NewMinimap(),
	}
	if !sess.reload() {
		return nil, fmt.Errorf("trace %s not found", traceID)
	}
	return sess, nil
}

func (sess *session) info() SessionInfo {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return SessionInfo{ID: sess.id, TraceID: sess.traceID, Created: sess.created, ScrollOffset: sess.offset}
}

// reload rebuilds the model when the stored trace changed, carrying the
// filter, collapsed subtrees and search over. It reports whether the trace
// still exists.
func (sess *session) reload() bool {
	version, ok := sess.server.storage.Version(sess.traceID)
	if !ok {
		return false
	}
	if sess.model != nil && version == sess.version {
		return true
	}
	txn, ok := sess.server.storage.Transaction(sess.traceID)
	if !ok {
		return false
	}

	var opts []waterfall.ModelOption
	if sess.model != nil {
		opts = append(opts, waterfall.WithFilter(sess.model.Filter()))
	}
	m := waterfall.NewModel(txn, opts...)
	if sess.model != nil {
		for _, id := range sess.model.Collapsed() {
			m.ToggleSpanSubtree(id)
		}
		sess.matches = m.Search(sess.model.Query())
	}
	sess.model = m
	sess.version = version
	return true
}

// layout computes rows for the current window. The client mounts them and
// reports their widths with row_width messages.
func (sess *session) layout() layoutMessage {
	start := time.Now()
	rows := sess.model.Rows(sess.window)
	sess.server.metrics.ObserveLayout(time.Since(start), rows)
	sess.rows = len(rows)

	return layoutMessage{
		Type:          "layout",
		SessionID:     sess.id,
		TraceID:       sess.traceID,
		Window:        sess.window,
		Filter:        sess.model.Filter().Names(),
		Collapsed:     sess.model.Collapsed(),
		Query:         sess.model.Query(),
		SearchMatches: sess.matches,
		Summary:       waterfall.Summarize(rows),
		LimitExceeded: sess.model.LimitExceeded(),
		Operations:    sess.model.OperationNameCounts(),
		Rows:          traceio.LayoutRows(rows),
	}
}

func (sess *session) state() stateMessage {
	st := sess.scroll.State()
	sess.mu.Lock()
	sess.offset = st.ScrollOffset
	sess.mu.Unlock()

	return stateMessage{
		Type:       "state",
		SessionID:  sess.id,
		Scroll:     st,
		MinimapPan: sess.minimap.LastPan(),
		RowsInView: sess.minimap.RowsInView(),
	}
}

// handle applies one client message and reports whether the layout changed.
func (sess *session) handle(msg clientMessage) (relayout bool, err error) {
	switch msg.Type {
	case "viewport":
		sess.scroll.SetViewport(msg.ViewportWidth, msg.TrackWidth)
	case "row_width":
		if msg.RowID == "" {
			return false, fmt.Errorf("row_width requires row_id")
		}
		sess.scroll.RegisterRowWidth(msg.RowID, msg.Width)
	case "unmount":
		sess.scroll.UnregisterRow(msg.RowID)
	case "wheel":
		sess.scroll.OnWheel(msg.DeltaX)
	case "scroll":
		sess.scroll.OnNativeScroll(msg.Offset)
	case "drag_start":
		sess.scroll.DragStart(msg.X)
	case "drag_move":
		sess.scroll.DragMove(msg.X)
	case "drag_end":
		sess.scroll.DragEnd()
	case "visibility":
		sess.updateMinimap(msg)
	case "view":
		sess.window = waterfall.ViewWindow{Start: msg.ViewStart, End: msg.ViewEnd}.Normalize()
		return true, nil
	case "toggle_op":
		sess.model.ToggleOperationFilter(msg.Op)
		return true, nil
	case "toggle_all_ops":
		sess.model.ToggleAllOperationFilters()
		return true, nil
	case "toggle_subtree":
		sess.model.ToggleSpanSubtree(msg.SpanID)
		return true, nil
	case "search":
		sess.matches = sess.model.Search(msg.Query)
		return true, nil
	default:
		return false, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return false, nil
}

// updateMinimap records a row entering or leaving the viewport band and
// pans the minimap to the topmost row in view.
func (sess *session) updateMinimap(msg clientMessage) {
	ratio, _ := scrollsync.RowVisibility(msg.RowTop, msg.RowHeight, msg.ViewportTop, msg.ViewportHeight, scrollsync.MinimapContainerHeight)
	if ratio > 0 {
		sess.minimap.MarkInView(msg.Row)
	} else {
		sess.minimap.MarkOutOfView(msg.Row)
	}
	if first := sess.minimap.FirstInView(); first == msg.Row {
		sess.minimap.Pan(first, sess.rows, ratio)
	}
}

// run is the session event loop: client input, synchronizer changes and
// storage updates are serialized here.
func (sess *session) run(ctx context.Context, conn *websocket.Conn) {
	s := sess.server

	notifyCh, unsubscribe := s.storage.Subscribe()
	defer unsubscribe()
	stateCh, unsubscribeState := sess.scroll.Subscribe()
	defer unsubscribeState()

	msgCh := make(chan clientMessage, 16)
	go func() {
		defer close(msgCh)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				sess.send(ctx, conn, errorMessage{Type: "error", Error: "invalid message: " + err.Error()})
				continue
			}
			select {
			case msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	sess.send(ctx, conn, sess.layout())
	sess.send(ctx, conn, sess.state())

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return

		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			relayout, err := sess.handle(msg)
			if err != nil {
				sess.send(ctx, conn, errorMessage{Type: "error", Error: err.Error()})
				continue
			}
			s.metrics.ScrollEvent(msg.Type)
			if relayout {
				sess.send(ctx, conn, sess.layout())
				sess.scroll.Measure()
			}
			if msg.Type == "visibility" {
				sess.send(ctx, conn, sess.state())
			}

		case <-stateCh:
			sess.send(ctx, conn, sess.state())

		case <-notifyCh:
			before := sess.version
			if !sess.reload() {
				sess.send(ctx, conn, errorMessage{Type: "error", Error: "trace evicted from buffer"})
				conn.Close(websocket.StatusNormalClosure, "trace evicted")
				return
			}
			if sess.version != before {
				sess.send(ctx, conn, sess.layout())
			}

		case <-keepalive.C:
			sess.send(ctx, conn, sess.state())
		}
	}
}

func (sess *session) send(ctx context.Context, conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("⚠️  webui: failed to marshal message: %v\n", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	// A failed write means the connection is gone; the read loop ends the session.
	_ = conn.Write(writeCtx, websocket.MessageText, data)
}
