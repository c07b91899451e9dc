// Package webui serves buffered traces to browser clients: trace listings,
// laid-out waterfall rows as JSON, text or Arrow, and websocket sessions
// that keep a waterfall's rows on one shared horizontal scroll.
package webui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tobert/otlp-waterfall/internal/metrics"
	"github.com/tobert/otlp-waterfall/internal/storage"
	"github.com/tobert/otlp-waterfall/internal/traceio"
	"github.com/tobert/otlp-waterfall/internal/viz"
	"github.com/tobert/otlp-waterfall/internal/waterfall"
)

// Server serves the trace API and scroll-sync websocket sessions.
type Server struct {
	storage *storage.TraceStorage
	metrics *metrics.Metrics
	verbose bool
	started time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics observes layouts and sessions and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVerbose logs session lifecycle.
func WithVerbose(v bool) Option {
	return func(s *Server) { s.verbose = v }
}

// New creates a web server over the trace store.
func New(traces *storage.TraceStorage, opts ...Option) *Server {
	s := &Server{
		storage:  traces,
		started:  time.Now(),
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes attaches the API routes to r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/traces", s.handleTraces)
	r.Get("/api/traces/{traceID}/layout", s.handleLayout)
	r.Get("/api/sessions", s.handleSessions)
	r.Get("/ws/scroll", s.handleScrollSession)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
}

// Router returns a chi router with every route registered.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	s.RegisterRoutes(r)
	return r
}

// ListenAndServe serves the API on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	return ListenAndServe(ctx, addr, s.Router())
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts down
// gracefully. Routers that mount more than the web API use it directly.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// Hijacked websocket connections outlive Shutdown; their request
		// contexts end with ctx instead.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type statusResponse struct {
	Generation    uint64  `json:"generation"`
	Spans         int     `json:"spans"`
	Capacity      int     `json:"capacity"`
	Traces        int     `json:"traces"`
	SpansReceived uint64  `json:"spans_received"`
	Sessions      int     `json:"sessions"`
	Uptime        float64 `json:"uptime_seconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.storage.Stats()
	s.mu.Lock()
	sessions := len(s.sessions)
	s.mu.Unlock()

	writeJSON(w, statusResponse{
		Generation:    s.storage.Generation(),
		Spans:         stats.SpanCount,
		Capacity:      stats.Capacity,
		Traces:        stats.TraceCount,
		SpansReceived: stats.SpansReceived,
		Sessions:      sessions,
		Uptime:        time.Since(s.started).Seconds(),
	})
}

// handleTraces lists traces. Query parameters mirror storage.TraceQuery.
func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := storage.TraceQuery{
		Service:      q.Get("service"),
		Op:           q.Get("op"),
		Search:       q.Get("search"),
		Status:       q.Get("status"),
		ErrorsOnly:   q.Get("errors_only") == "true",
		HasAttribute: q.Get("has_attribute"),
		Limit:        100,
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		query.Limit = n
	}
	var err error
	if query.MinDurationMs, err = floatParam(q.Get("min_duration_ms")); err != nil {
		http.Error(w, "invalid min_duration_ms", http.StatusBadRequest)
		return
	}
	if query.MaxDurationMs, err = floatParam(q.Get("max_duration_ms")); err != nil {
		http.Error(w, "invalid max_duration_ms", http.StatusBadRequest)
		return
	}

	writeJSON(w, s.storage.ListTraces(query))
}

type layoutResponse struct {
	TraceID       string                     `json:"trace_id"`
	Window        waterfall.ViewWindow       `json:"window"`
	Summary       waterfall.Summary          `json:"summary"`
	SearchMatches int                        `json:"search_matches,omitempty"`
	LimitExceeded bool                       `json:"limit_exceeded"`
	LimitMessage  string                     `json:"limit_message,omitempty"`
	Operations    []waterfall.OperationCount `json:"operations"`
	Rows          []traceio.LayoutRow        `json:"rows"`
}

// handleLayout lays out one trace. Parameters: view_start, view_end, op
// (repeatable), all_ops, collapse (repeatable), search, width and format
// (json, text or arrow).
func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	id, ok := s.storage.ResolveTraceID(chi.URLParam(r, "traceID"))
	if !ok {
		http.Error(w, "trace not found", http.StatusNotFound)
		return
	}
	txn, ok := s.storage.Transaction(id)
	if !ok {
		http.Error(w, "trace not found", http.StatusNotFound)
		return
	}

	opts, err := layoutOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	m := waterfall.NewModel(txn)
	matches := viz.Apply(m, opts)
	window := opts.ViewWindow()
	rows := m.Rows(window)
	s.metrics.ObserveLayout(time.Since(start), rows)

	switch r.URL.Query().Get("format") {
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(viz.Report(m, opts)))
	case "arrow":
		w.Header().Set("Content-Type", "application/vnd.apache.arrow.file")
		if err := traceio.WriteArrowRows(w, id, rows); err != nil {
			log.Printf("⚠️  webui: arrow export failed: %v\n", err)
		}
	case "", "json":
		resp := layoutResponse{
			TraceID:       id,
			Window:        window,
			Summary:       waterfall.Summarize(rows),
			SearchMatches: matches,
			LimitExceeded: m.LimitExceeded(),
			Operations:    m.OperationNameCounts(),
			Rows:          traceio.LayoutRows(rows),
		}
		if resp.LimitExceeded {
			resp.LimitMessage = waterfall.SpanLimitMessage
		}
		writeJSON(w, resp)
	default:
		http.Error(w, "format must be json, text or arrow", http.StatusBadRequest)
	}
}

func layoutOptions(r *http.Request) (viz.Options, error) {
	q := r.URL.Query()
	opts := viz.Options{
		Window:   waterfall.FullWindow,
		Ops:      q["op"],
		AllOps:   q.Get("all_ops") == "true",
		Collapse: q["collapse"],
		Search:   q.Get("search"),
		Width:    120,
	}

	if v, err := floatParam(q.Get("view_start")); err != nil {
		return opts, errors.New("invalid view_start")
	} else if v != nil {
		opts.Window.Start = *v
	}
	if v, err := floatParam(q.Get("view_end")); err != nil {
		return opts, errors.New("invalid view_end")
	} else if v != nil {
		opts.Window.End = *v
	}
	if n, err := strconv.Atoi(q.Get("width")); err == nil && n > 0 {
		opts.Width = n
	}
	return opts, nil
}

func floatParam(v string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%q is not a finite number", v)
	}
	return &f, nil
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, sess.info())
	}
	s.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Created.Before(infos[j].Created) })
	writeJSON(w, infos)
}

// handleScrollSession upgrades to a websocket bound to one trace:
// /ws/scroll?trace_id=PREFIX&viewport_width=N.
func (s *Server) handleScrollSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.storage.ResolveTraceID(r.URL.Query().Get("trace_id"))
	if !ok {
		http.Error(w, "trace not found", http.StatusNotFound)
		return
	}
	viewport, err := floatParam(r.URL.Query().Get("viewport_width"))
	if err != nil {
		http.Error(w, "invalid viewport_width", http.StatusBadRequest)
		return
	}
	width := 0.0
	if viewport != nil {
		width = *viewport
	}

	sess, err := s.newSession(id, width)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for localhost dev
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	s.addSession(sess)
	defer s.removeSession(sess)

	sess.run(r.Context(), conn)
}

func (s *Server) addSession(sess *session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	s.metrics.SessionOpened()
	if s.verbose {
		log.Printf("🌐 webui: session %s opened for trace %s\n", sess.id, sess.traceID)
	}
}

func (s *Server) removeSession(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	s.metrics.SessionClosed()
	if s.verbose {
		log.Printf("🌐 webui: session %s closed\n", sess.id)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("⚠️  webui: failed to write JSON: %v\n", err)
	}
}
