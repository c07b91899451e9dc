package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/tobert/otlp-waterfall/internal/traceio"
	"github.com/tobert/otlp-waterfall/internal/waterfall"
)

// StoredSpan wraps a protobuf span with indexed fields for efficient querying.
type StoredSpan struct {
	Resource *resourcepb.Resource
	Scope    *commonpb.InstrumentationScope
	Span     *tracepb.Span

	// Indexed fields for fast lookup
	TraceID     string
	SpanID      string
	ServiceName string
	SpanName    string

	seq uint64
}

// TraceStorage buffers OTLP spans in a ring and indexes them by trace id.
// Spans evicted from the ring are dropped from the index, so a trace may
// lose its oldest spans before it disappears. It implements
// otlpreceiver.SpanReceiver and filereader.SpanReceiver.
type TraceStorage struct {
	spans *RingBuffer[*StoredSpan]

	mu         sync.RWMutex
	traceIndex map[string][]*StoredSpan // trace_id -> spans, arrival order
	lastSeen   map[string]uint64        // trace_id -> seq of newest span

	seq        uint64 // guarded by mu
	generation atomic.Uint64

	subscriberMu     sync.Mutex
	subscribers      map[uint64]chan struct{}
	nextSubscriberID uint64
}

// NewTraceStorage creates a new trace storage with the specified span capacity.
func NewTraceStorage(capacity int) *TraceStorage {
	return &TraceStorage{
		spans:       NewRingBuffer[*StoredSpan](capacity),
		traceIndex:  make(map[string][]*StoredSpan),
		lastSeen:    make(map[string]uint64),
		subscribers: make(map[uint64]chan struct{}),
	}
}

// ReceiveSpans stores received spans and updates indexes for querying.
// Subscribers are notified once per call.
func (ts *TraceStorage) ReceiveSpans(ctx context.Context, resourceSpans []*tracepb.ResourceSpans) error {
	added := 0
	for _, s := range traceio.FlattenResourceSpans(resourceSpans) {
		ts.addSpan(&StoredSpan{
			Resource:    s.Resource,
			Scope:       s.Scope,
			Span:        s.Span,
			TraceID:     traceio.TraceIDString(s.Span.GetTraceId()),
			SpanID:      traceio.SpanIDString(s.Span.GetSpanId()),
			ServiceName: extractServiceName(s.Resource),
			SpanName:    s.Span.GetName(),
		})
		added++
	}

	if added > 0 {
		ts.generation.Add(1)
		ts.notifySubscribers()
	}
	return nil
}

func (ts *TraceStorage) addSpan(span *StoredSpan) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.seq++
	span.seq = ts.seq

	// The ring and the index change under the same lock so readers never
	// see an evicted span in the index.
	if old, evicted := ts.spans.Add(span); evicted && old != nil {
		ts.unindexLocked(old)
	}

	ts.traceIndex[span.TraceID] = append(ts.traceIndex[span.TraceID], span)
	ts.lastSeen[span.TraceID] = span.seq
}

func (ts *TraceStorage) unindexLocked(old *StoredSpan) {
	spans := ts.traceIndex[old.TraceID]
	for i, s := range spans {
		if s == old {
			spans = append(spans[:i], spans[i+1:]...)
			break
		}
	}
	if len(spans) == 0 {
		delete(ts.traceIndex, old.TraceID)
		delete(ts.lastSeen, old.TraceID)
		return
	}
	ts.traceIndex[old.TraceID] = spans
}

// GetRecentSpans returns the N most recent spans in chronological order.
func (ts *TraceStorage) GetRecentSpans(n int) []*StoredSpan {
	return ts.spans.GetRecent(n)
}

// GetSpansByTraceID returns all spans for a given trace ID in arrival order.
// Returns nil if no spans are found for the trace ID.
func (ts *TraceStorage) GetSpansByTraceID(traceID string) []*StoredSpan {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	spans := ts.traceIndex[traceID]
	if len(spans) == 0 {
		return nil
	}

	result := make([]*StoredSpan, len(spans))
	copy(result, spans)
	return result
}

// ResolveTraceID expands a trace id prefix. An exact match wins; otherwise
// the prefix must identify exactly one stored trace.
func (ts *TraceStorage) ResolveTraceID(prefix string) (string, bool) {
	if prefix == "" {
		return "", false
	}
	prefix = strings.ToLower(prefix)

	ts.mu.RLock()
	defer ts.mu.RUnlock()

	if _, ok := ts.traceIndex[prefix]; ok {
		return prefix, true
	}
	match := ""
	for id := range ts.traceIndex {
		if strings.HasPrefix(id, prefix) {
			if match != "" {
				return "", false
			}
			match = id
		}
	}
	return match, match != ""
}

// TraceVersion identifies what is stored for one trace. Any add or eviction
// touching the trace changes it, since sequence numbers never repeat.
type TraceVersion struct {
	Spans  int
	Newest uint64 // Sequence number of the newest span
}

// Version returns the current version of a trace, or false when nothing of
// it is stored.
func (ts *TraceStorage) Version(traceID string) (TraceVersion, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	n := len(ts.traceIndex[traceID])
	if n == 0 {
		return TraceVersion{}, false
	}
	return TraceVersion{Spans: n, Newest: ts.lastSeen[traceID]}, true
}

// Transaction assembles the stored spans of one trace into a transaction.
func (ts *TraceStorage) Transaction(traceID string) (waterfall.Transaction, bool) {
	return transactionFor(ts.GetSpansByTraceID(traceID))
}

func transactionFor(spans []*StoredSpan) (waterfall.Transaction, bool) {
	if len(spans) == 0 {
		return waterfall.Transaction{}, false
	}
	otlp := make([]traceio.OTLPSpan, len(spans))
	for i, s := range spans {
		otlp[i] = traceio.OTLPSpan{Resource: s.Resource, Scope: s.Scope, Span: s.Span}
	}
	return traceio.TransactionFromOTLP(otlp)
}

// TraceSummary describes one buffered trace.
type TraceSummary struct {
	TraceID     string  `json:"trace_id"`
	Service     string  `json:"service"`
	RootOp      string  `json:"root_op"`
	Description string  `json:"description"`
	Status      string  `json:"status,omitempty"`
	SpanCount   int     `json:"span_count"`
	ErrorCount  int     `json:"error_count"`
	StartTime   float64 `json:"start_time"` // unix seconds
	DurationMs  float64 `json:"duration_ms"`

	spans    []*StoredSpan
	lastSeen uint64
}

// ListTraces summarizes the buffered traces matching q, most recently
// updated first.
func (ts *TraceStorage) ListTraces(q TraceQuery) []TraceSummary {
	ts.mu.RLock()
	groups := make([]TraceSummary, 0, len(ts.traceIndex))
	for id, spans := range ts.traceIndex {
		cp := make([]*StoredSpan, len(spans))
		copy(cp, spans)
		groups = append(groups, TraceSummary{TraceID: id, spans: cp, lastSeen: ts.lastSeen[id]})
	}
	ts.mu.RUnlock()

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].lastSeen > groups[j].lastSeen
	})

	result := make([]TraceSummary, 0, len(groups))
	for _, g := range groups {
		summary := summarize(g)
		if !q.Matches(summary) {
			continue
		}
		result = append(result, summary)
		if q.Limit > 0 && len(result) >= q.Limit {
			break
		}
	}
	return result
}

func summarize(g TraceSummary) TraceSummary {
	txn, _ := transactionFor(g.spans)

	g.Description = txn.Description
	g.RootOp = txn.Op
	g.Status = txn.Status
	g.SpanCount = len(g.spans)
	g.StartTime = txn.StartTimestamp
	g.DurationMs = (txn.EndTimestamp - txn.StartTimestamp) * 1000
	g.Service = txn.Tags["service.name"]
	for _, s := range g.spans {
		if s.Span.GetStatus().GetCode() == tracepb.Status_STATUS_CODE_ERROR {
			g.ErrorCount++
		}
	}
	return g
}

// Generation increments on every batch of received spans and on Clear.
func (ts *TraceStorage) Generation() uint64 {
	return ts.generation.Load()
}

// Subscribe returns a notification channel and an unsubscribe function.
// The channel has capacity 1, so bursts coalesce into a single wakeup.
func (ts *TraceStorage) Subscribe() (<-chan struct{}, func()) {
	ts.subscriberMu.Lock()
	defer ts.subscriberMu.Unlock()

	id := ts.nextSubscriberID
	ts.nextSubscriberID++
	ch := make(chan struct{}, 1)
	ts.subscribers[id] = ch

	unsubscribe := func() {
		ts.subscriberMu.Lock()
		defer ts.subscriberMu.Unlock()
		delete(ts.subscribers, id)
	}
	return ch, unsubscribe
}

func (ts *TraceStorage) notifySubscribers() {
	ts.subscriberMu.Lock()
	defer ts.subscriberMu.Unlock()

	for _, ch := range ts.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Stats returns current storage statistics.
func (ts *TraceStorage) Stats() StorageStats {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	return StorageStats{
		SpanCount:     ts.spans.Size(),
		Capacity:      ts.spans.Capacity(),
		TraceCount:    len(ts.traceIndex),
		SpansReceived: ts.spans.Added(),
	}
}

// Clear removes all stored spans and resets indexes.
func (ts *TraceStorage) Clear() {
	ts.mu.Lock()
	ts.spans.Clear()
	ts.traceIndex = make(map[string][]*StoredSpan)
	ts.lastSeen = make(map[string]uint64)
	ts.mu.Unlock()

	ts.generation.Add(1)
	ts.notifySubscribers()
}

// StorageStats contains statistics about trace storage.
type StorageStats struct {
	SpanCount     int    `json:"span_count"`     // Current number of spans stored
	Capacity      int    `json:"capacity"`       // Maximum number of spans that can be stored
	TraceCount    int    `json:"trace_count"`    // Number of distinct traces
	SpansReceived uint64 `json:"spans_received"` // Including evicted spans
}

// extractServiceName extracts the service.name attribute from an OTLP resource.
// Returns "unknown" if the service name is not found.
func extractServiceName(resource *resourcepb.Resource) string {
	for _, attr := range resource.GetAttributes() {
		if attr.GetKey() == "service.name" {
			if sv := attr.GetValue().GetStringValue(); sv != "" {
				return sv
			}
		}
	}
	return "unknown"
}
