package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

func traceID(n byte) []byte {
	return []byte{n, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, n}
}

func spanID(n byte) []byte {
	return []byte{0, 0, 0, 0, 0, 0, 0, n}
}

// makeSpan builds a span; parent 0 means parentless. Times are milliseconds.
func makeSpan(trace, id, parent byte, name string, startMs, endMs uint64) *tracepb.Span {
	s := &tracepb.Span{
		TraceId:           traceID(trace),
		SpanId:            spanID(id),
		Name:              name,
		Kind:              tracepb.Span_SPAN_KIND_INTERNAL,
		StartTimeUnixNano: startMs * 1_000_000,
		EndTimeUnixNano:   endMs * 1_000_000,
	}
	if parent != 0 {
		s.ParentSpanId = spanID(parent)
	}
	return s
}

func batch(service string, spans ...*tracepb.Span) []*tracepb.ResourceSpans {
	return []*tracepb.ResourceSpans{{
		Resource: &resourcepb.Resource{Attributes: []*commonpb.KeyValue{{
			Key:   "service.name",
			Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: service}},
		}}},
		ScopeSpans: []*tracepb.ScopeSpans{{Spans: spans}},
	}}
}

func receive(t *testing.T, ts *TraceStorage, rs []*tracepb.ResourceSpans) {
	t.Helper()
	require.NoError(t, ts.ReceiveSpans(context.Background(), rs))
}

func TestTraceStorageBasic(t *testing.T) {
	ts := NewTraceStorage(100)
	receive(t, ts, batch("checkout", makeSpan(1, 1, 0, "GET /cart", 0, 100)))

	recent := ts.GetRecentSpans(10)
	require.Len(t, recent, 1)
	assert.Equal(t, "checkout", recent[0].ServiceName)
	assert.Equal(t, "GET /cart", recent[0].SpanName)

	stats := ts.Stats()
	assert.Equal(t, 1, stats.SpanCount)
	assert.Equal(t, 1, stats.TraceCount)
	assert.Equal(t, uint64(1), stats.SpansReceived)
	assert.Equal(t, uint64(1), ts.Generation())
}

func TestTraceStorageGetByTraceID(t *testing.T) {
	ts := NewTraceStorage(100)
	receive(t, ts, batch("svc",
		makeSpan(1, 1, 0, "root", 0, 100),
		makeSpan(1, 2, 1, "child", 10, 20),
		makeSpan(2, 1, 0, "other", 0, 5),
	))

	spans := ts.GetSpansByTraceID(fmt.Sprintf("%x", traceID(1)))
	require.Len(t, spans, 2)
	assert.Equal(t, "root", spans[0].SpanName)
	assert.Nil(t, ts.GetSpansByTraceID("nonexistent"))
}

func TestTraceStorageEvictionUpdatesIndex(t *testing.T) {
	ts := NewTraceStorage(2)
	receive(t, ts, batch("svc", makeSpan(1, 1, 0, "first", 0, 10)))
	receive(t, ts, batch("svc", makeSpan(2, 1, 0, "second", 0, 10)))
	receive(t, ts, batch("svc", makeSpan(3, 1, 0, "third", 0, 10)))

	assert.Nil(t, ts.GetSpansByTraceID(fmt.Sprintf("%x", traceID(1))), "evicted trace must leave the index")
	assert.Equal(t, 2, ts.Stats().TraceCount)
	assert.Equal(t, uint64(3), ts.Stats().SpansReceived)

	_, ok := ts.Transaction(fmt.Sprintf("%x", traceID(1)))
	assert.False(t, ok)
}

func TestTraceStorageVersionChangesOnEvictAndAdd(t *testing.T) {
	ts := NewTraceStorage(2)
	id := fmt.Sprintf("%x", traceID(1))
	receive(t, ts, batch("svc", makeSpan(1, 2, 1, "child", 10, 20), makeSpan(1, 1, 0, "root", 0, 100)))

	before, ok := ts.Version(id)
	require.True(t, ok)
	assert.Equal(t, 2, before.Spans)

	// The new span evicts "child": same count, different contents.
	receive(t, ts, batch("svc", makeSpan(1, 3, 1, "other child", 30, 40)))
	after, ok := ts.Version(id)
	require.True(t, ok)
	assert.Equal(t, 2, after.Spans)
	assert.NotEqual(t, before, after)

	_, ok = ts.Version("nonexistent")
	assert.False(t, ok)
}

func TestTraceStorageTransaction(t *testing.T) {
	ts := NewTraceStorage(100)
	// Child arrives before its root, as happens with batching exporters.
	receive(t, ts, batch("api", makeSpan(1, 2, 1, "SELECT", 20, 40)))
	receive(t, ts, batch("api", makeSpan(1, 1, 0, "GET /users", 0, 100)))

	txn, ok := ts.Transaction(fmt.Sprintf("%x", traceID(1)))
	require.True(t, ok)
	assert.Equal(t, "GET /users", txn.Description)
	assert.Equal(t, fmt.Sprintf("%x", spanID(1)), txn.SpanID)
	require.Len(t, txn.Spans, 1)
	assert.Equal(t, txn.SpanID, txn.Spans[0].ParentSpanID)
}

func TestTraceStorageResolveTraceID(t *testing.T) {
	ts := NewTraceStorage(100)
	receive(t, ts, batch("svc", makeSpan(1, 1, 0, "a", 0, 1), makeSpan(2, 1, 0, "b", 0, 1)))

	full := fmt.Sprintf("%x", traceID(1))
	id, ok := ts.ResolveTraceID(full[:6])
	require.True(t, ok)
	assert.Equal(t, full, id)

	// "0" would be ambiguous; "ff" matches nothing; "" is never resolved.
	_, ok = ts.ResolveTraceID("0")
	assert.False(t, ok)
	_, ok = ts.ResolveTraceID("ff")
	assert.False(t, ok)
	_, ok = ts.ResolveTraceID("")
	assert.False(t, ok)
}

func TestTraceStorageListTraces(t *testing.T) {
	ts := NewTraceStorage(100)
	failing := makeSpan(2, 2, 1, "charge", 10, 30)
	failing.Status = &tracepb.Status{Code: tracepb.Status_STATUS_CODE_ERROR}

	receive(t, ts, batch("web", makeSpan(1, 1, 0, "GET /", 0, 50)))
	receive(t, ts, batch("billing", makeSpan(2, 1, 0, "POST /pay", 0, 200), failing))

	all := ts.ListTraces(TraceQuery{})
	require.Len(t, all, 2)
	assert.Equal(t, "POST /pay", all[0].Description, "most recently updated first")
	assert.Equal(t, "billing", all[0].Service)
	assert.Equal(t, 2, all[0].SpanCount)
	assert.Equal(t, 1, all[0].ErrorCount)
	assert.InDelta(t, 200, all[0].DurationMs, 1e-6)

	errs := ts.ListTraces(TraceQuery{ErrorsOnly: true})
	require.Len(t, errs, 1)
	assert.Equal(t, "billing", errs[0].Service)

	limited := ts.ListTraces(TraceQuery{Limit: 1})
	assert.Len(t, limited, 1)
}

func TestTraceStorageSubscribe(t *testing.T) {
	ts := NewTraceStorage(10)
	ch, unsubscribe := ts.Subscribe()

	receive(t, ts, batch("svc", makeSpan(1, 1, 0, "a", 0, 1)))
	receive(t, ts, batch("svc", makeSpan(1, 2, 1, "b", 0, 1)))

	select {
	case <-ch:
	default:
		t.Fatal("expected a notification")
	}
	select {
	case <-ch:
		t.Fatal("bursts should coalesce into one notification")
	default:
	}

	unsubscribe()
	receive(t, ts, batch("svc", makeSpan(1, 3, 1, "c", 0, 1)))
	select {
	case <-ch:
		t.Fatal("unexpected notification after unsubscribe")
	default:
	}
}

func TestTraceStorageClear(t *testing.T) {
	ts := NewTraceStorage(10)
	receive(t, ts, batch("svc", makeSpan(1, 1, 0, "a", 0, 1)))
	before := ts.Generation()

	ts.Clear()
	assert.Equal(t, 0, ts.Stats().SpanCount)
	assert.Equal(t, 0, ts.Stats().TraceCount)
	assert.Empty(t, ts.ListTraces(TraceQuery{}))
	assert.Greater(t, ts.Generation(), before)
}

func TestTraceStorageNoServiceName(t *testing.T) {
	ts := NewTraceStorage(10)
	rs := []*tracepb.ResourceSpans{{ScopeSpans: []*tracepb.ScopeSpans{{Spans: []*tracepb.Span{makeSpan(1, 1, 0, "a", 0, 1)}}}}}
	receive(t, ts, rs)
	assert.Equal(t, "unknown", ts.GetRecentSpans(1)[0].ServiceName)
}

func TestTraceStorageConcurrent(t *testing.T) {
	ts := NewTraceStorage(50)

	var wg sync.WaitGroup
	for w := byte(1); w <= 8; w++ {
		wg.Add(1)
		go func(w byte) {
			defer wg.Done()
			for i := byte(1); i <= 20; i++ {
				_ = ts.ReceiveSpans(context.Background(), batch("svc", makeSpan(w, i, 0, "s", 0, 1)))
				_ = ts.ListTraces(TraceQuery{Limit: 3})
			}
		}(w)
	}
	wg.Wait()

	stats := ts.Stats()
	assert.Equal(t, 50, stats.SpanCount)
	assert.Equal(t, uint64(160), stats.SpansReceived)

	total := 0
	for _, s := range ts.ListTraces(TraceQuery{}) {
		total += s.SpanCount
	}
	assert.Equal(t, 50, total, "index must hold exactly the buffered spans")
}
