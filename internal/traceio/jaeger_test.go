package traceio

import (
	"bytes"
	"testing"
	"time"

	"github.com/gogo/protobuf/jsonpb"
	"github.com/gogo/protobuf/proto"
	jaeger "github.com/jaegertracing/jaeger/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jaegerTrace() *jaeger.Trace {
	traceID := jaeger.NewTraceID(0, 42)
	start := time.Unix(1700000000, 0)

	root := &jaeger.Span{
		TraceID:       traceID,
		SpanID:        jaeger.NewSpanID(1),
		OperationName: "GET /cart",
		StartTime:     start,
		Duration:      500 * time.Millisecond,
		ProcessID:     "p1",
		Tags: []jaeger.KeyValue{
			jaeger.String("span.kind", "server"),
			jaeger.String("http.method", "GET"),
		},
	}
	query := &jaeger.Span{
		TraceID:       traceID,
		SpanID:        jaeger.NewSpanID(2),
		OperationName: "SELECT cart",
		References:    []jaeger.SpanRef{jaeger.NewChildOfRef(traceID, jaeger.NewSpanID(1))},
		StartTime:     start.Add(100 * time.Millisecond),
		Duration:      50 * time.Millisecond,
		ProcessID:     "p1",
		Tags: []jaeger.KeyValue{
			jaeger.String("db.system", "mysql"),
			jaeger.Bool("error", true),
		},
	}
	return &jaeger.Trace{
		// Children first to exercise root selection.
		Spans: []*jaeger.Span{query, root},
		ProcessMap: []jaeger.Trace_ProcessMapping{{
			ProcessID: "p1",
			Process: jaeger.Process{
				ServiceName: "cart",
				Tags:        []jaeger.KeyValue{jaeger.String("telemetry.sdk.language", "java")},
			},
		}},
	}
}

func TestTransactionFromJaeger(t *testing.T) {
	txn, ok := TransactionFromJaeger(jaegerTrace())
	require.True(t, ok)

	assert.Equal(t, jaeger.NewSpanID(1).String(), txn.SpanID)
	assert.Equal(t, "http.server", txn.Op)
	assert.Equal(t, "GET /cart", txn.Description)
	assert.Equal(t, "java", txn.Platform)
	assert.InDelta(t, 0.5, txn.EndTimestamp-txn.StartTimestamp, 1e-6)

	require.Len(t, txn.Spans, 1)
	q := txn.Spans[0]
	assert.Equal(t, "db", q.Op)
	assert.Equal(t, "internal_error", q.Status)
	assert.Equal(t, txn.SpanID, q.ParentSpanID)
	assert.Equal(t, "cart", q.Tags["service.name"])
	assert.Equal(t, true, q.Data["error"])
}

func TestTransactionFromJaeger_Empty(t *testing.T) {
	_, ok := TransactionFromJaeger(&jaeger.Trace{})
	assert.False(t, ok)
	_, ok = TransactionFromJaeger(nil)
	assert.False(t, ok)
}

func TestReadJaeger_Protobuf(t *testing.T) {
	data, err := proto.Marshal(jaegerTrace())
	require.NoError(t, err)

	trace, err := ReadJaeger(data)
	require.NoError(t, err)
	assert.Len(t, trace.Spans, 2)
	assert.Equal(t, "cart", trace.ProcessMap[0].Process.ServiceName)
}

func TestReadJaeger_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&jsonpb.Marshaler{}).Marshal(&buf, jaegerTrace()))

	trace, err := ReadJaeger(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, trace.Spans, 2)
	assert.Equal(t, "SELECT cart", trace.Spans[0].OperationName)

	txns, err := Decode(buf.Bytes(), FormatAuto)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "GET /cart", txns[0].Description)
}

func TestJaegerOp(t *testing.T) {
	assert.Equal(t, "http.client", jaegerOp(map[string]string{"http.method": "GET"}, "client"))
	assert.Equal(t, "queue.publish", jaegerOp(map[string]string{"messaging.system": "kafka"}, "producer"))
	assert.Equal(t, "consumer", jaegerOp(map[string]string{}, "consumer"))
	assert.Equal(t, "function", jaegerOp(map[string]string{}, ""))
}
