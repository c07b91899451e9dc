package traceio

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/otlp-waterfall/internal/waterfall"
)

const nativeEventJSON = `{
  "event_id": "ev1",
  "transaction": "GET /users",
  "platform": "javascript",
  "start_timestamp": 100.0,
  "timestamp": 101.5,
  "sdk": {"name": "sentry.javascript.browser"},
  "contexts": {"trace": {"trace_id": "t1", "span_id": "root", "op": "pageload", "status": "ok"}},
  "spans": [
    {"span_id": "a", "parent_span_id": "root", "start_timestamp": 100.1, "timestamp": 100.4, "op": "http.client", "description": "GET /api"},
    {"span_id": "b", "parent_span_id": "a", "start_timestamp": 100.2, "op": "resource"}
  ]
}`

func TestReadNative_SingleEvent(t *testing.T) {
	txns, err := ReadNative(strings.NewReader(nativeEventJSON))
	require.NoError(t, err)
	require.Len(t, txns, 1)

	txn := txns[0]
	assert.Equal(t, "root", txn.SpanID)
	assert.Equal(t, "pageload", txn.Op)
	assert.Equal(t, "GET /users", txn.Description)
	assert.Equal(t, "sentry.javascript.browser", txn.SDKName)
	assert.InDelta(t, 101.5, txn.EndTimestamp, 1e-9)
	require.Len(t, txn.Spans, 2)

	assert.Equal(t, "t1", txn.Spans[0].TraceID, "span trace id defaults to the event's")
	assert.False(t, txn.Spans[0].Unfinished)
	assert.True(t, txn.Spans[1].Unfinished)
	assert.Equal(t, txn.Spans[1].StartTimestamp, txn.Spans[1].EndTimestamp)

	p := waterfall.ParseTrace(txn)
	assert.True(t, p.SuppressGaps)
}

func TestReadNative_Array(t *testing.T) {
	txns, err := ReadNative(strings.NewReader("[" + nativeEventJSON + "," + nativeEventJSON + "]"))
	require.NoError(t, err)
	assert.Len(t, txns, 2)
}

func TestReadNative_MissingSpanID(t *testing.T) {
	_, err := ReadNative(strings.NewReader(`{"transaction": "x"}`))
	assert.ErrorContains(t, err, "span_id")
}

func TestReadNative_Invalid(t *testing.T) {
	_, err := ReadNative(strings.NewReader(`{`))
	assert.Error(t, err)
}

func TestWriteNative_RoundTrip(t *testing.T) {
	txns, err := ReadNative(strings.NewReader(nativeEventJSON))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteNative(&buf, txns[0]))

	again, err := ReadNative(&buf)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, txns[0].Description, again[0].Description)
	assert.Equal(t, txns[0].SDKName, again[0].SDKName)
	require.Len(t, again[0].Spans, 2)
	assert.True(t, again[0].Spans[1].Unfinished)
}
