package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/otlp-waterfall/internal/waterfall"
)

func TestRecordExport(t *testing.T) {
	m := New()
	m.RecordExport(5, nil)
	m.RecordExport(3, nil)
	m.RecordExport(10, errors.New("boom"))

	assert.Equal(t, 8.0, testutil.ToFloat64(m.spansReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.exportErrors))
}

func TestObserveLayout(t *testing.T) {
	m := New()
	rows := []waterfall.Row{
		{Type: waterfall.RowRootSpan},
		{Type: waterfall.RowSpan},
		{Type: waterfall.RowSpan},
		{Type: waterfall.RowGap},
	}
	m.ObserveLayout(2*time.Millisecond, rows)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.rowsRendered.WithLabelValues("span")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rowsRendered.WithLabelValues("gap")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.layoutDuration))
}

func TestSessions(t *testing.T) {
	m := New()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.ScrollEvent("wheel")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.scrollSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scrollEvents.WithLabelValues("wheel")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.RegisterStorage(func() (int, int) { return 42, 7 })
	m.RecordExport(1, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, "otlp_waterfall_buffered_spans 42"), text)
	assert.True(t, strings.Contains(text, "otlp_waterfall_buffered_traces 7"))
	assert.True(t, strings.Contains(text, "otlp_waterfall_spans_received_total 1"))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	// None of these may panic.
	m.RecordExport(1, nil)
	m.ObserveLayout(time.Millisecond, nil)
	m.SessionOpened()
	m.SessionClosed()
	m.ScrollEvent("drag")
	m.RegisterStorage(func() (int, int) { return 0, 0 })
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
