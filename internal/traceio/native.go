// Package traceio converts trace payloads into waterfall transactions and
// exports laid-out rows. Supported inputs are native transaction JSON, OTLP
// (JSON, JSONL or protobuf) and Jaeger traces (protobuf or JSON).
package traceio

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tobert/otlp-waterfall/internal/waterfall"
)

// nativeEvent is the JSON shape of a transaction event: the root's trace
// context plus a flat span list.
type nativeEvent struct {
	EventID        string            `json:"event_id"`
	Transaction    string            `json:"transaction"`
	Platform       string            `json:"platform"`
	StartTimestamp float64           `json:"start_timestamp"`
	Timestamp      *float64          `json:"timestamp"`
	Tags           map[string]string `json:"tags"`
	SDK            struct {
		Name string `json:"name"`
	} `json:"sdk"`
	Contexts struct {
		Trace struct {
			TraceID      string         `json:"trace_id"`
			SpanID       string         `json:"span_id"`
			ParentSpanID string         `json:"parent_span_id"`
			Op           string         `json:"op"`
			Status       string         `json:"status"`
			Data         map[string]any `json:"data"`
		} `json:"trace"`
	} `json:"contexts"`
	Spans []nativeSpan `json:"spans"`
}

type nativeSpan struct {
	SpanID         string            `json:"span_id"`
	ParentSpanID   string            `json:"parent_span_id"`
	TraceID        string            `json:"trace_id"`
	StartTimestamp float64           `json:"start_timestamp"`
	Timestamp      *float64          `json:"timestamp"`
	Op             string            `json:"op"`
	Description    string            `json:"description"`
	Status         string            `json:"status"`
	Data           map[string]any    `json:"data"`
	Tags           map[string]string `json:"tags"`
}

// ReadNative decodes one transaction event, or a JSON array of them.
func ReadNative(r io.Reader) ([]waterfall.Transaction, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction JSON: %w", err)
	}

	var events []nativeEvent
	if trimmed := firstNonSpace(data); trimmed == '[' {
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, fmt.Errorf("failed to parse transaction JSON array: %w", err)
		}
	} else {
		var ev nativeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("failed to parse transaction JSON: %w", err)
		}
		events = []nativeEvent{ev}
	}

	txns := make([]waterfall.Transaction, 0, len(events))
	for i, ev := range events {
		if ev.Contexts.Trace.SpanID == "" {
			return nil, fmt.Errorf("transaction %d: missing contexts.trace.span_id", i)
		}
		txns = append(txns, ev.toTransaction())
	}
	return txns, nil
}

func (ev nativeEvent) toTransaction() waterfall.Transaction {
	tc := ev.Contexts.Trace

	end := ev.StartTimestamp
	if ev.Timestamp != nil {
		end = *ev.Timestamp
	}

	txn := waterfall.Transaction{
		EventID:        ev.EventID,
		TraceID:        tc.TraceID,
		SpanID:         tc.SpanID,
		ParentSpanID:   tc.ParentSpanID,
		Op:             tc.Op,
		Description:    ev.Transaction,
		Status:         tc.Status,
		StartTimestamp: ev.StartTimestamp,
		EndTimestamp:   end,
		SDKName:        ev.SDK.Name,
		Platform:       ev.Platform,
		Data:           tc.Data,
		Tags:           ev.Tags,
		Spans:          make([]waterfall.Span, 0, len(ev.Spans)),
	}

	for _, s := range ev.Spans {
		span := waterfall.Span{
			SpanID:         s.SpanID,
			ParentSpanID:   s.ParentSpanID,
			TraceID:        s.TraceID,
			StartTimestamp: s.StartTimestamp,
			EndTimestamp:   s.StartTimestamp,
			Unfinished:     s.Timestamp == nil,
			Op:             s.Op,
			Description:    s.Description,
			Status:         s.Status,
			Data:           s.Data,
			Tags:           s.Tags,
		}
		if s.Timestamp != nil {
			span.EndTimestamp = *s.Timestamp
		}
		if span.TraceID == "" {
			span.TraceID = tc.TraceID
		}
		txn.Spans = append(txn.Spans, span)
	}
	return txn
}

// WriteNative encodes a transaction in the native JSON shape.
func WriteNative(w io.Writer, txn waterfall.Transaction) error {
	var ev nativeEvent
	ev.EventID = txn.EventID
	ev.Transaction = txn.Description
	ev.Platform = txn.Platform
	ev.StartTimestamp = txn.StartTimestamp
	end := txn.EndTimestamp
	ev.Timestamp = &end
	ev.Tags = txn.Tags
	ev.SDK.Name = txn.SDKName
	ev.Contexts.Trace.TraceID = txn.TraceID
	ev.Contexts.Trace.SpanID = txn.SpanID
	ev.Contexts.Trace.ParentSpanID = txn.ParentSpanID
	ev.Contexts.Trace.Op = txn.Op
	ev.Contexts.Trace.Status = txn.Status
	ev.Contexts.Trace.Data = txn.Data

	ev.Spans = make([]nativeSpan, 0, len(txn.Spans))
	for _, s := range txn.Spans {
		ns := nativeSpan{
			SpanID:         s.SpanID,
			ParentSpanID:   s.ParentSpanID,
			TraceID:        s.TraceID,
			StartTimestamp: s.StartTimestamp,
			Op:             s.Op,
			Description:    s.Description,
			Status:         s.Status,
			Data:           s.Data,
			Tags:           s.Tags,
		}
		if !s.Unfinished {
			end := s.EndTimestamp
			ns.Timestamp = &end
		}
		ev.Spans = append(ev.Spans, ns)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ev); err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}
	return nil
}

func firstNonSpace(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b
		}
	}
	return 0
}
