package traceio

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gogo/protobuf/jsonpb"
	"github.com/gogo/protobuf/proto"
	jaeger "github.com/jaegertracing/jaeger/model"

	"github.com/tobert/otlp-waterfall/internal/waterfall"
)

// ReadJaeger decodes a Jaeger model.Trace, either protobuf or JSON (jsonpb).
func ReadJaeger(data []byte) (*jaeger.Trace, error) {
	var trace jaeger.Trace
	if first := firstNonSpace(data); first == '{' {
		if err := jsonpb.Unmarshal(bytes.NewReader(data), &trace); err != nil {
			return nil, fmt.Errorf("failed to parse Jaeger JSON: %w", err)
		}
		return &trace, nil
	}
	if err := proto.Unmarshal(data, &trace); err != nil {
		return nil, fmt.Errorf("failed to parse Jaeger protobuf: %w", err)
	}
	return &trace, nil
}

// TransactionFromJaeger converts a Jaeger trace. The root is the earliest
// span without a CHILD_OF reference, or the earliest span.
func TransactionFromJaeger(trace *jaeger.Trace) (waterfall.Transaction, bool) {
	if trace == nil || len(trace.Spans) == 0 {
		return waterfall.Transaction{}, false
	}

	processes := make(map[string]*jaeger.Process, len(trace.ProcessMap))
	for i := range trace.ProcessMap {
		processes[trace.ProcessMap[i].ProcessID] = &trace.ProcessMap[i].Process
	}

	spans := make([]waterfall.Span, 0, len(trace.Spans))
	for _, s := range trace.Spans {
		process := s.Process
		if process == nil {
			process = processes[s.ProcessID]
		}
		spans = append(spans, convertJaegerSpan(s, process))
	}

	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].StartTimestamp < spans[j].StartTimestamp
	})

	rootIdx := 0
	for i, s := range spans {
		if s.ParentSpanID == "" {
			rootIdx = i
			break
		}
	}
	root := spans[rootIdx]

	txn := waterfall.Transaction{
		EventID:        root.SpanID,
		TraceID:        root.TraceID,
		SpanID:         root.SpanID,
		ParentSpanID:   root.ParentSpanID,
		Op:             root.Op,
		Description:    root.Description,
		Status:         root.Status,
		StartTimestamp: root.StartTimestamp,
		EndTimestamp:   root.EndTimestamp,
		Platform:       root.Tags["telemetry.sdk.language"],
		Data:           root.Data,
		Tags:           root.Tags,
		Spans:          make([]waterfall.Span, 0, len(spans)-1),
	}
	for i, s := range spans {
		if i != rootIdx {
			txn.Spans = append(txn.Spans, s)
		}
	}
	return txn, true
}

func convertJaegerSpan(s *jaeger.Span, process *jaeger.Process) waterfall.Span {
	start := timeToSeconds(s.StartTime)

	parent := ""
	for _, ref := range s.References {
		if ref.RefType == jaeger.SpanRefType_CHILD_OF {
			parent = ref.SpanID.String()
			break
		}
	}

	tags := make(map[string]string)
	data := make(map[string]any, len(s.Tags))
	if process != nil {
		if process.ServiceName != "" {
			tags["service.name"] = process.ServiceName
		}
		for _, kv := range process.Tags {
			tags[kv.Key] = kv.AsString()
		}
	}

	kind := ""
	status := ""
	for _, kv := range s.Tags {
		tags[kv.Key] = kv.AsString()
		data[kv.Key] = kv.Value()

		switch kv.Key {
		case "span.kind":
			kind = kv.VStr
		case "error":
			if kv.VBool || kv.VStr == "true" {
				status = "internal_error"
			}
		case "otel.status_code":
			switch strings.ToUpper(kv.VStr) {
			case "OK":
				status = "ok"
			case "ERROR":
				status = "internal_error"
			}
		}
	}

	return waterfall.Span{
		SpanID:         s.SpanID.String(),
		ParentSpanID:   parent,
		TraceID:        s.TraceID.String(),
		StartTimestamp: start,
		EndTimestamp:   start + s.Duration.Seconds(),
		Op:             jaegerOp(tags, kind),
		Description:    s.OperationName,
		Status:         status,
		Data:           data,
		Tags:           tags,
	}
}

func jaegerOp(tags map[string]string, kind string) string {
	switch {
	case tags["http.method"] != "" || tags["http.request.method"] != "":
		if kind == "server" {
			return "http.server"
		}
		return "http.client"
	case tags["db.system"] != "" || tags["db.type"] != "":
		return "db"
	case tags["messaging.system"] != "":
		if kind == "producer" {
			return "queue.publish"
		}
		return "queue.process"
	case kind != "":
		return kind
	default:
		return "function"
	}
}

func timeToSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
