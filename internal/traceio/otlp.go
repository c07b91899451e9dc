package traceio

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	collectortracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/tobert/otlp-waterfall/internal/waterfall"
)

const (
	// Buffer sizes for JSONL line scanning. OTLP JSON lines can be large.
	jsonlBufferInitial = 1 * 1024 * 1024
	jsonlBufferMax     = 10 * 1024 * 1024
)

// OTLPSpan is one OTLP span with the resource and scope it arrived under.
type OTLPSpan struct {
	Resource *resourcepb.Resource
	Scope    *commonpb.InstrumentationScope
	Span     *tracepb.Span
}

// ReadOTLPJSON decodes OTLP TracesData JSON. The input may be a single
// document or JSONL (one document per line, as the collector's file exporter
// writes it).
func ReadOTLPJSON(r io.Reader) ([]*tracepb.ResourceSpans, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OTLP JSON: %w", err)
	}

	var whole tracepb.TracesData
	if err := protojson.Unmarshal(data, &whole); err == nil {
		return whole.ResourceSpans, nil
	}

	var out []*tracepb.ResourceSpans
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, jsonlBufferInitial), jsonlBufferMax)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var td tracepb.TracesData
		if err := protojson.Unmarshal(line, &td); err != nil {
			return nil, fmt.Errorf("failed to parse OTLP JSON line %d: %w", lineNo, err)
		}
		out = append(out, td.ResourceSpans...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan OTLP JSON: %w", err)
	}
	return out, nil
}

// ReadOTLPProto decodes a binary ExportTraceServiceRequest (which shares its
// wire format with TracesData).
func ReadOTLPProto(data []byte) ([]*tracepb.ResourceSpans, error) {
	var req collectortracepb.ExportTraceServiceRequest
	if err := proto.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse OTLP protobuf: %w", err)
	}
	return req.ResourceSpans, nil
}

// WriteOTLPJSON encodes resource spans as a single TracesData JSON line.
func WriteOTLPJSON(w io.Writer, resourceSpans []*tracepb.ResourceSpans) error {
	data, err := protojson.Marshal(&tracepb.TracesData{ResourceSpans: resourceSpans})
	if err != nil {
		return fmt.Errorf("failed to encode OTLP JSON: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write OTLP JSON: %w", err)
	}
	return nil
}

// FlattenResourceSpans walks the ResourceSpans -> ScopeSpans -> Span
// hierarchy.
func FlattenResourceSpans(resourceSpans []*tracepb.ResourceSpans) []OTLPSpan {
	var out []OTLPSpan
	for _, rs := range resourceSpans {
		for _, ss := range rs.GetScopeSpans() {
			for _, span := range ss.GetSpans() {
				out = append(out, OTLPSpan{Resource: rs.GetResource(), Scope: ss.GetScope(), Span: span})
			}
		}
	}
	return out
}

// TransactionsFromOTLP groups spans by trace id and converts each group.
// Transactions are ordered by root start time.
func TransactionsFromOTLP(resourceSpans []*tracepb.ResourceSpans) []waterfall.Transaction {
	byTrace := make(map[string][]OTLPSpan)
	var order []string
	for _, s := range FlattenResourceSpans(resourceSpans) {
		id := TraceIDString(s.Span.GetTraceId())
		if _, seen := byTrace[id]; !seen {
			order = append(order, id)
		}
		byTrace[id] = append(byTrace[id], s)
	}

	txns := make([]waterfall.Transaction, 0, len(order))
	for _, id := range order {
		if txn, ok := TransactionFromOTLP(byTrace[id]); ok {
			txns = append(txns, txn)
		}
	}
	sort.SliceStable(txns, func(i, j int) bool {
		return txns[i].StartTimestamp < txns[j].StartTimestamp
	})
	return txns
}

// TransactionFromOTLP converts the spans of one trace into a transaction.
// The root is the earliest span without a parent, or the earliest span when
// every span declares one. Other parentless spans become orphans.
func TransactionFromOTLP(spans []OTLPSpan) (waterfall.Transaction, bool) {
	if len(spans) == 0 {
		return waterfall.Transaction{}, false
	}

	rootIdx := -1
	for i, s := range spans {
		if !isParentless(s.Span) {
			continue
		}
		if rootIdx < 0 || s.Span.GetStartTimeUnixNano() < spans[rootIdx].Span.GetStartTimeUnixNano() {
			rootIdx = i
		}
	}
	if rootIdx < 0 {
		rootIdx = 0
		for i, s := range spans {
			if s.Span.GetStartTimeUnixNano() < spans[rootIdx].Span.GetStartTimeUnixNano() {
				rootIdx = i
			}
		}
	}

	root := spans[rootIdx]
	rootSpan := convertSpan(root)
	language := resourceAttr(root.Resource, "telemetry.sdk.language")

	txn := waterfall.Transaction{
		EventID:        rootSpan.SpanID,
		TraceID:        rootSpan.TraceID,
		SpanID:         rootSpan.SpanID,
		ParentSpanID:   rootSpan.ParentSpanID,
		Op:             rootSpan.Op,
		Description:    rootSpan.Description,
		Status:         rootSpan.Status,
		StartTimestamp: rootSpan.StartTimestamp,
		EndTimestamp:   rootSpan.EndTimestamp,
		Platform:       language,
		Data:           rootSpan.Data,
		Tags:           rootSpan.Tags,
		Spans:          make([]waterfall.Span, 0, len(spans)-1),
	}
	if name := resourceAttr(root.Resource, "telemetry.sdk.name"); name != "" {
		txn.SDKName = name
		if language != "" {
			txn.SDKName = name + "." + language
		}
	}

	for i, s := range spans {
		if i == rootIdx {
			continue
		}
		txn.Spans = append(txn.Spans, convertSpan(s))
	}
	return txn, true
}

func isParentless(span *tracepb.Span) bool {
	for _, b := range span.GetParentSpanId() {
		if b != 0 {
			return false
		}
	}
	return true
}

func convertSpan(s OTLPSpan) waterfall.Span {
	span := s.Span

	start := nanosToSeconds(span.GetStartTimeUnixNano())
	end := start
	unfinished := span.GetEndTimeUnixNano() == 0
	if !unfinished {
		end = nanosToSeconds(span.GetEndTimeUnixNano())
	}

	parent := ""
	if !isParentless(span) {
		parent = SpanIDString(span.GetParentSpanId())
	}

	tags := make(map[string]string)
	data := make(map[string]any, len(span.GetAttributes()))
	if service := resourceAttr(s.Resource, "service.name"); service != "" {
		tags["service.name"] = service
	}
	for _, kv := range span.GetAttributes() {
		data[kv.GetKey()] = attrValue(kv.GetValue())
		if sv, ok := kv.GetValue().GetValue().(*commonpb.AnyValue_StringValue); ok {
			tags[kv.GetKey()] = sv.StringValue
		}
	}
	tags["span.kind"] = spanKindName(span.GetKind())

	return waterfall.Span{
		SpanID:         SpanIDString(span.GetSpanId()),
		ParentSpanID:   parent,
		TraceID:        TraceIDString(span.GetTraceId()),
		StartTimestamp: start,
		EndTimestamp:   end,
		Unfinished:     unfinished,
		Op:             deriveOp(span),
		Description:    span.GetName(),
		Status:         statusName(span.GetStatus()),
		Data:           data,
		Tags:           tags,
	}
}

// deriveOp maps OTLP semantic conventions onto a short operation category.
func deriveOp(span *tracepb.Span) string {
	attrs := make(map[string]string, len(span.GetAttributes()))
	for _, kv := range span.GetAttributes() {
		attrs[kv.GetKey()] = attrString(kv.GetValue())
	}
	kind := span.GetKind()

	switch {
	case attrs["sentry.op"] != "":
		return attrs["sentry.op"]
	case attrs["http.request.method"] != "" || attrs["http.method"] != "":
		if kind == tracepb.Span_SPAN_KIND_SERVER {
			return "http.server"
		}
		return "http.client"
	case attrs["db.system"] != "" || attrs["db.system.name"] != "":
		return "db"
	case attrs["rpc.system"] != "":
		if kind == tracepb.Span_SPAN_KIND_SERVER {
			return "rpc.server"
		}
		return "rpc.client"
	case attrs["messaging.system"] != "":
		if kind == tracepb.Span_SPAN_KIND_PRODUCER {
			return "queue.publish"
		}
		return "queue.process"
	case attrs["gen_ai.operation.name"] != "":
		return "gen_ai." + attrs["gen_ai.operation.name"]
	}

	switch kind {
	case tracepb.Span_SPAN_KIND_SERVER:
		return "server"
	case tracepb.Span_SPAN_KIND_CLIENT:
		return "client"
	case tracepb.Span_SPAN_KIND_PRODUCER:
		return "producer"
	case tracepb.Span_SPAN_KIND_CONSUMER:
		return "consumer"
	default:
		return "function"
	}
}

func spanKindName(kind tracepb.Span_SpanKind) string {
	return strings.ToLower(strings.TrimPrefix(kind.String(), "SPAN_KIND_"))
}

func statusName(status *tracepb.Status) string {
	switch status.GetCode() {
	case tracepb.Status_STATUS_CODE_OK:
		return "ok"
	case tracepb.Status_STATUS_CODE_ERROR:
		return "internal_error"
	default:
		return ""
	}
}

func resourceAttr(resource *resourcepb.Resource, key string) string {
	for _, kv := range resource.GetAttributes() {
		if kv.GetKey() == key {
			return attrString(kv.GetValue())
		}
	}
	return ""
}

// attrString renders an attribute value as text.
func attrString(v *commonpb.AnyValue) string {
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return val.StringValue
	case *commonpb.AnyValue_IntValue:
		return strconv.FormatInt(val.IntValue, 10)
	case *commonpb.AnyValue_DoubleValue:
		return strconv.FormatFloat(val.DoubleValue, 'g', -1, 64)
	case *commonpb.AnyValue_BoolValue:
		return strconv.FormatBool(val.BoolValue)
	case *commonpb.AnyValue_BytesValue:
		return fmt.Sprintf("%x", val.BytesValue)
	default:
		return ""
	}
}

func attrValue(v *commonpb.AnyValue) any {
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return val.StringValue
	case *commonpb.AnyValue_IntValue:
		return val.IntValue
	case *commonpb.AnyValue_DoubleValue:
		return val.DoubleValue
	case *commonpb.AnyValue_BoolValue:
		return val.BoolValue
	case *commonpb.AnyValue_ArrayValue:
		items := make([]any, 0, len(val.ArrayValue.GetValues()))
		for _, item := range val.ArrayValue.GetValues() {
			items = append(items, attrValue(item))
		}
		return items
	default:
		return attrString(v)
	}
}

func nanosToSeconds(nanos uint64) float64 {
	return float64(nanos) / 1e9
}

// TraceIDString converts a trace ID byte array to a hex string.
func TraceIDString(traceID []byte) string {
	return fmt.Sprintf("%x", traceID)
}

// SpanIDString converts a span ID byte array to a hex string.
func SpanIDString(spanID []byte) string {
	return fmt.Sprintf("%x", spanID)
}
