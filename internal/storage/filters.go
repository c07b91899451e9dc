package storage

import (
	"strconv"
	"strings"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
)

// TraceQuery selects buffered traces. Empty fields are ignored; set fields
// combine with AND logic.
type TraceQuery struct {
	Service string // service.name of the root span
	Op      string // root op, case-insensitive
	Search  string // substring of trace id or root description, case-insensitive

	ErrorsOnly bool   // at least one span with STATUS_CODE_ERROR
	Status     string // root status: ok, internal_error or unset

	MinDurationMs *float64
	MaxDurationMs *float64

	HasAttribute    string            // some span carries this attribute key
	AttributeEquals map[string]string // some span carries all of these

	Limit int
}

// Matches reports whether summary satisfies every set field of q.
func (q TraceQuery) Matches(summary TraceSummary) bool {
	if q.Service != "" && summary.Service != q.Service {
		return false
	}
	if q.Op != "" && !strings.EqualFold(summary.RootOp, q.Op) {
		return false
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		if !strings.Contains(summary.TraceID, needle) &&
			!strings.Contains(strings.ToLower(summary.Description), needle) {
			return false
		}
	}
	return matchesStatusFilter(summary, q) &&
		matchesDurationFilter(summary, q) &&
		matchesAttributeFilter(summary.spans, q)
}

func matchesStatusFilter(summary TraceSummary, q TraceQuery) bool {
	if q.ErrorsOnly && summary.ErrorCount == 0 {
		return false
	}
	if q.Status == "" {
		return true
	}
	switch strings.ToLower(q.Status) {
	case "ok", "status_code_ok":
		return summary.Status == "ok"
	case "error", "internal_error", "status_code_error":
		return summary.Status == "internal_error"
	case "unset", "status_code_unset":
		return summary.Status == ""
	}
	return true
}

func matchesDurationFilter(summary TraceSummary, q TraceQuery) bool {
	if q.MinDurationMs != nil && summary.DurationMs < *q.MinDurationMs {
		return false
	}
	if q.MaxDurationMs != nil && summary.DurationMs > *q.MaxDurationMs {
		return false
	}
	return true
}

// matchesAttributeFilter checks whether any single span carries the
// requested attributes.
func matchesAttributeFilter(spans []*StoredSpan, q TraceQuery) bool {
	if q.HasAttribute == "" && len(q.AttributeEquals) == 0 {
		return true
	}
	for _, s := range spans {
		if spanMatchesAttributes(s.Span.GetAttributes(), q) {
			return true
		}
	}
	return false
}

func spanMatchesAttributes(attributes []*commonpb.KeyValue, q TraceQuery) bool {
	attrMap := make(map[string]string, len(attributes))
	for _, attr := range attributes {
		attrMap[attr.GetKey()] = attributeString(attr.GetValue())
	}

	if q.HasAttribute != "" {
		if _, ok := attrMap[q.HasAttribute]; !ok {
			return false
		}
	}
	for key, expected := range q.AttributeEquals {
		if actual, ok := attrMap[key]; !ok || actual != expected {
			return false
		}
	}
	return true
}

func attributeString(value *commonpb.AnyValue) string {
	switch v := value.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return v.StringValue
	case *commonpb.AnyValue_IntValue:
		return strconv.FormatInt(v.IntValue, 10)
	case *commonpb.AnyValue_DoubleValue:
		return strconv.FormatFloat(v.DoubleValue, 'g', -1, 64)
	case *commonpb.AnyValue_BoolValue:
		return strconv.FormatBool(v.BoolValue)
	default:
		return ""
	}
}
