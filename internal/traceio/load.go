package traceio

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tobert/otlp-waterfall/internal/waterfall"
)

// Format names an input encoding.
type Format string

const (
	FormatAuto      Format = "auto"
	FormatNative    Format = "native"
	FormatOTLP      Format = "otlp"
	FormatOTLPProto Format = "otlp-proto"
	FormatJaeger    Format = "jaeger"
)

// Formats lists the accepted --format values.
var Formats = []Format{FormatAuto, FormatNative, FormatOTLP, FormatOTLPProto, FormatJaeger}

// ParseFormat validates a format name. Empty means auto.
func ParseFormat(name string) (Format, error) {
	if name == "" {
		return FormatAuto, nil
	}
	for _, f := range Formats {
		if string(f) == strings.ToLower(name) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown format %q (want one of auto, native, otlp, otlp-proto, jaeger)", name)
}

// DetectFormat guesses the encoding of data from its first bytes and a few
// well-known JSON keys.
func DetectFormat(data []byte) Format {
	switch firstNonSpace(data) {
	case '[':
		return FormatNative
	case '{':
		head := data
		if len(head) > 4096 {
			head = head[:4096]
		}
		switch {
		case bytes.Contains(head, []byte(`"resourceSpans"`)), bytes.Contains(head, []byte(`"resource_spans"`)):
			return FormatOTLP
		case bytes.Contains(head, []byte(`"processMap"`)), bytes.Contains(head, []byte(`"operationName"`)):
			return FormatJaeger
		default:
			return FormatNative
		}
	default:
		return FormatOTLPProto
	}
}

// Decode converts data in the given format into transactions.
func Decode(data []byte, format Format) ([]waterfall.Transaction, error) {
	if format == FormatAuto || format == "" {
		format = DetectFormat(data)
	}

	switch format {
	case FormatNative:
		return ReadNative(bytes.NewReader(data))
	case FormatOTLP:
		rs, err := ReadOTLPJSON(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return TransactionsFromOTLP(rs), nil
	case FormatOTLPProto:
		rs, err := ReadOTLPProto(data)
		if err == nil && len(rs) > 0 {
			return TransactionsFromOTLP(rs), nil
		}
		// Binary input that is not OTLP may still be a Jaeger trace.
		if trace, jerr := ReadJaeger(data); jerr == nil {
			if txn, ok := TransactionFromJaeger(trace); ok {
				return []waterfall.Transaction{txn}, nil
			}
		}
		if err != nil {
			return nil, err
		}
		return nil, nil
	case FormatJaeger:
		trace, err := ReadJaeger(data)
		if err != nil {
			return nil, err
		}
		txn, ok := TransactionFromJaeger(trace)
		if !ok {
			return nil, nil
		}
		return []waterfall.Transaction{txn}, nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// LoadFile reads and decodes a trace file.
func LoadFile(path string, format Format) ([]waterfall.Transaction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	txns, err := Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return txns, nil
}

// SelectTransaction picks the transaction for traceID, or the first one when
// traceID is empty. Trace id prefixes are accepted.
func SelectTransaction(txns []waterfall.Transaction, traceID string) (waterfall.Transaction, error) {
	if len(txns) == 0 {
		return waterfall.Transaction{}, fmt.Errorf("no traces found")
	}
	if traceID == "" {
		return txns[0], nil
	}
	for _, txn := range txns {
		if txn.TraceID == traceID || strings.HasPrefix(txn.TraceID, traceID) {
			return txn, nil
		}
	}
	return waterfall.Transaction{}, fmt.Errorf("trace %s not found", traceID)
}
