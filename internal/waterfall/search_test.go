package waterfall

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextIndex_Search(t *testing.T) {
	a := withOp(span("a1b2", "root", 0, 1), "db.query")
	a.Description = "SELECT * FROM users"
	a.Tags = map[string]string{"peer.service": "postgres"}
	b := withOp(span("c3d4", "root", 1, 2), "http.client")
	b.Status = "internal_error"

	idx := NewTextIndex(ParseTrace(txn(0, 2, a, b)))

	tests := []struct {
		query string
		want  []string
	}{
		{"select", []string{"a1b2"}},
		{"POSTGRES", []string{"a1b2"}},
		{"c3d4", []string{"c3d4"}},
		{"internal", []string{"c3d4"}},
		{"GET /", []string{"root"}},
		{"http", []string{"root", "c3d4"}},
		{"", nil},
		{"no-such-thing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, idx.Search(tt.query))
		})
	}
}
