package waterfall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withOp(s Span, op string) Span {
	s.Op = op
	return s
}

func TestBuildTree(t *testing.T) {
	p := ParseTrace(scenario())
	root := BuildTree(p)

	assert.True(t, root.IsRoot)
	assert.Equal(t, "root", root.Span.SpanID)
	require.Len(t, root.Children, 1)

	a := root.Children[0]
	assert.False(t, a.IsRoot)
	require.Len(t, a.Children, 2)
	assert.Equal(t, "b", a.Children[0].Span.SpanID)
	assert.Equal(t, "c", a.Children[1].Span.SpanID)

	assert.Equal(t, 4, root.Size())
	assert.Same(t, a, root.Find("a"))
	assert.Nil(t, root.Find("nope"))
}

func TestBuildTree_DuplicateIDsExpandOnce(t *testing.T) {
	p := ParseTrace(txn(0, 10,
		span("dup", "root", 1, 2),
		span("dup", "root", 3, 4),
		span("kid", "dup", 1, 2),
	))
	root := BuildTree(p)

	require.Len(t, root.Children, 2)
	assert.Len(t, root.Children[0].Children, 1)
	assert.Empty(t, root.Children[1].Children)
}

func TestBuildTree_DoesNotMutateParsedTrace(t *testing.T) {
	p := ParseTrace(scenario())
	before := len(p.ChildSpans)
	BuildTree(p)
	BuildTree(p)
	assert.Len(t, p.ChildSpans, before)
	assert.Len(t, p.ChildSpans["a"], 2)
}

func TestOperationNameCounts(t *testing.T) {
	p := ParseTrace(txn(0, 10,
		withOp(span("a", "root", 0, 1), "db"),
		withOp(span("b", "a", 0, 1), "HTTP"),
		withOp(span("c", "a", 0, 1), "cache"),
		withOp(span("d", "root", 0, 1), "db"),
		span("e", "root", 0, 1),
	))
	root := BuildTree(p)

	assert.Equal(t, []OperationCount{
		{Name: "cache", Count: 1},
		{Name: "db", Count: 2},
		{Name: "HTTP", Count: 1},
		{Name: "http.server", Count: 1},
	}, root.OperationNameCounts())

	assert.Equal(t, []OperationCount{
		{Name: "cache", Count: 1},
		{Name: "db", Count: 1},
		{Name: "HTTP", Count: 1},
	}, root.Find("a").OperationNameCounts())

	assert.Nil(t, root.Find("e").OperationNameCounts())
}
