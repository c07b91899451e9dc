package waterfall

import (
	"sort"
	"strings"
)

// SpanTreeNode is one span and its ordered children.
type SpanTreeNode struct {
	Span     Span
	IsRoot   bool
	Children []*SpanTreeNode

	opCounts map[string]int
	sorted   []OperationCount
}

// OperationCount is the number of spans with a given operation name.
type OperationCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// BuildTree builds the span tree rooted at the transaction. Every span id
// is expanded at most once, so repeated or cyclic ids in the child lookup
// cannot recurse forever. The parsed trace is not modified.
func BuildTree(p *ParsedTrace) *SpanTreeNode {
	b := &treeBuilder{
		children: p.ChildSpans,
		expanded: make(map[string]struct{}, len(p.Spans)+1),
	}
	root := b.build(p.Root)
	root.IsRoot = true
	return root
}

type treeBuilder struct {
	children map[string][]Span
	expanded map[string]struct{}
}

func (b *treeBuilder) build(span Span) *SpanTreeNode {
	node := &SpanTreeNode{Span: span, opCounts: make(map[string]int)}
	if span.Op != "" {
		node.opCounts[span.Op] = 1
	}

	if _, done := b.expanded[span.SpanID]; done {
		return node
	}
	b.expanded[span.SpanID] = struct{}{}

	kids := b.children[span.SpanID]
	if len(kids) > 0 {
		node.Children = make([]*SpanTreeNode, 0, len(kids))
	}
	for _, kid := range kids {
		child := b.build(kid)
		node.Children = append(node.Children, child)
		for name, n := range child.opCounts {
			node.opCounts[name] += n
		}
	}
	return node
}

// OperationNameCounts returns the operation histogram of this subtree,
// ordered alphabetically (case-insensitive).
func (n *SpanTreeNode) OperationNameCounts() []OperationCount {
	if n.sorted != nil || len(n.opCounts) == 0 {
		return n.sorted
	}
	counts := make([]OperationCount, 0, len(n.opCounts))
	for name, c := range n.opCounts {
		counts = append(counts, OperationCount{Name: name, Count: c})
	}
	sort.Slice(counts, func(i, j int) bool {
		a, b := strings.ToLower(counts[i].Name), strings.ToLower(counts[j].Name)
		if a != b {
			return a < b
		}
		return counts[i].Name < counts[j].Name
	})
	n.sorted = counts
	return counts
}

// OperationNames returns the distinct operation names of this subtree.
func (n *SpanTreeNode) OperationNames() []string {
	counts := n.OperationNameCounts()
	names := make([]string, len(counts))
	for i, c := range counts {
		names[i] = c.Name
	}
	return names
}

// Size returns the number of nodes in the subtree, including n.
func (n *SpanTreeNode) Size() int {
	total := 1
	for _, c := range n.Children {
		total += c.Size()
	}
	return total
}

// Find returns the node with the given span id, or nil.
func (n *SpanTreeNode) Find(spanID string) *SpanTreeNode {
	if n.Span.SpanID == spanID {
		return n
	}
	for _, c := range n.Children {
		if found := c.Find(spanID); found != nil {
			return found
		}
	}
	return nil
}
