package waterfall

import (
	"sort"
	"strings"
)

// SearchIndex maps a query to the ids of matching spans.
type SearchIndex interface {
	Search(query string) []string
}

// TextIndex is a case-insensitive substring index over the fields a user
// would type: operation, description, span id, status and tag values.
type TextIndex struct {
	entries []indexEntry
}

type indexEntry struct {
	spanID string
	text   string
}

// NewTextIndex indexes the root and every span of a parsed trace.
func NewTextIndex(p *ParsedTrace) *TextIndex {
	idx := &TextIndex{entries: make([]indexEntry, 0, len(p.Spans)+1)}
	idx.add(p.Root)
	for _, s := range p.Spans {
		idx.add(s)
	}
	return idx
}

func (idx *TextIndex) add(s Span) {
	fields := []string{s.Op, s.Description, s.SpanID, s.Status}

	keys := make([]string, 0, len(s.Tags))
	for k := range s.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, s.Tags[k])
	}

	idx.entries = append(idx.entries, indexEntry{
		spanID: s.SpanID,
		text:   strings.ToLower(strings.Join(fields, "\x00")),
	})
}

// Search returns matching span ids in index order. A blank query matches
// nothing; callers treat it as "no search".
func (idx *TextIndex) Search(query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	var ids []string
	for _, e := range idx.entries {
		if strings.Contains(e.text, q) {
			ids = append(ids, e.spanID)
		}
	}
	return ids
}
