package markup

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// ErrNoEnclosingTag is returned when an offset is covered by no element.
// The tokenizer is expected to cover all non-comment content, so callers
// should treat it as an internal invariant violation.
var ErrNoEnclosingTag = errors.New("markup: no enclosing tag")

// ErrLocOutOfRange is returned by TagByLoc for a line past the document end.
var ErrLocOutOfRange = errors.New("markup: location out of range")

// Index owns the tag set of one document and answers offset and keyword
// queries over it. Its caches belong to the instance; an Index must not be
// shared between jobs.
type Index struct {
	url  string
	doc  string
	tags []*Tag

	byStart   []*Tag // document order
	innermost []*Tag // Full.End ascending, Full.Start descending
	comments  []Span

	lineStarts []int
	offsets    map[int]*Tag
	keywords   map[string]*Tag
}

// Option configures an Index.
type Option func(*Index)

// WithURL records the document URL for error messages.
func WithURL(url string) Option { return func(ix *Index) { ix.url = url } }

// New tokenizes doc and builds its index.
func New(doc string, opts ...Option) *Index {
	ix := &Index{
		doc:      doc,
		tags:     Tokenize(doc),
		offsets:  make(map[int]*Tag),
		keywords: make(map[string]*Tag),
	}
	for _, o := range opts {
		o(ix)
	}

	for _, t := range ix.tags {
		if t.IsComment {
			ix.comments = append(ix.comments, t.Full)
			continue
		}
		ix.innermost = append(ix.innermost, t)
	}
	ix.byStart = append([]*Tag(nil), ix.tags...)
	sort.SliceStable(ix.byStart, func(i, j int) bool {
		return ix.byStart[i].Start.Start < ix.byStart[j].Start.Start
	})
	sort.SliceStable(ix.innermost, func(i, j int) bool {
		a, b := ix.innermost[i].Full, ix.innermost[j].Full
		if a.End != b.End {
			return a.End < b.End
		}
		return a.Start > b.Start
	})
	return ix
}

// URL returns the document URL given with WithURL.
func (ix *Index) URL() string { return ix.url }

// Doc returns the indexed document text.
func (ix *Index) Doc() string { return ix.doc }

// Tags returns all tags, comments included, in document order.
func (ix *Index) Tags() []*Tag { return ix.byStart }

// InComment reports whether offset lies inside a comment.
func (ix *Index) InComment(offset int) bool {
	return spanIndex(ix.comments, offset) >= 0
}

// TagAt returns the smallest non-comment tag whose full range contains
// offset.
func (ix *Index) TagAt(offset int) (*Tag, error) {
	if t, ok := ix.offsets[offset]; ok {
		return t, nil
	}
	// Tags ending at or before offset cannot contain it.
	i := sort.Search(len(ix.innermost), func(i int) bool {
		return ix.innermost[i].Full.End > offset
	})
	for _, t := range ix.innermost[i:] {
		if t.Full.Contains(offset) {
			ix.offsets[offset] = t
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: offset %d in %s", ErrNoEnclosingTag, offset, ix.describe())
}

// TagByLoc resolves a 0-based (line, column) location, as reported by
// browser call frames, to its smallest enclosing tag. Columns count UTF-16
// code units.
func (ix *Index) TagByLoc(line, column int) (*Tag, error) {
	offset, err := ix.Offset(line, column)
	if err != nil {
		return nil, err
	}
	return ix.TagAt(offset)
}

// Offset converts a 0-based (line, column) location into a byte offset.
func (ix *Index) Offset(line, column int) (int, error) {
	if ix.lineStarts == nil {
		ix.lineStarts = []int{0}
		for i := 0; i < len(ix.doc); i++ {
			if ix.doc[i] == '\n' {
				ix.lineStarts = append(ix.lineStarts, i+1)
			}
		}
	}
	if line < 0 || line >= len(ix.lineStarts) || column < 0 {
		return 0, fmt.Errorf("%w: %d:%d in %s", ErrLocOutOfRange, line, column, ix.describe())
	}
	start := ix.lineStarts[line]
	end := len(ix.doc)
	if line+1 < len(ix.lineStarts) {
		end = ix.lineStarts[line+1] - 1
	}

	offset, units := start, 0
	for offset < end && units < column {
		r, size := utf8.DecodeRuneInString(ix.doc[offset:end])
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		units += n
		offset += size
	}
	// Past the line end the column is applied as a raw byte count.
	return offset + (column - units), nil
}

// MatchTagList returns the non-comment tags, in document order, whose
// attribute view satisfies pred. UniqueAttrs are computed over the result.
func (ix *Index) MatchTagList(pred Predicate) *TagList {
	var tags []*Tag
	for _, t := range ix.byStart {
		if t.IsComment {
			continue
		}
		if pred(t.Attrs()) {
			tags = append(tags, t)
		}
	}
	return NewTagList(tags)
}

// SrcByKeyword maps every literal occurrence of keyword to its smallest
// enclosing tag and returns that tag only when all occurrences agree.
// Occurrences inside comments or outside every element are ignored. Zero or
// several distinct tags yield ok == false. Results are memoised.
func (ix *Index) SrcByKeyword(keyword string) (tag *Tag, ok bool) {
	if keyword == "" {
		return nil, false
	}
	if t, seen := ix.keywords[keyword]; seen {
		return t, t != nil
	}

	var found *Tag
	ambiguous := false
	for from := 0; !ambiguous; {
		i := strings.Index(ix.doc[from:], keyword)
		if i < 0 {
			break
		}
		offset := from + i
		from = offset + len(keyword)
		if ix.InComment(offset) {
			continue
		}
		t, err := ix.TagAt(offset)
		if err != nil {
			continue
		}
		switch {
		case found == nil:
			found = t
		case found != t:
			ambiguous = true
		}
	}
	if ambiguous {
		found = nil
	}
	ix.keywords[keyword] = found
	return found, found != nil
}

// SrcByKeywords resolves each keyword and returns the distinct tags found,
// in first-resolved order.
func (ix *Index) SrcByKeywords(keywords []string) []*Tag {
	var out []*Tag
	seen := make(map[*Tag]bool)
	for _, k := range keywords {
		t, ok := ix.SrcByKeyword(k)
		if !ok || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func (ix *Index) describe() string {
	if ix.url != "" {
		return ix.url
	}
	return "document"
}
