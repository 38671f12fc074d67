// Package markup tokenizes raw HTML into byte-accurate tag spans and indexes
// them for offset and keyword lookups.
//
// The tokenizer is deliberately permissive: it never fails on malformed
// input and never rewrites a byte it was not asked to. Attribute values are
// read with golang.org/x/net/html, but only ever from a single tag's text;
// span discovery is done by the package itself so offsets map back onto the
// original document exactly.
package markup

import (
	"slices"
	"strings"
	"sync"

	"golang.org/x/net/html"
)

// Span is a half-open byte range [Start, End) in a document.
type Span struct {
	Start int
	End   int
}

// Contains reports whether offset falls inside the span.
func (s Span) Contains(offset int) bool {
	return s.Start <= offset && offset < s.End
}

// Len returns the width of the span in bytes.
func (s Span) Len() int { return s.End - s.Start }

// Attr is one attribute of a parsed start tag.
type Attr struct {
	Name  string
	Value string
}

// AttrView is the parsed form of a tag's opening marker: its lower-cased
// element name and attributes in source order.
type AttrView struct {
	Name  string
	Attrs []Attr
}

// Get returns the value of the first attribute called name.
func (v *AttrView) Get(name string) (string, bool) {
	for _, a := range v.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Has reports whether the attribute is present.
func (v *AttrView) Has(name string) bool {
	_, ok := v.Get(name)
	return ok
}

// Keys returns the distinct attribute names, sorted.
func (v *AttrView) Keys() []string {
	keys := make([]string, 0, len(v.Attrs))
	for _, a := range v.Attrs {
		if !slices.Contains(keys, a.Name) {
			keys = append(keys, a.Name)
		}
	}
	slices.Sort(keys)
	return keys
}

// Tag is one element or comment of a document.
//
// Full always contains Start. Two tags of the same document are either
// nested or disjoint.
type Tag struct {
	Text      string
	Start     Span // opening marker only
	Full      Span // whole element, equal to Start for void elements and comments
	IsComment bool

	// UniqueAttrs holds the attribute names carried by this tag and by no
	// other tag of the TagList it was drawn from. Sorted.
	UniqueAttrs []string

	attrsOnce sync.Once
	attrs     *AttrView
}

func newTag(doc string, start, full Span, comment bool) *Tag {
	return &Tag{
		Text:      doc[full.Start:full.End],
		Start:     start,
		Full:      full,
		IsComment: comment,
	}
}

// Attrs returns the parsed attribute view of the tag. It is computed on
// first use and cached. Comments and unparsable text yield an empty view.
func (t *Tag) Attrs() *AttrView {
	t.attrsOnce.Do(func() {
		t.attrs = &AttrView{}
		if t.IsComment {
			return
		}
		t.attrs = parseStartTag(t.Text)
	})
	return t.attrs
}

// Name is the lower-cased element name, empty for comments.
func (t *Tag) Name() string { return t.Attrs().Name }

// ID returns the element's id attribute, empty when absent.
func (t *Tag) ID() string {
	id, _ := t.Attrs().Get("id")
	return id
}

// Zero reports whether the tag is a zero-width insertion anchor.
func (t *Tag) Zero() bool { return t.Full.Len() == 0 }

// String returns the raw text.
func (t *Tag) String() string { return t.Text }

// parseStartTag reads the first start tag of text with the x/net/html
// tokenizer. Whitespace between "<" and the name is accepted by Tokenize but
// not by x/net/html, so it is dropped first.
func parseStartTag(text string) *AttrView {
	if strings.HasPrefix(text, "<") {
		text = "<" + strings.TrimLeft(text[1:], " \t\n\r\f")
	}
	z := html.NewTokenizer(strings.NewReader(text))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return &AttrView{}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, more := z.TagName()
			view := &AttrView{Name: string(name)}
			for more {
				var key, val []byte
				key, val, more = z.TagAttr()
				view.Attrs = append(view.Attrs, Attr{Name: string(key), Value: string(val)})
			}
			return view
		}
	}
}

// TagList is an ordered run of tags drawn from one document. Prev and Next
// anchor an empty list to an insertion point.
type TagList struct {
	Tags []*Tag
	Prev *Tag
	Next *Tag
}

// NewTagList builds a list and computes UniqueAttrs over its members.
func NewTagList(tags []*Tag) *TagList {
	l := &TagList{Tags: tags}
	l.computeUniqueAttrs()
	return l
}

func (l *TagList) computeUniqueAttrs() {
	owners := make(map[string][]*Tag)
	for _, t := range l.Tags {
		t.UniqueAttrs = nil
		for _, k := range t.Attrs().Keys() {
			owners[k] = append(owners[k], t)
		}
	}
	for k, tags := range owners {
		if len(tags) == 1 {
			tags[0].UniqueAttrs = append(tags[0].UniqueAttrs, k)
		}
	}
	for _, t := range l.Tags {
		slices.Sort(t.UniqueAttrs)
	}
}

// Len returns the number of tags.
func (l *TagList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Tags)
}

// Slice returns the sub-list [i, j). UniqueAttrs are left as computed for
// the parent list.
func (l *TagList) Slice(i, j int) *TagList {
	return &TagList{Tags: l.Tags[i:j:j]}
}

// Last returns the final tag, or nil for an empty list.
func (l *TagList) Last() *Tag {
	if l.Len() == 0 {
		return nil
	}
	return l.Tags[len(l.Tags)-1]
}

// Contains reports whether a member's raw text equals text, ignoring
// surrounding whitespace.
func (l *TagList) Contains(text string) bool {
	text = strings.TrimSpace(text)
	for _, t := range l.Tags {
		if strings.TrimSpace(t.Text) == text {
			return true
		}
	}
	return false
}

// String concatenates the members' raw text.
func (l *TagList) String() string {
	var b strings.Builder
	for _, t := range l.Tags {
		b.WriteString(t.Text)
	}
	return b.String()
}
