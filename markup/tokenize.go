package markup

import (
	"regexp"
	"sort"
	"strings"
)

var (
	commentPattern = regexp.MustCompile(`(?s)<!--.*?-->`)

	// markerPattern matches opening and closing markers with arbitrary tag
	// names and attribute blobs. Groups: 1 closing slash, 2 name, 3 attrs.
	markerPattern = regexp.MustCompile(`<\s*(/?)([a-zA-Z0-9\-]+)(\s[^<>]*)?>`)
)

// voidElements never take a closing marker.
var voidElements = map[string]bool{
	"br": true, "img": true, "input": true, "link": true, "meta": true,
	"base": true, "hr": true, "area": true, "col": true, "embed": true,
	"keygen": true, "param": true, "source": true, "track": true,
}

type openMarker struct {
	name string
	span Span
}

// tokenizer holds the state of one Tokenize call.
type tokenizer struct {
	doc      string
	comments []Span
	stack    []openMarker
	tags     []*Tag
}

// Tokenize returns every element and comment of doc as a Tag. It never
// fails: closing markers that do not match the innermost open element
// implicitly close it at the closer's start, and elements still open at the
// end of input produce no tag.
func Tokenize(doc string) []*Tag {
	t := &tokenizer{doc: doc}
	for _, m := range commentPattern.FindAllStringIndex(doc, -1) {
		span := Span{Start: m[0], End: m[1]}
		t.comments = append(t.comments, span)
		t.tags = append(t.tags, newTag(doc, span, span, true))
	}

	for _, m := range markerPattern.FindAllStringSubmatchIndex(doc, -1) {
		span := Span{Start: m[0], End: m[1]}
		if t.inComment(span.Start) {
			continue
		}
		closing := m[3] > m[2]
		name := doc[m[4]:m[5]]
		switch {
		case closing:
			t.close(name, span)
		case selfClosing(doc[span.Start:span.End], name):
			t.tags = append(t.tags, newTag(doc, span, span, false))
		default:
			t.stack = append(t.stack, openMarker{name: name, span: span})
		}
	}
	return t.tags
}

// close pops open markers until one named name is found. Every mismatched
// marker popped on the way is closed at the closer's start.
func (t *tokenizer) close(name string, closer Span) {
	for len(t.stack) > 0 {
		top := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		if top.name == name {
			full := Span{Start: top.span.Start, End: closer.End}
			t.tags = append(t.tags, newTag(t.doc, top.span, full, false))
			return
		}
		full := Span{Start: top.span.Start, End: closer.Start}
		t.tags = append(t.tags, newTag(t.doc, top.span, full, false))
	}
}

// inComment reports whether offset lies inside a comment. Comment spans are
// sorted and disjoint.
func (t *tokenizer) inComment(offset int) bool {
	return spanIndex(t.comments, offset) >= 0
}

// spanIndex returns the index of the span in sorted, disjoint spans that
// contains offset, or -1.
func spanIndex(spans []Span, offset int) int {
	i := sort.Search(len(spans), func(i int) bool { return spans[i].End > offset })
	if i < len(spans) && spans[i].Contains(offset) {
		return i
	}
	return -1
}

func selfClosing(marker, name string) bool {
	if strings.HasSuffix(marker, "/>") {
		return true
	}
	return voidElements[strings.ToLower(name)]
}
