package markup

import (
	"strings"

	"golang.org/x/net/html"
)

// StickyAttrs are carried from a replaced tag onto its replacement when both
// carry them. They bind a script to the hosting page's security context.
var StickyAttrs = []string{"nonce", "crossorigin"}

type rewriteConfig struct {
	transform func(string) string
}

// RewriteOption configures ReplaceTags.
type RewriteOption func(*rewriteConfig)

// WithTagTransform post-processes every rendered replacement tag.
func WithTagTransform(fn func(string) string) RewriteOption {
	return func(c *rewriteConfig) { c.transform = fn }
}

// ReplaceTags rewrites the indexed document, replacing each old list with
// the new list at the same position. Old tags must come from this Index;
// pairs must be in document order.
//
// Within a pair, old and new tags are replaced one for one; surplus old tags
// are dropped and surplus new tags are inserted after the last consumed old
// tag. An empty old list inserts at its anchor: after Prev, else before
// Next. Bytes outside replaced tags are copied verbatim, so passing the same
// lists twice reproduces the document.
func (ix *Index) ReplaceTags(olds, news []*TagList, opts ...RewriteOption) string {
	var cfg rewriteConfig
	for _, o := range opts {
		o(&cfg)
	}
	render := func(t, host *Tag) string {
		s := renderTag(t, host)
		if cfg.transform != nil {
			s = cfg.transform(s)
		}
		return s
	}

	var b strings.Builder
	b.Grow(len(ix.doc))
	cursor := 0
	copyTo := func(offset int) {
		if offset > cursor {
			b.WriteString(ix.doc[cursor:offset])
			cursor = offset
		}
	}

	n := min(len(olds), len(news))
	for i := 0; i < n; i++ {
		old, nw := olds[i], news[i]

		if old.Len() == 0 {
			switch {
			case old.Prev != nil:
				copyTo(old.Prev.Full.End)
			case old.Next != nil:
				copyTo(old.Next.Start.Start)
			}
			for _, t := range nw.Tags {
				b.WriteString(render(t, nil))
			}
			continue
		}

		common := min(old.Len(), nw.Len())
		var host *Tag
		for j, o := range old.Tags {
			// Already consumed as part of an enclosing replaced tag.
			if o.Start.Start < cursor {
				continue
			}
			copyTo(o.Start.Start)
			if j < common {
				b.WriteString(render(nw.Tags[j], o))
			}
			cursor = o.Full.End
			host = o
		}
		for _, t := range nw.Tags[common:] {
			b.WriteString(render(t, host))
		}
	}
	b.WriteString(ix.doc[cursor:])
	return b.String()
}

// renderTag returns t's text with sticky attributes copied from host.
func renderTag(t, host *Tag) string {
	if host == nil || t.IsComment || host.IsComment {
		return t.Text
	}
	text := t.Text
	for _, name := range StickyAttrs {
		want, ok := host.Attrs().Get(name)
		if !ok {
			continue
		}
		have, ok := t.Attrs().Get(name)
		if !ok || have == want {
			continue
		}
		text = setAttr(text, t.Start.Len(), name, want)
	}
	return text
}

// setAttr rewrites the value of attribute name inside the opening marker,
// which occupies text[:markerLen]. Everything else is left untouched.
func setAttr(text string, markerLen int, name, value string) string {
	if markerLen > len(text) {
		markerLen = len(text)
	}
	for _, a := range scanAttrs(text[:markerLen]) {
		if !strings.EqualFold(a.name, name) {
			continue
		}
		quoted := `"` + html.EscapeString(value) + `"`
		if a.value.Len() == 0 && a.eq < 0 {
			// Bare attribute: append a value after the name.
			return text[:a.nameEnd] + "=" + quoted + text[a.nameEnd:]
		}
		return text[:a.value.Start] + quoted + text[a.value.End:]
	}
	return text
}

type attrSpan struct {
	name    string
	nameEnd int
	eq      int  // offset of '=', -1 when absent
	value   Span // including quotes
}

// scanAttrs walks the attributes of an opening marker and records where
// each one sits. It follows the attribute rules of the HTML tokenizer:
// names end at whitespace, '/', '>' or '='; values are quoted or run to the
// next whitespace or '>'.
func scanAttrs(marker string) []attrSpan {
	var out []attrSpan
	i := 1 // past '<'
	for i < len(marker) && isSpace(marker[i]) {
		i++
	}
	for i < len(marker) && !isSpace(marker[i]) && marker[i] != '>' && marker[i] != '/' {
		i++
	}
	for i < len(marker) {
		for i < len(marker) && (isSpace(marker[i]) || marker[i] == '/') {
			i++
		}
		if i >= len(marker) || marker[i] == '>' {
			break
		}
		start := i
		for i < len(marker) && !isSpace(marker[i]) && marker[i] != '>' && marker[i] != '/' && (marker[i] != '=' || i == start) {
			i++
		}
		a := attrSpan{name: marker[start:i], nameEnd: i, eq: -1, value: Span{Start: i, End: i}}
		j := i
		for j < len(marker) && isSpace(marker[j]) {
			j++
		}
		if j < len(marker) && marker[j] == '=' {
			a.eq = j
			j++
			for j < len(marker) && isSpace(marker[j]) {
				j++
			}
			vs := j
			if j < len(marker) && (marker[j] == '"' || marker[j] == '\'') {
				q := marker[j]
				j++
				for j < len(marker) && marker[j] != q {
					j++
				}
				if j < len(marker) {
					j++
				}
			} else {
				for j < len(marker) && !isSpace(marker[j]) && marker[j] != '>' {
					j++
				}
			}
			a.value = Span{Start: vs, End: j}
			i = j
		}
		out = append(out, a)
	}
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
