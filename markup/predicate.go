package markup

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Predicate selects tags by their attribute view.
type Predicate func(*AttrView) bool

// IsScript selects script elements and script preloads.
func IsScript(v *AttrView) bool {
	switch v.Name {
	case "script":
		return true
	case "link":
		as, _ := v.Get("as")
		return as == "script"
	}
	return false
}

// IsBodyContainer selects the containers used as a fallback insertion point
// when a document has no tag to align against.
func IsBodyContainer(v *AttrView) bool {
	return v.Name == "div"
}

// SelectorPredicate compiles a CSS selector into a Predicate. The selector
// is evaluated against the tag alone, so combinators and structural
// pseudo-classes never match.
func SelectorPredicate(selector string) (Predicate, error) {
	if _, err := cascadia.Compile(selector); err != nil {
		return nil, fmt.Errorf("markup: selector %q: %w", selector, err)
	}
	return func(v *AttrView) bool {
		if v.Name == "" {
			return false
		}
		return goquery.NewDocumentFromNode(v.node()).Is(selector)
	}, nil
}

// node builds a detached element node carrying the view's name and
// attributes.
func (v *AttrView) node() *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     v.Name,
		DataAtom: atom.Lookup([]byte(v.Name)),
	}
	for _, a := range v.Attrs {
		n.Attr = append(n.Attr, html.Attribute{Key: a.Name, Val: a.Value})
	}
	return n
}
