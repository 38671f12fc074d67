package initiator

import (
	"errors"
	"sort"
	"strings"

	"github.com/USC-NSL/IMC-25-Artifact/capture"
)

// excluded URLs never get edges.
var excluded = map[string]bool{"about:blank": true}

// DefaultContentTypes are the mime fragments traced by the selective patch
// policy.
var DefaultContentTypes = []string{"html", "js", "javascript", "json", "plain"}

type buildConfig struct {
	contentTypes []string
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

// WithContentTypes restricts edge construction to resources whose fetched
// mime type contains one of types. Resources missing from the fetch list are
// always traced.
func WithContentTypes(types ...string) BuildOption {
	return func(c *buildConfig) { c.contentTypes = types }
}

// Graph maps resource URLs to their initiators for one page load.
type Graph struct {
	byURL map[string]*Initiator
	order []string
}

// Build creates one Initiator per URL named in the request stacks, the first
// stack entry naming a URL winning, and links each traced resource to every
// other known resource on its call stack.
func Build(a *capture.Artifacts, opts ...BuildOption) (*Graph, error) {
	if a == nil {
		return nil, errors.New("initiator: build: nil artifacts")
	}
	var cfg buildConfig
	for _, o := range opts {
		o(&cfg)
	}

	g := &Graph{byURL: make(map[string]*Initiator)}
	for _, rs := range a.Stacks {
		for _, u := range rs.URLs {
			if _, ok := g.byURL[u]; ok {
				continue
			}
			src, ok := a.Textual[u]
			g.byURL[u] = &Initiator{URL: u, Stack: rs.StackInfo, Source: src, HasSource: ok}
			g.order = append(g.order, u)
		}
	}

	for _, u := range g.order {
		in := g.byURL[u]
		if !cfg.traced(u, a.Fetches) {
			continue
		}
		for _, seg := range in.Stack {
			for _, f := range seg.CallFrames {
				cause, ok := g.byURL[f.URL]
				if !ok || f.URL == u {
					continue
				}
				in.edges = append(in.edges, Edge{
					Cause: cause,
					Loc:   Loc{Line: f.LineNumber, Column: f.ColumnNumber},
				})
			}
		}
	}
	return g, nil
}

func (c *buildConfig) traced(u string, fetches map[string]capture.Fetch) bool {
	if excluded[u] {
		return false
	}
	f, ok := fetches[u]
	if len(c.contentTypes) == 0 || !ok {
		return true
	}
	for _, ct := range c.contentTypes {
		if strings.Contains(f.Mime, ct) {
			return true
		}
	}
	return false
}

// Get returns the initiator of u.
func (g *Graph) Get(u string) (*Initiator, bool) {
	in, ok := g.byURL[u]
	return in, ok
}

// URLs returns the known resource URLs in first-seen order.
func (g *Graph) URLs() []string { return g.order }

// Len returns the number of initiators.
func (g *Graph) Len() int { return len(g.order) }

// RootTags returns, for every non-root resource, the texts of the root tags
// that caused it.
func (g *Graph) RootTags() (map[string][]string, error) {
	out := make(map[string][]string)
	for _, u := range g.order {
		in := g.byURL[u]
		if in.IsRoot() {
			continue
		}
		tags, err := in.RootInitiators()
		if err != nil {
			return nil, err
		}
		texts := make([]string, len(tags))
		for i, t := range tags {
			texts[i] = t.Text
		}
		out[u] = texts
	}
	return out, nil
}

// AllRootTexts returns the distinct root tag texts over all resources,
// sorted.
func (g *Graph) AllRootTexts() ([]string, error) {
	byURL, err := g.RootTags()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, texts := range byURL {
		for _, t := range texts {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
