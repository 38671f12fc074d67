// Package initiator reconstructs which resource caused which other resource
// to load from the call stacks captured at fetch time, and traces every
// resource back to the tags of the root document that started its chain.
package initiator

import (
	"errors"
	"fmt"

	"github.com/USC-NSL/IMC-25-Artifact/capture"
	"github.com/USC-NSL/IMC-25-Artifact/markup"
	"github.com/USC-NSL/IMC-25-Artifact/urltok"
)

var (
	// ErrDivergentRoots is returned when the chains of one resource end in
	// different root documents.
	ErrDivergentRoots = errors.New("initiator: chains reach different root documents")
	// ErrCycle is returned when a resource is reachable from itself.
	ErrCycle = errors.New("initiator: initiator cycle")
	// ErrNoSource is returned when a root document has no captured text to
	// resolve call-frame locations against.
	ErrNoSource = errors.New("initiator: root has no source text")
)

// Loc is a 0-based call-frame location inside the causing resource.
type Loc struct {
	Line   int
	Column int
}

// Edge records that Cause was executing at Loc when the resource was
// requested.
type Edge struct {
	Cause *Initiator
	Loc   Loc
}

// Initiator is one fetched resource of a page load.
type Initiator struct {
	URL       string
	Stack     []capture.StackSegment
	Source    string
	HasSource bool

	edges []Edge
	index *markup.Index

	visiting bool
	resolved bool
	direct   directResult

	rootsDone bool
	roots     []*markup.Tag
	rootsErr  error
}

type directResult struct {
	tags []*markup.Tag
	root *Initiator
	err  error
}

// Edges returns the recorded causes in stack order.
func (in *Initiator) Edges() []Edge { return in.edges }

// IsRoot reports whether no other resource caused this one.
func (in *Initiator) IsRoot() bool { return len(in.edges) == 0 }

// Index returns the tag index of the resource's text, built on first use.
func (in *Initiator) Index() (*markup.Index, error) {
	if !in.HasSource {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, in.URL)
	}
	if in.index == nil {
		in.index = markup.New(in.Source, markup.WithURL(in.URL))
	}
	return in.index, nil
}

func (in *Initiator) tagAt(loc Loc) (*markup.Tag, error) {
	ix, err := in.Index()
	if err != nil {
		return nil, err
	}
	tag, err := ix.TagByLoc(loc.Line, loc.Column)
	if err != nil {
		return nil, fmt.Errorf("initiator: resolve %s at %d:%d: %w", in.URL, loc.Line, loc.Column, err)
	}
	return tag, nil
}

// resolveDirect follows edges to the root document. The tags found on the
// way are the root tags at the frames that lead into the root.
func (in *Initiator) resolveDirect() directResult {
	if in.resolved {
		return in.direct
	}
	if in.visiting {
		return directResult{err: fmt.Errorf("%w: %s", ErrCycle, in.URL)}
	}
	in.visiting = true
	res := in.walkEdges()
	in.visiting = false
	in.resolved = true
	in.direct = res
	return res
}

func (in *Initiator) walkEdges() directResult {
	var res directResult
	seen := make(map[*markup.Tag]bool)
	add := func(tags ...*markup.Tag) {
		for _, t := range tags {
			if !seen[t] {
				seen[t] = true
				res.tags = append(res.tags, t)
			}
		}
	}
	setRoot := func(root *Initiator) error {
		if res.root != nil && res.root != root {
			return fmt.Errorf("%w: %s: %s != %s", ErrDivergentRoots, in.URL, res.root.URL, root.URL)
		}
		res.root = root
		return nil
	}

	for _, e := range in.edges {
		if e.Cause.IsRoot() {
			tag, err := e.Cause.tagAt(e.Loc)
			if err != nil {
				return directResult{err: err}
			}
			if err := setRoot(e.Cause); err != nil {
				return directResult{err: err}
			}
			add(tag)
			continue
		}
		sub := e.Cause.resolveDirect()
		if sub.err != nil {
			return directResult{err: sub.err}
		}
		if sub.root != nil {
			if err := setRoot(sub.root); err != nil {
				return directResult{err: err}
			}
		}
		add(sub.tags...)
	}
	return res
}

// Keywords returns the URL-derived strings searched for in the root
// document when direct resolution misses a tag.
func (in *Initiator) Keywords() []string { return urltok.Keywords(in.URL) }

// RootInitiators returns the tags of the root document that caused this
// resource to load: those reached through call frames, plus those that
// mention the resource's URL keywords unambiguously. A root resource has
// none. The result is computed once.
func (in *Initiator) RootInitiators() ([]*markup.Tag, error) {
	if in.rootsDone {
		return in.roots, in.rootsErr
	}
	in.roots, in.rootsErr = in.rootInitiators()
	in.rootsDone = true
	return in.roots, in.rootsErr
}

func (in *Initiator) rootInitiators() ([]*markup.Tag, error) {
	res := in.resolveDirect()
	if res.err != nil {
		return nil, res.err
	}
	if res.root == nil {
		return res.tags, nil
	}
	ix, err := res.root.Index()
	if err != nil {
		return nil, err
	}
	tags := append([]*markup.Tag(nil), res.tags...)
	seen := make(map[*markup.Tag]bool, len(tags))
	for _, t := range tags {
		seen[t] = true
	}
	for _, t := range ix.SrcByKeywords(in.Keywords()) {
		if !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}
	return tags, nil
}
