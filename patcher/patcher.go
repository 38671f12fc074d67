// Package patcher transplants script markup from a dynamic capture's page
// into the static capture of the same page and writes the patched static
// WARC next to the original.
package patcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/USC-NSL/IMC-25-Artifact/capture"
	"github.com/USC-NSL/IMC-25-Artifact/initiator"
	"github.com/USC-NSL/IMC-25-Artifact/markup"
	"github.com/USC-NSL/IMC-25-Artifact/match"
	"github.com/USC-NSL/IMC-25-Artifact/warc"
)

// Policy selects which aligned pairs are applied.
type Policy string

const (
	// PolicyFull applies every aligned pair.
	PolicyFull Policy = "full"
	// PolicySelective applies only pairs whose dynamic side holds a tag
	// that initiated some other resource of the dynamic load.
	PolicySelective Policy = "selective"
)

// ParsePolicy validates a policy name. Empty means PolicyFull.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(s)) {
	case "", PolicyFull:
		return PolicyFull, nil
	case PolicySelective:
		return PolicySelective, nil
	}
	return "", fmt.Errorf("patcher: unknown policy %q", s)
}

// PatchedSuffix replaces the static WARC's extension in the output name.
const PatchedSuffix = ".patched.warc"

// Options configures a Patcher.
type Options struct {
	// DynamicPrefix and StaticPrefix are "<dir>/<kind>-<identifier>"
	// capture prefixes.
	DynamicPrefix string
	DynamicWARC   string
	StaticPrefix  string
	StaticWARC    string

	Policy Policy
	// PinTimestamp adds the dynamic capture's timestamp to URLs of
	// transplanted tags.
	PinTimestamp bool

	// Selector picks the tags to align. Default markup.IsScript.
	Selector markup.Predicate
	// Anchor locates the insertion container when the static page has no
	// selected tags. Default markup.IsBodyContainer.
	Anchor markup.Predicate
	// ContentTypes filters traced resources under PolicySelective. Default
	// initiator.DefaultContentTypes.
	ContentTypes []string

	// Captures and WARCs are job-scoped caches; nil allocates fresh ones.
	Captures *capture.Cache
	WARCs    *warc.Cache

	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Policy == "" {
		o.Policy = PolicyFull
	}
	if o.Selector == nil {
		o.Selector = markup.IsScript
	}
	if o.Anchor == nil {
		o.Anchor = markup.IsBodyContainer
	}
	if len(o.ContentTypes) == 0 {
		o.ContentTypes = initiator.DefaultContentTypes
	}
	if o.Captures == nil {
		o.Captures = capture.NewCache()
	}
	if o.WARCs == nil {
		o.WARCs = warc.NewCache()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// side is one capture of the page.
type side struct {
	prefix capture.Prefix
	warc   string
	page   capture.Page
	// uri is the page URL as written in WARC-Target-URI.
	uri   string
	index *markup.Index
}

// Patcher patches one static capture from one dynamic capture.
type Patcher struct {
	opts    Options
	log     *slog.Logger
	dynamic side
	static  side

	initiatorsBuilt bool
	rootTexts       []string
}

// Result describes a written patch.
type Result struct {
	Output string
	// Pairs is the number of aligned pairs, Applied the number rewritten.
	Pairs   int
	Applied int
	// StaticBytes and PatchedBytes are the page body sizes before and after.
	StaticBytes  int
	PatchedBytes int
}

// New locates both page documents and indexes them.
func New(ctx context.Context, opts Options) (*Patcher, error) {
	opts.defaults()
	var err error
	if opts.Policy, err = ParsePolicy(string(opts.Policy)); err != nil {
		return nil, err
	}
	p := &Patcher{opts: opts, log: opts.Logger}

	if p.dynamic, err = p.loadSide(ctx, opts.DynamicPrefix, opts.DynamicWARC); err != nil {
		return nil, fmt.Errorf("patcher: dynamic: %w", err)
	}
	if p.static, err = p.loadSide(ctx, opts.StaticPrefix, opts.StaticWARC); err != nil {
		return nil, fmt.Errorf("patcher: static: %w", err)
	}
	p.log.Debug("patcher: loaded",
		"static_url", p.static.uri, "dynamic_url", p.dynamic.uri,
		"static_tags", len(p.static.index.Tags()), "dynamic_tags", len(p.dynamic.index.Tags()))
	return p, nil
}

func (p *Patcher) loadSide(ctx context.Context, prefix, warcPath string) (side, error) {
	if err := ctx.Err(); err != nil {
		return side{}, err
	}
	pre, err := capture.ParsePrefix(prefix)
	if err != nil {
		return side{}, err
	}
	page, err := p.opts.Captures.Page(pre)
	if err != nil {
		return side{}, err
	}
	uri := capture.QuotePageURL(page.URL)
	c, err := p.opts.WARCs.Open(warcPath)
	if err != nil {
		return side{}, err
	}
	body, err := c.Payload(uri)
	if err != nil {
		return side{}, fmt.Errorf("%s: %w", warcPath, err)
	}
	return side{
		prefix: pre,
		warc:   warcPath,
		page:   page,
		uri:    uri,
		index:  markup.New(string(body), markup.WithURL(page.URL)),
	}, nil
}

// BuildInitiators traces the dynamic load's initiators and collects the
// root tags they resolve to. It only does work under PolicySelective.
func (p *Patcher) BuildInitiators() error {
	if p.opts.Policy != PolicySelective || p.initiatorsBuilt {
		return nil
	}
	a, err := p.opts.Captures.Artifacts(p.dynamic.prefix)
	if err != nil {
		return fmt.Errorf("patcher: initiators: %w", err)
	}
	g, err := initiator.Build(a, initiator.WithContentTypes(p.opts.ContentTypes...))
	if err != nil {
		return fmt.Errorf("patcher: initiators: %w", err)
	}
	texts, err := g.AllRootTexts()
	if err != nil {
		return fmt.Errorf("patcher: initiators: %w", err)
	}
	p.rootTexts = texts
	p.initiatorsBuilt = true
	p.log.Debug("patcher: initiators built", "resources", g.Len(), "root_tags", len(texts))
	return nil
}

// RootTexts returns the root initiator tag texts collected by
// BuildInitiators.
func (p *Patcher) RootTexts() []string { return p.rootTexts }

// StaticHTML returns the static page document.
func (p *Patcher) StaticHTML() string { return p.static.index.Doc() }

// DynamicHTML returns the dynamic page document.
func (p *Patcher) DynamicHTML() string { return p.dynamic.index.Doc() }

// OutputPath returns where the patched container is written.
func (p *Patcher) OutputPath() string { return OutputPath(p.static.warc) }

// OutputPath derives the patched container path from a static WARC path.
func OutputPath(staticWARC string) string {
	dir, base := filepath.Split(staticWARC)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+PatchedSuffix)
}

// Pairs aligns the static page (left) against the dynamic page (right) and
// returns the pairs the policy applies, and the total number of pairs.
func (p *Patcher) Pairs() (applied []match.Pair, total int, err error) {
	pairs, err := match.Align(p.static.index, p.dynamic.index, p.opts.Selector, match.WithAnchor(p.opts.Anchor))
	if err != nil {
		return nil, 0, fmt.Errorf("patcher: align %s: %w", p.static.uri, err)
	}
	if p.opts.Policy == PolicyFull {
		return pairs, len(pairs), nil
	}
	for _, pr := range pairs {
		if p.initiated(pr.Right) {
			applied = append(applied, pr)
		}
	}
	return applied, len(pairs), nil
}

func (p *Patcher) initiated(l *markup.TagList) bool {
	for _, text := range p.rootTexts {
		if l.Contains(text) {
			return true
		}
	}
	return false
}

// PatchedHTML returns the static document with the applied pairs rewritten.
func (p *Patcher) PatchedHTML() (string, *Result, error) {
	if err := p.BuildInitiators(); err != nil {
		return "", nil, err
	}
	pairs, total, err := p.Pairs()
	if err != nil {
		return "", nil, err
	}
	var opts []markup.RewriteOption
	if p.opts.PinTimestamp {
		ts := p.dynamic.page.TS
		opts = append(opts, markup.WithTagTransform(func(tag string) string {
			return match.AddTimestamp(tag, ts)
		}))
	}
	olds, news := match.Split(pairs)
	html := p.static.index.ReplaceTags(olds, news, opts...)
	res := &Result{
		Pairs:        total,
		Applied:      len(pairs),
		StaticBytes:  len(p.static.index.Doc()),
		PatchedBytes: len(html),
	}
	p.log.Debug("patcher: aligned", "url", p.static.uri, "pairs", total, "applied", len(pairs))
	return html, res, nil
}

// Patch computes the patched page and writes the patched container. The
// output file appears only once it is complete.
func (p *Patcher) Patch(ctx context.Context) (*Result, error) {
	html, res, err := p.PatchedHTML()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The cached container is shared with readers; rewrite a private copy.
	c, err := warc.Open(p.static.warc)
	if err != nil {
		return nil, fmt.Errorf("patcher: %w", err)
	}
	if err := c.ReplaceBody(p.static.uri, []byte(html)); err != nil {
		return nil, fmt.Errorf("patcher: %w", err)
	}
	res.Output = p.OutputPath()
	if err := c.WriteFile(res.Output); err != nil {
		return nil, fmt.Errorf("patcher: %w", err)
	}
	p.log.Info("patcher: written", "output", res.Output, "pairs", res.Pairs, "applied", res.Applied)
	return res, nil
}

// Resources compares the responses recorded by the dynamic capture with
// those of the static one: resources the static capture never fetched, and
// resources whose content changed between the two.
func (p *Patcher) Resources() (warc.ResourceDiff, error) {
	dynamic, err := p.opts.WARCs.Responses(p.dynamic.warc)
	if err != nil {
		return warc.ResourceDiff{}, fmt.Errorf("patcher: resources: %w", err)
	}
	static, err := p.opts.WARCs.Responses(p.static.warc)
	if err != nil {
		return warc.ResourceDiff{}, fmt.Errorf("patcher: resources: %w", err)
	}
	d := warc.CompareResponses(dynamic, static)
	p.log.Debug("patcher: resources compared", "missing", len(d.Missing), "updated", len(d.Updated))
	return d, nil
}

// IsInputError reports whether err means the inputs of a job were missing
// rather than that patching itself went wrong.
func IsInputError(err error) bool {
	return errors.Is(err, capture.ErrArtifactMissing) ||
		errors.Is(err, capture.ErrKeyMissing) ||
		errors.Is(err, warc.ErrRecordNotFound)
}
