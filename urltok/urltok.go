// Package urltok splits resource URLs into path tokens and compares them
// for "same resource, different build" heuristics.
package urltok

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

// delimiter splits a path segment into sub-tokens.
var delimiter = regexp.MustCompile(`[.\-_,:~();]+`)

// Tokens is the tokenized path of a URL.
type Tokens struct {
	URL  string
	Host string
	Path string
	// Segments holds one entry per path segment, each split on delimiter.
	Segments [][]string
	// Ext is the extension of the last segment, including its dot.
	Ext string
}

// Parse tokenizes rawURL. Unparsable input is treated as a bare path.
func Parse(rawURL string) Tokens {
	t := Tokens{URL: rawURL, Path: rawURL}
	if u, err := url.Parse(rawURL); err == nil {
		t.Host = u.Hostname()
		t.Path = u.Path
	}
	if t.Path == "" {
		t.Path = "/"
	}
	comps := strings.Split(strings.TrimPrefix(t.Path, "/"), "/")
	for _, c := range comps {
		t.Segments = append(t.Segments, delimiter.Split(c, -1))
	}
	t.Ext = splitExt(comps[len(comps)-1])
	return t
}

// splitExt returns the extension of name, ignoring leading dots.
func splitExt(name string) string {
	trimmed := strings.TrimLeft(name, ".")
	i := strings.LastIndexByte(trimmed, '.')
	if i < 0 {
		return ""
	}
	return trimmed[i:]
}

// SameResource reports whether a and b plausibly reference the same
// resource built twice. Extension, segment and sub-token counts and
// sub-token lengths must agree; sub-tokens that are alphabetic on both sides
// must be identical, while numeric and mixed sub-tokens (hashes, build ids)
// may differ.
func SameResource(a, b string) bool {
	ta, tb := Parse(a), Parse(b)
	if ta.Ext != tb.Ext || len(ta.Segments) != len(tb.Segments) {
		return false
	}
	for i, sa := range ta.Segments {
		sb := tb.Segments[i]
		if len(sa) != len(sb) {
			return false
		}
		for j, x := range sa {
			y := sb[j]
			if len(x) != len(y) {
				return false
			}
			if x != y && IsAlpha(x) && IsAlpha(y) {
				return false
			}
		}
	}
	return true
}

// Keywords returns the distinct non-empty sub-tokens of the URL path, in
// path order. The final sub-token of the last segment is treated as the
// extension and dropped, even when the segment has no dot.
func Keywords(rawURL string) []string {
	t := Parse(rawURL)
	last := len(t.Segments) - 1
	t.Segments[last] = t.Segments[last][:len(t.Segments[last])-1]

	var out []string
	seen := make(map[string]bool)
	for _, seg := range t.Segments {
		for _, tok := range seg {
			if tok == "" || seen[tok] {
				continue
			}
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

// IsAlpha reports whether s is non-empty and made of letters only.
func IsAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
