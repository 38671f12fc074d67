package warc

import (
	"bytes"
	"errors"
	"io/fs"
	"sort"
)

// Responses maps target URIs to the distinct decoded bodies recorded for
// them.
type Responses map[string][][]byte

// Has reports whether body is among the bodies recorded for uri.
func (r Responses) Has(uri string, body []byte) bool {
	for _, b := range r[uri] {
		if bytes.Equal(b, body) {
			return true
		}
	}
	return false
}

func (r Responses) add(uri string, body []byte) {
	if !r.Has(uri, body) {
		r[uri] = append(r[uri], body)
	}
}

// ReadResponses collects every response body of the container at path. A
// missing file yields an empty set. Bodies that fail to decode are kept as
// stored.
func ReadResponses(path string) (Responses, error) {
	c, err := Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(Responses), nil
	}
	if err != nil {
		return nil, err
	}
	return responsesOf(c), nil
}

func responsesOf(c *Container) Responses {
	out := make(Responses)
	for _, rec := range c.Records() {
		if rec.Type() != TypeResponse {
			continue
		}
		body, err := rec.Payload()
		if err != nil {
			body = rec.Block
		}
		out.add(rec.TargetURI(), body)
	}
	return out
}

// ResourceDiff lists the resources of a reference capture that another
// capture lacks or recorded with different content.
type ResourceDiff struct {
	Missing []string `json:"missing"`
	Updated []string `json:"updated"`
}

// CompareResponses checks every URI of ref against other. A URI absent from
// other is missing; one whose bodies share nothing with ref's is updated.
// Both lists are sorted.
func CompareResponses(ref, other Responses) ResourceDiff {
	var d ResourceDiff
	for uri, bodies := range ref {
		if _, ok := other[uri]; !ok {
			d.Missing = append(d.Missing, uri)
			continue
		}
		shared := false
		for _, b := range bodies {
			if other.Has(uri, b) {
				shared = true
				break
			}
		}
		if !shared {
			d.Updated = append(d.Updated, uri)
		}
	}
	sort.Strings(d.Missing)
	sort.Strings(d.Updated)
	return d
}

// Cache memoises parsed containers and response sets for one job. It is not
// safe for concurrent use.
type Cache struct {
	opts       []Option
	containers map[string]*Container
	responses  map[string]Responses
}

// NewCache returns an empty cache; opts apply to every container it opens.
func NewCache(opts ...Option) *Cache {
	return &Cache{
		opts:       opts,
		containers: make(map[string]*Container),
		responses:  make(map[string]Responses),
	}
}

// Open returns the container at path, parsing it on first use.
func (c *Cache) Open(path string) (*Container, error) {
	if ct, ok := c.containers[path]; ok {
		return ct, nil
	}
	ct, err := Open(path, c.opts...)
	if err != nil {
		return nil, err
	}
	c.containers[path] = ct
	return ct, nil
}

// Responses returns the response set of the container at path, reusing
// the parsed container when Open already loaded it. A missing file yields
// an empty set.
func (c *Cache) Responses(path string) (Responses, error) {
	if r, ok := c.responses[path]; ok {
		return r, nil
	}
	ct, err := c.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(Responses), nil
	}
	if err != nil {
		return nil, err
	}
	r := responsesOf(ct)
	c.responses[path] = r
	return r, nil
}
