package capture

import (
	"encoding/json"
	"fmt"
)

// Fetch is one entry of the fetch list.
type Fetch struct {
	URL    string `json:"url"`
	Method string `json:"method"`
	Type   string `json:"type"`
	Mime   string `json:"mime"`
}

// CallFrame is one frame of a captured call stack. Line and column are
// 0-based.
type CallFrame struct {
	URL          string `json:"url"`
	LineNumber   int    `json:"lineNumber"`
	ColumnNumber int    `json:"columnNumber"`
	FunctionName string `json:"functionName"`
}

// StackSegment is one synchronous segment of a stack; asynchronous parents
// follow as further segments.
type StackSegment struct {
	CallFrames []CallFrame `json:"callFrames"`
}

// RequestStack is the stack captured when the listed URLs were requested.
type RequestStack struct {
	URLs      []string       `json:"urls"`
	StackInfo []StackSegment `json:"stackInfo"`
}

// Artifacts holds the auxiliary dumps of one capture.
type Artifacts struct {
	Fetches map[string]Fetch
	Stacks  []RequestStack
	Textual map[string]string
}

// LoadArtifacts reads the fetch list, request stacks and textual resources
// of a capture. All three must exist.
func LoadArtifacts(p Prefix) (*Artifacts, error) {
	var fetches []Fetch
	if err := decodeArtifact(p.ArtifactPath(FetchesName), &fetches); err != nil {
		return nil, err
	}
	a := &Artifacts{Fetches: make(map[string]Fetch, len(fetches))}
	for _, f := range fetches {
		a.Fetches[f.URL] = f
	}
	if err := decodeArtifact(p.ArtifactPath(StacksName), &a.Stacks); err != nil {
		return nil, err
	}
	if err := decodeArtifact(p.ArtifactPath(TextualName), &a.Textual); err != nil {
		return nil, err
	}
	return a, nil
}

func decodeArtifact(path string, v any) error {
	data, err := readArtifact(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("capture: decode %s: %w", path, err)
	}
	return nil
}

// Cache memoises metadata and artifacts for the lifetime of one job. It is
// not safe for concurrent use; each job owns its own.
type Cache struct {
	metadata  map[string]Metadata
	artifacts map[string]*Artifacts
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		metadata:  make(map[string]Metadata),
		artifacts: make(map[string]*Artifacts),
	}
}

// Metadata returns the metadata of dir, loading it on first use.
func (c *Cache) Metadata(dir string) (Metadata, error) {
	if md, ok := c.metadata[dir]; ok {
		return md, nil
	}
	md, err := LoadMetadata(dir)
	if err != nil {
		return nil, err
	}
	c.metadata[dir] = md
	return md, nil
}

// Page returns the metadata entry of a prefix.
func (c *Cache) Page(p Prefix) (Page, error) {
	md, err := c.Metadata(p.Dir)
	if err != nil {
		return Page{}, err
	}
	return md.Page(p.Kind, p.Ident)
}

// Artifacts returns the artifacts of a prefix, loading them on first use.
func (c *Cache) Artifacts(p Prefix) (*Artifacts, error) {
	key := p.String()
	if a, ok := c.artifacts[key]; ok {
		return a, nil
	}
	a, err := LoadArtifacts(p)
	if err != nil {
		return nil, err
	}
	c.artifacts[key] = a
	return a, nil
}
