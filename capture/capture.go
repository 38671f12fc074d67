// Package capture reads the per-load artifacts a recording run leaves next
// to its WARC files: the page metadata and the fetch, call-stack and
// textual-resource dumps.
//
// A capture is addressed by a prefix "<dir>/<kind>-<identifier>", e.g.
// "writes/col/example.com_1a2b3c/record-js-0". metadata.json lives in <dir>;
// artifacts are "<kind>-<identifier>_<name>.json".
package capture

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrArtifactMissing is returned when a metadata or artifact file does
	// not exist.
	ErrArtifactMissing = errors.New("capture: artifact missing")
	// ErrKeyMissing is returned when metadata lacks the requested kind,
	// identifier, url or timestamp.
	ErrKeyMissing = errors.New("capture: metadata key missing")
	// ErrBadPrefix is returned for a prefix without a "<kind>-<identifier>"
	// file part.
	ErrBadPrefix = errors.New("capture: malformed prefix")
)

// Artifact file names.
const (
	MetadataFile = "metadata.json"
	FetchesName  = "fetches"
	StacksName   = "requestStacks"
	TextualName  = "textualResources"
	DefaultKind  = "record"
)

const (
	metadataURLKey = "url"
	metadataTSKey  = "ts"
)

// Prefix locates one capture's artifacts.
type Prefix struct {
	Dir   string
	Kind  string
	Ident string
}

// ParsePrefix splits "<dir>/<kind>-<identifier>". The file part is split at
// its first hyphen.
func ParsePrefix(p string) (Prefix, error) {
	dir, file := filepath.Split(p)
	kind, ident, ok := strings.Cut(file, "-")
	if !ok || kind == "" || ident == "" {
		return Prefix{}, fmt.Errorf("%w: %q", ErrBadPrefix, p)
	}
	return Prefix{Dir: filepath.Clean(dir), Kind: kind, Ident: ident}, nil
}

// Base returns "<kind>-<identifier>".
func (p Prefix) Base() string { return p.Kind + "-" + p.Ident }

// String returns the prefix path.
func (p Prefix) String() string { return filepath.Join(p.Dir, p.Base()) }

// ArtifactPath returns the path of the named artifact.
func (p Prefix) ArtifactPath(name string) string {
	return filepath.Join(p.Dir, p.Base()+"_"+name+".json")
}

// Page is the metadata entry of one capture.
type Page struct {
	URL string
	TS  string
}

// Metadata is the decoded metadata.json of an archive directory:
// kind → identifier → entry. Entries are kept raw so unrelated entries of
// other shapes do not fail decoding.
type Metadata map[string]map[string]json.RawMessage

// LoadMetadata reads dir/metadata.json.
func LoadMetadata(dir string) (Metadata, error) {
	path := filepath.Join(dir, MetadataFile)
	data, err := readArtifact(path)
	if err != nil {
		return nil, err
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("capture: decode %s: %w", path, err)
	}
	md := make(Metadata, len(top))
	for kind, raw := range top {
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(raw, &entries); err != nil {
			// Not a kind table.
			continue
		}
		md[kind] = entries
	}
	return md, nil
}

// Has reports whether an entry exists for kind and identifier.
func (m Metadata) Has(kind, ident string) bool {
	_, ok := m[kind][ident]
	return ok
}

// Page returns the page URL and timestamp recorded for kind/identifier.
func (m Metadata) Page(kind, ident string) (Page, error) {
	raw, ok := m[kind][ident]
	if !ok {
		return Page{}, fmt.Errorf("%w: %s/%s", ErrKeyMissing, kind, ident)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Page{}, fmt.Errorf("capture: decode entry %s/%s: %w", kind, ident, err)
	}
	url, err := scalar(fields, metadataURLKey)
	if err != nil {
		return Page{}, fmt.Errorf("%s/%s: %w", kind, ident, err)
	}
	ts, err := scalar(fields, metadataTSKey)
	if err != nil {
		return Page{}, fmt.Errorf("%s/%s: %w", kind, ident, err)
	}
	return Page{URL: url, TS: ts}, nil
}

// scalar returns a string or number field as text.
func scalar(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", fmt.Errorf("%w: %q", ErrKeyMissing, key)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("capture: field %q is neither string nor number", key)
}

func readArtifact(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactMissing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("capture: read %s: %w", path, err)
	}
	return data, nil
}

// QuotePageURL percent-encodes a page URL the way WARC-Target-URI values
// of the recorder were written: every byte outside the unreserved set and
// ":/?&=" is escaped.
func QuotePageURL(u string) string {
	const safe = ":/?&="
	var b strings.Builder
	for i := 0; i < len(u); i++ {
		c := u[i]
		if isUnreserved(c) || strings.IndexByte(safe, c) >= 0 {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return c == '-' || c == '.' || c == '_' || c == '~'
}
