// Package warc reads WARC containers, finds response records by target URI,
// decodes their HTTP payloads and rewrites a single record while leaving
// every other record byte-identical.
package warc

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Errors.
var (
	ErrRecordNotFound = errors.New("warc: record not found")
	ErrMalformed      = errors.New("warc: malformed record")
)

// Header names used by the rewrite.
const (
	HeaderType          = "WARC-Type"
	HeaderTargetURI     = "WARC-Target-URI"
	HeaderRecordID      = "WARC-Record-ID"
	HeaderContentLength = "Content-Length"
	HeaderBlockDigest   = "WARC-Block-Digest"
	HeaderPayloadDigest = "WARC-Payload-Digest"
)

// TypeResponse is the WARC-Type of HTTP response records.
const TypeResponse = "response"

// Field is one header line.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered list of header fields. Lookups are case-insensitive.
type Header []Field

// Get returns the first value of name.
func (h Header) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Has reports whether name is present.
func (h Header) Has(name string) bool {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Set replaces the first field named name, removing later duplicates, or
// appends it.
func (h *Header) Set(name, value string) {
	out := (*h)[:0]
	set := false
	for _, f := range *h {
		if strings.EqualFold(f.Name, name) {
			if set {
				continue
			}
			f.Value = value
			set = true
		}
		out = append(out, f)
	}
	if !set {
		out = append(out, Field{Name: name, Value: value})
	}
	*h = out
}

// Del removes every field named name.
func (h *Header) Del(name string) {
	out := (*h)[:0]
	for _, f := range *h {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
		}
	}
	*h = out
}

func (h Header) writeTo(b *bytes.Buffer) {
	for _, f := range h {
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteString("\r\n")
	}
}

// Record is one WARC record.
type Record struct {
	Version string
	Header  Header
	Block   []byte

	// raw holds the record's uncompressed bytes as read, trailing newlines
	// included. It is written back verbatim unless the record was modified.
	raw      []byte
	modified bool
}

// Type returns the WARC-Type.
func (r *Record) Type() string { return r.Header.Get(HeaderType) }

// TargetURI returns the WARC-Target-URI.
func (r *Record) TargetURI() string { return r.Header.Get(HeaderTargetURI) }

// Modified reports whether the record was rewritten since it was read.
func (r *Record) Modified() bool { return r.modified }

// Bytes returns the serialized record.
func (r *Record) Bytes() []byte {
	if !r.modified && r.raw != nil {
		return r.raw
	}
	var b bytes.Buffer
	b.WriteString(r.Version)
	b.WriteString("\r\n")
	r.Header.writeTo(&b)
	b.WriteString("\r\n")
	b.Write(r.Block)
	b.WriteString("\r\n\r\n")
	return b.Bytes()
}

// parseRecords splits data into records. Trailing whitespace between
// records is attributed to the preceding record's raw bytes.
func parseRecords(data []byte) ([]*Record, error) {
	var recs []*Record
	pos := 0
	for {
		pos += leadingNewlines(data[pos:])
		if pos >= len(data) {
			return recs, nil
		}
		rec, n, err := parseRecord(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("warc: record at offset %d: %w", pos, err)
		}
		rec.raw = data[pos : pos+n]
		recs = append(recs, rec)
		pos += n
	}
}

func leadingNewlines(b []byte) int {
	n := 0
	for n < len(b) && (b[n] == '\r' || b[n] == '\n') {
		n++
	}
	return n
}

// parseRecord parses the record at the start of data and returns it with
// the number of bytes consumed, including the record's trailing newlines.
func parseRecord(data []byte) (*Record, int, error) {
	pos := 0
	readLine := func() (string, bool) {
		i := bytes.IndexByte(data[pos:], '\n')
		if i < 0 {
			return "", false
		}
		line := string(bytes.TrimRight(data[pos:pos+i], "\r"))
		pos += i + 1
		return line, true
	}

	version, ok := readLine()
	if !ok || !strings.HasPrefix(version, "WARC/") {
		return nil, 0, fmt.Errorf("%w: missing version line", ErrMalformed)
	}
	rec := &Record{Version: version}
	for {
		line, ok := readLine()
		if !ok {
			return nil, 0, fmt.Errorf("%w: unterminated header", ErrMalformed)
		}
		if line == "" {
			break
		}
		if (line[0] == ' ' || line[0] == '\t') && len(rec.Header) > 0 {
			last := &rec.Header[len(rec.Header)-1]
			last.Value += " " + strings.TrimSpace(line)
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, 0, fmt.Errorf("%w: header line %q", ErrMalformed, line)
		}
		rec.Header = append(rec.Header, Field{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}

	n, err := strconv.Atoi(rec.Header.Get(HeaderContentLength))
	if err != nil || n < 0 {
		return nil, 0, fmt.Errorf("%w: bad Content-Length %q", ErrMalformed, rec.Header.Get(HeaderContentLength))
	}
	if pos+n > len(data) {
		return nil, 0, fmt.Errorf("%w: block truncated (%d of %d bytes)", ErrMalformed, len(data)-pos, n)
	}
	rec.Block = data[pos : pos+n]
	pos += n
	pos += leadingNewlines(data[pos:])
	return rec, pos, nil
}
