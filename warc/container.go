package warc

import (
	"bytes"
	"compress/gzip"
	"crypto/sha1"
	"encoding/base32"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/USC-NSL/IMC-25-Artifact/idgen"
)

// member is one unit of the file as stored: a gzip member, or the whole
// file when it is not compressed.
type member struct {
	raw     []byte
	gzipped bool
	records []*Record
}

// Container is a WARC file loaded in memory.
type Container struct {
	path    string
	members []*member
	newID   idgen.Generator
}

// Option configures a Container.
type Option func(*Container)

// WithRecordID sets the generator of WARC-Record-ID values for rewritten
// records. Default: idgen.Record.
func WithRecordID(gen idgen.Generator) Option {
	return func(c *Container) { c.newID = gen }
}

// Open reads and parses the WARC file at path. Files starting with the gzip
// magic are read member by member.
func Open(path string, opts ...Option) (*Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("warc: open %s: %w", path, err)
	}
	c, err := Parse(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.path = path
	return c, nil
}

// Parse parses an in-memory WARC file.
func Parse(data []byte, opts ...Option) (*Container, error) {
	c := &Container{newID: idgen.Record}
	for _, o := range opts {
		o(c)
	}
	if !isGzip(data) {
		recs, err := parseRecords(data)
		if err != nil {
			return nil, err
		}
		c.members = []*member{{raw: data, records: recs}}
		return c, nil
	}

	r := bytes.NewReader(data)
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("warc: gzip: %w", err)
	}
	for start := 0; ; {
		gz.Multistream(false)
		plain, err := io.ReadAll(gz)
		if err != nil {
			return nil, fmt.Errorf("warc: gzip member at %d: %w", start, err)
		}
		end := len(data) - r.Len()
		recs, err := parseRecords(plain)
		if err != nil {
			return nil, fmt.Errorf("gzip member at %d: %w", start, err)
		}
		c.members = append(c.members, &member{raw: data[start:end], gzipped: true, records: recs})
		start = end
		if err := gz.Reset(r); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("warc: gzip member at %d: %w", start, err)
		}
	}
	return c, nil
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// Path returns the file the container was read from.
func (c *Container) Path() string { return c.path }

// Records returns all records in file order.
func (c *Container) Records() []*Record {
	var out []*Record
	for _, m := range c.members {
		out = append(out, m.records...)
	}
	return out
}

// Response returns the first response record whose target URI is uri.
func (c *Container) Response(uri string) (*Record, error) {
	for _, m := range c.members {
		for _, r := range m.records {
			if r.Type() == TypeResponse && r.TargetURI() == uri {
				return r, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: response for %s", ErrRecordNotFound, uri)
}

// Payload returns the decoded HTTP body of the response for uri.
func (c *Container) Payload(uri string) ([]byte, error) {
	rec, err := c.Response(uri)
	if err != nil {
		return nil, err
	}
	return rec.Payload()
}

// Payload returns the record's decoded HTTP body.
func (r *Record) Payload() ([]byte, error) {
	msg, err := ParseHTTP(r.Block)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.TargetURI(), err)
	}
	return msg.Decoded()
}

// ReplaceBody rewrites the HTTP body of the response for uri. The body is
// stored decoded; WARC length, digests and record id are recomputed.
func (c *Container) ReplaceBody(uri string, body []byte) error {
	rec, err := c.Response(uri)
	if err != nil {
		return err
	}
	msg, err := ParseHTTP(rec.Block)
	if err != nil {
		return fmt.Errorf("warc: replace %s: %w", uri, err)
	}
	msg.SetBody(body)
	rec.Block = msg.Bytes()
	rec.Header.Set(HeaderRecordID, c.newID())
	rec.Header.Set(HeaderContentLength, strconv.Itoa(len(rec.Block)))
	rec.Header.Set(HeaderBlockDigest, Digest(rec.Block))
	rec.Header.Set(HeaderPayloadDigest, Digest(body))
	rec.modified = true
	return nil
}

// Digest returns the "sha1:<base32>" digest WARC headers carry.
func Digest(b []byte) string {
	sum := sha1.Sum(b)
	return "sha1:" + base32.StdEncoding.EncodeToString(sum[:])
}

// Bytes serializes the container. Members without modified records are
// copied as read.
func (c *Container) Bytes() ([]byte, error) {
	var out bytes.Buffer
	for _, m := range c.members {
		if !m.dirty() {
			out.Write(m.raw)
			continue
		}
		if !m.gzipped {
			for _, r := range m.records {
				out.Write(r.Bytes())
			}
			continue
		}
		gz := gzip.NewWriter(&out)
		for _, r := range m.records {
			if _, err := gz.Write(r.Bytes()); err != nil {
				return nil, fmt.Errorf("warc: compress: %w", err)
			}
		}
		if err := gz.Close(); err != nil {
			return nil, fmt.Errorf("warc: compress: %w", err)
		}
	}
	return out.Bytes(), nil
}

func (m *member) dirty() bool {
	for _, r := range m.records {
		if r.modified {
			return true
		}
	}
	return false
}

// WriteFile serializes the container to path atomically.
func (c *Container) WriteFile(path string) error {
	data, err := c.Bytes()
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it into place. On failure the temporary file is removed and path is left
// untouched.
func WriteFileAtomic(path string, data []byte) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("warc: write %s: %w", path, err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()
	if _, err = f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("warc: write %s: %w", path, err)
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("warc: sync %s: %w", path, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("warc: close %s: %w", path, err)
	}
	if err = os.Chmod(tmp, 0o644); err != nil {
		return fmt.Errorf("warc: chmod %s: %w", path, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("warc: rename %s: %w", path, err)
	}
	return nil
}
