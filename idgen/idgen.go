// Package idgen generates the identifiers warcpatch hands out: batch job ids
// and WARC record ids.
//
// Constructors that mint ids accept a Generator so tests can pin them.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings, so job
// ids sort by creation time.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// RecordURN wraps a Generator into the "<urn:uuid:...>" form of the
// WARC-Record-ID header.
func RecordURN(gen Generator) Generator {
	return func() string {
		return "<urn:uuid:" + gen() + ">"
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// Job mints batch job identifiers.
var Job Generator = Prefixed("job_", Default)

// Record mints WARC record identifiers. Record ids are random (v4) as
// other WARC writers produce them.
var Record Generator = RecordURN(func() string { return uuid.NewString() })

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Parse validates a UUID string, with or without the job prefix or the
// URN wrapping, and returns the bare UUID.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(trimID(s))
	if err != nil {
		return "", fmt.Errorf("idgen: invalid id %q: %w", s, err)
	}
	return u.String(), nil
}

func trimID(s string) string {
	if len(s) > 2 && s[0] == '<' && s[len(s)-1] == '>' {
		s = s[1 : len(s)-1]
	}
	for _, p := range []string{"job_", "urn:uuid:"} {
		if len(s) > len(p) && s[:len(p)] == p {
			return s[len(p):]
		}
	}
	return s
}
