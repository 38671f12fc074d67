// Package pathsafe guards the file-system paths built from API input:
// collection names, archive names and capture prefixes all end up joined
// under the archive directory.
package pathsafe

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// MaxRequestBody caps HTTP request body reads (1 MiB).
const MaxRequestBody int64 = 1 << 20

var (
	// ErrPathTraversal is returned when a user-supplied path escapes its base.
	ErrPathTraversal = errors.New("pathsafe: path traversal detected")
	// ErrInvalidIdentifier is returned by ValidateIdentifier.
	ErrInvalidIdentifier = errors.New("pathsafe: invalid identifier")
)

// Join validates that joining base and userInput does not escape base and
// returns the cleaned path.
func Join(base, userInput string) (string, error) {
	if strings.Contains(userInput, "..") {
		return "", ErrPathTraversal
	}
	cleaned := filepath.Join(base, filepath.Clean("/"+userInput))
	if !strings.HasPrefix(cleaned, filepath.Clean(base)+string(filepath.Separator)) &&
		cleaned != filepath.Clean(base) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}

// ValidateIdentifier rejects names unsuitable as a single path segment.
// Allows alphanumeric, underscore, hyphen and dot; "." and ".." are
// rejected.
func ValidateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	if len(s) > 256 {
		return fmt.Errorf("%w: too long (max 256)", ErrInvalidIdentifier)
	}
	if s == "." || s == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("%w: character %q in %q", ErrInvalidIdentifier, r, s)
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("pathsafe: body exceeds %d bytes", maxBytes)
	}
	return data, nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}
