// Package digest provides content addressing for pipeline inputs and
// artifacts. Every hash is a hex-encoded SHA-256 digest computed from
// content alone, so identical content hashes identically on any machine
// at any time.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Bytes returns the hex SHA-256 digest of raw content.
func Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// String returns the hex SHA-256 digest of a string.
func String(s string) string {
	return Bytes([]byte(s))
}

// File returns the hex SHA-256 digest of a file's contents, streamed so
// large inputs are not held in memory.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("digest: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("digest: read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Statements returns the digest of a statement set independent of
// insertion order. The lines are sorted lexicographically and joined
// with newlines before hashing, so two graphs carrying the same
// statements in different order always hash identically.
func Statements(lines []string) string {
	sorted := make([]string, len(lines))
	copy(sorted, lines)
	sort.Strings(sorted)
	return String(strings.Join(sorted, "\n"))
}

// Combine folds multiple digests into one composite digest. Order is
// significant: Combine(a, b) != Combine(b, a). Callers pass components
// in a fixed, documented order (e.g. source then shapes then query).
func Combine(digests ...string) string {
	return String(strings.Join(digests, "+"))
}
