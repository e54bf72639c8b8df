// Package checksum provides streaming SHA-256 helpers used to verify
// asset content integrity.
//
// SHA-256 hex digests are the authoritative content identity for every
// asset and reference database in the system: manifests carry them,
// downloads are verified against them, and a cache entry is only valid
// while its file still hashes to the recorded digest.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Sum computes the hex-encoded SHA-256 digest of the file at path.
// The file is streamed through the hasher in bounded chunks, so content
// of any size can be hashed without holding it in memory.
func Sum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return SumReader(f)
}

// SumReader computes the hex-encoded SHA-256 digest of everything read from r.
func SumReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumBytes computes the hex-encoded SHA-256 digest of b.
func SumBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Equal reports whether two hex digests refer to the same content.
// Digest casing is not significant.
func Equal(a, b string) bool {
	return strings.EqualFold(a, b)
}

// Verify reports whether the file at path hashes to expected.
// An unreadable file is reported as an error, never as a silent mismatch,
// so callers can tell integrity failures apart from I/O failures.
func Verify(path, expected string) (bool, error) {
	actual, err := Sum(path)
	if err != nil {
		return false, err
	}
	return Equal(actual, expected), nil
}
