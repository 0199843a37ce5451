package fp

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeSource trims surrounding whitespace from a remote locator.
func NormalizeSource(s string) string {
	return strings.TrimSpace(s)
}

// Key maps an asset id onto a storage key that is safe to use as a single
// path element. IDs made of [A-Za-z0-9_-] and inner dots are used verbatim;
// anything else is replaced by its fingerprint.
func Key(id string) string {
	id = strings.TrimSpace(id)
	if isPlain(id) {
		return id
	}
	return Fingerprint(id)
}

// Fingerprint computes a stable hex-encoded SHA-256 of the id.
func Fingerprint(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

func isPlain(id string) bool {
	if id == "" || len(id) > 128 || strings.HasPrefix(id, ".") {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
