// Package ticket derives stable job identities from caller credentials.
//
// The fingerprint doubles as the caller-facing ticket and as the
// admission-control key, so it must be deterministic across process
// restarts (no process-local salt) and never reversible to the
// credential it was derived from.
package ticket

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Length is the fixed length of a fingerprint in hex characters.
const Length = sha256.Size * 2

// Fingerprint returns the job identity for a caller credential: the
// lowercase hex SHA-256 digest of the credential bytes.
func Fingerprint(credential []byte) string {
	sum := sha256.Sum256(credential)
	return hex.EncodeToString(sum[:])
}

// FingerprintString is Fingerprint for string credentials.
func FingerprintString(credential string) string {
	return Fingerprint([]byte(credential))
}

// Valid reports whether s looks like a fingerprint produced by this
// package. Used to reject malformed tickets before they reach the
// filesystem as path components.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}

// Redact returns a short prefix of a fingerprint suitable for logs.
func Redact(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 12 {
		return s
	}
	return s[:12]
}
