package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

const tokenBytes = 32

// Generate returns a fresh capability secret and its SHA-256 hex digest.
// The plaintext is shown to the caller exactly once; only the digest is
// ever persisted.
func Generate() (plaintext, hash string, err error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	plaintext = base64.RawURLEncoding.EncodeToString(buf)
	return plaintext, Hash(plaintext), nil
}

// Hash returns a stable SHA-256 hex digest for the provided secret.
func Hash(secret string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(secret)))
	return hex.EncodeToString(sum[:])
}

// Verify checks a provided secret against a stored digest in constant
// time. A missing secret or a missing stored digest never verifies: an
// entity without a secret on record cannot be acted on.
func Verify(provided, storedHash string) bool {
	if provided == "" || storedHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(Hash(provided)), []byte(storedHash)) == 1
}
