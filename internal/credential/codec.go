// Package credential implements the salted password hashing scheme shared by
// destination records and the administrator credential. Digests are derived
// with PBKDF2-SHA256 at a fixed high round count so stored hashes stay
// expensive to brute-force, and comparisons are constant-time.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Iterations is the fixed PBKDF2 round count. Changing it invalidates
	// every stored digest, so treat it as part of the storage format.
	Iterations = 120_000

	// KeyLength is the derived digest size in bytes.
	KeyLength = 32

	saltLength = 16
)

// NewSalt returns a fresh cryptographically random salt, hex encoded.
func NewSalt() (string, error) {
	buf := make([]byte, saltLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("credential: generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Hash derives the hex-encoded digest for the given password and salt.
// The same (password, salt) pair always yields the same digest.
func Hash(password, salt string) string {
	digest := pbkdf2.Key([]byte(password), []byte(salt), Iterations, KeyLength, sha256.New)
	return hex.EncodeToString(digest)
}

// Verify recomputes the digest for password/salt and compares it against
// expected in constant time.
func Verify(password, salt, expected string) bool {
	if salt == "" || expected == "" {
		return false
	}
	computed := Hash(password, salt)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1
}
