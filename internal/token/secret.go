package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
)

// Family codes carry a recognizable prefix so support staff can tell them
// apart from other credentials at a glance.
const secretScheme = "fam_"

// displayPrefixLen is how much of a code is kept in plaintext for listing
// and audit display. Short enough to be useless for guessing.
const displayPrefixLen = 12

const secretEntropyBytes = 16

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewSecret returns a fresh family access code: the scheme prefix plus
// 26 base32 characters (~128 bits of entropy).
func NewSecret() (string, error) {
	buf := make([]byte, secretEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return secretScheme + strings.ToLower(secretEncoding.EncodeToString(buf)), nil
}

// HashSecret is the one-way digest stored in place of the plaintext.
// SHA-256 keeps the lookup deterministic: validation recomputes the hash
// and finds the row by equality, so the row can only ever be reached by
// presenting the correct code.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(secret)))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix returns the plaintext fragment persisted for display.
func DisplayPrefix(secret string) string {
	if len(secret) <= displayPrefixLen {
		return secret
	}
	return secret[:displayPrefixLen]
}
