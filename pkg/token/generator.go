package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	// MinTokenLength is the shortest token the API accepts. 41 base64
	// characters carry roughly 246 bits of entropy.
	MinTokenLength = 41

	// tokenBytes is the randomness behind a generated token. 32 bytes
	// base64-encode to 44 characters.
	tokenBytes = 32
)

// Generate mints an opaque API token: crypto/rand bytes, base64-URL encoded.
// The plaintext is shown to the operator once at issue time and never stored.
func Generate() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// Hash produces the hex-encoded HMAC-SHA256 of a token under the server
// secret. Only the hash reaches the database, so a leaked database does not
// leak tokens.
func Hash(tok, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(tok))
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateLength rejects tokens too short to have come from Generate, before
// any hashing happens.
func ValidateLength(tok string) error {
	if len(tok) < MinTokenLength {
		return fmt.Errorf("token too short: got %d characters, need at least %d", len(tok), MinTokenLength)
	}
	return nil
}
