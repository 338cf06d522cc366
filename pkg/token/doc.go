// Package token generates and hashes the opaque bearer tokens doni uses for
// API authentication.
//
// Tokens come from crypto/rand and are stored as HMAC-SHA256 hashes keyed by
// the server secret (DONI_AUTH_SECRET); the plaintext exists only in the
// issue-token output and in the caller's X-Auth-Token header.
package token
