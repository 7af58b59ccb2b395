// Package token hashes opaque invitation tokens for server-side storage.
//
// Plain tokens are never persisted. The stored form is a 64-char hex digest:
//   - HMAC-SHA256(token, key) when HUMANIQ_TOKEN_HMAC_KEY is set,
//   - SHA-256(token) otherwise, for dev runs only.
//
// Deployments that set HUMANIQ_REQUIRE_TOKEN_HMAC must configure a key of at least
// MinHMACKeyBytes bytes; HasherFromEnv enforces that policy.
package token
