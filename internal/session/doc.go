// Package session issues opaque session tokens and resolves them to an
// identity snapshot.
//
// Tokens are 32 random bytes, base64url encoded. Each entry carries its own
// expiry so a backend that outlives its TTL never resurrects a session.
package session
