// Package session implements the redis-backed session store behind civicauth.
//
// Sessions are encoded as compact versioned binary records. The opaque token
// handed to clients is never stored; only its SHA-256 hash is, and Get
// verifies it in constant time.
//
// # What this package must NOT do
//
//   - Make authorization decisions (the engine and middleware own those).
//   - Expose the record encoding outside this package.
package session
