// Package civicauth provides the authentication and verification engine for the
// CivicSetu issue-reporting platform: redis-backed sessions, role-aware login,
// and two-channel (WhatsApp + email) OTP verification with a one-time session
// upgrade token.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// civicauth is the public surface. It exposes [Engine], [Builder], [Config],
// the closed [Role] enumeration, and the collaborator interfaces
// ([UserProvider], [ProfileStore], [CodeSender]). Verification flow
// orchestration lives in the verify subpackage; HTTP route gating lives in
// the middleware subpackage.
//
// # What this package must NOT do
//
//   - Expose redis clients, store internals, or record encodings in its
//     public API.
//   - Deliver OTP codes itself (delivery is delegated to [CodeSender]).
//   - Perform I/O outside of Engine methods (construction via Builder is
//     allocation-only until Build).
package civicauth
