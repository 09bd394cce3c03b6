// Package middleware is the role router: it decides, per request, whether
// the caller may see a role-gated destination and where to send them
// otherwise.
//
// # Guards
//
//   - [RequireRole]: session-cookie guard for browser destinations;
//     redirects instead of erroring.
//   - [GuardAPI]: bearer-token guard for JSON APIs; responds 401.
//
// The routing decision itself is the pure function [Decide]; the guards
// only feed it live session state and translate its outcome to HTTP.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication logic itself.
//
// # What this package must NOT do
//
//   - Cache authentication results between requests (every request
//     re-reads live session state).
//   - Redirect an authenticated user to the login page (wrong-role users
//     go to their own role's home).
//   - Access Redis directly (the Engine handles I/O).
package middleware
