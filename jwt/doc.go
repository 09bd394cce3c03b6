// Package jwt wraps golang-jwt token creation and verification for civicauth
// access tokens. HS256 and Ed25519 are supported; the claim set is fixed to
// what route validation needs (uid, sid, role, email).
package jwt
