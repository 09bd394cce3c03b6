// Package password implements Argon2id password hashing with PHC-encoded
// output. Verification is constant-time over the derived key.
package password
