package session

// Session is the server-side record behind an authenticated browser session.
// The opaque session token presented by clients hashes to TokenHash; the raw
// token is never persisted.
type Session struct {
	SessionID string
	UserID    string
	Email     string
	Role      uint8
	TokenHash [32]byte

	CreatedAt int64
	ExpiresAt int64
}
