package civicauth

import "errors"

var (
	// ErrInvalidCredentials is returned when the email or password does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned when no account exists for the given identifier.
	ErrUserNotFound = errors.New("user not found")
	// ErrRoleMismatch is returned when the requested login role does not match the account role.
	ErrRoleMismatch = errors.New("account role mismatch")
	// ErrRoleInvalid is returned when a role value is outside the closed enumeration.
	ErrRoleInvalid = errors.New("invalid role")
	// ErrLoginRateLimited is returned when login attempts exceed the configured window.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrAccountExists is returned when registration collides with an existing identifier.
	ErrAccountExists = errors.New("account already exists")
	// ErrRegistrationInvalid is returned when required registration fields are missing
	// for the selected role. It never reaches the collaborators.
	ErrRegistrationInvalid = errors.New("invalid registration request")
	// ErrRegistrationRateLimited is returned when account creation is throttled.
	ErrRegistrationRateLimited = errors.New("registration rate limited")
	// ErrRegistrationUnavailable is returned when an account collaborator fails.
	ErrRegistrationUnavailable = errors.New("registration backend unavailable")
	// ErrProfileSaveFailed wraps a profile-store failure after the account itself
	// was rolled back.
	ErrProfileSaveFailed = errors.New("profile save failed")
	// ErrAccountUnverified is returned when login requires a verified account.
	ErrAccountUnverified = errors.New("account unverified")
	// ErrAccountDisabled is returned for disabled accounts.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrPasswordPolicy is returned when a password fails the hashing policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrHandoffIncomplete is returned when verification hand-off data is missing
	// (for citizen registration both email and mobile are required).
	ErrHandoffIncomplete = errors.New("verification hand-off incomplete")
	// ErrChannelInvalid is returned when a verification channel is outside the
	// closed enumeration.
	ErrChannelInvalid = errors.New("invalid verification channel")
	// ErrCodeInvalid is returned when a submitted code does not match, is expired,
	// or was never requested.
	ErrCodeInvalid = errors.New("verification code invalid")
	// ErrCodeAttemptsExceeded is returned when confirm attempts exhaust the cap.
	ErrCodeAttemptsExceeded = errors.New("verification attempts exceeded")
	// ErrCodeRateLimited is returned when code requests or confirms are throttled.
	ErrCodeRateLimited = errors.New("verification rate limited")
	// ErrCodeDeliveryFailed is returned when the delivery collaborator rejects a send.
	// The channel stays unverified; the caller may retry manually.
	ErrCodeDeliveryFailed = errors.New("verification code delivery failed")
	// ErrVerificationUnavailable is returned when the verification backend fails.
	ErrVerificationUnavailable = errors.New("verification backend unavailable")
	// ErrUpgradeTokenInvalid is returned when a session upgrade token is unknown,
	// expired, or already consumed.
	ErrUpgradeTokenInvalid = errors.New("invalid session upgrade token")
	// ErrPasswordResetInvalid is returned for a bad or expired reset challenge.
	ErrPasswordResetInvalid = errors.New("password reset challenge invalid")
	// ErrPasswordResetRateLimited is returned when reset requests are throttled.
	ErrPasswordResetRateLimited = errors.New("password reset rate limited")
	// ErrPasswordResetUnavailable is returned when the reset backend fails.
	ErrPasswordResetUnavailable = errors.New("password reset backend unavailable")
	// ErrPasswordResetAttempts is returned when reset confirms exhaust the cap.
	ErrPasswordResetAttempts = errors.New("password reset attempts exceeded")
	// ErrSessionNotFound is returned when a presented session no longer exists.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionCreationFailed is returned when the session store rejects a save.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrTokenInvalid is returned for malformed or unverifiable access tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrEngineNotReady is returned when the engine is used before Build wired
	// its dependencies.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrProviderDuplicateIdentifier must be returned by UserProvider.CreateUser
	// on identifier collisions so the engine can map it to ErrAccountExists.
	ErrProviderDuplicateIdentifier = errors.New("provider duplicate identifier")
)
