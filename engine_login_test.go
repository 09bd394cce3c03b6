package civicauth

import (
	"context"
	"testing"
)

func TestLoginSuccessReturnsBothTokens(t *testing.T) {
	f := newTestEngine(t, testConfig())
	ctx := context.Background()

	f.seedUser(t, UserRecord{
		UserID: "u1",
		Email:  "alice@example.com",
		Role:   RoleCitizen,
		Status: AccountActive,
	}, "correct-password-123")

	result, err := f.engine.Login(ctx, "alice@example.com", "correct-password-123", nil)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.VerificationRequired {
		t.Fatal("expected direct session, got verification hand-off")
	}
	if result.AccessToken == "" || result.SessionToken == "" {
		t.Fatal("expected both token forms")
	}

	auth, err := f.engine.ValidateSession(ctx, result.SessionToken)
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if auth.UserID != "u1" || auth.Role != RoleCitizen {
		t.Fatalf("unexpected identity: %+v", auth)
	}

	access, err := f.engine.ValidateAccess(result.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}
	if access.UserID != "u1" || access.SessionID != auth.SessionID {
		t.Fatalf("access claims disagree with session: %+v", access)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	f := newTestEngine(t, testConfig())
	ctx := context.Background()

	f.seedUser(t, UserRecord{
		UserID: "u1",
		Email:  "alice@example.com",
		Role:   RoleCitizen,
		Status: AccountActive,
	}, "correct-password-123")

	_, err := f.engine.Login(ctx, "alice@example.com", "wrong-password", nil)
	mustErrIs(t, err, ErrInvalidCredentials)
}

func TestLoginUnknownUserSameErrorAsWrongPassword(t *testing.T) {
	f := newTestEngine(t, testConfig())

	_, err := f.engine.Login(context.Background(), "ghost@example.com", "whatever-pass", nil)
	mustErrIs(t, err, ErrInvalidCredentials)
}

func TestLoginRoleMismatch(t *testing.T) {
	f := newTestEngine(t, testConfig())
	ctx := context.Background()

	f.seedUser(t, UserRecord{
		UserID: "u1",
		Email:  "alice@example.com",
		Role:   RoleCitizen,
		Status: AccountActive,
	}, "correct-password-123")

	_, err := f.engine.Login(ctx, "alice@example.com", "correct-password-123", rolePtr(RoleAdmin))
	mustErrIs(t, err, ErrRoleMismatch)
}

func TestLoginRoleDefaultsToRememberedRegistrationRole(t *testing.T) {
	f := newTestEngine(t, testConfig())
	ctx := context.Background()

	f.seedUser(t, UserRecord{
		UserID: "u1",
		Email:  "root@city.gov",
		Role:   RoleAdmin,
		Status: AccountActive,
	}, "correct-password-123")

	// First login names the role explicitly and records it.
	if _, err := f.engine.Login(ctx, "root@city.gov", "correct-password-123", rolePtr(RoleAdmin)); err != nil {
		t.Fatalf("explicit-role login failed: %v", err)
	}

	// Role-less follow-up must land on admin, not the citizen default.
	result, err := f.engine.Login(ctx, "root@city.gov", "correct-password-123", nil)
	if err != nil {
		t.Fatalf("role-less login failed: %v", err)
	}
	auth, err := f.engine.ValidateSession(ctx, result.SessionToken)
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if auth.Role != RoleAdmin {
		t.Fatalf("expected remembered admin role, got %v", auth.Role)
	}
}

func TestLoginDisabledAccount(t *testing.T) {
	f := newTestEngine(t, testConfig())

	f.seedUser(t, UserRecord{
		UserID: "u1",
		Email:  "alice@example.com",
		Role:   RoleCitizen,
		Status: AccountDisabled,
	}, "correct-password-123")

	_, err := f.engine.Login(context.Background(), "alice@example.com", "correct-password-123", nil)
	mustErrIs(t, err, ErrAccountDisabled)
}

func TestLoginPendingVerificationHandsOffRegisterMode(t *testing.T) {
	f := newTestEngine(t, testConfig())

	f.seedUser(t, UserRecord{
		UserID: "u1",
		Email:  "alice@example.com",
		Mobile: "+911234567890",
		Role:   RoleCitizen,
		Status: AccountPendingVerification,
	}, "correct-password-123")

	result, err := f.engine.Login(context.Background(), "alice@example.com", "correct-password-123", nil)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !result.VerificationRequired {
		t.Fatal("expected verification hand-off for pending account")
	}
	if result.SessionToken != "" || result.AccessToken != "" {
		t.Fatal("pending account must not receive tokens")
	}
	if result.Handoff.Mode != ModeRegister {
		t.Fatalf("expected register mode, got %v", result.Handoff.Mode)
	}
	if result.Handoff.Mobile == "" {
		t.Fatal("citizen register hand-off must carry the mobile number")
	}
}

func TestLoginRequireForLoginHandsOffLoginMode(t *testing.T) {
	cfg := testConfig()
	cfg.Verification.RequireForLogin = true
	f := newTestEngine(t, cfg)

	f.seedUser(t, UserRecord{
		UserID: "u1",
		Email:  "alice@example.com",
		Role:   RoleCitizen,
		Status: AccountActive,
	}, "correct-password-123")

	result, err := f.engine.Login(context.Background(), "alice@example.com", "correct-password-123", nil)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !result.VerificationRequired {
		t.Fatal("expected login-time email confirmation hand-off")
	}
	if result.Handoff.Mode != ModeLogin {
		t.Fatalf("expected login mode, got %v", result.Handoff.Mode)
	}
}

func TestLoginRateLimitedAfterRepeatedFailures(t *testing.T) {
	cfg := testConfig()
	cfg.Security.MaxLoginAttempts = 3
	f := newTestEngine(t, cfg)
	ctx := context.Background()

	f.seedUser(t, UserRecord{
		UserID: "u1",
		Email:  "alice@example.com",
		Role:   RoleCitizen,
		Status: AccountActive,
	}, "correct-password-123")

	for i := 0; i < 3; i++ {
		_, err := f.engine.Login(ctx, "alice@example.com", "wrong-password", nil)
		mustErrIs(t, err, ErrInvalidCredentials)
	}

	// The failure that pushes the counter over budget reports the limit.
	_, err := f.engine.Login(ctx, "alice@example.com", "wrong-password", nil)
	mustErrIs(t, err, ErrLoginRateLimited)

	// Over budget: even the right password is refused until cooldown.
	_, err = f.engine.Login(ctx, "alice@example.com", "correct-password-123", nil)
	mustErrIs(t, err, ErrLoginRateLimited)
}

func TestLoginSuccessResetsFailureCounter(t *testing.T) {
	cfg := testConfig()
	cfg.Security.MaxLoginAttempts = 3
	f := newTestEngine(t, cfg)
	ctx := context.Background()

	f.seedUser(t, UserRecord{
		UserID: "u1",
		Email:  "alice@example.com",
		Role:   RoleCitizen,
		Status: AccountActive,
	}, "correct-password-123")

	for i := 0; i < 2; i++ {
		_, _ = f.engine.Login(ctx, "alice@example.com", "wrong-password", nil)
	}
	if _, err := f.engine.Login(ctx, "alice@example.com", "correct-password-123", nil); err != nil {
		t.Fatalf("login under budget failed: %v", err)
	}

	// Counter was reset; two more misses stay under the limit.
	for i := 0; i < 2; i++ {
		_, err := f.engine.Login(ctx, "alice@example.com", "wrong-password", nil)
		mustErrIs(t, err, ErrInvalidCredentials)
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	f := newTestEngine(t, testConfig())
	ctx := context.Background()

	f.seedUser(t, UserRecord{
		UserID: "u1",
		Email:  "alice@example.com",
		Role:   RoleCitizen,
		Status: AccountActive,
	}, "correct-password-123")

	result, err := f.engine.Login(ctx, "alice@example.com", "correct-password-123", nil)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := f.engine.Logout(ctx, result.SessionToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	_, err = f.engine.ValidateSession(ctx, result.SessionToken)
	mustErrIs(t, err, ErrSessionNotFound)

	// Idempotent: repeating the logout is not an error.
	if err := f.engine.Logout(ctx, result.SessionToken); err != nil {
		t.Fatalf("second Logout failed: %v", err)
	}
}

func TestLogoutAllInvalidatesEverySession(t *testing.T) {
	f := newTestEngine(t, testConfig())
	ctx := context.Background()

	f.seedUser(t, UserRecord{
		UserID: "u1",
		Email:  "alice@example.com",
		Role:   RoleCitizen,
		Status: AccountActive,
	}, "correct-password-123")

	first, err := f.engine.Login(ctx, "alice@example.com", "correct-password-123", nil)
	if err != nil {
		t.Fatalf("first login failed: %v", err)
	}
	second, err := f.engine.Login(ctx, "alice@example.com", "correct-password-123", nil)
	if err != nil {
		t.Fatalf("second login failed: %v", err)
	}

	if err := f.engine.LogoutAll(ctx, "u1"); err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}

	_, err = f.engine.ValidateSession(ctx, first.SessionToken)
	mustErrIs(t, err, ErrSessionNotFound)
	_, err = f.engine.ValidateSession(ctx, second.SessionToken)
	mustErrIs(t, err, ErrSessionNotFound)
}

func TestValidateSessionRejectsMalformedToken(t *testing.T) {
	f := newTestEngine(t, testConfig())

	_, err := f.engine.ValidateSession(context.Background(), "not-a-token")
	mustErrIs(t, err, ErrSessionNotFound)
}
