package civicauth

import (
	"context"
	"testing"
)

func TestPasswordResetFullCycle(t *testing.T) {
	f := newTestEngine(t, testConfig())
	ctx := context.Background()

	f.seedUser(t, UserRecord{
		UserID: "u1",
		Email:  "alice@example.com",
		Role:   RoleCitizen,
		Status: AccountActive,
	}, "old-password-123")

	// An existing session must not survive the reset.
	login, err := f.engine.Login(ctx, "alice@example.com", "old-password-123", nil)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := f.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	code := f.cs.lastCode(ChannelEmail)
	if code == "" {
		t.Fatal("no reset code was delivered")
	}

	if err := f.engine.ConfirmPasswordReset(ctx, "alice@example.com", code, "new-password-456"); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}

	_, err = f.engine.ValidateSession(ctx, login.SessionToken)
	mustErrIs(t, err, ErrSessionNotFound)

	_, err = f.engine.Login(ctx, "alice@example.com", "old-password-123", nil)
	mustErrIs(t, err, ErrInvalidCredentials)
	if _, err := f.engine.Login(ctx, "alice@example.com", "new-password-456", nil); err != nil {
		t.Fatalf("login with new password failed: %v", err)
	}
}

func TestPasswordResetUnknownEmailLooksLikeSuccess(t *testing.T) {
	f := newTestEngine(t, testConfig())

	if err := f.engine.RequestPasswordReset(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("expected enumeration-safe success, got %v", err)
	}
	if f.cs.count() != 0 {
		t.Fatal("nothing must be delivered for an unknown address")
	}
}

func TestPasswordResetDisabledAccountLooksLikeSuccess(t *testing.T) {
	f := newTestEngine(t, testConfig())

	f.seedUser(t, UserRecord{
		UserID: "u1",
		Email:  "alice@example.com",
		Role:   RoleCitizen,
		Status: AccountDisabled,
	}, "old-password-123")

	if err := f.engine.RequestPasswordReset(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("expected enumeration-safe success, got %v", err)
	}
	if f.cs.count() != 0 {
		t.Fatal("nothing must be delivered for a disabled account")
	}
}

func TestPasswordResetWrongCode(t *testing.T) {
	f := newTestEngine(t, testConfig())
	ctx := context.Background()

	f.seedUser(t, UserRecord{
		UserID: "u1",
		Email:  "alice@example.com",
		Role:   RoleCitizen,
		Status: AccountActive,
	}, "old-password-123")

	if err := f.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}

	wrong := "000000"
	if wrong == f.cs.lastCode(ChannelEmail) {
		wrong = "000001"
	}
	err := f.engine.ConfirmPasswordReset(ctx, "alice@example.com", wrong, "new-password-456")
	mustErrIs(t, err, ErrPasswordResetInvalid)

	// The old password still works after a failed confirm.
	if _, err := f.engine.Login(ctx, "alice@example.com", "old-password-123", nil); err != nil {
		t.Fatalf("old password rejected: %v", err)
	}
}

func TestPasswordResetCodeIsOneShot(t *testing.T) {
	f := newTestEngine(t, testConfig())
	ctx := context.Background()

	f.seedUser(t, UserRecord{
		UserID: "u1",
		Email:  "alice@example.com",
		Role:   RoleCitizen,
		Status: AccountActive,
	}, "old-password-123")

	if err := f.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	code := f.cs.lastCode(ChannelEmail)

	if err := f.engine.ConfirmPasswordReset(ctx, "alice@example.com", code, "new-password-456"); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}
	err := f.engine.ConfirmPasswordReset(ctx, "alice@example.com", code, "other-password-789")
	mustErrIs(t, err, ErrPasswordResetInvalid)
}

func TestPasswordResetRejectsMalformedInput(t *testing.T) {
	f := newTestEngine(t, testConfig())
	ctx := context.Background()

	err := f.engine.RequestPasswordReset(ctx, "not-an-email")
	mustErrIs(t, err, ErrPasswordResetInvalid)

	err = f.engine.ConfirmPasswordReset(ctx, "alice@example.com", "12ab56", "new-password-456")
	mustErrIs(t, err, ErrPasswordResetInvalid)
}

func TestPasswordResetDisabledFeature(t *testing.T) {
	cfg := testConfig()
	cfg.PasswordReset.Enabled = false
	f := newTestEngine(t, cfg)

	err := f.engine.RequestPasswordReset(context.Background(), "alice@example.com")
	mustErrIs(t, err, ErrPasswordResetUnavailable)
}
