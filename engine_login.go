package civicauth

import "context"

// Login authenticates an email+password pair. The effective role is the
// explicit argument when given, else the role remembered from the last
// registration for this email, else citizen. A verified account gets
// session tokens directly unless login-time email confirmation is
// configured; an unverified account always gets a verification hand-off
// instead of a session.
func (e *Engine) Login(ctx context.Context, email, pass string, requestedRole *Role) (*LoginResult, error) {
	if e == nil || e.passwordHash == nil || e.userProvider == nil {
		return nil, ErrEngineNotReady
	}

	ip := clientIPFromContext(ctx)

	if e.loginLimiter != nil {
		if err := e.loginLimiter.CheckLogin(ctx, email, ip); err != nil {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrLoginRateLimited, func() map[string]string {
				return map[string]string{"identifier": email}
			})
			e.emitRateLimit(ctx, "login", func() map[string]string {
				return map[string]string{"identifier": email}
			})
			return nil, ErrLoginRateLimited
		}
	}

	if email == "" || pass == "" {
		return nil, e.failLogin(ctx, email, "", "empty_credentials", ErrInvalidCredentials)
	}

	effectiveRole, err := e.resolveRole(ctx, email, requestedRole)
	if err != nil {
		return nil, e.failLogin(ctx, email, "", "role_invalid", err)
	}

	user, err := e.userProvider.GetUserByEmail(ctx, email)
	if err != nil {
		if incErr := e.incrementLoginFailure(ctx, email, ip); incErr != nil {
			return nil, incErr
		}
		return nil, e.failLogin(ctx, email, "", "user_not_found", ErrInvalidCredentials)
	}

	ok, err := e.passwordHash.Verify(pass, user.PasswordHash)
	if err != nil || !ok {
		if incErr := e.incrementLoginFailure(ctx, email, ip); incErr != nil {
			return nil, incErr
		}
		return nil, e.failLogin(ctx, email, user.UserID, "password_mismatch", ErrInvalidCredentials)
	}
	pass = ""

	if statusErr := accountStatusToError(user.Status); statusErr != nil {
		return nil, e.failLogin(ctx, email, user.UserID, "account_status", statusErr)
	}

	if user.Role != effectiveRole {
		if incErr := e.incrementLoginFailure(ctx, email, ip); incErr != nil {
			return nil, incErr
		}
		return nil, e.failLogin(ctx, email, user.UserID, "role_mismatch", ErrRoleMismatch)
	}

	if e.loginLimiter != nil {
		if err := e.loginLimiter.ResetLogin(ctx, email, ip); err != nil {
			return nil, e.failLogin(ctx, email, user.UserID, "reset_limiter_failed", ErrLoginRateLimited)
		}
	}

	if e.pendingRoles != nil {
		// Best-effort so a role-less follow-up login lands on the same role.
		_ = e.pendingRoles.Set(ctx, email, user.Role)
	}

	if user.Status == AccountPendingVerification || e.config.Verification.RequireForLogin {
		handoff := Handoff{
			Email:  user.Email,
			Mobile: user.Mobile,
			Role:   user.Role,
			Mode:   ModeLogin,
			UID:    user.UserID,
		}
		if user.Status == AccountPendingVerification {
			handoff.Mode = ModeRegister
		}
		if err := handoff.Validate(); err != nil {
			return nil, e.failLogin(ctx, email, user.UserID, "handoff_incomplete", err)
		}

		e.metricInc(MetricLoginSuccess)
		e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, "", nil, func() map[string]string {
			return map[string]string{
				"identifier":            email,
				"verification_required": "true",
				"mode":                  handoff.Mode.String(),
			}
		})

		return &LoginResult{
			VerificationRequired: true,
			Handoff:              handoff,
		}, nil
	}

	access, sessionToken, sessionID, err := e.createSession(ctx, user)
	if err != nil {
		return nil, e.failLogin(ctx, email, user.UserID, "session_creation", err)
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, sessionID, nil, func() map[string]string {
		return map[string]string{"identifier": email}
	})

	return &LoginResult{
		AccessToken:  access,
		SessionToken: sessionToken,
	}, nil
}

// resolveRole applies the effective-role precedence: explicit argument,
// remembered pending role, citizen.
func (e *Engine) resolveRole(ctx context.Context, email string, requested *Role) (Role, error) {
	if requested != nil {
		switch *requested {
		case RoleCitizen, RoleAdmin:
			return *requested, nil
		default:
			return RoleCitizen, ErrRoleInvalid
		}
	}

	if e.pendingRoles != nil {
		role, found, err := e.pendingRoles.Get(ctx, email)
		if err == nil && found {
			return role, nil
		}
	}

	return RoleCitizen, nil
}

func (e *Engine) incrementLoginFailure(ctx context.Context, email, ip string) error {
	if e.loginLimiter == nil {
		return nil
	}
	if err := e.loginLimiter.IncrementLogin(ctx, email, ip); err != nil {
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrLoginRateLimited, func() map[string]string {
			return map[string]string{"identifier": email}
		})
		e.emitRateLimit(ctx, "login", func() map[string]string {
			return map[string]string{"identifier": email}
		})
		return ErrLoginRateLimited
	}
	return nil
}

func (e *Engine) failLogin(ctx context.Context, email, userID, reason string, err error) error {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", err, func() map[string]string {
		return map[string]string{
			"identifier": email,
			"reason":     reason,
		}
	})
	return err
}
