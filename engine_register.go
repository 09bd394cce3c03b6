package civicauth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Register creates an account and its profile, remembers the chosen role
// for the follow-up login, and hands the caller off to channel
// verification. Account creation and profile persistence live in two
// different backends with no shared transaction; when the profile save
// fails the engine deletes the just-created account so no half-registered
// state survives the call.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if e == nil || e.passwordHash == nil || e.userProvider == nil || e.profileStore == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.Account.Enabled {
		return nil, ErrRegistrationUnavailable
	}

	if err := validateRegisterRequest(req); err != nil {
		e.metricInc(MetricRegisterFailure)
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", err, func() map[string]string {
			return map[string]string{
				"identifier": req.Email,
				"reason":     "validation",
			}
		})
		return nil, err
	}

	if e.accountLimiter != nil {
		if err := e.accountLimiter.Enforce(ctx, req.Email, clientIPFromContext(ctx)); err != nil {
			mapped := mapAccountLimiterError(err)
			if errors.Is(mapped, ErrRegistrationRateLimited) {
				e.metricInc(MetricRegisterRateLimited)
				e.emitAudit(ctx, auditEventRegisterRateLimited, false, "", "", mapped, func() map[string]string {
					return map[string]string{"identifier": req.Email}
				})
				e.emitRateLimit(ctx, "registration", func() map[string]string {
					return map[string]string{"identifier": req.Email}
				})
			}
			return nil, mapped
		}
	}

	passwordHash, err := e.passwordHash.Hash(req.Password)
	if err != nil {
		e.metricInc(MetricRegisterFailure)
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrPasswordPolicy, func() map[string]string {
			return map[string]string{
				"identifier": req.Email,
				"reason":     "hash_policy",
			}
		})
		return nil, ErrPasswordPolicy
	}

	created, err := e.userProvider.CreateUser(ctx, CreateUserInput{
		UserID:       uuid.NewString(),
		Email:        req.Email,
		Mobile:       req.Mobile,
		PasswordHash: passwordHash,
		Role:         req.Role,
		Status:       AccountPendingVerification,
	})
	if err != nil {
		if errors.Is(err, ErrProviderDuplicateIdentifier) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventRegisterDuplicate, false, "", "", ErrAccountExists, func() map[string]string {
				return map[string]string{"identifier": req.Email}
			})
			return nil, ErrAccountExists
		}
		e.metricInc(MetricRegisterFailure)
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrRegistrationUnavailable, func() map[string]string {
			return map[string]string{
				"identifier": req.Email,
				"reason":     "provider_failure",
			}
		})
		return nil, ErrRegistrationUnavailable
	}

	profile := Profile{
		Sub:        created.UserID,
		Email:      req.Email,
		Role:       req.Role,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Mobile:     req.Mobile,
		City:       req.City,
		Address:    req.Address,
		Department: req.Department,
	}
	if err := e.profileStore.SaveProfile(ctx, profile); err != nil {
		// Compensate: the account exists but its profile does not, and the
		// two stores share no transaction. Roll the account back.
		if delErr := e.userProvider.DeleteUser(ctx, created.UserID); delErr != nil {
			e.emitAudit(ctx, auditEventRegisterFailure, false, created.UserID, "", ErrProfileSaveFailed, func() map[string]string {
				return map[string]string{
					"identifier": req.Email,
					"reason":     "compensation_failed",
				}
			})
		} else {
			e.metricInc(MetricRegisterCompensated)
			e.emitAudit(ctx, auditEventRegisterCompensated, false, created.UserID, "", ErrProfileSaveFailed, func() map[string]string {
				return map[string]string{"identifier": req.Email}
			})
		}
		e.metricInc(MetricRegisterFailure)
		return nil, ErrProfileSaveFailed
	}

	if e.pendingRoles != nil {
		// Best-effort; a miss only means the next role-less login defaults
		// to citizen.
		_ = e.pendingRoles.Set(ctx, req.Email, req.Role)
	}

	handoff := Handoff{
		Email:  req.Email,
		Mobile: req.Mobile,
		Role:   req.Role,
		Mode:   ModeRegister,
		UID:    created.UserID,
	}
	if err := handoff.Validate(); err != nil {
		return nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, created.UserID, "", nil, func() map[string]string {
		return map[string]string{
			"identifier": req.Email,
			"role":       req.Role.String(),
		}
	})

	return &RegisterResult{
		UserID:  created.UserID,
		Handoff: handoff,
	}, nil
}

// validateRegisterRequest enforces the role-conditional field rules
// before any collaborator is contacted.
func validateRegisterRequest(req RegisterRequest) error {
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return ErrRegistrationInvalid
	}
	if req.Password == "" {
		return ErrPasswordPolicy
	}
	if req.FirstName == "" || req.LastName == "" {
		return ErrRegistrationInvalid
	}

	switch req.Role {
	case RoleCitizen:
		if req.Mobile == "" || req.Address == "" {
			return ErrRegistrationInvalid
		}
	case RoleAdmin:
		if req.Department == "" {
			return ErrRegistrationInvalid
		}
	default:
		return ErrRoleInvalid
	}

	return nil
}

func mapAccountLimiterError(err error) error {
	switch {
	case errors.Is(err, errAccountRateLimited):
		return ErrRegistrationRateLimited
	case errors.Is(err, errAccountRedisUnavailable):
		return ErrRegistrationUnavailable
	default:
		return err
	}
}
