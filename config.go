package civicauth

import (
	"errors"
	"time"
)

// Config collects the tunables of the engine. Instances are intended to be
// configured during initialization and then treated as immutable.
type Config struct {
	JWT           JWTConfig
	Session       SessionConfig
	Password      PasswordConfig
	PasswordReset PasswordResetConfig
	Verification  VerificationConfig
	Account       AccountConfig
	Security      SecurityConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

// JWTConfig configures access-token issuance.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
}

// SessionConfig configures the redis session store.
type SessionConfig struct {
	RedisPrefix       string
	Lifetime          time.Duration
	SlidingExpiration bool
}

// PasswordConfig configures Argon2id hashing.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// PasswordResetConfig configures the forgot-password flow.
type PasswordResetConfig struct {
	Enabled          bool
	ResetTTL         time.Duration
	MaxAttempts      int
	EnableIPThrottle bool
	OTPDigits        int
}

// VerificationConfig configures two-channel OTP verification.
type VerificationConfig struct {
	CodeTTL          time.Duration
	MaxAttempts      int
	OTPDigits        int
	EnableIPThrottle bool
	// UpgradeTokenTTL bounds how long the one-time session upgrade token
	// issued after full verification stays exchangeable.
	UpgradeTokenTTL time.Duration
	// RequireForLogin forces an email confirmation round on every login,
	// not only on unverified accounts.
	RequireForLogin bool
	// PendingRoleTTL bounds how long the role chosen at registration is
	// remembered for role-less logins.
	PendingRoleTTL time.Duration
	// ProgressTTL bounds how long per-channel confirmations are remembered
	// while the remaining channels are still outstanding.
	ProgressTTL time.Duration
}

// AccountConfig configures registration.
type AccountConfig struct {
	Enabled          bool
	DefaultRole      Role
	MaxPerWindow     int
	Window           time.Duration
	EnableIPThrottle bool
}

// SecurityConfig configures login throttling.
type SecurityConfig struct {
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
}

// AuditConfig configures the audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig configures the in-process metrics counters.
type MetricsConfig struct {
	Enabled bool
	// EnableLatencyHistograms adds bucketed latency tracking for session
	// validation on top of the plain counters.
	EnableLatencyHistograms bool
}

// DefaultConfig returns the configuration [New] starts from. Callers
// adjust fields on the copy and pass it back through
// [Builder.WithConfig].
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
		},
		Session: SessionConfig{
			RedisPrefix:       "cs",
			Lifetime:          7 * 24 * time.Hour,
			SlidingExpiration: true,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:          true,
			ResetTTL:         15 * time.Minute,
			MaxAttempts:      5,
			EnableIPThrottle: true,
			OTPDigits:        6,
		},
		Verification: VerificationConfig{
			CodeTTL:          10 * time.Minute,
			MaxAttempts:      5,
			OTPDigits:        6,
			EnableIPThrottle: true,
			UpgradeTokenTTL:  5 * time.Minute,
			RequireForLogin:  true,
			PendingRoleTTL:   24 * time.Hour,
			ProgressTTL:      24 * time.Hour,
		},
		Account: AccountConfig{
			Enabled:          true,
			DefaultRole:      RoleCitizen,
			MaxPerWindow:     10,
			Window:           time.Hour,
			EnableIPThrottle: true,
		},
		Security: SecurityConfig{
			EnableIPThrottle:      true,
			MaxLoginAttempts:      5,
			LoginCooldownDuration: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT.AccessTTL must be positive")
	}
	switch c.JWT.SigningMethod {
	case "ed25519", "hs256":
	default:
		return errors.New("JWT.SigningMethod must be ed25519 or hs256")
	}
	if c.Session.RedisPrefix == "" {
		return errors.New("Session.RedisPrefix must not be empty")
	}
	if c.Session.Lifetime <= 0 {
		return errors.New("Session.Lifetime must be positive")
	}
	if c.Verification.CodeTTL <= 0 {
		return errors.New("Verification.CodeTTL must be positive")
	}
	if c.Verification.OTPDigits < 6 || c.Verification.OTPDigits > 10 {
		return errors.New("Verification.OTPDigits must be between 6 and 10")
	}
	if c.Verification.MaxAttempts <= 0 {
		return errors.New("Verification.MaxAttempts must be positive")
	}
	if c.Verification.UpgradeTokenTTL <= 0 {
		return errors.New("Verification.UpgradeTokenTTL must be positive")
	}
	if c.Verification.PendingRoleTTL <= 0 {
		return errors.New("Verification.PendingRoleTTL must be positive")
	}
	if c.Verification.ProgressTTL <= 0 {
		return errors.New("Verification.ProgressTTL must be positive")
	}
	if c.PasswordReset.Enabled {
		if c.PasswordReset.ResetTTL <= 0 {
			return errors.New("PasswordReset.ResetTTL must be positive")
		}
		if c.PasswordReset.MaxAttempts <= 0 {
			return errors.New("PasswordReset.MaxAttempts must be positive")
		}
	}
	if c.Account.Enabled {
		if c.Account.MaxPerWindow <= 0 {
			return errors.New("Account.MaxPerWindow must be positive")
		}
		if c.Account.Window <= 0 {
			return errors.New("Account.Window must be positive")
		}
		switch c.Account.DefaultRole {
		case RoleCitizen, RoleAdmin:
		default:
			return errors.New("Account.DefaultRole outside the role enumeration")
		}
	}
	if c.Security.MaxLoginAttempts <= 0 {
		return errors.New("Security.MaxLoginAttempts must be positive")
	}
	if c.Security.LoginCooldownDuration <= 0 {
		return errors.New("Security.LoginCooldownDuration must be positive")
	}
	return nil
}
