package civicauth

import (
	"errors"

	"github.com/civicsetu/civicauth/internal/limiters"
	"github.com/civicsetu/civicauth/internal/rate"
	"github.com/civicsetu/civicauth/jwt"
	"github.com/civicsetu/civicauth/password"
	"github.com/civicsetu/civicauth/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A builder is single-use: Build succeeds
// at most once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	userProvider UserProvider
	profileStore ProfileStore
	codeSender   CodeSender
	auditSink    AuditSink

	built bool
}

// New returns a builder preloaded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

func (b *Builder) WithProfileStore(ps ProfileStore) *Builder {
	b.profileStore = ps
	return b
}

func (b *Builder) WithCodeSender(cs CodeSender) *Builder {
	b.codeSender = cs
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, wires every store and limiter over
// the redis client, and returns the ready engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}
	if b.codeSender == nil {
		return nil, errors.New("code sender required")
	}
	if cfg.Account.Enabled && b.profileStore == nil {
		return nil, errors.New("profile store required when registration is enabled")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine := &Engine{
		config: cloneConfig(cfg),
		sessionStore: session.NewStore(
			b.redis,
			cfg.Session.RedisPrefix,
			cfg.Session.Lifetime,
			cfg.Session.SlidingExpiration,
		),
		userProvider: b.userProvider,
		profileStore: b.profileStore,
		codeSender:   b.codeSender,
	}

	engine.loginLimiter = rate.New(b.redis, rate.Config{
		EnableIPThrottle:      cfg.Security.EnableIPThrottle,
		MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
		LoginCooldownDuration: cfg.Security.LoginCooldownDuration,
	})
	engine.accountLimiter = newAccountCreationLimiter(b.redis, cfg.Account)
	engine.codeStore = newVerificationCodeStore(b.redis)
	engine.codeLimiter = limiters.NewVerificationLimiter(b.redis, limiters.VerificationConfig{
		EnableContactThrottle: true,
		EnableIPThrottle:      cfg.Verification.EnableIPThrottle,
		WindowTTL:             cfg.Verification.CodeTTL,
		MaxAttempts:           cfg.Verification.MaxAttempts,
	})
	engine.progressStore = newVerificationProgressStore(b.redis)
	engine.upgradeStore = newUpgradeTokenStore(b.redis)
	engine.pendingRoles = newPendingRoleStore(b.redis, cfg.Verification.PendingRoleTTL)
	engine.resetStore = newPasswordResetStore(b.redis)
	engine.resetLimiter = newPasswordResetLimiter(b.redis, cfg.PasswordReset)
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	b.built = true

	return engine, nil
}
