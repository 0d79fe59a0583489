package authkit

import (
	"crypto/rand"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/retailpoint/authkit/internal/rate"
	"github.com/retailpoint/authkit/jwt"
	"github.com/retailpoint/authkit/password"
	"github.com/retailpoint/authkit/refresh"
	"github.com/retailpoint/authkit/session"
)

// Builder assembles an Engine. Required: a Redis client and a
// CredentialStore. Everything else has working defaults.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users        CredentialStore
	auditSink    AuditSink
	counterStore rate.CounterStore
	reuseHandler ReuseHandler

	built bool
}

func New() *Builder {
	return &Builder{config: defaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.users = store
	return b
}

// WithAuditSink sets where the dispatcher writes event batches. When
// unset, a store implementing AuditStore gets a StoreSink; otherwise
// events are dropped.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithSharedRateLimits moves the login rate counters into Redis so
// multiple instances share one budget. The default keeps them in
// process memory.
func (b *Builder) WithSharedRateLimits() *Builder {
	b.counterStore = rate.NewRedisStore(b.redis)
	return b
}

// WithReuseHandler installs a hook fired on refresh-token reuse, after
// the attempt has been rejected and audited.
func (b *Builder) WithReuseHandler(h ReuseHandler) *Builder {
	b.reuseHandler = h
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, wires every component, and starts
// the audit dispatcher and background sweepers. A Builder builds once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.users == nil {
		return nil, errors.New("credential store is required")
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	cfg := b.config
	if len(cfg.Csrf.HmacKey) == 0 {
		// Ephemeral key: CSRF bindings then reset on restart, which only
		// forces clients through a fresh Issue.
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		cfg.Csrf.HmacKey = key
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.Token.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cfg.Token.PrivateKey,
		PublicKey:     cfg.Token.PublicKey,
		Issuer:        cfg.Token.Issuer,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.New(password.DefaultConfig())
	if err != nil {
		return nil, err
	}

	counterStore := b.counterStore
	var memStore *rate.MemoryStore
	if counterStore == nil {
		memStore = rate.NewMemoryStore()
		counterStore = memStore
	}

	limiter := rate.New(counterStore, rate.Config{
		MaxLoginAttempts:      cfg.RateLimit.MaxLoginAttempts,
		LoginWindow:           cfg.RateLimit.LoginWindow,
		EnableIPThrottle:      cfg.RateLimit.EnableIPThrottle,
		EnableRefreshThrottle: cfg.Refresh.MaxAttemptsPerSession > 0,
		MaxRefreshAttempts:    cfg.Refresh.MaxAttemptsPerSession,
		RefreshWindow:         cfg.Refresh.AttemptCooldown,
	})

	auditStore, _ := b.users.(AuditStore)
	sink := b.auditSink
	if sink == nil && auditStore != nil {
		sink = NewStoreSink(auditStore)
	}

	prefix := cfg.Session.RedisPrefix

	e := &Engine{
		config:        cfg,
		users:         b.users,
		auditStore:    auditStore,
		sessions:      session.NewStore(b.redis, prefix, cfg.Session.CacheSize),
		refreshTokens: refresh.NewStore(b.redis, prefix+"rt"),
		limiter:       limiter,
		limiterMemory: memStore,
		lockout:       newPinLockout(b.users, cfg.Pin),
		blacklist:     newTokenBlacklist(b.redis, prefix),
		csrf:          newCsrfGuard(b.redis, prefix, cfg.Csrf),
		audit:         newAuditDispatcher(cfg.Audit, sink),
		metrics:       NewMetrics(cfg.Metrics),
		hasher:        hasher,
		jwtManager:    jwtManager,
		reuseHandler:  b.reuseHandler,
	}
	e.janitor = startJanitor(e)

	b.built = true
	return e, nil
}
