package authkit

import (
	"errors"
	"net/http"
	"time"
)

// Config carries every tunable for the engine. Configure once at build
// time; the engine treats it as immutable afterwards.
type Config struct {
	Token     TokenConfig
	Refresh   RefreshConfig
	Session   SessionConfig
	Pin       PinConfig
	RateLimit RateLimitConfig
	Csrf      CsrfConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Cookie    CookieConfig
	Security  SecurityConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls access-token signing and the revocation blacklist.
type TokenConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string

	// BlacklistSweepInterval bounds blacklist growth; entries also
	// self-expire via store TTL.
	BlacklistSweepInterval time.Duration
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig controls the opaque refresh-token rotation service.
type RefreshConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration

	MaxAttemptsPerSession int
	AttemptCooldown       time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls logical login sessions, which live independently
// of tokens: a session can outlive several refresh-token rotations.
type SessionConfig struct {
	RedisPrefix string

	// Timeout is the sliding inactivity window. Every validated request
	// pushes expiry to now+Timeout.
	Timeout       time.Duration
	SweepInterval time.Duration

	// CacheSize caps the in-memory write-through session cache.
	CacheSize int
}

/*
====================================
PIN CONFIG
====================================
*/

// PinConfig controls the persisted PIN lockout. PIN login is a secondary,
// lower-entropy credential, so lockout state survives process restarts.
type PinConfig struct {
	MaxAttempts     int
	LockoutDuration time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig controls the login rate limiter keyed by
// identity+origin. State defaults to process memory; supply a shared
// Redis-backed store at build time for multi-instance deployments.
type RateLimitConfig struct {
	MaxLoginAttempts int
	LoginWindow      time.Duration
	EnableIPThrottle bool
	SweepInterval    time.Duration
}

/*
====================================
CSRF CONFIG
====================================
*/

// CsrfConfig controls the double-submit-cookie guard.
type CsrfConfig struct {
	TokenTTL      time.Duration
	HmacKey       []byte
	SweepInterval time.Duration
}

// AuditConfig controls the buffered audit dispatcher. Events queue in
// memory up to BatchSize or FlushInterval, then are written in one chunk;
// failed chunks are requeued for retry rather than dropped.
type AuditConfig struct {
	Enabled       bool
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	DropIfFull    bool
}

// MetricsConfig enables the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig shapes the four auth cookies set by the HTTP layer.
// Secure+strict in production; lax without Secure is allowed for
// cross-port local development.
type CookieConfig struct {
	Secure   bool
	SameSite http.SameSite
	Domain   string
	Path     string
}

// SecurityConfig holds cross-cutting switches.
type SecurityConfig struct {
	// ProductionMode suppresses error details in HTTP responses.
	ProductionMode bool

	// StoreTimeout bounds every durable-store call. Timed-out checks
	// fail closed.
	StoreTimeout time.Duration
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration. Callers adjust what
// they need and pass the result to Builder.WithConfig.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:              2 * time.Hour,
			SigningMethod:          "ed25519",
			Issuer:                 "authkit",
			BlacklistSweepInterval: 24 * time.Hour,
		},
		Refresh: RefreshConfig{
			TTL:                   7 * 24 * time.Hour,
			SweepInterval:         time.Hour,
			MaxAttemptsPerSession: 20,
			AttemptCooldown:       time.Minute,
		},
		Session: SessionConfig{
			RedisPrefix:   "ps",
			Timeout:       8 * time.Hour,
			SweepInterval: time.Hour,
			CacheSize:     4096,
		},
		Pin: PinConfig{
			MaxAttempts:     5,
			LockoutDuration: 15 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			MaxLoginAttempts: 5,
			LoginWindow:      15 * time.Minute,
			EnableIPThrottle: true,
			SweepInterval:    time.Hour,
		},
		Csrf: CsrfConfig{
			TokenTTL:      24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Audit: AuditConfig{
			Enabled:       true,
			BufferSize:    1024,
			BatchSize:     64,
			FlushInterval: 5 * time.Second,
			MaxRetries:    3,
			DropIfFull:    true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Cookie: CookieConfig{
			Secure:   true,
			SameSite: http.SameSiteStrictMode,
			Path:     "/",
		},
		Security: SecurityConfig{
			ProductionMode: false,
			StoreTimeout:   5 * time.Second,
		},
	}
}

// Validate rejects configurations the engine cannot run safely with.
func (c Config) Validate() error {
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token.AccessTTL must be positive")
	}
	if c.Token.SigningMethod != "ed25519" && c.Token.SigningMethod != "hs256" {
		return errors.New("Token.SigningMethod must be ed25519 or hs256")
	}
	if c.Refresh.TTL <= c.Token.AccessTTL {
		return errors.New("Refresh.TTL must exceed Token.AccessTTL")
	}
	if c.Session.Timeout <= 0 {
		return errors.New("Session.Timeout must be positive")
	}
	if c.Pin.MaxAttempts <= 0 || c.Pin.LockoutDuration <= 0 {
		return errors.New("Pin lockout requires positive MaxAttempts and LockoutDuration")
	}
	if c.RateLimit.MaxLoginAttempts <= 0 || c.RateLimit.LoginWindow <= 0 {
		return errors.New("RateLimit requires positive MaxLoginAttempts and LoginWindow")
	}
	if c.Csrf.TokenTTL <= 0 {
		return errors.New("Csrf.TokenTTL must be positive")
	}
	if c.Security.StoreTimeout <= 0 {
		return errors.New("Security.StoreTimeout must be positive")
	}
	if c.Audit.Enabled {
		if c.Audit.BatchSize <= 0 || c.Audit.FlushInterval <= 0 {
			return errors.New("Audit requires positive BatchSize and FlushInterval")
		}
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	out.Csrf.HmacKey = cloneBytes(cfg.Csrf.HmacKey)
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
