package authkit

import "time"

// SecurityReport summarizes the active security posture for operator
// dashboards and startup logs.
type SecurityReport struct {
	ProductionMode bool

	SigningAlgorithm string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration

	SessionTimeout        time.Duration
	SlidingExpiry         bool
	RefreshRotation       bool
	ReuseDetection        bool
	PinLockoutActive      bool
	RateLimitingActive    bool
	RefreshThrottleActive bool
	CsrfActive            bool
	AuditActive           bool
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	return SecurityReport{
		ProductionMode:        e.config.Security.ProductionMode,
		SigningAlgorithm:      e.config.Token.SigningMethod,
		AccessTTL:             e.config.Token.AccessTTL,
		RefreshTTL:            e.config.Refresh.TTL,
		SessionTimeout:        e.config.Session.Timeout,
		SlidingExpiry:         true,
		RefreshRotation:       true,
		ReuseDetection:        true,
		PinLockoutActive:      e.config.Pin.MaxAttempts > 0,
		RateLimitingActive:    e.config.RateLimit.MaxLoginAttempts > 0,
		RefreshThrottleActive: e.config.Refresh.MaxAttemptsPerSession > 0,
		CsrfActive:            e.config.Csrf.TokenTTL > 0,
		AuditActive:           e.config.Audit.Enabled && e.audit != nil,
	}
}
