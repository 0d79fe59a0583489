package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// serverConfig is the TOML file layout. Durations are strings like
// "15m" and parsed after decode.
type serverConfig struct {
	Listen string `toml:"listen"`

	Redis struct {
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
		Embedded bool   `toml:"embedded"`
	} `toml:"redis"`

	Token struct {
		AccessTTL     string `toml:"access_ttl"`
		SigningMethod string `toml:"signing_method"`
		PrivateKeyPEM string `toml:"private_key_pem"`
		Issuer        string `toml:"issuer"`
	} `toml:"token"`

	Session struct {
		Timeout string `toml:"timeout"`
	} `toml:"session"`

	Refresh struct {
		TTL string `toml:"ttl"`
	} `toml:"refresh"`

	Pin struct {
		MaxAttempts     int    `toml:"max_attempts"`
		LockoutDuration string `toml:"lockout_duration"`
	} `toml:"pin"`

	RateLimit struct {
		MaxLoginAttempts int    `toml:"max_login_attempts"`
		LoginWindow      string `toml:"login_window"`
		Shared           bool   `toml:"shared"`
	} `toml:"rate_limit"`

	Cookie struct {
		Secure bool   `toml:"secure"`
		Domain string `toml:"domain"`
	} `toml:"cookie"`

	Production bool `toml:"production"`

	Users []seedUser `toml:"users"`
}

type seedUser struct {
	UserID   string `toml:"user_id"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Pin      string `toml:"pin"`
	Role     string `toml:"role"`
	Disabled bool   `toml:"disabled"`
}

func loadConfig(path string) (*serverConfig, error) {
	cfg := &serverConfig{}
	cfg.Listen = ":8443"
	cfg.Redis.Addr = "localhost:6379"

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment wins over file for secrets.
	if v := os.Getenv("POSAUTH_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("POSAUTH_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("POSAUTH_LISTEN"); v != "" {
		cfg.Listen = v
	}

	return cfg, nil
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	return d, nil
}
