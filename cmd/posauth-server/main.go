package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/phuslu/log"
	"github.com/redis/go-redis/v9"

	authkit "github.com/retailpoint/authkit"
	"github.com/retailpoint/authkit/httpapi"
	"github.com/retailpoint/authkit/password"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	if err := run(*configPath); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	rdb, cleanup, err := connectRedis(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	engineCfg, err := buildEngineConfig(cfg)
	if err != nil {
		return err
	}

	users := newMemoryUserStore()
	if err := seedUsers(users, cfg.Users); err != nil {
		return err
	}

	builder := authkit.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithCredentialStore(users)
	if cfg.RateLimit.Shared {
		builder = builder.WithSharedRateLimits()
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	report := engine.SecurityReport()
	log.Info().
		Str("signing", report.SigningAlgorithm).
		Dur("access_ttl", report.AccessTTL).
		Dur("session_timeout", report.SessionTimeout).
		Bool("production", report.ProductionMode).
		Bool("shared_rate_limits", cfg.RateLimit.Shared).
		Msg("engine ready")

	handler := httpapi.NewHandler(engine, httpapi.Options{
		Cookie:     engineCfg.Cookie,
		Config:     engineCfg,
		Production: cfg.Production,
	})

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Listen).Msg("listening")
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}

	log.Info().Uint64("audit_dropped", engine.AuditDropped()).Msg("stopped")
	return nil
}

// connectRedis dials the configured Redis, or starts an embedded
// miniredis when the config asks for it (local development only).
func connectRedis(cfg *serverConfig) (redis.UniversalClient, func(), error) {
	if cfg.Redis.Embedded {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, err
		}
		log.Warn().Str("addr", mr.Addr()).Msg("using embedded redis, state is volatile")
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return client, func() { _ = client.Close(); mr.Close() }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

func buildEngineConfig(cfg *serverConfig) (authkit.Config, error) {
	out := authkit.DefaultConfig()

	var err error
	if out.Token.AccessTTL, err = parseDuration(cfg.Token.AccessTTL, out.Token.AccessTTL); err != nil {
		return out, err
	}
	if out.Session.Timeout, err = parseDuration(cfg.Session.Timeout, out.Session.Timeout); err != nil {
		return out, err
	}
	if out.Refresh.TTL, err = parseDuration(cfg.Refresh.TTL, out.Refresh.TTL); err != nil {
		return out, err
	}
	if out.Pin.LockoutDuration, err = parseDuration(cfg.Pin.LockoutDuration, out.Pin.LockoutDuration); err != nil {
		return out, err
	}
	if out.RateLimit.LoginWindow, err = parseDuration(cfg.RateLimit.LoginWindow, out.RateLimit.LoginWindow); err != nil {
		return out, err
	}

	if cfg.Token.SigningMethod != "" {
		out.Token.SigningMethod = cfg.Token.SigningMethod
	}
	if cfg.Token.Issuer != "" {
		out.Token.Issuer = cfg.Token.Issuer
	}
	if cfg.Pin.MaxAttempts > 0 {
		out.Pin.MaxAttempts = cfg.Pin.MaxAttempts
	}
	if cfg.RateLimit.MaxLoginAttempts > 0 {
		out.RateLimit.MaxLoginAttempts = cfg.RateLimit.MaxLoginAttempts
	}

	out.Cookie.Secure = cfg.Cookie.Secure
	out.Cookie.Domain = cfg.Cookie.Domain
	out.Security.ProductionMode = cfg.Production

	if cfg.Token.PrivateKeyPEM != "" {
		out.Token.PrivateKey = []byte(cfg.Token.PrivateKeyPEM)
	} else {
		// Ephemeral signing key: every restart invalidates outstanding
		// access tokens. Fine for development, not for production.
		_, priv, keyErr := ed25519.GenerateKey(rand.Reader)
		if keyErr != nil {
			return out, keyErr
		}
		out.Token.PrivateKey = priv
		log.Warn().Msg("no signing key configured, generated an ephemeral one")
	}

	return out, nil
}

func seedUsers(store *memoryUserStore, seeds []seedUser) error {
	hasher, err := password.New(password.DefaultConfig())
	if err != nil {
		return err
	}

	for _, seed := range seeds {
		record := authkit.UserRecord{
			UserID:   seed.UserID,
			Username: seed.Username,
			Role:     seed.Role,
			Active:   !seed.Disabled,
		}
		if record.PasswordHash, err = hasher.Hash(seed.Password); err != nil {
			return err
		}
		if seed.Pin != "" {
			if record.PinHash, err = hasher.HashPin(seed.Pin); err != nil {
				return err
			}
			record.PinEnabled = true
		}
		store.Put(record)
		log.Info().Str("username", seed.Username).Str("role", seed.Role).Msg("seeded user")
	}
	return nil
}
