// Package app assembles the auth service from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"edgauth.org/internal/auth"
	"edgauth.org/internal/config"
	"edgauth.org/internal/limit"
	"edgauth.org/internal/obs"
	"edgauth.org/internal/store/pg"
)

// App holds the wired core and the handles that need closing.
type App struct {
	Config   *config.Config
	Store    auth.Store
	DB       *sql.DB
	Service  *auth.Service
	Roles    *auth.RoleAdmin
	Throttle *limit.RedisThrottle

	closers []func() error
}

// Build wires stores, token issuer, password manager and throttle. Without AUTH_PG_DSN
// it falls back to the in-memory store and seeds the default roles.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	log := obs.Logger()

	if cfg.PGDSN != "" {
		st, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.Store, a.DB = st, st.DB()
		a.closers = append(a.closers, st.Close)
	} else {
		log.Warn().Msg("AUTH_PG_DSN not set, using in-memory store")
		a.Store = auth.NewMemoryStore()
	}

	roles, err := auth.NewRoleAdmin(a.Store, nil)
	if err != nil {
		return nil, a.fail(err)
	}
	a.Roles = roles
	if cfg.PGDSN == "" {
		if _, err := roles.SeedDefaults(ctx); err != nil {
			return nil, a.fail(err)
		}
	}

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret,
		auth.WithIssuer(cfg.Issuer),
		auth.WithAccessLifetime(cfg.AccessTTL),
	)
	if err != nil {
		return nil, a.fail(err)
	}

	opts := []auth.ServiceOption{
		auth.WithRefreshLifetime(cfg.RefreshTTL),
		auth.WithPasswordManager(auth.NewPasswordManager(
			auth.WithBcryptCost(cfg.BcryptCost),
			auth.WithHashConcurrency(cfg.HashConcurrency),
		)),
		auth.WithResetNotifier(logNotifier{}),
	}
	if cfg.ThrottleEnabled() {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		a.closers = append(a.closers, client.Close)
		a.Throttle = limit.NewRedisThrottle(client, limit.Config{
			Window: cfg.ThrottleWindow,
			Max: map[string]int{
				auth.ScopeLogin: cfg.LoginMaxAttempts,
				auth.ScopeReset: cfg.ResetMaxRequests,
			},
		})
		opts = append(opts, auth.WithThrottle(a.Throttle))
	}

	svc, err := auth.NewService(a.Store, tokens, opts...)
	if err != nil {
		return nil, a.fail(err)
	}
	a.Service = svc
	return a, nil
}

// Close releases every handle, returning the joined errors.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) fail(err error) error {
	_ = a.Close()
	return err
}

// Sweep runs one cleanup pass and records it.
func (a *App) Sweep(ctx context.Context) (auth.CleanupReport, error) {
	report, err := a.Service.CleanupExpired(ctx)
	if err != nil {
		return report, err
	}
	obs.RecordSweep(report.Sessions, report.ResetTokens)
	return report, nil
}

// RunSweeper sweeps every interval until ctx is done.
func (a *App) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := a.Sweep(ctx)
			if err != nil {
				obs.Logger().Error().Err(err).Msg("cleanup sweep failed")
				continue
			}
			obs.Logger().Info().
				Int64("sessions", report.Sessions).
				Int64("reset_tokens", report.ResetTokens).
				Msg("cleanup sweep")
		}
	}
}

// logNotifier records that a reset token was issued. Delivery (e-mail) is handled elsewhere;
// the token itself is never logged.
type logNotifier struct{}

func (logNotifier) NotifyPasswordReset(_ context.Context, account *auth.Account, _ string, expiresAt time.Time) error {
	obs.Logger().Info().
		Int64("account_id", account.ID).
		Time("expires_at", expiresAt).
		Msg("password reset token issued")
	return nil
}
