package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"edgauth.org/internal/ids"
)

// SessionLedger owns the lifecycle of refresh sessions.
type SessionLedger struct {
	store SessionStore
	now   func() time.Time
}

func NewSessionLedger(store SessionStore, now func() time.Time) *SessionLedger {
	if now == nil {
		now = time.Now
	}
	return &SessionLedger{store: store, now: now}
}

// Open persists a new active session bound to refreshToken.
func (l *SessionLedger) Open(ctx context.Context, accountID int64, refreshToken string, client ClientInfo, ttl time.Duration) (*Session, error) {
	if ttl <= 0 {
		return nil, newError(KindConfiguration, "session lifetime must be positive")
	}
	now := l.now().UTC()
	sess := &Session{
		ID:           ids.NewAt(now),
		AccountID:    accountID,
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(ttl),
		IPAddress:    client.IP,
		UserAgent:    client.UserAgent,
		CreatedAt:    now,
	}
	if err := l.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// FindByRefreshToken returns nil without error when no session matches.
func (l *SessionLedger) FindByRefreshToken(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, nil
	}
	sess, err := l.store.FindSessionByRefreshToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Touch records the latest client metadata. Empty values keep what was stored.
// Expiry and the refresh token are left alone.
func (l *SessionLedger) Touch(ctx context.Context, sess *Session, client ClientInfo) error {
	if client.IP != "" {
		sess.IPAddress = client.IP
	}
	if client.UserAgent != "" {
		sess.UserAgent = client.UserAgent
	}
	return l.store.UpdateSession(ctx, sess)
}

// Revoke is a no-op for sessions that are already revoked.
func (l *SessionLedger) Revoke(ctx context.Context, sess *Session) error {
	if sess == nil || sess.Revoked {
		return nil
	}
	sess.Revoked = true
	return l.store.UpdateSession(ctx, sess)
}

// RevokeAllForAccount revokes every live session and returns the number affected.
func (l *SessionLedger) RevokeAllForAccount(ctx context.Context, accountID int64) (int64, error) {
	return l.store.RevokeSessionsForAccount(ctx, accountID)
}

// SweepExpired physically removes sessions past expiry.
func (l *SessionLedger) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	return l.store.DeleteSessionsExpiredBefore(ctx, now)
}

// Usable reports whether sess may back a refresh right now.
func (l *SessionLedger) Usable(sess *Session) bool {
	return sess != nil && sess.State(l.now()) == SessionActive
}
