package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"edgauth.org/internal/ids"
)

const (
	// ResetTokenLifetime is fixed; it is not configurable.
	ResetTokenLifetime = "1h"

	resetTokenBytes = 32

	resetAcknowledgement = "if the account exists, password reset instructions have been sent"
)

// ResetReceipt is the acknowledgement returned by every reset request, whether or not the account exists.
type ResetReceipt struct {
	Message string `json:"message"`
}

// ResetNotifier delivers a freshly issued reset token to its owner. Delivery itself lives outside this package.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, account *Account, token string, expiresAt time.Time) error
}

// ResetFlow issues and consumes single-use reset tokens.
type ResetFlow struct {
	accounts  AccountStore
	tokens    ResetTokenStore
	sessions  *SessionLedger
	passwords *PasswordManager
	notifier  ResetNotifier
	now       func() time.Time
}

func NewResetFlow(accounts AccountStore, tokens ResetTokenStore, sessions *SessionLedger, passwords *PasswordManager, notifier ResetNotifier, now func() time.Time) *ResetFlow {
	if now == nil {
		now = time.Now
	}
	return &ResetFlow{
		accounts:  accounts,
		tokens:    tokens,
		sessions:  sessions,
		passwords: passwords,
		notifier:  notifier,
		now:       now,
	}
}

// Request does the same random generation whether the account exists or not,
// and the caller always gets the same receipt.
func (f *ResetFlow) Request(ctx context.Context, email string, typ AccountType, client ClientInfo) (ResetReceipt, error) {
	receipt := ResetReceipt{Message: resetAcknowledgement}

	token, err := randomHex(resetTokenBytes)
	if err != nil {
		return ResetReceipt{}, err
	}
	lifetime, err := ParseDuration(ResetTokenLifetime)
	if err != nil {
		return ResetReceipt{}, err
	}
	now := f.now().UTC()

	account, err := f.accounts.FindAccountByEmailAndType(ctx, normalizeEmail(email), typ)
	if errors.Is(err, ErrNotFound) {
		return receipt, nil
	}
	if err != nil {
		return ResetReceipt{}, err
	}

	rt := &ResetToken{
		ID:        ids.NewAt(now),
		AccountID: account.ID,
		Token:     token,
		ExpiresAt: now.Add(lifetime),
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
		CreatedAt: now,
	}
	if err := f.tokens.CreateResetToken(ctx, rt); err != nil {
		return ResetReceipt{}, fmt.Errorf("create reset token: %w", err)
	}
	if f.notifier != nil {
		if err := f.notifier.NotifyPasswordReset(ctx, account, token, rt.ExpiresAt); err != nil {
			return ResetReceipt{}, fmt.Errorf("notify reset: %w", err)
		}
	}
	return receipt, nil
}

// Confirm consumes token and replaces the owner's password. Every session of the
// owner is revoked afterwards. The token is claimed before the password is written,
// so two concurrent confirms cannot both succeed.
func (f *ResetFlow) Confirm(ctx context.Context, token, newPassword string) (*Account, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, newError(KindInvalidToken, "invalid or expired reset token")
	}
	rt, err := f.tokens.FindUnusedResetToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return nil, newError(KindInvalidToken, "invalid or expired reset token")
	}
	if err != nil {
		return nil, err
	}
	if f.now().After(rt.ExpiresAt) {
		return nil, newError(KindTokenExpired, "invalid or expired reset token")
	}
	if res := f.passwords.ValidatePolicy(newPassword); !res.OK {
		return nil, policyError(res.Violations)
	}

	account := rt.Account
	if account == nil {
		if account, err = f.accounts.FindAccountByID(ctx, rt.AccountID); err != nil {
			return nil, err
		}
	}

	hash, err := f.passwords.Hash(ctx, newPassword)
	if err != nil {
		return nil, err
	}
	if err := f.tokens.MarkResetTokenUsed(ctx, rt.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newError(KindInvalidToken, "invalid or expired reset token")
		}
		return nil, err
	}
	// The token is spent from here on; a failed write leaves the old password in place.
	account.PasswordHash = hash
	account.UpdatedAt = f.now().UTC()
	if err := f.accounts.UpdateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("reset token consumed, password not updated: %w", err)
	}
	if _, err := f.sessions.RevokeAllForAccount(ctx, account.ID); err != nil {
		return nil, err
	}
	return account, nil
}

// SweepExpired removes reset tokens past expiry.
func (f *ResetFlow) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	return f.tokens.DeleteResetTokensExpiredBefore(ctx, now)
}
