package auth

import (
	"context"
	"time"
)

// AccountStore persists accounts. Lookups return ErrNotFound when nothing matches.
type AccountStore interface {
	CreateAccount(ctx context.Context, a *Account) error
	FindAccountByEmailAndType(ctx context.Context, email string, typ AccountType) (*Account, error)
	FindAccountByID(ctx context.Context, id int64) (*Account, error)
	UpdateAccount(ctx context.Context, a *Account) error
}

// SessionStore persists refresh sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	FindSessionByRefreshToken(ctx context.Context, token string) (*Session, error)
	UpdateSession(ctx context.Context, s *Session) error
	// RevokeSessionsForAccount flips every live session of the account and reports how many changed.
	RevokeSessionsForAccount(ctx context.Context, accountID int64) (int64, error)
	DeleteSessionsExpiredBefore(ctx context.Context, ts time.Time) (int64, error)
}

// ResetTokenStore persists password reset grants.
type ResetTokenStore interface {
	CreateResetToken(ctx context.Context, t *ResetToken) error
	// FindUnusedResetToken returns the unused token with its owning account attached.
	FindUnusedResetToken(ctx context.Context, token string) (*ResetToken, error)
	// MarkResetTokenUsed claims the token. A token that is already used yields ErrNotFound.
	MarkResetTokenUsed(ctx context.Context, id string) error
	DeleteResetTokensExpiredBefore(ctx context.Context, ts time.Time) (int64, error)
}

// RoleStore reads and administers roles and their permission strings.
type RoleStore interface {
	FindRole(ctx context.Context, id int64) (*Role, error)
	FindRoleByName(ctx context.Context, name string) (*Role, error)
	RolePermissions(ctx context.Context, roleID int64) ([]string, error)
	CreateRole(ctx context.Context, r *Role) error
	UpdateRole(ctx context.Context, r *Role) error
	ListRoles(ctx context.Context) ([]Role, error)
	SetRolePermissions(ctx context.Context, roleID int64, perms []string) error
	DeleteRole(ctx context.Context, id int64) error
}

// Store is everything the auth service persists.
type Store interface {
	AccountStore
	SessionStore
	ResetTokenStore
	RoleStore
}
