package auth

import "time"

// AccountType is the closed set of account categories in the ecosystem.
type AccountType string

const (
	AccountTypeOperatore AccountType = "operatore"
	AccountTypePartner   AccountType = "partner"
	AccountTypeCliente   AccountType = "cliente"
	AccountTypeAgente    AccountType = "agente"
)

var accountTypes = []AccountType{
	AccountTypeOperatore,
	AccountTypePartner,
	AccountTypeCliente,
	AccountTypeAgente,
}

// AccountTypes lists every accepted account type.
func AccountTypes() []AccountType {
	out := make([]AccountType, len(accountTypes))
	copy(out, accountTypes)
	return out
}

// Valid reports whether t belongs to the closed set.
func (t AccountType) Valid() bool {
	for _, known := range accountTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Account is an identity record. (Email, AccountType) is unique.
type Account struct {
	ID           int64
	UUID         string
	Email        string
	AccountType  AccountType
	EntityID     string
	PasswordHash string
	RoleID       int64
	Active       bool
	Verified     bool
	LastLogin    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Role groups permission strings. System roles cannot be deleted.
type Role struct {
	ID          int64
	UUID        string
	Name        string
	Description string
	System      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RolePermission is one permission string owned by a role.
type RolePermission struct {
	ID         int64
	RoleID     int64
	Permission string
	CreatedAt  time.Time
}

// SessionState is derived at read time; only Revoked is stored.
type SessionState uint8

const (
	SessionActive SessionState = iota
	SessionRevoked
	SessionExpired
)

func (s SessionState) String() string {
	switch s {
	case SessionActive:
		return "active"
	case SessionRevoked:
		return "revoked"
	case SessionExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Session binds an opaque refresh token to an account.
type Session struct {
	ID           string
	AccountID    int64
	RefreshToken string
	ExpiresAt    time.Time
	Revoked      bool
	IPAddress    string
	UserAgent    string
	CreatedAt    time.Time
}

// State classifies the session at now. Revocation wins over expiry.
func (s *Session) State(now time.Time) SessionState {
	if s.Revoked {
		return SessionRevoked
	}
	if now.After(s.ExpiresAt) {
		return SessionExpired
	}
	return SessionActive
}

// ResetToken is a single-use password reset grant.
type ResetToken struct {
	ID        string
	AccountID int64
	Token     string
	ExpiresAt time.Time
	Used      bool
	IPAddress string
	UserAgent string
	CreatedAt time.Time

	// Account is populated by stores that join the owner on lookup.
	Account *Account
}

// ClientInfo carries optional request metadata recorded on sessions and reset tokens.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// RegisterInput is the registration request.
type RegisterInput struct {
	Email       string
	Password    string
	AccountType AccountType
	EntityID    string
	RoleID      int64
}

// Credentials identify an account at login.
type Credentials struct {
	Email       string
	Password    string
	AccountType AccountType
}

// AccountView is the outward shape of an account. It never carries the password hash.
type AccountView struct {
	ID          int64       `json:"id"`
	UUID        string      `json:"uuid"`
	Email       string      `json:"email"`
	AccountType AccountType `json:"accountType"`
	EntityID    string      `json:"entityId"`
	RoleID      int64       `json:"roleId"`
	RoleName    string      `json:"roleName,omitempty"`
	Permissions []string    `json:"permissions,omitempty"`
	Active      bool        `json:"isActive"`
	Verified    bool        `json:"isVerified"`
	LastLogin   *time.Time  `json:"lastLogin,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

func viewOf(a *Account) AccountView {
	return AccountView{
		ID:          a.ID,
		UUID:        a.UUID,
		Email:       a.Email,
		AccountType: a.AccountType,
		EntityID:    a.EntityID,
		RoleID:      a.RoleID,
		Active:      a.Active,
		Verified:    a.Verified,
		LastLogin:   a.LastLogin,
		CreatedAt:   a.CreatedAt,
	}
}

// LoginResult is returned by Login and Refresh.
type LoginResult struct {
	AccessToken     string      `json:"accessToken"`
	RefreshToken    string      `json:"refreshToken"`
	AccessExpiresAt time.Time   `json:"accessExpiresAt"`
	Account         AccountView `json:"account"`
}
