package auth

import "time"

// Principal is the authenticated caller, built from a verified access token.
// It is passed explicitly to whatever needs it; nothing stores it in a context.
type Principal struct {
	AccountID   int64
	Email       string
	AccountType AccountType
	RoleID      int64
	SessionID   string
	ExpiresAt   time.Time
	Permissions PermissionSet

	raw []string
}

func principalFromClaims(c *Claims) Principal {
	p := Principal{
		AccountID:   c.AccountID,
		Email:       c.Email,
		AccountType: c.AccountType,
		RoleID:      c.RoleID,
		SessionID:   c.SessionID,
		Permissions: NewPermissionSet(c.Permissions),
		raw:         append([]string(nil), c.Permissions...),
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p
}

// Can reports whether the principal may perform action on module.
func (p Principal) Can(module, action string) bool {
	return p.Permissions.Allows(module, action)
}

// PermissionStrings returns the grant exactly as it was embedded in the token.
func (p Principal) PermissionStrings() []string {
	return append([]string(nil), p.raw...)
}
