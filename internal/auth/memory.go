package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store for tests and local runs.
// Records are copied on the way in and out, so callers never share state with it.
type MemoryStore struct {
	mu sync.RWMutex

	nextAccountID int64
	nextRoleID    int64
	nextPermID    int64

	accounts    map[int64]*Account
	sessions    map[string]*Session
	resetTokens map[string]*ResetToken
	roles       map[int64]*Role
	rolePerms   map[int64][]RolePermission
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[int64]*Account),
		sessions:    make(map[string]*Session),
		resetTokens: make(map[string]*ResetToken),
		roles:       make(map[int64]*Role),
		rolePerms:   make(map[int64][]RolePermission),
	}
}

func (m *MemoryStore) CreateAccount(_ context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if existing.Email == a.Email && existing.AccountType == a.AccountType {
			return ErrConflict
		}
	}
	m.nextAccountID++
	a.ID = m.nextAccountID
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *MemoryStore) FindAccountByEmailAndType(_ context.Context, email string, typ AccountType) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.accounts {
		if a.Email == email && a.AccountType == typ {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindAccountByID(_ context.Context, id int64) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) UpdateAccount(_ context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.ID]; !ok {
		return ErrNotFound
	}
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *MemoryStore) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.RefreshToken == s.RefreshToken {
			return ErrConflict
		}
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) FindSessionByRefreshToken(_ context.Context, token string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.RefreshToken == token {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpdateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.sessions[s.ID]
	if !ok {
		return ErrNotFound
	}
	cp := *s
	// revocation is monotonic
	cp.Revoked = cp.Revoked || existing.Revoked
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) RevokeSessionsForAccount(_ context.Context, accountID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.AccountID == accountID && !s.Revoked {
			s.Revoked = true
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteSessionsExpiredBefore(_ context.Context, ts time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(ts) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CreateResetToken(_ context.Context, t *ResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.resetTokens {
		if existing.Token == t.Token {
			return ErrConflict
		}
	}
	cp := *t
	cp.Account = nil
	m.resetTokens[t.ID] = &cp
	return nil
}

func (m *MemoryStore) FindUnusedResetToken(_ context.Context, token string) (*ResetToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.resetTokens {
		if t.Token != token || t.Used {
			continue
		}
		cp := *t
		if a, ok := m.accounts[t.AccountID]; ok {
			acc := *a
			cp.Account = &acc
		}
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) MarkResetTokenUsed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.resetTokens[id]
	if !ok || t.Used {
		return ErrNotFound
	}
	t.Used = true
	return nil
}

func (m *MemoryStore) DeleteResetTokensExpiredBefore(_ context.Context, ts time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.resetTokens {
		if t.ExpiresAt.Before(ts) {
			delete(m.resetTokens, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) FindRole(_ context.Context, id int64) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) FindRoleByName(_ context.Context, name string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.roles {
		if strings.EqualFold(r.Name, name) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) RolePermissions(_ context.Context, roleID int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.rolePerms[roleID]
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Permission)
	}
	return out, nil
}

func (m *MemoryStore) CreateRole(_ context.Context, r *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if strings.EqualFold(existing.Name, r.Name) {
			return ErrConflict
		}
	}
	m.nextRoleID++
	r.ID = m.nextRoleID
	cp := *r
	m.roles[r.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateRole(_ context.Context, r *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	m.roles[r.ID] = &cp
	return nil
}

func (m *MemoryStore) ListRoles(_ context.Context) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SetRolePermissions(_ context.Context, roleID int64, perms []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	entries := make([]RolePermission, 0, len(perms))
	for _, p := range perms {
		m.nextPermID++
		entries = append(entries, RolePermission{ID: m.nextPermID, RoleID: roleID, Permission: p, CreatedAt: now})
	}
	m.rolePerms[roleID] = entries
	return nil
}

func (m *MemoryStore) DeleteRole(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	for _, a := range m.accounts {
		if a.RoleID == id {
			return &Error{Kind: KindConflict, Message: "role is assigned to accounts"}
		}
	}
	delete(m.roles, id)
	delete(m.rolePerms, id)
	return nil
}
