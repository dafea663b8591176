package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RoleDefinition describes a built-in role and its grant.
type RoleDefinition struct {
	Name        string
	Description string
	System      bool
	Permissions []string
}

// DefaultRoles returns the built-in roles installed by SeedDefaults.
func DefaultRoles() []RoleDefinition {
	return []RoleDefinition{
		{
			Name:        "root",
			Description: "Full system access",
			System:      true,
			Permissions: []string{"*"},
		},
		{
			Name:        "admin",
			Description: "Administration of every module except system configuration",
			System:      true,
			Permissions: []string{"spedizioni.*", "gestione.*", "report.*"},
		},
		{
			Name:        "operatore",
			Description: "Day-to-day operations without user or role management",
			System:      true,
			Permissions: []string{"spedizioni.*", "report.read", "report.create", "report.export"},
		},
		{
			Name:        "guest",
			Description: "Read-only access",
			System:      true,
			Permissions: []string{"spedizioni.read", "report.read"},
		},
	}
}

// RoleAdmin manages roles and their permission grants.
type RoleAdmin struct {
	store RoleStore
	now   func() time.Time
}

func NewRoleAdmin(store RoleStore, now func() time.Time) (*RoleAdmin, error) {
	if store == nil {
		return nil, errors.New("role store is required")
	}
	if now == nil {
		now = time.Now
	}
	return &RoleAdmin{store: store, now: now}, nil
}

// CreateRole creates a non-system role with the given permissions.
func (a *RoleAdmin) CreateRole(ctx context.Context, name, description string, perms []string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, validationError("role name is required", "name")
	}
	keys, err := cleanPermissions(perms)
	if err != nil {
		return Role{}, err
	}
	now := a.now().UTC()
	role := &Role{
		UUID:        uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.CreateRole(ctx, role); err != nil {
		return Role{}, err
	}
	if err := a.store.SetRolePermissions(ctx, role.ID, keys); err != nil {
		return Role{}, err
	}
	return *role, nil
}

func (a *RoleAdmin) ListRoles(ctx context.Context) ([]Role, error) {
	return a.store.ListRoles(ctx)
}

// GetRole returns the role with its permission strings.
func (a *RoleAdmin) GetRole(ctx context.Context, id int64) (Role, []string, error) {
	if id <= 0 {
		return Role{}, nil, validationError("invalid role id", "roleId")
	}
	role, err := a.store.FindRole(ctx, id)
	if err != nil {
		return Role{}, nil, err
	}
	perms, err := a.store.RolePermissions(ctx, id)
	if err != nil {
		return Role{}, nil, err
	}
	return *role, dedupeStrings(perms), nil
}

// SetRolePermissions replaces the role's grant. Every entry must name a known module and action.
func (a *RoleAdmin) SetRolePermissions(ctx context.Context, id int64, perms []string) error {
	if id <= 0 {
		return validationError("invalid role id", "roleId")
	}
	keys, err := cleanPermissions(perms)
	if err != nil {
		return err
	}
	if _, err := a.store.FindRole(ctx, id); err != nil {
		return err
	}
	return a.store.SetRolePermissions(ctx, id, keys)
}

// DeleteRole refuses to delete system roles.
func (a *RoleAdmin) DeleteRole(ctx context.Context, id int64) error {
	if id <= 0 {
		return validationError("invalid role id", "roleId")
	}
	role, err := a.store.FindRole(ctx, id)
	if err != nil {
		return err
	}
	if role.System {
		return newError(KindPermissionDenied, fmt.Sprintf("role %q is a system role", role.Name))
	}
	return a.store.DeleteRole(ctx, id)
}

// SeedDefaults installs or refreshes the built-in roles. It is safe to run repeatedly.
func (a *RoleAdmin) SeedDefaults(ctx context.Context) ([]Role, error) {
	var out []Role
	for _, def := range DefaultRoles() {
		role, err := a.upsert(ctx, def)
		if err != nil {
			return nil, fmt.Errorf("seed role %s: %w", def.Name, err)
		}
		out = append(out, role)
	}
	return out, nil
}

func (a *RoleAdmin) upsert(ctx context.Context, def RoleDefinition) (Role, error) {
	now := a.now().UTC()
	role, err := a.store.FindRoleByName(ctx, def.Name)
	switch {
	case errors.Is(err, ErrNotFound):
		role = &Role{
			UUID:        uuid.NewString(),
			Name:        def.Name,
			Description: def.Description,
			System:      def.System,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := a.store.CreateRole(ctx, role); err != nil {
			return Role{}, err
		}
	case err != nil:
		return Role{}, err
	default:
		role.Description = def.Description
		role.System = def.System
		role.UpdatedAt = now
		if err := a.store.UpdateRole(ctx, role); err != nil {
			return Role{}, err
		}
	}
	if err := a.store.SetRolePermissions(ctx, role.ID, def.Permissions); err != nil {
		return Role{}, err
	}
	return *role, nil
}

func cleanPermissions(perms []string) ([]string, error) {
	keys := dedupeStrings(perms)
	var bad []string
	for _, k := range keys {
		if !ValidPermission(k) {
			bad = append(bad, k)
		}
	}
	if len(bad) > 0 {
		return nil, validationError("invalid permission strings", bad...)
	}
	return keys, nil
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
