package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"edgauth.org/internal/auth"
)

type createRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type updateRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type roleResponse struct {
	ID          int64     `json:"id"`
	UUID        string    `json:"uuid"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	System      bool      `json:"isSystem"`
	Permissions []string  `json:"permissions,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func roleOf(role auth.Role, perms []string) roleResponse {
	return roleResponse{
		ID:          role.ID,
		UUID:        role.UUID,
		Name:        role.Name,
		Description: role.Description,
		System:      role.System,
		Permissions: perms,
		CreatedAt:   role.CreatedAt,
	}
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	roles, err := a.roles.ListRoles(r.Context())
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, roleOf(role, nil))
	}
	writeData(w, http.StatusOK, out, "")
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.roles.CreateRole(r.Context(), req.Name, req.Description, req.Permissions)
	a.record(r, "role_create", p.AccountID, err, map[string]any{"name": req.Name})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_, perms, err := a.roles.GetRole(r.Context(), role.ID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%d", role.ID))
	writeData(w, http.StatusCreated, roleOf(role, perms), "role created")
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, perms, err := a.roles.GetRole(r.Context(), id)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, roleOf(role, perms), "")
}

func (a *API) handleSetRolePermissions(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var req updateRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err = a.roles.SetRolePermissions(r.Context(), id, req.Permissions)
	a.record(r, "role_permissions", p.AccountID, err, map[string]any{"role_id": id, "permissions": req.Permissions})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	role, perms, err := a.roles.GetRole(r.Context(), id)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, roleOf(role, perms), "permissions updated")
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err = a.roles.DeleteRole(r.Context(), id)
	a.record(r, "role_delete", p.AccountID, err, map[string]any{"role_id": id})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetAccount(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	view, err := a.svc.Account(r.Context(), id)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, view, "")
}

func (a *API) handleVerifyAccount(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	view, err := a.svc.VerifyAccount(r.Context(), id)
	a.record(r, "account_verify", p.AccountID, err, map[string]any{"target": id})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, view, "account verified")
}

func (a *API) handleSetActive(active bool) authedHandler {
	op := "account_deactivate"
	if active {
		op = "account_activate"
	}
	return func(w http.ResponseWriter, r *http.Request, p auth.Principal) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		view, err := a.svc.SetActive(r.Context(), id, active)
		a.record(r, op, p.AccountID, err, map[string]any{"target": id})
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, view, "")
	}
}
