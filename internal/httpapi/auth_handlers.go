package httpapi

import (
	"net/http"
	"time"

	"edgauth.org/internal/auth"
)

type registerRequest struct {
	Email       string           `json:"email"`
	Password    string           `json:"password"`
	AccountType auth.AccountType `json:"accountType"`
	EntityID    string           `json:"entityId"`
	RoleID      int64            `json:"roleId"`
}

type loginRequest struct {
	Email       string           `json:"email"`
	Password    string           `json:"password"`
	AccountType auth.AccountType `json:"accountType"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type resetRequest struct {
	Email       string           `json:"email"`
	AccountType auth.AccountType `json:"accountType"`
}

type resetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type authorizeRequest struct {
	Module string `json:"module"`
	Action string `json:"action"`
}

type principalResponse struct {
	AccountID   int64            `json:"accountId"`
	Email       string           `json:"email"`
	AccountType auth.AccountType `json:"accountType"`
	RoleID      int64            `json:"roleId"`
	SessionID   string           `json:"sessionId,omitempty"`
	Permissions []string         `json:"permissions"`
	ExpiresAt   time.Time        `json:"expiresAt"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	view, err := a.svc.Register(r.Context(), auth.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		AccountType: req.AccountType,
		EntityID:    req.EntityID,
		RoleID:      req.RoleID,
	})
	a.record(r, "register", view.ID, err, map[string]any{"account_type": req.AccountType})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, view, "account created")
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	client := clientInfo(r)
	res, err := a.svc.Login(r.Context(), auth.Credentials{
		Email:       req.Email,
		Password:    req.Password,
		AccountType: req.AccountType,
	}, client)
	a.record(r, "login", res.Account.ID, err, map[string]any{"ip": client.IP})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res, "")
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.svc.Refresh(r.Context(), req.RefreshToken, clientInfo(r))
	a.record(r, "refresh", res.Account.ID, err, nil)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res, "")
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.svc.Logout(r.Context(), req.RefreshToken)
	a.record(r, "logout", 0, err, nil)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nil, "logged out")
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	n, err := a.svc.LogoutAll(r.Context(), p.AccountID)
	a.record(r, "logout_all", p.AccountID, err, map[string]any{"revoked": n})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int64{"revoked": n}, "all sessions revoked")
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.svc.ChangePassword(r.Context(), p.AccountID, req.CurrentPassword, req.NewPassword)
	a.record(r, "change_password", p.AccountID, err, nil)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nil, "password changed")
}

func (a *API) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	client := clientInfo(r)
	receipt, err := a.svc.RequestPasswordReset(r.Context(), req.Email, req.AccountType, client)
	a.record(r, "reset_request", 0, err, map[string]any{"ip": client.IP})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nil, receipt.Message)
}

func (a *API) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := a.svc.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword)
	a.record(r, "reset_confirm", 0, err, nil)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nil, "password has been reset")
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	view, err := a.svc.Account(r.Context(), p.AccountID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, view, "")
}

// handleAuthorize answers whether the caller holds module.action, using only the token's grant.
func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req authorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	allowed := a.svc.Authorize(p, req.Module, req.Action) == nil
	writeData(w, http.StatusOK, map[string]any{
		"allowed":   allowed,
		"principal": principalOf(p),
	}, "")
}

func principalOf(p auth.Principal) principalResponse {
	perms := p.PermissionStrings()
	if perms == nil {
		perms = []string{}
	}
	return principalResponse{
		AccountID:   p.AccountID,
		Email:       p.Email,
		AccountType: p.AccountType,
		RoleID:      p.RoleID,
		SessionID:   p.SessionID,
		Permissions: perms,
		ExpiresAt:   p.ExpiresAt,
	}
}
