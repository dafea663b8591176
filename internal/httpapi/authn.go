package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"edgauth.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authedHandler receives the verified caller as an argument.
type authedHandler func(w http.ResponseWriter, r *http.Request, p auth.Principal)

func (a *API) authenticated(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		principal, err := a.svc.Authenticate(token)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		next(w, r, principal)
	}
}

func (a *API) requirePermission(module, action string, next authedHandler) http.HandlerFunc {
	return a.authenticated(func(w http.ResponseWriter, r *http.Request, p auth.Principal) {
		if err := a.svc.Authorize(p, module, action); err != nil {
			writeAuthError(w, r, err)
			return
		}
		next(w, r, p)
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func clientInfo(r *http.Request) auth.ClientInfo {
	return auth.ClientInfo{IP: clientIP(r), UserAgent: r.UserAgent()}
}
