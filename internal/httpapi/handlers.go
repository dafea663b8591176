package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"edgauth.org/internal/audit"
	"edgauth.org/internal/auth"
	"edgauth.org/internal/obs"
)

const serviceName = "edg-auth"

// Pinger is anything with a cheap liveness check, e.g. the Redis throttle.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the backing stores.
type ReadyProbe struct {
	DB    *sql.DB
	Cache Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if rp.Cache != nil {
		if err := rp.Cache.Ping(ctx); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	return nil
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Options wires the API to the auth core.
type Options struct {
	Service    *auth.Service
	Roles      *auth.RoleAdmin
	Ready      readinessChecker
	Version    string
	CORSOrigin string
	RateBurst  int
	RatePerSec float64
	MaxBody    int64
}

// API is the HTTP layer.
type API struct {
	mux     *http.ServeMux
	svc     *auth.Service
	roles   *auth.RoleAdmin
	ready   readinessChecker
	version string
	opts    Options
}

func New(opts Options) *API {
	if opts.Ready == nil {
		opts.Ready = ReadyProbe{}
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = 1 << 20
	}
	a := &API{
		mux:     http.NewServeMux(),
		svc:     opts.Service,
		roles:   opts.Roles,
		ready:   opts.Ready,
		version: opts.Version,
		opts:    opts,
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("POST /v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("POST /v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("POST /v1/auth/logout-all", a.authenticated(a.handleLogoutAll))
	a.mux.HandleFunc("POST /v1/auth/change-password", a.authenticated(a.handleChangePassword))
	a.mux.HandleFunc("POST /v1/auth/password-reset/request", a.handleResetRequest)
	a.mux.HandleFunc("POST /v1/auth/password-reset/confirm", a.handleResetConfirm)
	a.mux.HandleFunc("GET /v1/auth/me", a.authenticated(a.handleMe))
	a.mux.HandleFunc("POST /v1/auth/authorize", a.authenticated(a.handleAuthorize))

	if a.roles != nil {
		a.mux.HandleFunc("GET /v1/roles", a.requirePermission(auth.ModuleGestione, auth.ActionRead, a.handleListRoles))
		a.mux.HandleFunc("POST /v1/roles", a.requirePermission(auth.ModuleGestione, auth.ActionCreate, a.handleCreateRole))
		a.mux.HandleFunc("GET /v1/roles/{id}", a.requirePermission(auth.ModuleGestione, auth.ActionRead, a.handleGetRole))
		a.mux.HandleFunc("PUT /v1/roles/{id}/permissions", a.requirePermission(auth.ModuleGestione, auth.ActionUpdate, a.handleSetRolePermissions))
		a.mux.HandleFunc("DELETE /v1/roles/{id}", a.requirePermission(auth.ModuleGestione, auth.ActionDelete, a.handleDeleteRole))
	}
	a.mux.HandleFunc("GET /v1/accounts/{id}", a.requirePermission(auth.ModuleGestione, auth.ActionRead, a.handleGetAccount))
	a.mux.HandleFunc("POST /v1/accounts/{id}/verify", a.requirePermission(auth.ModuleGestione, auth.ActionUpdate, a.handleVerifyAccount))
	a.mux.HandleFunc("POST /v1/accounts/{id}/activate", a.requirePermission(auth.ModuleGestione, auth.ActionUpdate, a.handleSetActive(true)))
	a.mux.HandleFunc("POST /v1/accounts/{id}/deactivate", a.requirePermission(auth.ModuleGestione, auth.ActionUpdate, a.handleSetActive(false)))

	return a
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = MaxBodyBytes(h, a.opts.MaxBody)
	if a.opts.RateBurst > 0 && a.opts.RatePerSec > 0 {
		h = RateLimit(h, a.opts.RateBurst, a.opts.RatePerSec)
	}
	h = CORS(h, a.opts.CORSOrigin)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		obs.Logger().Warn().Err(err).Str("request_id", audit.RequestIDFromContext(r.Context())).Msg("readiness probe failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  "dependency unavailable",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

type envelope struct {
	Success    bool     `json:"success"`
	Data       any      `json:"data,omitempty"`
	Message    string   `json:"message,omitempty"`
	Error      string   `json:"error,omitempty"`
	Code       string   `json:"code,omitempty"`
	Violations []string `json:"violations,omitempty"`
	RequestID  string   `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, data any, message string) {
	writeJSON(w, code, envelope{Success: true, Data: data, Message: message})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, envelope{Error: msg, RequestID: audit.RequestIDFromContext(r.Context())})
}

// writeAuthError maps a typed auth failure onto a status code and a client-safe message.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	kind := auth.KindOf(err)
	body := envelope{Code: kind.String(), RequestID: audit.RequestIDFromContext(r.Context())}
	var code int
	switch kind {
	case auth.KindValidation, auth.KindPolicy, auth.KindInvalidDuration:
		code = http.StatusBadRequest
		body.Error = messageOf(err)
		body.Violations = auth.ViolationsOf(err)
	case auth.KindConflict:
		code = http.StatusConflict
		body.Error = messageOf(err)
	case auth.KindNotFound:
		code = http.StatusNotFound
		body.Error = "not found"
	case auth.KindInvalidCredentials:
		code = http.StatusUnauthorized
		body.Error = "invalid email or password"
	case auth.KindInvalidToken, auth.KindTokenExpired:
		code = http.StatusUnauthorized
		body.Error = "invalid or expired token"
		body.Code = auth.KindInvalidToken.String()
	case auth.KindAccountDisabled:
		code = http.StatusForbidden
		body.Error = "account is disabled"
	case auth.KindPermissionDenied:
		code = http.StatusForbidden
		body.Error = messageOf(err)
	case auth.KindRateLimited:
		code = http.StatusTooManyRequests
		body.Error = "too many attempts, try again later"
	default:
		code = http.StatusInternalServerError
		body.Error = "internal error"
		body.Code = ""
		obs.Logger().Error().Err(err).Str("request_id", body.RequestID).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, code, body)
}

func messageOf(err error) string {
	var e *auth.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return errors.New("request body too large")
		case errors.Is(err, io.EOF):
			return errors.New("request body is empty")
		default:
			return fmt.Errorf("invalid JSON body: %v", err)
		}
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

// record counts the outcome and writes the audit entry for a use case.
func (a *API) record(r *http.Request, op string, accountID int64, err error, fields map[string]any) {
	outcome := "ok"
	if err != nil {
		outcome = auth.KindOf(err).String()
		if fields == nil {
			fields = map[string]any{}
		}
		fields["outcome"] = outcome
	}
	obs.RecordAuth(op, outcome)
	if lerr := audit.LogEvent(r.Context(), "auth."+op, accountID, fields); lerr != nil {
		obs.Logger().Warn().Err(lerr).Msg("audit log failed")
	}
}
