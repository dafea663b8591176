package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"edgauth.org/internal/auth"
	"edgauth.org/internal/obs"
)

type captureNotifier struct {
	mu    sync.Mutex
	token string
}

func (n *captureNotifier) NotifyPasswordReset(_ context.Context, _ *auth.Account, token string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.token = token
	return nil
}

func (n *captureNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.token
}

type testEnv struct {
	handler  http.Handler
	notifier *captureNotifier
}

type apiResponse struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Error      string          `json:"error"`
	Code       string          `json:"code"`
	Violations []string        `json:"violations"`
	RequestID  string          `json:"request_id"`
}

func newTestEnv(t *testing.T, ready readinessChecker) *testEnv {
	t.Helper()
	obs.SetLogger(obs.NewLogger("", io.Discard))

	store := auth.NewMemoryStore()
	roles, err := auth.NewRoleAdmin(store, nil)
	if err != nil {
		t.Fatalf("NewRoleAdmin: %v", err)
	}
	if _, err := roles.SeedDefaults(context.Background()); err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}
	tokens, err := auth.NewTokenIssuer("http-test-secret")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	notifier := &captureNotifier{}
	svc, err := auth.NewService(store, tokens,
		auth.WithPasswordManager(auth.NewPasswordManager(auth.WithBcryptCost(bcrypt.MinCost))),
		auth.WithResetNotifier(notifier),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	api := New(Options{Service: svc, Roles: roles, Ready: ready, Version: "test"})
	return &testEnv{handler: api.Handler(), notifier: notifier}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.10:4000"
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)

	var resp apiResponse
	if rr.Body.Len() > 0 && rr.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s %s: decode response: %v (%s)", method, path, err, rr.Body.String())
		}
	}
	return rr.Code, resp
}

func (e *testEnv) register(t *testing.T, email string, roleID int64) auth.AccountView {
	t.Helper()
	code, resp := e.do(t, http.MethodPost, "/v1/auth/register", "", registerRequest{
		Email:       email,
		Password:    "Abcdef12",
		AccountType: auth.AccountTypeCliente,
		EntityID:    uuid.NewString(),
		RoleID:      roleID,
	})
	if code != http.StatusCreated {
		t.Fatalf("register %s: status %d (%+v)", email, code, resp)
	}
	var view auth.AccountView
	mustDecode(t, resp.Data, &view)
	return view
}

func (e *testEnv) login(t *testing.T, email, password string) auth.LoginResult {
	t.Helper()
	code, resp := e.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		Email: email, Password: password, AccountType: auth.AccountTypeCliente,
	})
	if code != http.StatusOK {
		t.Fatalf("login %s: status %d (%+v)", email, code, resp)
	}
	var res auth.LoginResult
	mustDecode(t, resp.Data, &res)
	return res
}

func mustDecode(t *testing.T, raw json.RawMessage, dst any) {
	t.Helper()
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("decode data: %v (%s)", err, raw)
	}
}

func TestRegisterLoginMe(t *testing.T) {
	env := newTestEnv(t, nil)
	view := env.register(t, "Mario@Example.com", 3)
	if view.Email != "mario@example.com" || view.RoleName != "operatore" {
		t.Fatalf("unexpected view %+v", view)
	}

	res := env.login(t, "mario@example.com", "Abcdef12")
	if res.AccessToken == "" || len(res.RefreshToken) != 128 {
		t.Fatalf("unexpected tokens %+v", res)
	}

	code, resp := env.do(t, http.MethodGet, "/v1/auth/me", res.AccessToken, nil)
	if code != http.StatusOK {
		t.Fatalf("me: status %d", code)
	}
	var me auth.AccountView
	mustDecode(t, resp.Data, &me)
	if me.ID != view.ID || me.LastLogin == nil || len(me.Permissions) == 0 {
		t.Fatalf("unexpected me %+v", me)
	}

	code, resp = env.do(t, http.MethodPost, "/v1/auth/authorize", res.AccessToken, authorizeRequest{Module: "spedizioni", Action: "approve"})
	var decision struct {
		Allowed bool `json:"allowed"`
	}
	mustDecode(t, resp.Data, &decision)
	if code != http.StatusOK || !decision.Allowed {
		t.Fatalf("operatore should approve spedizioni: %d %+v", code, decision)
	}
	_, resp = env.do(t, http.MethodPost, "/v1/auth/authorize", res.AccessToken, authorizeRequest{Module: "report", Action: "delete"})
	mustDecode(t, resp.Data, &decision)
	if decision.Allowed {
		t.Fatal("operatore must not delete reports")
	}
}

func TestRegisterFailures(t *testing.T) {
	env := newTestEnv(t, nil)

	code, resp := env.do(t, http.MethodPost, "/v1/auth/register", "", registerRequest{
		Email: "not-an-email", Password: "Abcdef12", AccountType: auth.AccountTypeCliente, EntityID: uuid.NewString(), RoleID: 3,
	})
	if code != http.StatusBadRequest || resp.Code != "validation" || resp.RequestID == "" {
		t.Fatalf("expected validation failure, got %d %+v", code, resp)
	}

	code, resp = env.do(t, http.MethodPost, "/v1/auth/register", "", registerRequest{
		Email: "weak@example.com", Password: "short", AccountType: auth.AccountTypeCliente, EntityID: uuid.NewString(), RoleID: 3,
	})
	if code != http.StatusBadRequest || resp.Code != "policy" || len(resp.Violations) == 0 {
		t.Fatalf("expected policy failure with violations, got %d %+v", code, resp)
	}

	env.register(t, "dup@example.com", 3)
	code, resp = env.do(t, http.MethodPost, "/v1/auth/register", "", registerRequest{
		Email: "DUP@example.com", Password: "Abcdef12", AccountType: auth.AccountTypeCliente, EntityID: uuid.NewString(), RoleID: 3,
	})
	if code != http.StatusConflict {
		t.Fatalf("expected conflict, got %d %+v", code, resp)
	}

	code, _ = env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]any{"unexpected": true})
	if code != http.StatusBadRequest {
		t.Fatalf("unknown fields should be rejected, got %d", code)
	}
}

func TestLoginFailuresLookAlike(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "known@example.com", 3)

	codeA, respA := env.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		Email: "known@example.com", Password: "Wrong999", AccountType: auth.AccountTypeCliente,
	})
	codeB, respB := env.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		Email: "unknown@example.com", Password: "Wrong999", AccountType: auth.AccountTypeCliente,
	})
	if codeA != http.StatusUnauthorized || codeB != http.StatusUnauthorized {
		t.Fatalf("expected 401s, got %d and %d", codeA, codeB)
	}
	if respA.Error != respB.Error || respA.Code != respB.Code {
		t.Fatalf("failures must be indistinguishable: %+v vs %+v", respA, respB)
	}
}

func TestRefreshAndLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "r@example.com", 4)
	res := env.login(t, "r@example.com", "Abcdef12")

	code, resp := env.do(t, http.MethodPost, "/v1/auth/refresh", "", refreshRequest{RefreshToken: res.RefreshToken})
	if code != http.StatusOK {
		t.Fatalf("refresh: %d %+v", code, resp)
	}
	var refreshed auth.LoginResult
	mustDecode(t, resp.Data, &refreshed)
	if refreshed.RefreshToken != res.RefreshToken || refreshed.AccessToken == "" {
		t.Fatalf("unexpected refresh result %+v", refreshed)
	}

	if code, _ := env.do(t, http.MethodPost, "/v1/auth/logout", "", refreshRequest{RefreshToken: res.RefreshToken}); code != http.StatusOK {
		t.Fatalf("logout: %d", code)
	}
	if code, _ := env.do(t, http.MethodPost, "/v1/auth/logout", "", refreshRequest{RefreshToken: res.RefreshToken}); code != http.StatusOK {
		t.Fatalf("second logout should be a no-op, got %d", code)
	}
	code, resp = env.do(t, http.MethodPost, "/v1/auth/refresh", "", refreshRequest{RefreshToken: res.RefreshToken})
	if code != http.StatusUnauthorized || resp.Error != "invalid or expired token" {
		t.Fatalf("revoked refresh should fail, got %d %+v", code, resp)
	}
}

func TestLogoutAllAndChangePassword(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "c@example.com", 4)
	first := env.login(t, "c@example.com", "Abcdef12")
	second := env.login(t, "c@example.com", "Abcdef12")

	code, resp := env.do(t, http.MethodPost, "/v1/auth/logout-all", first.AccessToken, nil)
	if code != http.StatusOK {
		t.Fatalf("logout-all: %d %+v", code, resp)
	}
	var revoked map[string]int64
	mustDecode(t, resp.Data, &revoked)
	if revoked["revoked"] != 2 {
		t.Fatalf("expected 2 revoked sessions, got %v", revoked)
	}
	if code, _ := env.do(t, http.MethodPost, "/v1/auth/refresh", "", refreshRequest{RefreshToken: second.RefreshToken}); code != http.StatusUnauthorized {
		t.Fatalf("second session should be revoked, got %d", code)
	}

	third := env.login(t, "c@example.com", "Abcdef12")
	code, resp = env.do(t, http.MethodPost, "/v1/auth/change-password", third.AccessToken, changePasswordRequest{
		CurrentPassword: "Wrong000", NewPassword: "Newpass99",
	})
	if code != http.StatusUnauthorized {
		t.Fatalf("wrong current password: %d %+v", code, resp)
	}
	code, _ = env.do(t, http.MethodPost, "/v1/auth/change-password", third.AccessToken, changePasswordRequest{
		CurrentPassword: "Abcdef12", NewPassword: "Newpass99",
	})
	if code != http.StatusOK {
		t.Fatalf("change-password: %d", code)
	}
	if code, _ := env.do(t, http.MethodPost, "/v1/auth/refresh", "", refreshRequest{RefreshToken: third.RefreshToken}); code != http.StatusUnauthorized {
		t.Fatalf("sessions must be revoked after password change, got %d", code)
	}
	env.login(t, "c@example.com", "Newpass99")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, nil)
	if code, resp := env.do(t, http.MethodGet, "/v1/auth/me", "", nil); code != http.StatusUnauthorized || resp.Error != "missing bearer token" {
		t.Fatalf("missing token: %d %+v", code, resp)
	}
	if code, resp := env.do(t, http.MethodGet, "/v1/auth/me", "garbage", nil); code != http.StatusUnauthorized || resp.Code != "invalid_token" {
		t.Fatalf("garbage token: %d %+v", code, resp)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "p@example.com", 4)

	_, unknown := env.do(t, http.MethodPost, "/v1/auth/password-reset/request", "", resetRequest{Email: "ghost@example.com", AccountType: auth.AccountTypeCliente})
	code, known := env.do(t, http.MethodPost, "/v1/auth/password-reset/request", "", resetRequest{Email: "p@example.com", AccountType: auth.AccountTypeCliente})
	if code != http.StatusOK || known.Message != unknown.Message || known.Message == "" {
		t.Fatalf("reset acknowledgement must not disclose existence: %+v vs %+v", known, unknown)
	}
	token := env.notifier.last()
	if len(token) != 64 {
		t.Fatalf("expected a 64-char reset token, got %q", token)
	}

	code, resp := env.do(t, http.MethodPost, "/v1/auth/password-reset/confirm", "", resetConfirmRequest{Token: token, NewPassword: "weak"})
	if code != http.StatusBadRequest || resp.Code != "policy" {
		t.Fatalf("weak reset password: %d %+v", code, resp)
	}
	if code, _ := env.do(t, http.MethodPost, "/v1/auth/password-reset/confirm", "", resetConfirmRequest{Token: token, NewPassword: "Resetpw1"}); code != http.StatusOK {
		t.Fatalf("confirm: %d", code)
	}
	if code, _ := env.do(t, http.MethodPost, "/v1/auth/password-reset/confirm", "", resetConfirmRequest{Token: token, NewPassword: "Resetpw2"}); code != http.StatusUnauthorized {
		t.Fatalf("reused reset token must fail, got %d", code)
	}
	env.login(t, "p@example.com", "Resetpw1")
}

func TestRoleAdministration(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "root@example.com", 1)
	env.register(t, "guest@example.com", 4)
	root := env.login(t, "root@example.com", "Abcdef12")
	guest := env.login(t, "guest@example.com", "Abcdef12")

	if code, _ := env.do(t, http.MethodGet, "/v1/roles", guest.AccessToken, nil); code != http.StatusForbidden {
		t.Fatalf("guest must not list roles, got %d", code)
	}

	code, resp := env.do(t, http.MethodGet, "/v1/roles", root.AccessToken, nil)
	var roles []roleResponse
	mustDecode(t, resp.Data, &roles)
	if code != http.StatusOK || len(roles) != 4 {
		t.Fatalf("list roles: %d %v", code, roles)
	}

	code, resp = env.do(t, http.MethodPost, "/v1/roles", root.AccessToken, createRoleRequest{
		Name: "auditor", Permissions: []string{"report.read", "report.export"},
	})
	if code != http.StatusCreated {
		t.Fatalf("create role: %d %+v", code, resp)
	}
	var created roleResponse
	mustDecode(t, resp.Data, &created)
	if len(created.Permissions) != 2 || created.System {
		t.Fatalf("unexpected role %+v", created)
	}

	path := "/v1/roles/" + itoa(created.ID)
	code, resp = env.do(t, http.MethodPut, path+"/permissions", root.AccessToken, updateRolePermissionsRequest{
		Permissions: []string{"report.*", "!report.delete"},
	})
	if code != http.StatusOK {
		t.Fatalf("set permissions: %d %+v", code, resp)
	}
	if code, resp := env.do(t, http.MethodPut, path+"/permissions", root.AccessToken, updateRolePermissionsRequest{
		Permissions: []string{"ledger.read"},
	}); code != http.StatusBadRequest {
		t.Fatalf("unknown module should be rejected: %d %+v", code, resp)
	}

	if code, _ := env.do(t, http.MethodDelete, "/v1/roles/1", root.AccessToken, nil); code != http.StatusForbidden {
		t.Fatalf("system role deletion must be refused, got %d", code)
	}
	if code, _ := env.do(t, http.MethodDelete, path, root.AccessToken, nil); code != http.StatusNoContent {
		t.Fatalf("delete role: %d", code)
	}
	if code, _ := env.do(t, http.MethodGet, path, root.AccessToken, nil); code != http.StatusNotFound {
		t.Fatalf("deleted role should be gone, got %d", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/v1/roles/abc", root.AccessToken, nil); code != http.StatusBadRequest {
		t.Fatalf("bad id should be 400, got %d", code)
	}
}

func TestAccountAdministration(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "admin@example.com", 2)
	target := env.register(t, "user@example.com", 4)
	admin := env.login(t, "admin@example.com", "Abcdef12")
	user := env.login(t, "user@example.com", "Abcdef12")

	path := "/v1/accounts/" + itoa(target.ID)
	code, resp := env.do(t, http.MethodPost, path+"/verify", admin.AccessToken, nil)
	var view auth.AccountView
	mustDecode(t, resp.Data, &view)
	if code != http.StatusOK || !view.Verified {
		t.Fatalf("verify: %d %+v", code, view)
	}

	if code, _ := env.do(t, http.MethodPost, path+"/deactivate", user.AccessToken, nil); code != http.StatusForbidden {
		t.Fatalf("guest must not deactivate accounts, got %d", code)
	}
	if code, _ := env.do(t, http.MethodPost, path+"/deactivate", admin.AccessToken, nil); code != http.StatusOK {
		t.Fatalf("deactivate: %d", code)
	}
	code, resp = env.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		Email: "user@example.com", Password: "Abcdef12", AccountType: auth.AccountTypeCliente,
	})
	if code != http.StatusForbidden || resp.Code != "account_disabled" {
		t.Fatalf("disabled login: %d %+v", code, resp)
	}
	if code, _ := env.do(t, http.MethodPost, "/v1/auth/refresh", "", refreshRequest{RefreshToken: user.RefreshToken}); code != http.StatusUnauthorized {
		t.Fatalf("deactivation should revoke sessions, got %d", code)
	}
	if code, _ := env.do(t, http.MethodPost, path+"/activate", admin.AccessToken, nil); code != http.StatusOK {
		t.Fatalf("activate: %d", code)
	}
	env.login(t, "user@example.com", "Abcdef12")

	if code, _ := env.do(t, http.MethodGet, "/v1/accounts/999", admin.AccessToken, nil); code != http.StatusNotFound {
		t.Fatalf("missing account should be 404, got %d", code)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnv(t, nil)
	if code, _ := env.do(t, http.MethodGet, "/healthz", "", nil); code != http.StatusOK {
		t.Fatalf("healthz: %d", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/readyz", "", nil); code != http.StatusOK {
		t.Fatalf("readyz: %d", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/v1/auth/login", "", nil); code != http.StatusMethodNotAllowed {
		t.Fatalf("wrong method should be 405, got %d", code)
	}

	down := newTestEnv(t, failingReadiness{})
	if code, _ := down.do(t, http.MethodGet, "/readyz", "", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with failing probe: %d", code)
	}
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyProbeChecksCache(t *testing.T) {
	ok := ReadyProbe{Cache: pingerFunc(func(context.Context) error { return nil })}
	if err := ok.Check(context.Background()); err != nil {
		t.Fatalf("expected ready, got %v", err)
	}
	bad := ReadyProbe{Cache: pingerFunc(func(context.Context) error { return errors.New("down") })}
	if err := bad.Check(context.Background()); err == nil {
		t.Fatal("expected cache failure")
	}
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
