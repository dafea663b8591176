package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Throttle scopes.
const (
	ScopeLogin = "login"
	ScopeReset = "reset"
)

// Throttle counts attempts per scope and key within a window.
type Throttle interface {
	// Allow reports whether another attempt is permitted.
	Allow(ctx context.Context, scope, key string) (bool, error)
	Hit(ctx context.Context, scope, key string) error
	Clear(ctx context.Context, scope, key string) error
}

// Service composes credentials, tokens, sessions and reset tokens into the
// registration, login, refresh, logout and password use cases.
type Service struct {
	store      Store
	tokens     *TokenIssuer
	passwords  *PasswordManager
	throttle   Throttle
	notifier   ResetNotifier
	refreshTTL time.Duration
	now        func() time.Time

	sessions *SessionLedger
	resets   *ResetFlow
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithRefreshLifetime sets the session lifetime from a duration spec such as "7d".
func WithRefreshLifetime(spec string) ServiceOption {
	return func(s *Service) error {
		if strings.TrimSpace(spec) == "" {
			return nil
		}
		ttl, err := ParseLifetime(spec)
		if err != nil {
			return &Error{Kind: KindConfiguration, Message: "refresh token lifetime", Err: err}
		}
		s.refreshTTL = ttl
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithPasswordManager replaces the default cost-12 manager.
func WithPasswordManager(pm *PasswordManager) ServiceOption {
	return func(s *Service) error {
		if pm != nil {
			s.passwords = pm
		}
		return nil
	}
}

// WithThrottle enables attempt limiting for login and reset requests.
func WithThrottle(t Throttle) ServiceOption {
	return func(s *Service) error {
		s.throttle = t
		return nil
	}
}

// WithResetNotifier registers the delivery hook for reset tokens.
func WithResetNotifier(n ResetNotifier) ServiceOption {
	return func(s *Service) error {
		s.notifier = n
		return nil
	}
}

// NewService constructs Service. Both store and tokens are required.
func NewService(store Store, tokens *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, newError(KindConfiguration, "store is required")
	}
	if tokens == nil {
		return nil, newError(KindConfiguration, "token issuer is required")
	}
	refreshTTL, _ := ParseDuration(DefaultRefreshLifetime)
	svc := &Service{
		store:      store,
		tokens:     tokens,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.passwords == nil {
		svc.passwords = NewPasswordManager()
	}
	svc.sessions = NewSessionLedger(store, svc.now)
	svc.resets = NewResetFlow(store, store, svc.sessions, svc.passwords, svc.notifier, svc.now)
	return svc, nil
}

// Sessions exposes the session ledger.
func (s *Service) Sessions() *SessionLedger { return s.sessions }

// Tokens exposes the token issuer.
func (s *Service) Tokens() *TokenIssuer { return s.tokens }

// Register validates input, enforces (email, accountType) uniqueness and persists a new active account.
func (s *Service) Register(ctx context.Context, in RegisterInput) (AccountView, error) {
	in.Email = normalizeEmail(in.Email)
	in.EntityID = strings.TrimSpace(in.EntityID)
	if verr := validateRegistration(in); verr != nil {
		return AccountView{}, verr
	}
	role, err := s.store.FindRole(ctx, in.RoleID)
	if errors.Is(err, ErrNotFound) {
		return AccountView{}, validationError("role does not exist", "roleId")
	}
	if err != nil {
		return AccountView{}, err
	}
	if res := s.passwords.ValidatePolicy(in.Password); !res.OK {
		return AccountView{}, policyError(res.Violations)
	}

	_, err = s.store.FindAccountByEmailAndType(ctx, in.Email, in.AccountType)
	switch {
	case err == nil:
		return AccountView{}, newError(KindConflict, "an account with this email and type already exists")
	case !errors.Is(err, ErrNotFound):
		return AccountView{}, err
	}

	hash, err := s.passwords.Hash(ctx, in.Password)
	if err != nil {
		return AccountView{}, err
	}
	now := s.now().UTC()
	account := &Account{
		UUID:         uuid.NewString(),
		Email:        in.Email,
		AccountType:  in.AccountType,
		EntityID:     in.EntityID,
		PasswordHash: hash,
		RoleID:       role.ID,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return AccountView{}, err
	}
	view := viewOf(account)
	view.RoleName = role.Name
	return view, nil
}

// Login checks credentials and opens a session. A missing account and a wrong
// password fail with the same error after the same amount of hashing work.
func (s *Service) Login(ctx context.Context, cred Credentials, client ClientInfo) (LoginResult, error) {
	email := normalizeEmail(cred.Email)
	key := throttleKey(email, cred.AccountType)
	keys := throttleKeys(key, client)
	if err := s.checkThrottle(ctx, ScopeLogin, keys); err != nil {
		return LoginResult{}, err
	}

	account, err := s.store.FindAccountByEmailAndType(ctx, email, cred.AccountType)
	if errors.Is(err, ErrNotFound) {
		if err := s.passwords.BurnVerify(ctx, cred.Password); err != nil {
			return LoginResult{}, err
		}
		return LoginResult{}, s.failLogin(ctx, keys)
	}
	if err != nil {
		return LoginResult{}, err
	}
	ok, err := s.passwords.Verify(ctx, cred.Password, account.PasswordHash)
	if err != nil {
		return LoginResult{}, err
	}
	if !ok {
		return LoginResult{}, s.failLogin(ctx, keys)
	}
	if !account.Active {
		return LoginResult{}, newError(KindAccountDisabled, "account is disabled")
	}
	if s.throttle != nil {
		if err := s.throttle.Clear(ctx, ScopeLogin, key); err != nil {
			return LoginResult{}, err
		}
	}

	roleName, perms, err := s.resolvePermissions(ctx, account.RoleID)
	if err != nil {
		return LoginResult{}, err
	}
	refreshToken, err := s.tokens.IssueRefreshToken()
	if err != nil {
		return LoginResult{}, err
	}
	sess, err := s.sessions.Open(ctx, account.ID, refreshToken, client, s.refreshTTL)
	if err != nil {
		return LoginResult{}, err
	}
	access, exp, err := s.tokens.MintAccessToken(payloadOf(account, perms, sess.ID))
	if err != nil {
		return LoginResult{}, err
	}

	now := s.now().UTC()
	account.LastLogin = &now
	account.UpdatedAt = now
	if err := s.store.UpdateAccount(ctx, account); err != nil {
		return LoginResult{}, err
	}

	view := viewOf(account)
	view.RoleName = roleName
	view.Permissions = perms
	return LoginResult{
		AccessToken:     access,
		RefreshToken:    refreshToken,
		AccessExpiresAt: exp,
		Account:         view,
	}, nil
}

// Refresh mints a new access token from a live session. Permissions are
// re-resolved so role changes apply here. The refresh token is not rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (LoginResult, error) {
	sess, err := s.sessions.FindByRefreshToken(ctx, strings.TrimSpace(refreshToken))
	if err != nil {
		return LoginResult{}, err
	}
	if !s.sessions.Usable(sess) {
		return LoginResult{}, newError(KindInvalidToken, "invalid or expired refresh token")
	}
	account, err := s.store.FindAccountByID(ctx, sess.AccountID)
	if errors.Is(err, ErrNotFound) {
		return LoginResult{}, newError(KindInvalidToken, "invalid or expired refresh token")
	}
	if err != nil {
		return LoginResult{}, err
	}
	if !account.Active {
		return LoginResult{}, newError(KindAccountDisabled, "account is disabled")
	}
	roleName, perms, err := s.resolvePermissions(ctx, account.RoleID)
	if err != nil {
		return LoginResult{}, err
	}
	access, exp, err := s.tokens.MintAccessToken(payloadOf(account, perms, sess.ID))
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.sessions.Touch(ctx, sess, client); err != nil {
		return LoginResult{}, err
	}
	view := viewOf(account)
	view.RoleName = roleName
	view.Permissions = perms
	return LoginResult{
		AccessToken:     access,
		RefreshToken:    sess.RefreshToken,
		AccessExpiresAt: exp,
		Account:         view,
	}, nil
}

// Logout revokes the session behind refreshToken. Unknown or revoked tokens are not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	sess, err := s.sessions.FindByRefreshToken(ctx, strings.TrimSpace(refreshToken))
	if err != nil {
		return err
	}
	return s.sessions.Revoke(ctx, sess)
}

// LogoutAll revokes every session of the account.
func (s *Service) LogoutAll(ctx context.Context, accountID int64) (int64, error) {
	return s.sessions.RevokeAllForAccount(ctx, accountID)
}

// ChangePassword replaces the password after checking the current one, then revokes every session.
func (s *Service) ChangePassword(ctx context.Context, accountID int64, current, next string) error {
	account, err := s.store.FindAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	ok, err := s.passwords.Verify(ctx, current, account.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return newError(KindInvalidCredentials, "current password is incorrect")
	}
	if res := s.passwords.ValidatePolicy(next); !res.OK {
		return policyError(res.Violations)
	}
	hash, err := s.passwords.Hash(ctx, next)
	if err != nil {
		return err
	}
	account.PasswordHash = hash
	account.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateAccount(ctx, account); err != nil {
		return err
	}
	_, err = s.sessions.RevokeAllForAccount(ctx, accountID)
	return err
}

// RequestPasswordReset always answers with the same receipt.
func (s *Service) RequestPasswordReset(ctx context.Context, email string, typ AccountType, client ClientInfo) (ResetReceipt, error) {
	keys := throttleKeys(throttleKey(normalizeEmail(email), typ), client)
	if err := s.checkThrottle(ctx, ScopeReset, keys); err != nil {
		return ResetReceipt{}, err
	}
	if err := s.hitThrottle(ctx, ScopeReset, keys); err != nil {
		return ResetReceipt{}, err
	}
	return s.resets.Request(ctx, email, typ, client)
}

// ConfirmPasswordReset consumes a reset token and sets a new password.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, next string) error {
	_, err := s.resets.Confirm(ctx, token, next)
	return err
}

// Account returns the account view with role name and resolved permissions.
func (s *Service) Account(ctx context.Context, accountID int64) (AccountView, error) {
	account, err := s.store.FindAccountByID(ctx, accountID)
	if err != nil {
		return AccountView{}, err
	}
	roleName, perms, err := s.resolvePermissions(ctx, account.RoleID)
	if err != nil {
		return AccountView{}, err
	}
	view := viewOf(account)
	view.RoleName = roleName
	view.Permissions = perms
	return view, nil
}

// VerifyAccount marks the account's email as verified.
func (s *Service) VerifyAccount(ctx context.Context, accountID int64) (AccountView, error) {
	account, err := s.store.FindAccountByID(ctx, accountID)
	if err != nil {
		return AccountView{}, err
	}
	if !account.Verified {
		account.Verified = true
		account.UpdatedAt = s.now().UTC()
		if err := s.store.UpdateAccount(ctx, account); err != nil {
			return AccountView{}, err
		}
	}
	return viewOf(account), nil
}

// SetActive flips the active flag. Deactivation also revokes every session.
func (s *Service) SetActive(ctx context.Context, accountID int64, active bool) (AccountView, error) {
	account, err := s.store.FindAccountByID(ctx, accountID)
	if err != nil {
		return AccountView{}, err
	}
	if account.Active != active {
		account.Active = active
		account.UpdatedAt = s.now().UTC()
		if err := s.store.UpdateAccount(ctx, account); err != nil {
			return AccountView{}, err
		}
	}
	if !active {
		if _, err := s.sessions.RevokeAllForAccount(ctx, accountID); err != nil {
			return AccountView{}, err
		}
	}
	return viewOf(account), nil
}

// CleanupReport counts rows removed by CleanupExpired.
type CleanupReport struct {
	Sessions    int64 `json:"sessions"`
	ResetTokens int64 `json:"resetTokens"`
}

// CleanupExpired removes expired sessions and reset tokens.
func (s *Service) CleanupExpired(ctx context.Context) (CleanupReport, error) {
	now := s.now().UTC()
	var report CleanupReport
	n, err := s.sessions.SweepExpired(ctx, now)
	if err != nil {
		return report, fmt.Errorf("sweep sessions: %w", err)
	}
	report.Sessions = n
	if n, err = s.resets.SweepExpired(ctx, now); err != nil {
		return report, fmt.Errorf("sweep reset tokens: %w", err)
	}
	report.ResetTokens = n
	return report, nil
}

// Authenticate turns a bearer access token into a Principal.
func (s *Service) Authenticate(token string) (Principal, error) {
	claims, ok := s.tokens.VerifyAccessToken(token)
	if !ok {
		return Principal{}, newError(KindInvalidToken, "invalid or expired access token")
	}
	return principalFromClaims(claims), nil
}

// Authorize fails with a permission-denied error unless p may perform action on module.
func (s *Service) Authorize(p Principal, module, action string) error {
	if !p.Can(module, action) {
		return &Error{Kind: KindPermissionDenied, Message: fmt.Sprintf("missing permission %s.%s", module, action)}
	}
	return nil
}

func (s *Service) resolvePermissions(ctx context.Context, roleID int64) (string, []string, error) {
	role, err := s.store.FindRole(ctx, roleID)
	if errors.Is(err, ErrNotFound) {
		return "", []string{}, nil
	}
	if err != nil {
		return "", nil, err
	}
	perms, err := s.store.RolePermissions(ctx, roleID)
	if err != nil {
		return "", nil, err
	}
	perms = dedupeStrings(perms)
	if perms == nil {
		perms = []string{}
	}
	return role.Name, perms, nil
}

func (s *Service) checkThrottle(ctx context.Context, scope string, keys []string) error {
	if s.throttle == nil {
		return nil
	}
	for _, key := range keys {
		ok, err := s.throttle.Allow(ctx, scope, key)
		if err != nil {
			return err
		}
		if !ok {
			return newError(KindRateLimited, "too many attempts, try again later")
		}
	}
	return nil
}

func (s *Service) hitThrottle(ctx context.Context, scope string, keys []string) error {
	if s.throttle == nil {
		return nil
	}
	for _, key := range keys {
		if err := s.throttle.Hit(ctx, scope, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) failLogin(ctx context.Context, keys []string) error {
	if err := s.hitThrottle(ctx, ScopeLogin, keys); err != nil {
		return err
	}
	return newError(KindInvalidCredentials, "invalid email or password")
}

func payloadOf(a *Account, perms []string, sessionID string) TokenPayload {
	return TokenPayload{
		AccountID:   a.ID,
		Email:       a.Email,
		AccountType: a.AccountType,
		RoleID:      a.RoleID,
		Permissions: perms,
		SessionID:   sessionID,
	}
}

func throttleKey(email string, typ AccountType) string {
	return string(typ) + ":" + email
}

// throttleKeys adds the client address so one IP cannot spray many accounts.
func throttleKeys(accountKey string, client ClientInfo) []string {
	keys := []string{accountKey}
	if ip := strings.TrimSpace(client.IP); ip != "" {
		keys = append(keys, "ip:"+ip)
	}
	return keys
}
