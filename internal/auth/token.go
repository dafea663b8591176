package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultIssuer is the iss claim stamped on every access token.
	DefaultIssuer = "edg-auth-service"

	DefaultAccessLifetime  = "15m"
	DefaultRefreshLifetime = "7d"

	refreshTokenBytes = 64
)

// TokenPayload is the account-derived part of an access token.
type TokenPayload struct {
	AccountID   int64
	Email       string
	AccountType AccountType
	RoleID      int64
	Permissions []string
	SessionID   string
}

// Claims is the signed claim set: {accountId, email, accountType, roleId, permissions, sessionId?, iat, exp, iss}.
type Claims struct {
	AccountID   int64       `json:"accountId"`
	Email       string      `json:"email"`
	AccountType AccountType `json:"accountType"`
	RoleID      int64       `json:"roleId"`
	Permissions []string    `json:"permissions"`
	SessionID   string      `json:"sessionId,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies access tokens and mints opaque refresh tokens.
type TokenIssuer struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	now       func() time.Time
}

// TokenOption configures TokenIssuer.
type TokenOption func(*TokenIssuer) error

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) TokenOption {
	return func(t *TokenIssuer) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			t.issuer = issuer
		}
		return nil
	}
}

// WithAccessLifetime sets the access token lifetime from a duration spec such as "15m".
func WithAccessLifetime(spec string) TokenOption {
	return func(t *TokenIssuer) error {
		if strings.TrimSpace(spec) == "" {
			return nil
		}
		ttl, err := ParseLifetime(spec)
		if err != nil {
			return &Error{Kind: KindConfiguration, Message: "access token lifetime", Err: err}
		}
		t.accessTTL = ttl
		return nil
	}
}

// WithTokenClock overrides the time source.
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(t *TokenIssuer) error {
		if fn != nil {
			t.now = fn
		}
		return nil
	}
}

// NewTokenIssuer fails with a configuration error when secret is empty.
func NewTokenIssuer(secret string, opts ...TokenOption) (*TokenIssuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, newError(KindConfiguration, "signing secret is not configured")
	}
	accessTTL, _ := ParseDuration(DefaultAccessLifetime)
	t := &TokenIssuer{
		secret:    []byte(secret),
		issuer:    DefaultIssuer,
		accessTTL: accessTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// AccessLifetime returns the configured access token lifetime.
func (t *TokenIssuer) AccessLifetime() time.Duration { return t.accessTTL }

// MintAccessToken signs payload with HS256 and returns the token with its expiry.
func (t *TokenIssuer) MintAccessToken(p TokenPayload) (string, time.Time, error) {
	now := t.now().UTC().Truncate(time.Second)
	exp := now.Add(t.accessTTL)
	perms := p.Permissions
	if perms == nil {
		perms = []string{}
	}
	claims := Claims{
		AccountID:   p.AccountID,
		Email:       p.Email,
		AccountType: p.AccountType,
		RoleID:      p.RoleID,
		Permissions: perms,
		SessionID:   p.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

// VerifyAccessToken checks signature, issuer and expiry. Any failure yields (nil, false);
// callers cannot tell an expired token from a forged one.
func (t *TokenIssuer) VerifyAccessToken(token string) (*Claims, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, false
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.now),
	)
	parsed, err := parser.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil {
		return nil, false
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.AccountID <= 0 {
		return nil, false
	}
	return claims, true
}

// IssueRefreshToken returns 64 random bytes, hex encoded. It carries no structure.
func (t *TokenIssuer) IssueRefreshToken() (string, error) {
	return randomHex(refreshTokenBytes)
}

// ExpiresAt resolves a duration spec against the issuer clock.
func (t *TokenIssuer) ExpiresAt(spec string) (time.Time, error) {
	d, err := ParseDuration(spec)
	if err != nil {
		return time.Time{}, err
	}
	return t.now().UTC().Add(d), nil
}

// ParseDuration accepts <integer><m|h|d>, e.g. "30m", "1h", "7d".
func ParseDuration(spec string) (time.Duration, error) {
	spec = strings.TrimSpace(spec)
	if len(spec) < 2 {
		return 0, invalidDuration(spec)
	}
	var unit time.Duration
	switch spec[len(spec)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return 0, invalidDuration(spec)
	}
	digits := spec[:len(spec)-1]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, invalidDuration(spec)
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n > int64(1<<62)/int64(unit) {
		return 0, invalidDuration(spec)
	}
	return time.Duration(n) * unit, nil
}

// ParseLifetime is ParseDuration restricted to positive values, for configured token and session lifetimes.
func ParseLifetime(spec string) (time.Duration, error) {
	ttl, err := ParseDuration(spec)
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		return 0, &Error{Kind: KindInvalidDuration, Message: fmt.Sprintf("lifetime %q must be positive", spec)}
	}
	return ttl, nil
}

func invalidDuration(spec string) *Error {
	return &Error{Kind: KindInvalidDuration, Message: fmt.Sprintf("invalid duration %q, use 30m, 1h or 7d", spec)}
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
