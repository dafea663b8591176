package auth

import (
	"errors"
	"strings"
)

// Kind classifies auth failures. Callers switch on Kind instead of matching messages.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindPolicy
	KindConflict
	KindNotFound
	KindInvalidCredentials
	KindAccountDisabled
	KindInvalidToken
	KindTokenExpired
	KindPermissionDenied
	KindConfiguration
	KindInvalidDuration
	KindRateLimited
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindValidation:         "validation",
	KindPolicy:             "policy",
	KindConflict:           "conflict",
	KindNotFound:           "not_found",
	KindInvalidCredentials: "invalid_credentials",
	KindAccountDisabled:    "account_disabled",
	KindInvalidToken:       "invalid_token",
	KindTokenExpired:       "token_expired",
	KindPermissionDenied:   "permission_denied",
	KindConfiguration:      "configuration",
	KindInvalidDuration:    "invalid_duration",
	KindRateLimited:        "rate_limited",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is the typed failure returned by every auth operation.
type Error struct {
	Kind       Kind
	Message    string
	Violations []string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("auth: ")
	b.WriteString(e.Message)
	if len(e.Violations) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Violations, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so that errors.Is(err, ErrInvalidToken) holds for any invalid-token failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation         = &Error{Kind: KindValidation, Message: "invalid input"}
	ErrPolicy             = &Error{Kind: KindPolicy, Message: "password does not satisfy policy"}
	ErrConflict           = &Error{Kind: KindConflict, Message: "already exists"}
	ErrNotFound           = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials, Message: "invalid credentials"}
	ErrAccountDisabled    = &Error{Kind: KindAccountDisabled, Message: "account disabled"}
	ErrInvalidToken       = &Error{Kind: KindInvalidToken, Message: "invalid token"}
	ErrTokenExpired       = &Error{Kind: KindTokenExpired, Message: "token expired"}
	ErrPermissionDenied   = &Error{Kind: KindPermissionDenied, Message: "permission denied"}
	ErrConfiguration      = &Error{Kind: KindConfiguration, Message: "misconfigured"}
	ErrInvalidDuration    = &Error{Kind: KindInvalidDuration, Message: "invalid duration"}
	ErrRateLimited        = &Error{Kind: KindRateLimited, Message: "too many attempts"}
)

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func validationError(msg string, violations ...string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Violations: violations}
}

func policyError(violations []string) *Error {
	return &Error{Kind: KindPolicy, Message: ErrPolicy.Message, Violations: violations}
}

// KindOf reports the Kind carried by err, or KindUnknown for infrastructure failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ViolationsOf returns field-level violations attached to err, if any.
func ViolationsOf(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Violations
	}
	return nil
}
