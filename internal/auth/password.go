package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"runtime"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultBcryptCost = 12
	MinPasswordLength = 8

	minGeneratedLength = 4
)

// Policy violation messages, reported all at once.
const (
	ViolationTooShort  = "password must be at least 8 characters"
	ViolationNoUpper   = "password must contain an uppercase letter"
	ViolationNoLower   = "password must contain a lowercase letter"
	ViolationNoDigit   = "password must contain a digit"
	violationTooLong   = "password must be at most 72 bytes"
	generatorUppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	generatorLowercase = "abcdefghijklmnopqrstuvwxyz"
	generatorDigits    = "0123456789"
	generatorSpecial   = "!@#$%^&*()_+-=[]{}|;:,.<>?"
)

// PolicyResult lists every violated rule; OK is true when the list is empty.
type PolicyResult struct {
	OK         bool
	Violations []string
}

// PasswordManager hashes and verifies passwords with bcrypt.
// Concurrent hashing is bounded so bursts of logins cannot saturate every core.
type PasswordManager struct {
	cost int
	sem  *semaphore.Weighted

	dummyOnce sync.Once
	dummyHash []byte
}

// PasswordOption configures PasswordManager.
type PasswordOption func(*PasswordManager)

// WithBcryptCost overrides the work factor. Values outside bcrypt's range are ignored.
func WithBcryptCost(cost int) PasswordOption {
	return func(m *PasswordManager) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			m.cost = cost
		}
	}
}

// WithHashConcurrency caps the number of hash/verify calls running at once.
func WithHashConcurrency(n int) PasswordOption {
	return func(m *PasswordManager) {
		if n > 0 {
			m.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

func NewPasswordManager(opts ...PasswordOption) *PasswordManager {
	m := &PasswordManager{
		cost: DefaultBcryptCost,
		sem:  semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Hash returns a salted bcrypt hash of plaintext.
func (m *PasswordManager) Hash(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", validationError("password is required")
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer m.sem.Release(1)
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), m.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", policyError([]string{violationTooLong})
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether plaintext matches hash. bcrypt compares in constant time.
// A malformed or empty hash is a mismatch, not an error, and still costs one bcrypt comparison.
func (m *PasswordManager) Verify(ctx context.Context, plaintext, hash string) (bool, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer m.sem.Release(1)
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		_ = bcrypt.CompareHashAndPassword(m.dummy(), []byte(plaintext))
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil, nil
}

// BurnVerify spends one verification's worth of work against a throwaway hash.
// Login calls it for unknown accounts so both failure paths cost the same.
func (m *PasswordManager) BurnVerify(ctx context.Context, plaintext string) error {
	_, err := m.Verify(ctx, plaintext, string(m.dummy()))
	return err
}

func (m *PasswordManager) dummy() []byte {
	m.dummyOnce.Do(func() {
		m.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("unused-placeholder-secret"), m.cost)
	})
	return m.dummyHash
}

// ValidatePolicy checks length, upper, lower and digit rules.
func (m *PasswordManager) ValidatePolicy(plaintext string) PolicyResult {
	return ValidatePasswordPolicy(plaintext)
}

// ValidatePasswordPolicy is the policy check without a manager.
// Character classes are ASCII only: A-Z, a-z and 0-9.
func ValidatePasswordPolicy(plaintext string) PolicyResult {
	var upper, lower, digit bool
	for _, r := range plaintext {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	var violations []string
	if len([]rune(plaintext)) < MinPasswordLength {
		violations = append(violations, ViolationTooShort)
	}
	if !upper {
		violations = append(violations, ViolationNoUpper)
	}
	if !lower {
		violations = append(violations, ViolationNoLower)
	}
	if !digit {
		violations = append(violations, ViolationNoDigit)
	}
	return PolicyResult{OK: len(violations) == 0, Violations: violations}
}

// GeneratePassword returns a random password with at least one upper, lower, digit
// and special character. It is meant for administrative resets, not the login path.
func GeneratePassword(length int) (string, error) {
	if length < minGeneratedLength {
		length = minGeneratedLength
	}
	all := generatorUppercase + generatorLowercase + generatorDigits + generatorSpecial
	out := make([]byte, 0, length)
	for _, class := range []string{generatorUppercase, generatorLowercase, generatorDigits, generatorSpecial} {
		c, err := pick(class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < length {
		c, err := pick(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for i := len(out) - 1; i > 0; i-- {
		j, err := randIndex(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

func pick(alphabet string) (byte, error) {
	i, err := randIndex(len(alphabet))
	if err != nil {
		return 0, err
	}
	return alphabet[i], nil
}

func randIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("read random: %w", err)
	}
	return int(v.Int64()), nil
}
