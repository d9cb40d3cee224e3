package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// FederatedPasswordSentinel is stored for accounts created through OAuth.
// It is not a valid hash in any scheme and never verifies.
const FederatedPasswordSentinel = "[OAUTH_NO_PASSWORD]"

const (
	MinPasswordLength = 6
	MaxPasswordLength = 100
	// MaxPasswordBytes is the bcrypt input limit.
	MaxPasswordBytes = 72
)

var (
	ErrPasswordTooShort     = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrPasswordTooLong      = fmt.Errorf("password must be at most %d characters", MaxPasswordLength)
	ErrPasswordTooManyBytes = fmt.Errorf("password must be at most %d bytes", MaxPasswordBytes)
)

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches stored, which is either a
// bcrypt hash or a legacy unsalted base64(sha256(password)).
func CheckPassword(password, stored string) bool {
	if stored == "" || stored == FederatedPasswordSentinel {
		return false
	}
	if isBcrypt(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	expected := LegacyHash(password)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(stored)) == 1
}

// NeedsRehash reports whether stored should be replaced by a bcrypt hash
// after a successful login.
func NeedsRehash(stored string) bool {
	if stored == "" || stored == FederatedPasswordSentinel {
		return false
	}
	if !isBcrypt(stored) {
		return true
	}
	cost, err := bcrypt.Cost([]byte(stored))
	return err != nil || cost < bcrypt.DefaultCost
}

// LegacyHash computes the pre-bcrypt hash format.
func LegacyHash(password string) string {
	sum := sha256.Sum256([]byte(password))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// ValidatePassword enforces the length policy. Length is counted in
// characters, and the encoded form must also fit bcrypt's byte limit.
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	switch {
	case n < MinPasswordLength:
		return ErrPasswordTooShort
	case n > MaxPasswordLength:
		return ErrPasswordTooLong
	case len(password) > MaxPasswordBytes:
		return ErrPasswordTooManyBytes
	}
	return nil
}

// IsPasswordPolicyError reports whether err came from ValidatePassword.
func IsPasswordPolicyError(err error) bool {
	return errors.Is(err, ErrPasswordTooShort) || errors.Is(err, ErrPasswordTooLong) ||
		errors.Is(err, ErrPasswordTooManyBytes)
}

func isBcrypt(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$")
}
