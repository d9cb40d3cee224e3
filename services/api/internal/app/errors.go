package app

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidCredentials is shown to end users for both unknown emails and
	// wrong passwords so it cannot be used for account enumeration.
	ErrInvalidCredentials = errors.New("Invalid email or password")
	ErrUserDisabled       = errors.New("Your account has been deactivated")
	ErrEmailAlreadyExists = errors.New("User with this email already exists")
	ErrEmailRequired      = errors.New("Email is required")
	ErrInvalidResetToken  = errors.New("Invalid or expired reset token")

	ErrOAuthProfileIncomplete = errors.New("email and provider id are required")

	// ErrAnalysisNotFound also covers analyses owned by another user.
	ErrAnalysisNotFound = errors.New("Analysis not found")
	ErrInvalidDays      = errors.New("days must be between 1 and 365")

	ErrModelsUnavailable = errors.New("model listing not supported by the ai provider")
)

// ValidationError lists every problem found in a request.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}
