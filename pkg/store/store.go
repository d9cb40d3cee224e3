package store

import (
	"context"
	"errors"
	"time"

	"buglens/pkg/domain"
)

// ErrDuplicateEmail is returned by CreateUser when the email is taken.
var ErrDuplicateEmail = errors.New("email already registered")

// Store defines persistence for users, analyses and usage statistics.
// Lookups return (value, found, err); a missing row is not an error.
type Store interface {
	// users
	CreateUser(ctx context.Context, u domain.User) error
	SaveUser(ctx context.Context, u domain.User) error
	HasUserEmail(ctx context.Context, email string) (bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	GetUserByResetToken(ctx context.Context, token string) (domain.User, bool, error)

	// analyses
	SaveAnalysis(ctx context.Context, a domain.Analysis) error
	GetAnalysis(ctx context.Context, id string) (domain.Analysis, bool, error)
	ListAnalysesByUser(ctx context.Context, userID string, limit int) ([]domain.Analysis, error)
	ListAnalysesByLanguage(ctx context.Context, userID, language string) ([]domain.Analysis, error)
	CountAnalysesBySuccess(ctx context.Context, userID string, since time.Time) (successful, failed int, err error)

	// statistics
	SaveStatistic(ctx context.Context, s domain.UsageStatistic) error
	GetStatisticByAnalysis(ctx context.Context, userID, analysisID string) (domain.UsageStatistic, bool, error)
	ListStatisticsSince(ctx context.Context, userID string, since time.Time) ([]domain.UsageStatistic, error)
}

// SessionStore issues and resolves bearer session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// UserSessionRevoker is an optional capability that revokes all sessions
// issued for a user before a cutoff time.
type UserSessionRevoker interface {
	RevokeUserSessions(userID string, since time.Time) error
}

// JWK represents a JSON Web Key entry used by JWKS endpoints.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// JWKSProvider is an optional capability exposed by session stores that can
// publish JSON Web Keys.
type JWKSProvider interface {
	JWKS() []JWK
}
