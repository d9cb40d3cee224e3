package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"buglens/internal/util"
	"buglens/pkg/auth"
	"buglens/pkg/domain"
	"buglens/pkg/mail"
	"buglens/pkg/queue"
	"buglens/pkg/store"
)

// JobPasswordResetEmail is the queue kind for outgoing reset emails.
const JobPasswordResetEmail = "password_reset_email"

const (
	MsgPasswordResetRequested = "If an account exists with this email, a password reset link has been sent."
	MsgPasswordResetDone      = "Password has been reset successfully"
)

const resetTokenBytes = 32

// AuthResult is returned by every operation that signs a user in.
type AuthResult struct {
	UserID    string    `json:"userId"`
	FullName  string    `json:"fullName"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"createdAt"`
}

// OAuthIdentity is the profile a federated login resolves to.
type OAuthIdentity struct {
	Email      string
	Name       string
	Provider   string
	ProviderID string
	PictureURL string
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a password account and signs it in.
func (a *App) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = normalizeEmail(in.Email)
	if err := a.check(in); err != nil {
		return AuthResult{}, err
	}
	exists, err := a.store.HasUserEmail(ctx, in.Email)
	if err != nil {
		return AuthResult{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return AuthResult{}, ErrEmailAlreadyExists
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return AuthResult{}, err
	}
	now := a.now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		FullName:     in.FullName,
		Email:        in.Email,
		PasswordHash: hash,
		Provider:     domain.ProviderEmail,
		Role:         domain.RoleDeveloper,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return AuthResult{}, ErrEmailAlreadyExists
		}
		return AuthResult{}, fmt.Errorf("create user: %w", err)
	}
	a.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	return a.issueSession(user)
}

// Login verifies a password and signs the user in. Legacy hashes are
// upgraded to bcrypt on success.
func (a *App) Login(ctx context.Context, email, password string) (AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return AuthResult{}, ErrInvalidCredentials
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return AuthResult{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return AuthResult{}, ErrInvalidCredentials
	}
	if user.Status == domain.StatusDisabled {
		return AuthResult{}, ErrUserDisabled
	}
	if auth.NeedsRehash(user.PasswordHash) {
		hash, err := auth.HashPassword(password)
		if err != nil {
			return AuthResult{}, err
		}
		user.PasswordHash = hash
		a.logger.InfoContext(ctx, "upgraded legacy password hash", "user_id", user.ID)
	}
	now := a.now().UTC()
	user.LastLoginAt = &now
	user.UpdatedAt = now
	if err := a.store.SaveUser(ctx, user); err != nil {
		return AuthResult{}, fmt.Errorf("save user: %w", err)
	}
	return a.issueSession(user)
}

// OAuthLoginOrRegister signs in the account owning the profile's email,
// creating a federated-only account when none exists. An existing password
// account with the same email is adopted.
func (a *App) OAuthLoginOrRegister(ctx context.Context, id OAuthIdentity) (AuthResult, error) {
	email := normalizeEmail(id.Email)
	providerID := strings.TrimSpace(id.ProviderID)
	if email == "" || providerID == "" {
		return AuthResult{}, ErrOAuthProfileIncomplete
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return AuthResult{}, fmt.Errorf("fetch user: %w", err)
	}
	now := a.now().UTC()
	if !ok {
		name := strings.TrimSpace(id.Name)
		if name == "" {
			name = "User"
		}
		user = domain.User{
			ID:                util.NewID(),
			FullName:          name,
			Email:             email,
			PasswordHash:      auth.FederatedPasswordSentinel,
			Provider:          id.Provider,
			ProviderID:        providerID,
			ProfilePictureURL: id.PictureURL,
			Role:              domain.RoleDeveloper,
			Status:            domain.StatusActive,
			CreatedAt:         now,
			UpdatedAt:         now,
			LastLoginAt:       &now,
		}
		if err := a.store.CreateUser(ctx, user); err != nil {
			return AuthResult{}, fmt.Errorf("create oauth user: %w", err)
		}
		a.logger.InfoContext(ctx, "oauth user registered", "user_id", user.ID, "provider", id.Provider)
		return a.issueSession(user)
	}

	if user.Status == domain.StatusDisabled {
		return AuthResult{}, ErrUserDisabled
	}
	if user.ProfilePictureURL == "" {
		user.ProfilePictureURL = id.PictureURL
	}
	if user.ProviderID == "" {
		user.Provider = id.Provider
		user.ProviderID = providerID
	}
	user.LastLoginAt = &now
	user.UpdatedAt = now
	if err := a.store.SaveUser(ctx, user); err != nil {
		return AuthResult{}, fmt.Errorf("save user: %w", err)
	}
	return a.issueSession(user)
}

func (a *App) issueSession(user domain.User) (AuthResult, error) {
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue session: %w", err)
	}
	return AuthResult{
		UserID:    user.ID,
		FullName:  user.FullName,
		Email:     user.Email,
		Role:      user.Role,
		Token:     token,
		CreatedAt: user.CreatedAt,
	}, nil
}

// UserFromToken resolves an active user from a session token.
func (a *App) UserFromToken(ctx context.Context, token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(ctx, uid)
	if err != nil || !found {
		return domain.User{}, false
	}
	if user.Status == domain.StatusDisabled {
		return domain.User{}, false
	}
	return user, true
}

// Logout revokes the session token.
func (a *App) Logout(token string) error {
	return a.sessions.DeleteSession(token)
}

// HasUserEmail reports whether an account uses email.
func (a *App) HasUserEmail(ctx context.Context, email string) (bool, error) {
	email = normalizeEmail(email)
	if email == "" {
		return false, nil
	}
	return a.store.HasUserEmail(ctx, email)
}

// RequestPasswordReset issues a single-use reset token and mails it. The
// result is the same whether or not the account exists.
func (a *App) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", ErrEmailRequired
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		a.logger.InfoContext(ctx, "password reset requested for unknown email")
		return MsgPasswordResetRequested, nil
	}

	token, err := util.NewSecret(resetTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	now := a.now().UTC()
	expiry := now.Add(a.resetTokenTTL)
	user.PasswordResetToken = token
	user.PasswordResetExpiry = &expiry
	user.UpdatedAt = now
	if err := a.store.SaveUser(ctx, user); err != nil {
		return "", fmt.Errorf("save reset token: %w", err)
	}

	msg := mail.PasswordReset{To: user.Email, Name: user.FullName, Token: token}
	a.dispatchResetEmail(ctx, msg)
	return MsgPasswordResetRequested, nil
}

func (a *App) dispatchResetEmail(ctx context.Context, msg mail.PasswordReset) {
	if a.jobs != nil {
		job, err := a.jobs.Enqueue(ctx, JobPasswordResetEmail, msg)
		if err == nil {
			a.logger.InfoContext(ctx, "password reset email queued", "job_id", job.ID)
			return
		}
		a.logger.WarnContext(ctx, "enqueue reset email failed, sending inline", "err", err)
	}
	if err := a.mailer.SendPasswordReset(ctx, msg); err != nil {
		a.logger.ErrorContext(ctx, "send reset email failed", "err", err)
	}
}

// HandleJob processes background jobs produced by the app.
func (a *App) HandleJob(ctx context.Context, job queue.JobStatus) error {
	switch job.Kind {
	case JobPasswordResetEmail:
		var msg mail.PasswordReset
		if err := job.Decode(&msg); err != nil {
			return fmt.Errorf("decode reset email job: %w", err)
		}
		return a.mailer.SendPasswordReset(ctx, msg)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// ResetPassword redeems a reset token. Tokens are single use.
func (a *App) ResetPassword(ctx context.Context, token, newPassword string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidResetToken
	}
	user, ok, err := a.store.GetUserByResetToken(ctx, token)
	if err != nil {
		return "", fmt.Errorf("fetch user: %w", err)
	}
	now := a.now().UTC()
	if !ok || user.PasswordResetExpiry == nil || !now.Before(*user.PasswordResetExpiry) {
		return "", ErrInvalidResetToken
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return "", &ValidationError{Problems: []string{passwordProblem(err)}}
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return "", err
	}
	user.PasswordHash = hash
	user.PasswordResetToken = ""
	user.PasswordResetExpiry = nil
	user.UpdatedAt = now
	if err := a.store.SaveUser(ctx, user); err != nil {
		return "", fmt.Errorf("save user: %w", err)
	}
	if revoker, ok := a.sessions.(store.UserSessionRevoker); ok {
		if err := revoker.RevokeUserSessions(user.ID, now); err != nil {
			a.logger.WarnContext(ctx, "revoke sessions after reset failed", "user_id", user.ID, "err", err)
		}
	}
	a.logger.InfoContext(ctx, "password reset", "user_id", user.ID)
	return MsgPasswordResetDone, nil
}

func passwordProblem(err error) string {
	switch {
	case errors.Is(err, auth.ErrPasswordTooShort):
		return fieldMessages["Password.min"]
	case errors.Is(err, auth.ErrPasswordTooLong):
		return fieldMessages["Password.max"]
	case errors.Is(err, auth.ErrPasswordTooManyBytes):
		return fieldMessages["Password.pwbytes"]
	default:
		return err.Error()
	}
}
