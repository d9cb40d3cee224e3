package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"buglens/pkg/auth"
	"buglens/pkg/domain"
)

func TestRegisterIssuesSessionForNewUser(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.register(t, "  Dev@Example.com ", "secret123")

	if res.Email != "dev@example.com" {
		t.Fatalf("email = %q, want normalized", res.Email)
	}
	if res.Role != domain.RoleDeveloper {
		t.Fatalf("role = %q, want %q", res.Role, domain.RoleDeveloper)
	}
	uid, ok, err := env.sessions.GetUserIDByToken(res.Token)
	if err != nil || !ok || uid != res.UserID {
		t.Fatalf("token resolves to %q ok=%v err=%v, want %q", uid, ok, err, res.UserID)
	}
	user, found, _ := env.store.GetUserByID(context.Background(), res.UserID)
	if !found {
		t.Fatalf("user not stored")
	}
	if user.Provider != domain.ProviderEmail || user.Status != domain.StatusActive {
		t.Fatalf("unexpected user defaults: %+v", user)
	}
	if !strings.HasPrefix(user.PasswordHash, "$2") {
		t.Fatalf("expected bcrypt hash, got %q", user.PasswordHash)
	}
}

func TestRegisterRejectsDuplicateEmailCaseInsensitive(t *testing.T) {
	env := newTestEnv(t, nil)
	first := env.register(t, "dev@example.com", "secret123")

	_, err := env.app.Register(context.Background(), RegisterInput{
		FullName:        "Someone Else",
		Email:           "DEV@example.com",
		Password:        "another1",
		ConfirmPassword: "another1",
	})
	if !errors.Is(err, ErrEmailAlreadyExists) {
		t.Fatalf("expected ErrEmailAlreadyExists, got %v", err)
	}
	user, _, _ := env.store.GetUserByEmail(context.Background(), "dev@example.com")
	if user.ID != first.UserID || user.FullName != "Test Developer" {
		t.Fatalf("existing account mutated: %+v", user)
	}
	if !auth.CheckPassword("secret123", user.PasswordHash) {
		t.Fatalf("existing password no longer verifies")
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	cases := []struct {
		name string
		in   RegisterInput
		want string
	}{
		{
			name: "password mismatch",
			in:   RegisterInput{FullName: "Dev", Email: "a@b.io", Password: "secret123", ConfirmPassword: "secret124"},
			want: "Passwords do not match",
		},
		{
			name: "short password",
			in:   RegisterInput{FullName: "Dev", Email: "a@b.io", Password: "abc", ConfirmPassword: "abc"},
			want: "Password must be at least 6 characters",
		},
		{
			name: "bad email",
			in:   RegisterInput{FullName: "Dev", Email: "not-an-email", Password: "secret123", ConfirmPassword: "secret123"},
			want: "Invalid email format",
		},
		{
			name: "password over bcrypt limit",
			in: RegisterInput{FullName: "Dev", Email: "a@b.io",
				Password: strings.Repeat("a", 73), ConfirmPassword: strings.Repeat("a", 73)},
			want: "Password must be at most 72 bytes",
		},
		{
			name: "multi-byte password over bcrypt limit",
			in: RegisterInput{FullName: "Dev", Email: "a@b.io",
				Password: strings.Repeat("é", 40), ConfirmPassword: strings.Repeat("é", 40)},
			want: "Password must be at most 72 bytes",
		},
		{
			name: "short name",
			in:   RegisterInput{FullName: "D", Email: "a@b.io", Password: "secret123", ConfirmPassword: "secret123"},
			want: "Full name must be between 2 and 100 characters",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.app.Register(context.Background(), tc.in)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !strings.Contains(verr.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", verr.Error(), tc.want)
			}
		})
	}
	if ok, _ := env.app.HasUserEmail(context.Background(), "a@b.io"); ok {
		t.Fatalf("invalid registration created an account")
	}
}

func TestRegisterAcceptsPasswordAtBcryptLimit(t *testing.T) {
	env := newTestEnv(t, nil)
	pw := strings.Repeat("a", 72)
	res, err := env.app.Register(context.Background(), RegisterInput{
		FullName: "Dev", Email: "limit@example.com", Password: pw, ConfirmPassword: pw,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := env.app.Login(context.Background(), "limit@example.com", pw); err != nil {
		t.Fatalf("login with 72 byte password: %v", err)
	}
	if res.UserID == "" {
		t.Fatalf("missing user id")
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	reg := env.register(t, "dev@example.com", "secret123")
	ctx := context.Background()

	res, err := env.app.Login(ctx, "DEV@example.com", "secret123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.UserID != reg.UserID {
		t.Fatalf("login user %q, want %q", res.UserID, reg.UserID)
	}
	user, _, _ := env.store.GetUserByID(ctx, reg.UserID)
	if user.LastLoginAt == nil || !user.LastLoginAt.Equal(env.clock.now) {
		t.Fatalf("lastLoginAt = %v, want %v", user.LastLoginAt, env.clock.now)
	}

	if _, err := env.app.Login(ctx, "dev@example.com", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := env.app.Login(ctx, "nobody@example.com", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}

	user.Status = domain.StatusDisabled
	if err := env.store.SaveUser(ctx, user); err != nil {
		t.Fatalf("disable user: %v", err)
	}
	if _, err := env.app.Login(ctx, "dev@example.com", "secret123"); !errors.Is(err, ErrUserDisabled) {
		t.Fatalf("disabled: expected ErrUserDisabled, got %v", err)
	}
	if _, ok := env.app.UserFromToken(ctx, reg.Token); ok {
		t.Fatalf("disabled user should not resolve from token")
	}
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	legacy := domain.User{
		ID:           "legacy-1",
		FullName:     "Legacy User",
		Email:        "legacy@example.com",
		PasswordHash: auth.LegacyHash("password123"),
		Provider:     domain.ProviderEmail,
		Role:         domain.RoleDeveloper,
		Status:       domain.StatusActive,
	}
	if err := env.store.CreateUser(ctx, legacy); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	if _, err := env.app.Login(ctx, "legacy@example.com", "password123"); err != nil {
		t.Fatalf("legacy login: %v", err)
	}
	user, _, _ := env.store.GetUserByID(ctx, "legacy-1")
	if auth.NeedsRehash(user.PasswordHash) {
		t.Fatalf("hash not upgraded: %q", user.PasswordHash)
	}
	if _, err := env.app.Login(ctx, "legacy@example.com", "password123"); err != nil {
		t.Fatalf("login after upgrade: %v", err)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t, nil)
	reg := env.register(t, "dev@example.com", "secret123")
	ctx := context.Background()

	if _, ok := env.app.UserFromToken(ctx, reg.Token); !ok {
		t.Fatalf("fresh token should resolve")
	}
	if err := env.app.Logout(reg.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, ok := env.app.UserFromToken(ctx, reg.Token); ok {
		t.Fatalf("token should be revoked after logout")
	}
}

func TestOAuthLoginOrRegisterCreatesFederatedAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res, err := env.app.OAuthLoginOrRegister(ctx, OAuthIdentity{
		Email:      "Octo@Example.com",
		Provider:   domain.ProviderGitHub,
		ProviderID: "583231",
		PictureURL: "https://avatars.example/octo.png",
	})
	if err != nil {
		t.Fatalf("oauth register: %v", err)
	}
	user, _, _ := env.store.GetUserByID(ctx, res.UserID)
	if user.Email != "octo@example.com" || user.FullName != "User" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.PasswordHash != auth.FederatedPasswordSentinel {
		t.Fatalf("expected federated sentinel, got %q", user.PasswordHash)
	}
	if _, err := env.app.Login(ctx, "octo@example.com", auth.FederatedPasswordSentinel); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("sentinel must never verify, got %v", err)
	}
}

func TestOAuthLoginOrRegisterAdoptsExistingAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	reg := env.register(t, "dev@example.com", "secret123")
	before, _, _ := env.store.GetUserByID(ctx, reg.UserID)

	env.clock.Advance(time.Minute)
	res, err := env.app.OAuthLoginOrRegister(ctx, OAuthIdentity{
		Email:      "dev@example.com",
		Name:       "Google Name",
		Provider:   domain.ProviderGoogle,
		ProviderID: "g-1",
		PictureURL: "https://img.example/first.png",
	})
	if err != nil {
		t.Fatalf("oauth login: %v", err)
	}
	if res.UserID != reg.UserID {
		t.Fatalf("oauth login created a new account")
	}
	user, _, _ := env.store.GetUserByID(ctx, reg.UserID)
	if user.PasswordHash != before.PasswordHash {
		t.Fatalf("password hash overwritten")
	}
	if user.FullName != "Test Developer" {
		t.Fatalf("full name overwritten: %q", user.FullName)
	}
	if user.ProfilePictureURL != "https://img.example/first.png" {
		t.Fatalf("picture not backfilled: %q", user.ProfilePictureURL)
	}
	if user.LastLoginAt == nil || !user.LastLoginAt.Equal(env.clock.now) {
		t.Fatalf("lastLoginAt not updated")
	}

	_, err = env.app.OAuthLoginOrRegister(ctx, OAuthIdentity{
		Email:      "dev@example.com",
		Provider:   domain.ProviderGitHub,
		ProviderID: "gh-1",
		PictureURL: "https://img.example/second.png",
	})
	if err != nil {
		t.Fatalf("second oauth login: %v", err)
	}
	user, _, _ = env.store.GetUserByID(ctx, reg.UserID)
	if user.ProfilePictureURL != "https://img.example/first.png" {
		t.Fatalf("existing picture overwritten: %q", user.ProfilePictureURL)
	}
	if user.Provider != domain.ProviderGoogle || user.ProviderID != "g-1" {
		t.Fatalf("provider link overwritten: %s/%s", user.Provider, user.ProviderID)
	}
}

func TestOAuthLoginOrRegisterRequiresEmailAndID(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, id := range []OAuthIdentity{
		{Email: "", ProviderID: "1", Provider: domain.ProviderGoogle},
		{Email: "a@b.io", ProviderID: " ", Provider: domain.ProviderGoogle},
	} {
		if _, err := env.app.OAuthLoginOrRegister(context.Background(), id); !errors.Is(err, ErrOAuthProfileIncomplete) {
			t.Fatalf("expected ErrOAuthProfileIncomplete for %+v, got %v", id, err)
		}
	}
}

func TestPasswordResetRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.register(t, "dev@example.com", "secret123")

	msg, err := env.app.RequestPasswordReset(ctx, "Dev@Example.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if msg != MsgPasswordResetRequested {
		t.Fatalf("message = %q", msg)
	}
	if len(env.mailer.sent) != 1 {
		t.Fatalf("expected 1 reset email, got %d", len(env.mailer.sent))
	}
	token := env.mailer.sent[0].Token
	if token == "" || env.mailer.sent[0].To != "dev@example.com" {
		t.Fatalf("unexpected reset email: %+v", env.mailer.sent[0])
	}

	env.clock.Advance(30 * time.Minute)
	msg, err = env.app.ResetPassword(ctx, token, "brand-new-pass")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if msg != MsgPasswordResetDone {
		t.Fatalf("message = %q", msg)
	}

	user, _, _ := env.store.GetUserByEmail(ctx, "dev@example.com")
	if auth.CheckPassword("secret123", user.PasswordHash) {
		t.Fatalf("old password still verifies")
	}
	if !auth.CheckPassword("brand-new-pass", user.PasswordHash) {
		t.Fatalf("new password does not verify")
	}
	if user.PasswordResetToken != "" || user.PasswordResetExpiry != nil {
		t.Fatalf("reset token not cleared")
	}

	if _, err := env.app.ResetPassword(ctx, token, "another-pass"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("second redemption: expected ErrInvalidResetToken, got %v", err)
	}
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	env := newTestEnv(t, nil)
	msg, err := env.app.RequestPasswordReset(context.Background(), "ghost@example.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if msg != MsgPasswordResetRequested {
		t.Fatalf("unknown email must get the generic message, got %q", msg)
	}
	if len(env.mailer.sent) != 0 {
		t.Fatalf("no email expected for unknown account")
	}
	if _, err := env.app.RequestPasswordReset(context.Background(), "  "); !errors.Is(err, ErrEmailRequired) {
		t.Fatalf("blank email: expected ErrEmailRequired, got %v", err)
	}
}

func TestResetPasswordRejectsExpiredToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.register(t, "dev@example.com", "secret123")
	if _, err := env.app.RequestPasswordReset(ctx, "dev@example.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	token := env.mailer.sent[0].Token

	env.clock.Advance(time.Hour)
	if _, err := env.app.ResetPassword(ctx, token, "brand-new-pass"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expired token: expected ErrInvalidResetToken, got %v", err)
	}
	if _, err := env.app.ResetPassword(ctx, "unknown-token", "brand-new-pass"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("unknown token: expected ErrInvalidResetToken, got %v", err)
	}
}

func TestResetPasswordValidatesNewPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.register(t, "dev@example.com", "secret123")
	if _, err := env.app.RequestPasswordReset(ctx, "dev@example.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	token := env.mailer.sent[0].Token

	_, err := env.app.ResetPassword(ctx, token, "abc")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	_, err = env.app.ResetPassword(ctx, token, strings.Repeat("a", 80))
	if !errors.As(err, &verr) || !strings.Contains(verr.Error(), "72 bytes") {
		t.Fatalf("expected byte limit ValidationError, got %v", err)
	}
	if _, err := env.app.ResetPassword(ctx, token, "long-enough"); err != nil {
		t.Fatalf("token should survive a rejected password: %v", err)
	}
}

func TestRequestPasswordResetQueuesEmail(t *testing.T) {
	jobs := &recordingQueue{}
	env := newTestEnv(t, func(c *Config) { c.Jobs = jobs })
	ctx := context.Background()
	env.register(t, "dev@example.com", "secret123")

	if _, err := env.app.RequestPasswordReset(ctx, "dev@example.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if len(env.mailer.sent) != 0 {
		t.Fatalf("email should be queued, not sent inline")
	}
	if len(jobs.jobs) != 1 || jobs.jobs[0].Kind != JobPasswordResetEmail {
		t.Fatalf("unexpected jobs: %+v", jobs.jobs)
	}

	if err := env.app.HandleJob(ctx, jobs.jobs[0]); err != nil {
		t.Fatalf("handle job: %v", err)
	}
	if len(env.mailer.sent) != 1 || env.mailer.sent[0].To != "dev@example.com" {
		t.Fatalf("job did not send the email: %+v", env.mailer.sent)
	}
	user, _, _ := env.store.GetUserByEmail(ctx, "dev@example.com")
	if env.mailer.sent[0].Token != user.PasswordResetToken {
		t.Fatalf("mailed token does not match stored token")
	}
}

func TestRequestPasswordResetFallsBackWhenQueueFails(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Jobs = &recordingQueue{err: errors.New("redis down")} })
	env.register(t, "dev@example.com", "secret123")

	if _, err := env.app.RequestPasswordReset(context.Background(), "dev@example.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if len(env.mailer.sent) != 1 {
		t.Fatalf("expected inline send after enqueue failure, got %d", len(env.mailer.sent))
	}
}

func TestHandleJobUnknownKind(t *testing.T) {
	env := newTestEnv(t, nil)
	jobs := &recordingQueue{}
	job, _ := jobs.Enqueue(context.Background(), "mystery", map[string]string{"a": "b"})
	if err := env.app.HandleJob(context.Background(), job); err == nil {
		t.Fatalf("expected error for unknown job kind")
	}
}
