package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeProvider struct {
	googleUser map[string]any
	githubUser map[string]any
	emails     []map[string]any
	emailsCode int
}

func (f *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-123","token_type":"bearer"}`))
	})
	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer at-123" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("/userinfo", auth(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(f.googleUser)
	}))
	mux.HandleFunc("/user", auth(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(f.githubUser)
	}))
	mux.HandleFunc("/user/emails", auth(func(w http.ResponseWriter, r *http.Request) {
		if f.emailsCode != 0 {
			w.WriteHeader(f.emailsCode)
			return
		}
		_ = json.NewEncoder(w).Encode(f.emails)
	}))
	return mux
}

func newTestProviders(t *testing.T, f *fakeProvider, policy EmailPolicy) *Providers {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	endpoint := &oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"}
	return New(Config{
		Google:            ClientConfig{ClientID: "g-id", ClientSecret: "g-secret", RedirectURL: "http://localhost/api/oauth/google/callback"},
		GitHub:            ClientConfig{ClientID: "h-id", ClientSecret: "h-secret", RedirectURL: "http://localhost/api/oauth/github/callback"},
		EmailPolicy:       policy,
		HTTPClient:        srv.Client(),
		GoogleEndpoint:    endpoint,
		GitHubEndpoint:    endpoint,
		GoogleUserInfoURL: srv.URL + "/userinfo",
		GitHubAPIURL:      srv.URL,
	})
}

func exchangeAndFetch(t *testing.T, p *Providers, provider Provider) (Profile, error) {
	t.Helper()
	ctx := context.Background()
	token, err := p.Exchange(ctx, provider, "good-code")
	require.NoError(t, err)
	require.Equal(t, "at-123", token.AccessToken)
	return p.FetchProfile(ctx, provider, token)
}

func TestAuthURLScopesAndParams(t *testing.T) {
	p := New(Config{
		Google: ClientConfig{ClientID: "g-id", ClientSecret: "s", RedirectURL: "http://localhost/cb"},
		GitHub: ClientConfig{ClientID: "h-id", ClientSecret: "s", RedirectURL: "http://localhost/cb"},
	})

	raw, err := p.AuthURL(Google, "state-1")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "accounts.google.com", u.Host)
	require.Equal(t, "openid profile email", q.Get("scope"))
	require.Equal(t, "offline", q.Get("access_type"))
	require.Equal(t, "consent", q.Get("prompt"))
	require.Equal(t, "state-1", q.Get("state"))
	require.Equal(t, "code", q.Get("response_type"))

	raw, err = p.AuthURL(GitHub, "state-2")
	require.NoError(t, err)
	u, err = url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "github.com", u.Host)
	require.Equal(t, "read:user user:email", u.Query().Get("scope"))
	require.Empty(t, u.Query().Get("prompt"))
}

func TestUnconfiguredAndUnknownProviders(t *testing.T) {
	p := New(Config{})
	_, err := p.AuthURL(Google, "s")
	require.ErrorIs(t, err, ErrProviderNotConfigured)
	require.False(t, p.Enabled(GitHub))

	_, err = ParseProvider("facebook")
	require.ErrorIs(t, err, ErrUnknownProvider)
	got, err := ParseProvider("GitHub")
	require.NoError(t, err)
	require.Equal(t, GitHub, got)
	require.Equal(t, "GitHub", got.AccountProvider())
}

func TestExchangeRejectsBadCode(t *testing.T) {
	p := newTestProviders(t, &fakeProvider{}, EmailPolicyLegacy)
	_, err := p.Exchange(context.Background(), Google, "")
	require.ErrorIs(t, err, ErrMissingCode)
	_, err = p.Exchange(context.Background(), Google, "bad-code")
	require.Error(t, err)
}

func TestGoogleProfileMapping(t *testing.T) {
	f := &fakeProvider{googleUser: map[string]any{
		"sub": "1099", "email": "Ada@Example.com", "name": "Ada Lovelace", "picture": "https://img/ada.png",
	}}
	profile, err := exchangeAndFetch(t, newTestProviders(t, f, EmailPolicyLegacy), Google)
	require.NoError(t, err)
	require.Equal(t, Profile{
		Provider:   Google,
		ProviderID: "1099",
		Email:      "ada@example.com",
		Name:       "Ada Lovelace",
		AvatarURL:  "https://img/ada.png",
	}, profile)
}

func TestGoogleDefaultsNameAndRequiresEmailUnderLegacy(t *testing.T) {
	f := &fakeProvider{googleUser: map[string]any{"sub": "7", "email": "x@example.com"}}
	profile, err := exchangeAndFetch(t, newTestProviders(t, f, EmailPolicyLegacy), Google)
	require.NoError(t, err)
	require.Equal(t, "Google User", profile.Name)

	f.googleUser = map[string]any{"sub": "7"}
	_, err = exchangeAndFetch(t, newTestProviders(t, f, EmailPolicyLegacy), Google)
	require.ErrorIs(t, err, ErrMissingEmail)
}

func TestGoogleMissingIDFails(t *testing.T) {
	f := &fakeProvider{googleUser: map[string]any{"email": "x@example.com"}}
	_, err := exchangeAndFetch(t, newTestProviders(t, f, EmailPolicyLegacy), Google)
	require.ErrorIs(t, err, ErrMissingID)
}

func TestGitHubFallsBackToPrimaryVerifiedEmail(t *testing.T) {
	f := &fakeProvider{
		githubUser: map[string]any{"id": 42, "login": "octo", "avatar_url": "https://img/octo.png"},
		emails: []map[string]any{
			{"email": "unverified@example.com", "primary": true, "verified": false},
			{"email": "secondary@example.com", "primary": false, "verified": true},
			{"email": "primary@example.com", "primary": true, "verified": true},
		},
	}
	profile, err := exchangeAndFetch(t, newTestProviders(t, f, EmailPolicyLegacy), GitHub)
	require.NoError(t, err)
	require.Equal(t, "42", profile.ProviderID)
	require.Equal(t, "primary@example.com", profile.Email)
	require.Equal(t, "octo", profile.Name)
	require.Equal(t, "octo", profile.Login)
}

func TestEmailPolicies(t *testing.T) {
	noEmails := func() *fakeProvider {
		return &fakeProvider{
			githubUser: map[string]any{"id": 42, "login": "octo", "name": "The Octocat"},
			googleUser: map[string]any{"sub": "1099", "name": "Ada"},
			emailsCode: http.StatusForbidden,
		}
	}

	cases := []struct {
		policy    EmailPolicy
		provider  Provider
		wantEmail string
		wantErrIs error
	}{
		{EmailPolicyLegacy, GitHub, "octo@github.local", nil},
		{EmailPolicyLegacy, Google, "", ErrMissingEmail},
		{EmailPolicySynthesize, GitHub, "octo@github.local", nil},
		{EmailPolicySynthesize, Google, "1099@google.local", nil},
		{EmailPolicyRequire, GitHub, "", ErrMissingEmail},
		{EmailPolicyRequire, Google, "", ErrMissingEmail},
	}
	for _, tc := range cases {
		t.Run(string(tc.policy)+"/"+string(tc.provider), func(t *testing.T) {
			profile, err := exchangeAndFetch(t, newTestProviders(t, noEmails(), tc.policy), tc.provider)
			if tc.wantErrIs != nil {
				require.ErrorIs(t, err, tc.wantErrIs)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantEmail, profile.Email)
		})
	}
}

func TestParseEmailPolicy(t *testing.T) {
	p, err := ParseEmailPolicy("")
	require.NoError(t, err)
	require.Equal(t, EmailPolicyLegacy, p)
	p, err = ParseEmailPolicy("Require")
	require.NoError(t, err)
	require.Equal(t, EmailPolicyRequire, p)
	_, err = ParseEmailPolicy("sometimes")
	require.Error(t, err)
}

func TestFetchProfileNon2xx(t *testing.T) {
	f := &fakeProvider{googleUser: map[string]any{"sub": "1"}}
	p := newTestProviders(t, f, EmailPolicyLegacy)
	_, err := p.FetchProfile(context.Background(), Google, &oauth2.Token{AccessToken: "wrong", TokenType: "Bearer"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 401")
}
