// Package oauth implements the authorization-code flow against Google and GitHub.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"buglens/pkg/domain"
)

// Provider identifies an identity provider in URLs (lower case).
type Provider string

const (
	Google Provider = "google"
	GitHub Provider = "github"
)

const (
	defaultGoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	defaultGitHubAPIURL      = "https://api.github.com"
	defaultHTTPTimeout       = 15 * time.Second

	googleDefaultName = "Google User"
)

var (
	ErrUnknownProvider       = errors.New("unknown oauth provider")
	ErrProviderNotConfigured = errors.New("oauth provider not configured")
	ErrMissingCode           = errors.New("authorization code missing")
	ErrMissingEmail          = errors.New("account has no email")
	ErrMissingID             = errors.New("account has no id")
)

// ParseProvider maps a path segment to a Provider.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case Google:
		return Google, nil
	case GitHub:
		return GitHub, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
}

// AccountProvider is the provider name stored on user accounts.
func (p Provider) AccountProvider() string {
	switch p {
	case Google:
		return domain.ProviderGoogle
	case GitHub:
		return domain.ProviderGitHub
	default:
		return string(p)
	}
}

// EmailPolicy decides what happens when a provider returns no email.
type EmailPolicy string

const (
	// EmailPolicyLegacy synthesizes <login>@github.local for GitHub and
	// rejects Google accounts without email.
	EmailPolicyLegacy EmailPolicy = "legacy"
	// EmailPolicySynthesize synthesizes <id-or-login>@<provider>.local for both.
	EmailPolicySynthesize EmailPolicy = "synthesize"
	// EmailPolicyRequire rejects any account without email.
	EmailPolicyRequire EmailPolicy = "require"
)

// ParseEmailPolicy accepts the policy names; empty means legacy.
func ParseEmailPolicy(s string) (EmailPolicy, error) {
	switch p := EmailPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return EmailPolicyLegacy, nil
	case EmailPolicyLegacy, EmailPolicySynthesize, EmailPolicyRequire:
		return p, nil
	default:
		return "", fmt.Errorf("unknown email policy %q", s)
	}
}

// ClientConfig holds one provider's app credentials.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

func (c ClientConfig) enabled() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

// Config configures Providers. Endpoint fields override the public
// provider URLs and are meant for tests.
type Config struct {
	Google      ClientConfig
	GitHub      ClientConfig
	EmailPolicy EmailPolicy
	HTTPClient  *http.Client

	GoogleEndpoint    *oauth2.Endpoint
	GitHubEndpoint    *oauth2.Endpoint
	GoogleUserInfoURL string
	GitHubAPIURL      string
}

// Profile is the normalized identity returned by a provider.
type Profile struct {
	Provider   Provider
	ProviderID string
	Email      string
	Name       string
	Login      string
	AvatarURL  string
}

// Providers holds the configured OAuth clients.
type Providers struct {
	configs           map[Provider]*oauth2.Config
	policy            EmailPolicy
	httpClient        *http.Client
	googleUserInfoURL string
	githubAPIURL      string
}

// New builds Providers; providers without credentials stay disabled.
func New(cfg Config) *Providers {
	p := &Providers{
		configs:           make(map[Provider]*oauth2.Config),
		policy:            cfg.EmailPolicy,
		httpClient:        cfg.HTTPClient,
		googleUserInfoURL: strings.TrimRight(cfg.GoogleUserInfoURL, "/"),
		githubAPIURL:      strings.TrimRight(cfg.GitHubAPIURL, "/"),
	}
	if p.policy == "" {
		p.policy = EmailPolicyLegacy
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if p.googleUserInfoURL == "" {
		p.googleUserInfoURL = defaultGoogleUserInfoURL
	}
	if p.githubAPIURL == "" {
		p.githubAPIURL = defaultGitHubAPIURL
	}
	if cfg.Google.enabled() {
		endpoint := google.Endpoint
		if cfg.GoogleEndpoint != nil {
			endpoint = *cfg.GoogleEndpoint
		}
		p.configs[Google] = &oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "profile", "email"},
		}
	}
	if cfg.GitHub.enabled() {
		endpoint := github.Endpoint
		if cfg.GitHubEndpoint != nil {
			endpoint = *cfg.GitHubEndpoint
		}
		p.configs[GitHub] = &oauth2.Config{
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			RedirectURL:  cfg.GitHub.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"read:user", "user:email"},
		}
	}
	return p
}

// Enabled reports whether provider has credentials.
func (p *Providers) Enabled(provider Provider) bool {
	_, ok := p.configs[provider]
	return ok
}

func (p *Providers) config(provider Provider) (*oauth2.Config, error) {
	if provider != Google && provider != GitHub {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	cfg, ok := p.configs[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, provider)
	}
	return cfg, nil
}

// AuthURL returns the consent page URL carrying state.
func (p *Providers) AuthURL(provider Provider, state string) (string, error) {
	cfg, err := p.config(provider)
	if err != nil {
		return "", err
	}
	if provider == Google {
		return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent")), nil
	}
	return cfg.AuthCodeURL(state), nil
}

// Exchange trades an authorization code for a token.
func (p *Providers) Exchange(ctx context.Context, provider Provider, code string) (*oauth2.Token, error) {
	cfg, err := p.config(provider)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(code) == "" {
		return nil, ErrMissingCode
	}
	token, err := cfg.Exchange(p.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("token exchange returned no access token")
	}
	return token, nil
}

// FetchProfile loads the user's identity and applies the email policy.
func (p *Providers) FetchProfile(ctx context.Context, provider Provider, token *oauth2.Token) (Profile, error) {
	cfg, err := p.config(provider)
	if err != nil {
		return Profile{}, err
	}
	client := cfg.Client(p.clientContext(ctx), token)

	var profile Profile
	switch provider {
	case Google:
		profile, err = p.fetchGoogle(ctx, client)
	case GitHub:
		profile, err = p.fetchGitHub(ctx, client)
	}
	if err != nil {
		return Profile{}, err
	}
	if profile.ProviderID == "" {
		return Profile{}, fmt.Errorf("%s: %w", provider, ErrMissingID)
	}
	if err := p.applyEmailPolicy(&profile); err != nil {
		return Profile{}, err
	}
	profile.Email = strings.ToLower(strings.TrimSpace(profile.Email))
	return profile, nil
}

func (p *Providers) applyEmailPolicy(profile *Profile) error {
	if strings.TrimSpace(profile.Email) != "" {
		return nil
	}
	switch p.policy {
	case EmailPolicyRequire:
		return fmt.Errorf("%s: %w", profile.Provider, ErrMissingEmail)
	case EmailPolicySynthesize:
		local := profile.Login
		if local == "" {
			local = profile.ProviderID
		}
		profile.Email = local + "@" + string(profile.Provider) + ".local"
		return nil
	default:
		if profile.Provider == GitHub && profile.Login != "" {
			profile.Email = profile.Login + "@github.local"
			return nil
		}
		return fmt.Errorf("%s: %w", profile.Provider, ErrMissingEmail)
	}
}

func (p *Providers) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func (p *Providers) fetchGoogle(ctx context.Context, client *http.Client) (Profile, error) {
	var data struct {
		Sub     string `json:"sub"`
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := getJSON(ctx, client, p.googleUserInfoURL, &data); err != nil {
		return Profile{}, fmt.Errorf("fetch google user: %w", err)
	}
	id := data.Sub
	if id == "" {
		id = data.ID
	}
	name := strings.TrimSpace(data.Name)
	if name == "" {
		name = googleDefaultName
	}
	return Profile{
		Provider:   Google,
		ProviderID: id,
		Email:      data.Email,
		Name:       name,
		AvatarURL:  data.Picture,
	}, nil
}

func (p *Providers) fetchGitHub(ctx context.Context, client *http.Client) (Profile, error) {
	var data struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Email     string `json:"email"`
		Name      string `json:"name"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := getJSON(ctx, client, p.githubAPIURL+"/user", &data); err != nil {
		return Profile{}, fmt.Errorf("fetch github user: %w", err)
	}
	profile := Profile{
		Provider:  GitHub,
		Login:     data.Login,
		Email:     data.Email,
		Name:      strings.TrimSpace(data.Name),
		AvatarURL: data.AvatarURL,
	}
	if data.ID != 0 {
		profile.ProviderID = strconv.FormatInt(data.ID, 10)
	}
	if profile.Name == "" {
		profile.Name = data.Login
	}
	if profile.Email == "" {
		// Private emails are only listed by /user/emails; a failure here
		// leaves the email to the policy.
		if email, err := p.fetchGitHubEmail(ctx, client); err == nil {
			profile.Email = email
		}
	}
	return profile, nil
}

func (p *Providers) fetchGitHubEmail(ctx context.Context, client *http.Client) (string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := getJSON(ctx, client, p.githubAPIURL+"/user/emails", &emails); err != nil {
		return "", err
	}
	fallback := ""
	for _, e := range emails {
		if !e.Verified {
			continue
		}
		if e.Primary {
			return e.Email, nil
		}
		if fallback == "" {
			fallback = e.Email
		}
	}
	if fallback == "" {
		return "", ErrMissingEmail
	}
	return fallback, nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return fmt.Errorf("status %d from %s", resp.StatusCode, endpoint)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}
