package server

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"buglens/internal/util"
	"buglens/pkg/oauth"
	"buglens/services/api/internal/app"
	"buglens/services/api/internal/security"
)

const (
	oauthStateCookie = "buglens_oauth_state"
	oauthStateMaxAge = 300
)

var (
	errOAuthDisabled = errors.New("OAuth provider not configured")
	errOAuthState    = errors.New("Invalid OAuth state")
)

// beginOAuth stores a fresh state in the signed cookie and returns the
// provider consent URL.
func (s *Server) beginOAuth(w http.ResponseWriter, r *http.Request) (string, error) {
	provider, err := oauth.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		return "", err
	}
	if s.oauth == nil || !s.oauth.Enabled(provider) {
		return "", errOAuthDisabled
	}
	state, err := util.NewSecret(24)
	if err != nil {
		return "", err
	}
	session, _ := s.cookies.Get(r, oauthStateCookie)
	session.Values["state"] = state
	session.Values["provider"] = string(provider)
	session.Options.Path = "/api/oauth"
	session.Options.MaxAge = oauthStateMaxAge
	session.Options.HttpOnly = true
	session.Options.SameSite = http.SameSiteLaxMode
	session.Options.Secure = r.TLS != nil
	if err := session.Save(r, w); err != nil {
		return "", err
	}
	return s.oauth.AuthURL(provider, state)
}

func (s *Server) handleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	authURL, err := s.beginOAuth(w, r)
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("oauth login start failed", "err", err)
		s.redirectOAuthError(w, r, oauthErrorMessage(err))
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) handleOAuthURL(w http.ResponseWriter, r *http.Request) {
	authURL, err := s.beginOAuth(w, r)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, oauth.ErrUnknownProvider) || errors.Is(err, errOAuthDisabled) {
			status = http.StatusNotFound
		}
		writeError(w, status, "OAuth unavailable", oauthErrorMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": authURL})
}

// handleOAuthCallback finishes the code flow. Every failure ends in a
// redirect to the frontend login page carrying an error message.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := util.LoggerFromContext(ctx)
	provider, err := oauth.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil || s.oauth == nil || !s.oauth.Enabled(provider) {
		s.redirectOAuthError(w, r, errOAuthDisabled.Error())
		return
	}
	q := r.URL.Query()
	if q.Get("error") != "" {
		logger.Warn("oauth provider returned error", "provider", provider, "error", q.Get("error"))
		s.redirectOAuthError(w, r, provider.AccountProvider()+" authentication failed")
		return
	}
	code := q.Get("code")
	if code == "" {
		s.redirectOAuthError(w, r, "Missing authorization code")
		return
	}

	session, _ := s.cookies.Get(r, oauthStateCookie)
	savedState, _ := session.Values["state"].(string)
	savedProvider, _ := session.Values["provider"].(string)
	session.Options.Path = "/api/oauth"
	session.Options.MaxAge = -1
	_ = session.Save(r, w)
	if savedState == "" || savedState != q.Get("state") || savedProvider != string(provider) {
		s.auditFailure(r, security.EventOAuth)
		s.redirectOAuthError(w, r, errOAuthState.Error())
		return
	}

	token, err := s.oauth.Exchange(ctx, provider, code)
	if err != nil {
		logger.Error("oauth code exchange failed", "provider", provider, "err", err)
		s.auditFailure(r, security.EventOAuth)
		s.redirectOAuthError(w, r, "Authentication failed")
		return
	}
	profile, err := s.oauth.FetchProfile(ctx, provider, token)
	if err != nil {
		logger.Error("oauth profile fetch failed", "provider", provider, "err", err)
		s.redirectOAuthError(w, r, oauthErrorMessage(err))
		return
	}
	res, err := s.app.OAuthLoginOrRegister(ctx, app.OAuthIdentity{
		Email:      profile.Email,
		Name:       profile.Name,
		Provider:   provider.AccountProvider(),
		ProviderID: profile.ProviderID,
		PictureURL: profile.AvatarURL,
	})
	if err != nil {
		logger.Error("oauth login failed", "provider", provider, "err", err)
		s.redirectOAuthError(w, r, oauthErrorMessage(err))
		return
	}

	v := url.Values{}
	v.Set("token", res.Token)
	v.Set("email", res.Email)
	v.Set("fullName", res.FullName)
	v.Set("userId", res.UserID)
	http.Redirect(w, r, s.frontendURL+"/login.html?"+v.Encode(), http.StatusFound)
}

func (s *Server) redirectOAuthError(w http.ResponseWriter, r *http.Request, msg string) {
	v := url.Values{}
	v.Set("error", msg)
	http.Redirect(w, r, s.frontendURL+"/login.html?"+v.Encode(), http.StatusFound)
}

// oauthErrorMessage returns text safe to show in the frontend.
func oauthErrorMessage(err error) string {
	switch {
	case errors.Is(err, oauth.ErrUnknownProvider):
		return "Unknown OAuth provider"
	case errors.Is(err, errOAuthDisabled), errors.Is(err, oauth.ErrProviderNotConfigured):
		return errOAuthDisabled.Error()
	case errors.Is(err, oauth.ErrMissingEmail):
		return "Your account does not expose an email address"
	case errors.Is(err, app.ErrUserDisabled):
		return app.ErrUserDisabled.Error()
	default:
		return "Authentication failed"
	}
}
