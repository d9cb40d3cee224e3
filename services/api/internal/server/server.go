package server

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/sessions"

	"buglens/internal/metrics"
	"buglens/internal/util"
	"buglens/pkg/domain"
	"buglens/pkg/oauth"
	"buglens/pkg/store"
	"buglens/services/api/internal/app"
	"buglens/services/api/internal/security"
)

const maxBodyBytes = 2 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// OAuth is optional; without it the /api/oauth routes redirect with an error.
	OAuth *oauth.Providers
	// Cookies holds the short-lived OAuth state. A random-key cookie store is
	// used when nil, which does not survive restarts.
	Cookies        sessions.Store
	JWKS           store.JWKSProvider
	FrontendURL    string
	AllowedOrigins []string
	TrustedProxies *util.TrustedProxies
	// Alerter counts auth failures per client IP. Optional.
	Alerter *security.AuditAlerter
}

// Server exposes the JSON API.
type Server struct {
	app         *app.App
	oauth       *oauth.Providers
	cookies     sessions.Store
	jwks        store.JWKSProvider
	frontendURL string
	origins     []string
	trusted     *util.TrustedProxies
	alerter     *security.AuditAlerter
	router      chi.Router
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	cookies := cfg.Cookies
	if cookies == nil {
		key := make([]byte, 32)
		_, _ = rand.Read(key)
		cookies = sessions.NewCookieStore(key)
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s := &Server{
		app:         cfg.App,
		oauth:       cfg.OAuth,
		cookies:     cookies,
		jwks:        cfg.JWKS,
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
		origins:     origins,
		trusted:     cfg.TrustedProxies,
		alerter:     cfg.Alerter,
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(util.WithRequestID)
	r.Use(func(next http.Handler) http.Handler { return util.WithRequestLog(s.trusted, next) })
	r.Use(util.WithSecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/.well-known/jwks.json", s.handleJWKS)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Post("/logout", s.authenticated(s.handleLogout))
			r.Get("/me", s.authenticated(s.handleMe))
			r.Post("/forgot-password", s.handleForgotPassword)
			r.Post("/reset-password", s.handleResetPassword)
			r.Get("/check-email", s.handleCheckEmail)
		})

		r.Route("/oauth/{provider}", func(r chi.Router) {
			r.Get("/login", s.handleOAuthLogin)
			r.Get("/url", s.handleOAuthURL)
			r.Get("/callback", s.handleOAuthCallback)
		})

		r.Route("/analysis", func(r chi.Router) {
			r.Get("/demo", s.handleDemo)
			r.Post("/", s.authenticated(s.handleCreateAnalysis))
			r.Get("/", s.authenticated(s.handleListAnalyses))
			r.Get("/language/{language}", s.authenticated(s.handleListByLanguage))
			r.Get("/{id}", s.authenticated(s.handleGetAnalysis))
			r.Post("/{id}/resolution", s.authenticated(s.handleResolution))
		})

		r.Get("/statistics", s.authenticated(s.handleStatistics))
		r.Get("/ai/models", s.authenticated(s.handleModels))
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found", "No route matches the request")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "The route does not accept this method")
	})
	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	var keys []store.JWK
	if s.jwks != nil {
		keys = s.jwks.JWKS()
	}
	if keys == nil {
		keys = []store.JWK{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "User not authenticated")
			return
		}
		user, ok := s.app.UserFromToken(r.Context(), token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "User not authenticated")
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", user.ID))
		next(w, r.WithContext(ctx), user)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

// auditFailure feeds a failed auth attempt to the alerter.
func (s *Server) auditFailure(r *http.Request, event string) {
	if s.alerter == nil {
		return
	}
	logger := util.LoggerFromContext(r.Context())
	ip := util.ClientIP(r, s.trusted)
	res, err := s.alerter.Observe(r.Context(), event, security.OutcomeFail, ip)
	if err != nil {
		logger.Warn("audit observe failed", "event", event, "err", err)
		return
	}
	if res.Triggered {
		metrics.ObserveSecurityAlert(event)
		logger.Warn("auth failure threshold reached",
			"event", event,
			"client_ip", ip,
			"count", res.Count,
			"threshold", res.Threshold,
			"window", res.Window.String(),
		)
	}
}

// statusForError maps app errors to HTTP statuses. Anything unknown is a 500.
func statusForError(err error) int {
	var verr *app.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrInvalidCredentials), errors.Is(err, app.ErrUserDisabled):
		return http.StatusUnauthorized
	case errors.Is(err, app.ErrAnalysisNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrEmailAlreadyExists),
		errors.Is(err, app.ErrEmailRequired),
		errors.Is(err, app.ErrInvalidResetToken),
		errors.Is(err, app.ErrInvalidDays):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrModelsUnavailable):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err using label as the error title. Validation problems are
// always titled "Invalid input"; internal errors are logged and hidden.
func fail(w http.ResponseWriter, r *http.Request, err error, label, internalDetails string) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, status, "Internal server error", internalDetails)
		return
	}
	var verr *app.ValidationError
	if errors.As(err, &verr) {
		label = "Invalid input"
	}
	writeError(w, status, label, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid input", "invalid JSON body")
		return false
	}
	return true
}

func queryInt(r *http.Request, name string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("encode response", "err", err)
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, errorResponse{Error: msg, Details: details})
}
