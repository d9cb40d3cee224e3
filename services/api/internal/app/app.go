package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"buglens/pkg/ai"
	"buglens/pkg/domain"
	"buglens/pkg/events"
	"buglens/pkg/mail"
	"buglens/pkg/queue"
	"buglens/pkg/store"
)

// Analyzer produces a root-cause analysis for one debugging request.
type Analyzer interface {
	Analyze(ctx context.Context, language, errorLogs, sourceCode string) (ai.Result, error)
}

// ModelLister is implemented by generators that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// JobQueue accepts background jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, kind string, payload any) (queue.JobStatus, error)
}

// Archiver stores a copy of a finished analysis and returns its object key.
type Archiver interface {
	Archive(ctx context.Context, analysis domain.Analysis) (string, error)
}

// Config holds runtime dependencies for the core application.
type Config struct {
	Store    store.Store
	Sessions store.SessionStore
	Analyzer Analyzer
	// Models is optional; without it ListModels reports ErrModelsUnavailable.
	Models ModelLister
	// Mailer sends reset emails. Defaults to a mail.LogMailer.
	Mailer mail.Mailer
	// Jobs is optional. When nil, reset emails are sent inline.
	Jobs      JobQueue
	Archive   Archiver
	Publisher events.Publisher

	FrontendURL   string
	ResetTokenTTL time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

// App is the core application service wiring together storage, the AI
// client and auth logic.
type App struct {
	store         store.Store
	sessions      store.SessionStore
	analyzer      Analyzer
	models        ModelLister
	mailer        mail.Mailer
	jobs          JobQueue
	archive       Archiver
	publisher     events.Publisher
	frontendURL   string
	resetTokenTTL time.Duration
	logger        *slog.Logger
	now           func() time.Time
	validate      *validator.Validate
}

// New constructs the application from its dependencies.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store required")
	}
	if cfg.Analyzer == nil {
		return nil, fmt.Errorf("analyzer required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Mailer == nil {
		cfg.Mailer = mail.LogMailer{FrontendURL: cfg.FrontendURL, Logger: cfg.Logger}
	}
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	validate, err := newValidator()
	if err != nil {
		return nil, err
	}
	return &App{
		store:         cfg.Store,
		sessions:      cfg.Sessions,
		analyzer:      cfg.Analyzer,
		models:        cfg.Models,
		mailer:        cfg.Mailer,
		jobs:          cfg.Jobs,
		archive:       cfg.Archive,
		publisher:     cfg.Publisher,
		frontendURL:   cfg.FrontendURL,
		resetTokenTTL: cfg.ResetTokenTTL,
		logger:        cfg.Logger,
		now:           cfg.Now,
		validate:      validate,
	}, nil
}

// ListModels returns the model names the configured AI provider offers.
func (a *App) ListModels(ctx context.Context) ([]string, error) {
	if a.models == nil {
		return nil, ErrModelsUnavailable
	}
	models, err := a.models.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return models, nil
}
