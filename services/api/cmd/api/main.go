package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"buglens/internal/util"
	"buglens/pkg/ai"
	"buglens/pkg/events"
	"buglens/pkg/mail"
	"buglens/pkg/oauth"
	"buglens/pkg/queue"
	"buglens/pkg/storage"
	"buglens/pkg/store"
	"buglens/services/api/internal/app"
	"buglens/services/api/internal/config"
	"buglens/services/api/internal/security"
	"buglens/services/api/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api exited", "err", err)
		stop()
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg config.FileConfig, logger *slog.Logger) error {
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		return err
	}
	leeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		return err
	}

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	var (
		revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
		jobs    *queue.RedisJobQueue
		alerter *security.AuditAlerter
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		revoker = store.NewRedisTokenRevoker(rdb, sessionTTL+leeway)
		jobs, err = queue.NewRedisJobQueue(queue.RedisQueueConfig{Client: rdb, Logger: logger})
		if err != nil {
			return fmt.Errorf("init job queue: %w", err)
		}
		defer jobs.Close()
		alerter = security.NewAuditAlerter(rdb, "")
	} else {
		logger.Warn("redis not configured; revocations are process local and reset emails are sent inline")
	}

	jwtOpts := store.JWTOptions{Issuer: cfg.JWTIssuer, Audience: cfg.JWTAudience, Leeway: leeway}
	sessionStore, err := newSessionStore(cfg, sessionTTL, revoker, jwtOpts)
	if err != nil {
		return err
	}

	gen, models, err := newGenerator(cfg.AI)
	if err != nil {
		return err
	}
	attemptTimeout, baseDelay, err := cfg.AI.Durations()
	if err != nil {
		return err
	}
	analyzer := ai.NewAnalyzer(gen, ai.AnalyzerConfig{
		MaxAttempts:    cfg.AI.MaxAttempts,
		BaseDelay:      baseDelay,
		AttemptTimeout: attemptTimeout,
		Logger:         logger,
	})
	writeTimeout, err := config.WriteTimeout(cfg.AI)
	if err != nil {
		return err
	}

	appCfg := app.Config{
		Store:       db,
		Sessions:    sessionStore,
		Analyzer:    analyzer,
		Models:      models,
		FrontendURL: cfg.FrontendURL,
		Logger:      logger,
	}
	if jobs != nil {
		appCfg.Jobs = jobs
	}

	if cfg.SMTP.Host != "" {
		mailer, err := mail.NewSMTPMailer(mail.SMTPConfig{
			Host:        cfg.SMTP.Host,
			Port:        cfg.SMTP.Port,
			Username:    cfg.SMTP.Username,
			Password:    cfg.SMTP.Password,
			From:        cfg.SMTP.From,
			FromName:    cfg.SMTP.FromName,
			FrontendURL: cfg.FrontendURL,
		})
		if err != nil {
			return fmt.Errorf("init smtp mailer: %w", err)
		}
		appCfg.Mailer = mailer
	} else {
		appCfg.Mailer = mail.LogMailer{FrontendURL: cfg.FrontendURL, Logger: logger}
	}

	if cfg.Minio.Endpoint != "" {
		objects, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			UseSSL:    cfg.Minio.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("init object storage: %w", err)
		}
		appCfg.Archive = storage.NewAnalysisArchive(objects, cfg.Minio.Prefix)
	}

	if cfg.AMQPURL != "" {
		publisher, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return fmt.Errorf("connect amqp: %w", err)
		}
		defer publisher.Close()
		appCfg.Publisher = publisher
	}

	appCore, err := app.New(appCfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	emailPolicy, err := oauth.ParseEmailPolicy(cfg.OAuth.EmailPolicy)
	if err != nil {
		return err
	}
	providers := oauth.New(oauth.Config{
		Google: oauth.ClientConfig{
			ClientID:     cfg.OAuth.Google.ClientID,
			ClientSecret: cfg.OAuth.Google.ClientSecret,
			RedirectURL:  cfg.OAuth.Google.RedirectURL,
		},
		GitHub: oauth.ClientConfig{
			ClientID:     cfg.OAuth.GitHub.ClientID,
			ClientSecret: cfg.OAuth.GitHub.ClientSecret,
			RedirectURL:  cfg.OAuth.GitHub.RedirectURL,
		},
		EmailPolicy: emailPolicy,
	})

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("parse trustedProxies: %w", err)
	}

	var cookies sessions.Store
	if cfg.CookieSecret != "" {
		cookies = sessions.NewCookieStore([]byte(cfg.CookieSecret))
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		OAuth:          providers,
		Cookies:        cookies,
		JWKS:           sessionStore,
		FrontendURL:    cfg.FrontendURL,
		AllowedOrigins: cfg.AllowedOrigins,
		TrustedProxies: trusted,
		Alerter:        alerter,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api server listening", "addr", addr, "ai_provider", cfg.AI.Provider, "model", cfg.AI.Model, "write_timeout", writeTimeout.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if jobs != nil {
		g.Go(func() error {
			return jobs.Run(gctx, cfg.QueueConcurrency, appCore.HandleJob)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down api server")
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newSessionStore(cfg config.FileConfig, ttl time.Duration, revoker store.TokenRevoker, opts store.JWTOptions) (*store.JWTSessionStore, error) {
	if cfg.JWTPrivateKeyPath == "" {
		return store.NewJWTHS256SessionStore(cfg.JWTSecret, ttl, revoker, opts)
	}
	verifyKeys, err := config.ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys)
	if err != nil {
		return nil, err
	}
	return store.NewJWTRS256SessionStoreFromPEM(
		cfg.JWTPrivateKeyPath,
		cfg.JWTPublicKeyPath,
		cfg.JWTKeyID,
		verifyKeys,
		ttl,
		revoker,
		opts,
	)
}

// newGenerator returns the configured model backend. Only Gemini can list models.
func newGenerator(cfg config.AIConfig) (ai.Generator, app.ModelLister, error) {
	timeout, _, err := cfg.Durations()
	if err != nil {
		return nil, nil, err
	}
	switch cfg.Provider {
	case config.ProviderOpenAI:
		gen, err := ai.NewOpenAIGenerator(ai.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIURL,
			Model:   cfg.Model,
			Config:  ai.DefaultGenerationConfig(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init openai generator: %w", err)
		}
		return gen, nil, nil
	default:
		opts := []ai.GeminiOption{ai.WithGeminiTimeout(timeout)}
		if cfg.GeminiURL != "" {
			opts = append(opts, ai.WithGeminiBaseURL(cfg.GeminiURL))
		}
		client, err := ai.NewGeminiClient(cfg.GeminiAPIKey, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("init gemini client: %w", err)
		}
		gen := ai.NewGeminiGenerator(client, cfg.Model, ai.DefaultGenerationConfig())
		return gen, gen, nil
	}
}
