package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is used when BUGLENS_CONFIG is unset.
const ConfigPath = "config.yaml"

// AI providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port           string   `yaml:"port"`
	LogLevel       string   `yaml:"logLevel"`
	FrontendURL    string   `yaml:"frontendURL"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	TrustedProxies []string `yaml:"trustedProxies"`

	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	SessionTTL          string `yaml:"sessionTTL"`
	JWTSecret           string `yaml:"jwtSecret"`
	JWTPrivateKeyPath   string `yaml:"jwtPrivateKeyPath"`
	JWTPublicKeyPath    string `yaml:"jwtPublicKeyPath"`
	JWTKeyID            string `yaml:"jwtKeyId"`
	JWTVerifyPublicKeys string `yaml:"jwtVerifyPublicKeys"`
	JWTIssuer           string `yaml:"jwtIssuer"`
	JWTAudience         string `yaml:"jwtAudience"`
	JWTLeeway           string `yaml:"jwtLeeway"`
	CookieSecret        string `yaml:"cookieSecret"`

	AI AIConfig `yaml:"ai"`

	OAuth OAuthConfig `yaml:"oauth"`
	SMTP  SMTPConfig  `yaml:"smtp"`
	Minio MinioConfig `yaml:"minio"`

	AMQPURL          string `yaml:"amqpURL"`
	AMQPExchange     string `yaml:"amqpExchange"`
	QueueConcurrency int    `yaml:"queueConcurrency"`
}

// AIConfig selects and tunes the analysis model.
type AIConfig struct {
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	GeminiAPIKey string `yaml:"geminiApiKey"`
	GeminiURL    string `yaml:"geminiBaseURL"`
	OpenAIAPIKey string `yaml:"openaiApiKey"`
	OpenAIURL    string `yaml:"openaiBaseURL"`
	MaxAttempts  int    `yaml:"maxAttempts"`
	BaseDelay    string `yaml:"baseDelay"`
	Timeout      string `yaml:"timeout"`
}

type OAuthClient struct {
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
	RedirectURL  string `yaml:"redirectURL"`
}

type OAuthConfig struct {
	Google      OAuthClient `yaml:"google"`
	GitHub      OAuthClient `yaml:"github"`
	EmailPolicy string      `yaml:"emailPolicy"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	FromName string `yaml:"fromName"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
	Prefix    string `yaml:"prefix"`
}

// Defaults applied by Load.
const (
	DefaultModel       = "gemini-2.5-flash"
	DefaultMaxAttempts = 2
	DefaultSessionTTL  = 24 * time.Hour
	DefaultJWTLeeway   = 5 * time.Minute
	DefaultAIBaseDelay = 2 * time.Second
	DefaultAITimeout   = 60 * time.Second

	MaxAIAttempts = 5
)

// HTTP write timeout bounds. The margin covers persistence and encoding
// after the last AI attempt.
const (
	minWriteTimeout    = 30 * time.Second
	writeTimeoutMargin = 15 * time.Second
)

// Path returns the config file location.
func Path() string {
	if v := strings.TrimSpace(os.Getenv("BUGLENS_CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Override with environment variables. Secrets normally arrive this way.
func applyEnv(cfg *FileConfig) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Port, "PORT")
	setString(&cfg.FrontendURL, "FRONTEND_URL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.JWTPrivateKeyPath, "JWT_PRIVATE_KEY_PATH")
	setString(&cfg.JWTPublicKeyPath, "JWT_PUBLIC_KEY_PATH")
	setString(&cfg.JWTKeyID, "JWT_KEY_ID")
	setString(&cfg.JWTVerifyPublicKeys, "JWT_VERIFY_PUBLIC_KEYS")
	setString(&cfg.JWTIssuer, "JWT_ISSUER")
	setString(&cfg.JWTAudience, "JWT_AUDIENCE")
	setString(&cfg.JWTLeeway, "JWT_LEEWAY")
	setString(&cfg.CookieSecret, "COOKIE_SECRET")

	setString(&cfg.AI.Provider, "AI_PROVIDER")
	setString(&cfg.AI.Model, "AI_MODEL")
	setString(&cfg.AI.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&cfg.AI.OpenAIAPIKey, "OPENAI_API_KEY")

	setString(&cfg.OAuth.Google.ClientID, "OAUTH_GOOGLE_CLIENT_ID")
	setString(&cfg.OAuth.Google.ClientSecret, "OAUTH_GOOGLE_CLIENT_SECRET")
	setString(&cfg.OAuth.Google.RedirectURL, "OAUTH_GOOGLE_REDIRECT_URL")
	setString(&cfg.OAuth.GitHub.ClientID, "OAUTH_GITHUB_CLIENT_ID")
	setString(&cfg.OAuth.GitHub.ClientSecret, "OAUTH_GITHUB_CLIENT_SECRET")
	setString(&cfg.OAuth.GitHub.RedirectURL, "OAUTH_GITHUB_REDIRECT_URL")
	setString(&cfg.OAuth.EmailPolicy, "OAUTH_EMAIL_POLICY")

	setString(&cfg.SMTP.Host, "SMTP_HOST")
	setString(&cfg.SMTP.Username, "SMTP_USERNAME")
	setString(&cfg.SMTP.Password, "SMTP_PASSWORD")
	setString(&cfg.SMTP.From, "SMTP_FROM")
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SMTP.Port = n
		}
	}

	setString(&cfg.Minio.Endpoint, "MINIO_ENDPOINT")
	setString(&cfg.Minio.AccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.Minio.SecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.Minio.Bucket, "MINIO_BUCKET")
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Minio.UseSSL = b
		}
	}

	setString(&cfg.AMQPURL, "AMQP_URL")
}

func applyDefaults(cfg *FileConfig) {
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = ProviderGemini
	}
	cfg.AI.Provider = strings.ToLower(strings.TrimSpace(cfg.AI.Provider))
	if cfg.AI.Model == "" && cfg.AI.Provider == ProviderGemini {
		cfg.AI.Model = DefaultModel
	}
	if cfg.AI.MaxAttempts == 0 {
		cfg.AI.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.QueueConcurrency == 0 {
		cfg.QueueConcurrency = 2
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" && strings.TrimSpace(cfg.JWTPrivateKeyPath) == "" {
		return errors.New("config: jwtSecret or jwtPrivateKeyPath is required (set JWT_SECRET)")
	}
	if cfg.JWTPrivateKeyPath == "" && cfg.JWTPublicKeyPath != "" {
		return errors.New("config: jwtPublicKeyPath requires jwtPrivateKeyPath")
	}
	switch cfg.AI.Provider {
	case ProviderGemini:
		if strings.TrimSpace(cfg.AI.GeminiAPIKey) == "" {
			return errors.New("config: ai.geminiApiKey is required for the gemini provider (set GEMINI_API_KEY)")
		}
	case ProviderOpenAI:
		if strings.TrimSpace(cfg.AI.OpenAIAPIKey) == "" {
			return errors.New("config: ai.openaiApiKey is required for the openai provider (set OPENAI_API_KEY)")
		}
	default:
		return fmt.Errorf("config: unknown ai.provider %q", cfg.AI.Provider)
	}
	if cfg.AI.MaxAttempts < 1 || cfg.AI.MaxAttempts > MaxAIAttempts {
		return fmt.Errorf("config: ai.maxAttempts must be between 1 and %d", MaxAIAttempts)
	}
	if cfg.QueueConcurrency < 1 {
		return errors.New("config: queueConcurrency must be >= 1")
	}
	if cfg.Minio.Endpoint != "" && cfg.Minio.Bucket == "" {
		return errors.New("config: minio.bucket is required when minio.endpoint is set")
	}
	for name, raw := range map[string]string{
		"sessionTTL":   cfg.SessionTTL,
		"jwtLeeway":    cfg.JWTLeeway,
		"ai.baseDelay": cfg.AI.BaseDelay,
		"ai.timeout":   cfg.AI.Timeout,
	} {
		if _, err := ParseDuration(raw, 0); err != nil {
			return fmt.Errorf("config: invalid %s: %w", name, err)
		}
	}
	return nil
}

// ParseDuration parses an optional duration string, returning def when raw is empty.
func ParseDuration(raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if dur < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return dur, nil
}

// Durations returns the per-attempt timeout and the first backoff delay.
// Unset or zero values fall back to the defaults.
func (c AIConfig) Durations() (timeout, baseDelay time.Duration, err error) {
	timeout, err = ParseDuration(c.Timeout, DefaultAITimeout)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid ai.timeout: %w", err)
	}
	if timeout == 0 {
		timeout = DefaultAITimeout
	}
	baseDelay, err = ParseDuration(c.BaseDelay, DefaultAIBaseDelay)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid ai.baseDelay: %w", err)
	}
	if baseDelay == 0 {
		baseDelay = DefaultAIBaseDelay
	}
	return timeout, baseDelay, nil
}

// AnalysisBudget is the longest one analysis can spend on the model: every
// attempt hitting its timeout plus the doubling waits between attempts.
func (c AIConfig) AnalysisBudget() (time.Duration, error) {
	timeout, baseDelay, err := c.Durations()
	if err != nil {
		return 0, err
	}
	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = DefaultMaxAttempts
	}
	budget := time.Duration(attempts) * timeout
	for i := 1; i < attempts; i++ {
		budget += baseDelay << (i - 1)
	}
	return budget, nil
}

// WriteTimeout returns the HTTP server write timeout. It outlasts the
// analysis budget so a slow or degraded analysis still reaches the client.
func WriteTimeout(ai AIConfig) (time.Duration, error) {
	budget, err := ai.AnalysisBudget()
	if err != nil {
		return 0, err
	}
	return max(minWriteTimeout, budget+writeTimeoutMargin), nil
}

// ParseSessionTTL parses optional session TTL duration string.
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	dur, err := ParseDuration(ttlStr, DefaultSessionTTL)
	if err != nil {
		return 0, fmt.Errorf("invalid sessionTTL duration: %w", err)
	}
	return dur, nil
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	dur, err := ParseDuration(leewayStr, DefaultJWTLeeway)
	if err != nil {
		return 0, fmt.Errorf("invalid jwtLeeway duration: %w", err)
	}
	return dur, nil
}

// ParseVerifyPublicKeys parses "kid=path,kid2=path2" into a map.
func ParseVerifyPublicKeys(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	pairs := strings.Split(raw, ",")
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kid, path, ok := strings.Cut(pair, "=")
		kid = strings.TrimSpace(kid)
		path = strings.TrimSpace(path)
		if !ok || kid == "" || path == "" {
			return nil, fmt.Errorf("invalid jwtVerifyPublicKeys entry %q", pair)
		}
		out[kid] = path
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
