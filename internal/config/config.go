package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Port              string `env:"APP_PORT" envDefault:"8080"`
	BaseURL           string `env:"APP_BASE_URL" envDefault:"http://localhost:3000"`
	PreviewHostSuffix string `env:"PREVIEW_HOST_SUFFIX" envDefault:"app.github.dev"`
	CodespaceName     string `env:"CODESPACE_NAME"`
	CodespaceDomain   string `env:"GITHUB_CODESPACES_PORT_FORWARDING_DOMAIN"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"mongo"`
	MongoURI    string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDB     string `env:"MONGO_DB" envDefault:"fanzone"`

	JWTSecret         string        `env:"JWT_SECRET,required,notEmpty"`
	AccessTokenTTL    time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL   time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	LoginFailureDelay time.Duration `env:"LOGIN_FAILURE_DELAY" envDefault:"1s"`

	GoogleClientID       string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret   string `env:"GOOGLE_CLIENT_SECRET"`
	FacebookClientID     string `env:"FACEBOOK_CLIENT_ID"`
	FacebookClientSecret string `env:"FACEBOOK_CLIENT_SECRET"`
	OAuthStateSecret     string `env:"OAUTH_STATE_SECRET"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPass     string `env:"SMTP_PASS"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME" envDefault:"Fanzone"`
	SMTPUseTLS   bool   `env:"SMTP_USE_TLS" envDefault:"false"`

	RedisAddr       string `env:"REDIS_ADDR"`
	RateLimitPerMin int    `env:"RATE_LIMIT_PER_MIN" envDefault:"10"`

	RabbitURL         string `env:"RABBIT_URL"`
	RabbitExchange    string `env:"RABBIT_EXCHANGE" envDefault:"auth.events"`
	RabbitQueue       string `env:"RABBIT_QUEUE" envDefault:"auth.notify"`
	RabbitBindKey     string `env:"RABBIT_BIND_KEY" envDefault:"user.#"`
	RabbitConcurrency int    `env:"RABBIT_CONCURRENCY" envDefault:"4"`

	LogProduction  bool   `env:"LOG_PRODUCTION" envDefault:"false"`
	ServiceName    string `env:"DD_SERVICE" envDefault:"fanzone-auth"`
	TracingEnabled bool   `env:"DD_TRACE_ENABLED" envDefault:"false"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse reads the configuration from the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg, nil
}

// PublicBaseURL is the externally reachable origin of the application.
// Inside a Codespace the forwarded-port host is used instead of APP_BASE_URL.
func (c Config) PublicBaseURL() string {
	if c.CodespaceName != "" && c.CodespaceDomain != "" {
		return fmt.Sprintf("https://%s-%s.%s", c.CodespaceName, c.Port, c.CodespaceDomain)
	}
	return c.BaseURL
}

// IsPreview reports whether the public origin is a cross-origin preview host.
func (c Config) IsPreview() bool {
	return IsPreviewHost(c.PublicBaseURL(), c.PreviewHostSuffix)
}

func IsPreviewHost(rawURL, suffix string) bool {
	if suffix == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	suffix = strings.ToLower(strings.TrimPrefix(suffix, "."))
	return host == suffix || strings.HasSuffix(host, "."+suffix)
}

// OAuthCallbackURL is the redirect URI registered with an identity provider.
func (c Config) OAuthCallbackURL(provider string) string {
	return c.PublicBaseURL() + "/api/auth/" + provider + "/callback"
}

// Notifier is the event consumer's configuration. It shares variable names
// with the server but needs neither the store nor the signing secret.
type Notifier struct {
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:3000"`

	RabbitURL         string `env:"RABBIT_URL,required,notEmpty"`
	RabbitExchange    string `env:"RABBIT_EXCHANGE" envDefault:"auth.events"`
	RabbitQueue       string `env:"RABBIT_QUEUE" envDefault:"auth.notify"`
	RabbitBindKey     string `env:"RABBIT_BIND_KEY" envDefault:"user.#"`
	RabbitConcurrency int    `env:"RABBIT_CONCURRENCY" envDefault:"4"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPass     string `env:"SMTP_PASS"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME" envDefault:"Fanzone"`
	SMTPUseTLS   bool   `env:"SMTP_USE_TLS" envDefault:"false"`

	LogProduction bool `env:"LOG_PRODUCTION" envDefault:"false"`
}

func LoadNotifier() (Notifier, error) {
	_ = godotenv.Load()
	var cfg Notifier
	if err := env.Parse(&cfg); err != nil {
		return Notifier{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RabbitConcurrency < 1 {
		cfg.RabbitConcurrency = 1
	}
	return cfg, nil
}
