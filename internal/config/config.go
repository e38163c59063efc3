// config.go

// Environment variable loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// MinSessionSecretLen is the shortest SESSION_SECRET accepted by serve.
const MinSessionSecretLen = 32

// Config holds all env configuration vars for the sample.
type Config struct {
	Port      string     `env:"PORT"      envDefault:"3000"`
	ClientID  string     `env:"CLIENT_ID,required,notEmpty"`
	Authority string     `env:"AUTHORITY" envDefault:"https://login.microsoftonline.com/common"`
	Scopes    []string   `env:"SCOPES"    envDefault:"user.read" envSeparator:","`
	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"info"`

	// RedirectURI is the server's GET /redirect leg. InteractiveRedirectURI is the
	// loopback used by `login` and FLOW_MODE=interactive; port 0 or none picks a free port.
	RedirectURI            string `env:"REDIRECT_URI"             envDefault:"http://localhost:3000/redirect"`
	InteractiveRedirectURI string `env:"INTERACTIVE_REDIRECT_URI" envDefault:"http://localhost"`
	FlowMode               string `env:"FLOW_MODE"                envDefault:"redirect"`

	// PIILoggingEnabled logs usernames and account ids from token responses.
	PIILoggingEnabled bool   `env:"PII_LOGGING_ENABLED" envDefault:"false"`
	AppEnv            string `env:"APP_ENV"             envDefault:"development"`

	// Session backend. Empty RedisURL falls back to files in SessionDir (OS temp dir when empty).
	SessionSecret string        `env:"SESSION_SECRET"`
	SessionMaxAge time.Duration `env:"SESSION_MAX_AGE" envDefault:"1h"`
	RedisURL      string        `env:"REDIS_URL"`
	SessionDir    string        `env:"SESSION_DIR"`
}

// LoadConfig reads an optional .env file, then environment variables, and returns a validated Config.
// Variables already present in the environment win over .env entries.
func LoadConfig() (*Config, error) {
	// Missing .env is fine, anything else (bad syntax, permissions) is not
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing env: %w", err)
	}

	cfg.FlowMode = strings.ToLower(strings.TrimSpace(cfg.FlowMode))
	if cfg.FlowMode != "redirect" && cfg.FlowMode != "interactive" {
		return nil, fmt.Errorf("FLOW_MODE must be redirect or interactive, got %q", cfg.FlowMode)
	}

	u, err := url.Parse(cfg.Authority)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("AUTHORITY must be an absolute http(s) URL, got %q", cfg.Authority)
	}

	if cfg.SessionMaxAge <= 0 {
		return nil, fmt.Errorf("SESSION_MAX_AGE must be positive, got %s", cfg.SessionMaxAge)
	}

	return cfg, nil
}

// ValidateServe checks the settings only the HTTP server needs.
func (c *Config) ValidateServe() error {
	if len(c.SessionSecret) < MinSessionSecretLen {
		return fmt.Errorf("SESSION_SECRET must be at least %d bytes", MinSessionSecretLen)
	}
	return nil
}

// IsProduction reports whether APP_ENV is production (secure cookies, trusted proxy headers).
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}
