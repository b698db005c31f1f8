package ledgerline

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the declarative configuration surface, loadable from the
// environment or a YAML file. It maps onto the same knobs as the functional
// options.
type Config struct {
	ClientID     string        `env:"LEDGERLINE_CLIENT_ID" yaml:"client_id"`
	ClientSecret string        `env:"LEDGERLINE_CLIENT_SECRET" yaml:"client_secret"`
	AuthURL      string        `env:"LEDGERLINE_AUTH_URL" envDefault:"https://auth.ledgerline.io" yaml:"auth_url"`
	BaseURL      string        `env:"LEDGERLINE_BASE_URL" envDefault:"https://api.ledgerline.io" yaml:"base_url"`
	Timeout      time.Duration `env:"LEDGERLINE_TIMEOUT" envDefault:"30s" yaml:"timeout"`
	MaxRetries   int           `env:"LEDGERLINE_MAX_RETRIES" envDefault:"3" yaml:"max_retries"`
}

// ConfigFromEnv reads configuration from environment variables, loading a
// .env file first when one is present.
func ConfigFromEnv() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFromFile reads configuration from a YAML file. Unset fields take the
// same defaults as the environment loader.
func ConfigFromFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.AuthURL == "" {
		c.AuthURL = DefaultAuthURL
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxAttempts
	}
}

// Validate checks the configuration without any network activity.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.ClientID) == "" {
		problems = append(problems, "client id is required")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		problems = append(problems, "client secret is required")
	}
	if u, err := url.Parse(c.AuthURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("auth url %q is not a valid URL", c.AuthURL))
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("base url %q is not a valid URL", c.BaseURL))
	}
	if c.Timeout <= 0 {
		problems = append(problems, "timeout must be positive")
	}
	if c.MaxRetries <= 0 {
		problems = append(problems, "max retries must be positive")
	}

	if len(problems) > 0 {
		return NewValidationError("invalid configuration", map[string]any{"problems": problems})
	}
	return nil
}

// NewFromConfig builds a Client from a Config plus any extra options.
func NewFromConfig(cfg *Config, options ...Option) (*Client, error) {
	if cfg == nil {
		return nil, NewValidationError("config is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := []Option{
		WithAuthURL(cfg.AuthURL),
		WithBaseURL(cfg.BaseURL),
		WithTimeout(cfg.Timeout),
		WithMaxRetries(cfg.MaxRetries),
	}
	return New(cfg.ClientID, cfg.ClientSecret, append(base, options...)...)
}
