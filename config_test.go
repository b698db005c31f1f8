package ledgerline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LEDGERLINE_CLIENT_ID", "env-client")
	t.Setenv("LEDGERLINE_CLIENT_SECRET", "env-secret-env-secret")
	t.Setenv("LEDGERLINE_AUTH_URL", "https://auth.example.com")
	t.Setenv("LEDGERLINE_BASE_URL", "https://api.example.com")
	t.Setenv("LEDGERLINE_TIMEOUT", "10s")
	t.Setenv("LEDGERLINE_MAX_RETRIES", "5")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "env-client", cfg.ClientID)
	assert.Equal(t, "env-secret-env-secret", cfg.ClientSecret)
	assert.Equal(t, "https://auth.example.com", cfg.AuthURL)
	assert.Equal(t, "https://api.example.com", cfg.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 5, cfg.MaxRetries)
}

// unsetenv clears a variable for the test while keeping t.Setenv's cleanup.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func TestConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("LEDGERLINE_CLIENT_ID", "env-client")
	t.Setenv("LEDGERLINE_CLIENT_SECRET", "env-secret-env-secret")
	for _, key := range []string{"LEDGERLINE_AUTH_URL", "LEDGERLINE_BASE_URL", "LEDGERLINE_TIMEOUT", "LEDGERLINE_MAX_RETRIES"} {
		unsetenv(t, key)
	}

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, DefaultAuthURL, cfg.AuthURL)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxRetries)
}

func TestConfigFromEnvMissingCredentials(t *testing.T) {
	unsetenv(t, "LEDGERLINE_CLIENT_ID")
	unsetenv(t, "LEDGERLINE_CLIENT_SECRET")

	_, err := ConfigFromEnv()
	assert.True(t, IsValidationError(err), "expected validation error, got %v", err)
}

func TestConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledgerline.yaml")
	content := `client_id: file-client
client_secret: file-secret-file-secret
auth_url: https://auth.example.com
base_url: https://api.example.com
timeout: 15s
max_retries: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := ConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "file-client", cfg.ClientID)
	assert.Equal(t, 15*time.Second, cfg.Timeout)
	assert.Equal(t, 4, cfg.MaxRetries)
}

func TestConfigFromFileAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledgerline.yaml")
	content := `client_id: file-client
client_secret: file-secret-file-secret
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := ConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultAuthURL, cfg.AuthURL)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
}

func TestConfigFromFileErrors(t *testing.T) {
	_, err := ConfigFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("client_id: [unterminated"), 0o600))
	_, err = ConfigFromFile(path)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	valid := Config{
		ClientID:     "client",
		ClientSecret: "secret-secret-secret",
		AuthURL:      "https://auth.example.com",
		BaseURL:      "https://api.example.com",
		Timeout:      time.Second,
		MaxRetries:   3,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing client id", func(c *Config) { c.ClientID = " " }},
		{"missing secret", func(c *Config) { c.ClientSecret = "" }},
		{"bad auth url", func(c *Config) { c.AuthURL = "not a url" }},
		{"bad base url", func(c *Config) { c.BaseURL = "" }},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"zero retries", func(c *Config) { c.MaxRetries = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.True(t, IsValidationError(cfg.Validate()))
		})
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := &Config{
		ClientID:     "client",
		ClientSecret: "secret-secret-secret",
		AuthURL:      "https://auth.example.com",
		BaseURL:      "https://api.example.com",
		Timeout:      10 * time.Second,
		MaxRetries:   2,
	}

	client, err := NewFromConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, "https://auth.example.com", client.authURL)
	assert.Equal(t, "https://api.example.com", client.baseURL)
	assert.Equal(t, 10*time.Second, client.timeout)
	assert.Equal(t, 2, client.maxRetries)
}

func TestNewFromConfigNil(t *testing.T) {
	_, err := NewFromConfig(nil)
	assert.True(t, IsValidationError(err))
}
