package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// isolate resets global viper state and runs the test in an empty directory.
func isolate(t *testing.T) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	return dir
}

func TestConfig_SetDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()

	if cfg.APIBaseURL != DefaultAPIBaseURL {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.HTTP.Timeout != 30*time.Second {
		t.Errorf("HTTP.Timeout = %v", cfg.HTTP.Timeout)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelay != 500*time.Millisecond || cfg.Retry.MaxDelay != 10*time.Second {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.Retry.MaxRetryAfter != time.Minute {
		t.Errorf("MaxRetryAfter = %v", cfg.Retry.MaxRetryAfter)
	}
	if cfg.Auth.SafetyMargin != 30*time.Second {
		t.Errorf("SafetyMargin = %v", cfg.Auth.SafetyMargin)
	}
	if cfg.Store.DSN != DefaultStoreDSN {
		t.Errorf("Store.DSN = %q", cfg.Store.DSN)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadConfig_EnvOnly(t *testing.T) {
	isolate(t)
	t.Setenv("DEVICI_API_BASE_URL", "https://eu.devici.test/api/v1/")
	t.Setenv("DEVICI_CLIENT_ID", "id-1")
	t.Setenv("DEVICI_CLIENT_SECRET", "s3cret")
	t.Setenv("DEVICI_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("DEVICI_RETRY_BASE_DELAY", "250ms")
	t.Setenv("DEVICI_SERVER_READ_ONLY", "true")
	t.Setenv("DEVICI_STORE_DSN", "memory")
	t.Setenv("DEBUG", "1")

	InitViper("")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIBaseURL != "https://eu.devici.test/api/v1" {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.BaseDelay != 250*time.Millisecond {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if !cfg.Server.ReadOnly || cfg.Store.DSN != MemoryDSN {
		t.Errorf("Server=%+v Store=%+v", cfg.Server, cfg.Store)
	}
	if cfg.EffectiveLogLevel() != "debug" {
		t.Errorf("DEBUG should force debug, got %q", cfg.EffectiveLogLevel())
	}
	if err := cfg.RequireCredentials(); err != nil {
		t.Fatal(err)
	}
	if cred := cfg.Credential(); cred.ClientID != "id-1" || cred.BaseURL != cfg.APIBaseURL {
		t.Errorf("credential = %+v", cred)
	}
	if p := cfg.RetryPolicy(); p.MaxAttempts != 5 {
		t.Errorf("policy = %+v", p)
	}
}

func TestLoadConfig_FileAndEnvOverride(t *testing.T) {
	dir := isolate(t)
	yaml := `
api_base_url: https://file.devici.test/api/v1
log_level: WARN
retry:
  max_delay: 20s
server:
  http_addr: 127.0.0.1:8931
store:
  dsn: sqlite:file:test.sqlite
`
	if err := os.WriteFile(filepath.Join(dir, "devici-mcp.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DEVICI_SERVER_HTTP_ADDR", "127.0.0.1:9000")

	InitViper("")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(ConfigFileUsed(), "devici-mcp.yaml") {
		t.Errorf("config file = %q", ConfigFileUsed())
	}
	if cfg.APIBaseURL != "https://file.devici.test/api/v1" || cfg.LogLevel != "warn" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Retry.MaxDelay != 20*time.Second {
		t.Errorf("MaxDelay = %v", cfg.Retry.MaxDelay)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("env should override file, HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if err := cfg.RequireCredentials(); err == nil || !strings.Contains(err.Error(), "DEVICI_CLIENT_ID") {
		t.Fatalf("missing credentials: err=%v", err)
	}
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := isolate(t)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("DEVICI_CLIENT_ID=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("DEVICI_CLIENT_ID") })

	InitViper("")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ClientID != "from-dotenv" {
		t.Fatalf("ClientID = %q", cfg.ClientID)
	}
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	isolate(t)
	t.Setenv("DEVICI_LOG_LEVEL", "loud")
	t.Setenv("DEVICI_STORE_DSN", "mysql://nope")
	t.Setenv("DEVICI_RETRY_BASE_DELAY", "5s")
	t.Setenv("DEVICI_RETRY_MAX_DELAY", "1s")

	InitViper("")
	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"LogLevel must be one of", "Store.DSN must be", "Retry.MaxDelay must not be less than"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestFindConfigFileInPaths(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	if got := findConfigFileInPaths([]string{a, b}); got != "" {
		t.Fatalf("found %q in empty dirs", got)
	}
	path := filepath.Join(b, "devici-mcp.yml")
	if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := findConfigFileInPaths([]string{a, b}); got != path {
		t.Fatalf("got %q want %q", got, path)
	}
}
