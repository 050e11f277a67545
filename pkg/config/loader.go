package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for devici-mcp.yaml/.yml in standard locations.
// A .env file in the working directory is loaded first when present.
func InitViper(configFile string) {
	_ = godotenv.Load()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("devici-mcp")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: DEVICI_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("DEVICI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	return findConfigFileInPaths([]string{
		".",
		filepath.Join(home, ".devici-mcp"),
		"/etc/devici-mcp",
	})
}

// findConfigFileInPaths returns the first devici-mcp.yaml or .yml in paths.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "devici-mcp"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys makes every key visible to Unmarshal when it is only set
// through the environment.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("api_base_url")
	_ = viper.BindEnv("client_id")
	_ = viper.BindEnv("client_secret")
	_ = viper.BindEnv("log_level")
	_ = viper.BindEnv("debug", "DEBUG")

	_ = viper.BindEnv("http.timeout")

	_ = viper.BindEnv("retry.max_attempts")
	_ = viper.BindEnv("retry.base_delay")
	_ = viper.BindEnv("retry.max_delay")
	_ = viper.BindEnv("retry.max_retry_after")

	_ = viper.BindEnv("auth.safety_margin")
	_ = viper.BindEnv("store.dsn")

	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.read_only")

	_ = viper.BindEnv("otel.stdout")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults and validates.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
