package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const DefaultPort = 3000

// LoadFromFile loads configuration from a specific file path. An empty path searches
// the usual config directories and tolerates a missing file.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	applyDefaults(v)

	// PORT is the conventional single variable for the listen port.
	if err := v.BindEnv("server.port", "PORT", "SERVER_PORT"); err != nil {
		return nil, fmt.Errorf("bind PORT: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../../configs")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading base config: %w", err)
			}
		}

		env := os.Getenv("APP_ENVIRONMENT")
		if env == "" {
			env = "development"
		}
		v.SetConfigName(fmt.Sprintf("config.%s", env))
		_ = v.MergeInConfig() // ignore error if not found
	}

	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults registers every key so environment overrides resolve without a config file.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "copilot-proxy")
	v.SetDefault("app.version", "dev")
	v.SetDefault("app.environment", "development")

	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.static_dir", "./web")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.shutdown_timeout", 15000)

	v.SetDefault("backend.base_url", "https://copilot.microsoft.com")
	v.SetDefault("backend.conversation_path", "/c/api/conversations")
	v.SetDefault("backend.chat_url", "wss://copilot.microsoft.com/c/api/chat?api-version=2")
	v.SetDefault("backend.origin", "https://copilot.microsoft.com")
	v.SetDefault("backend.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("backend.default_model", "copilot")
	v.SetDefault("backend.create_timeout", 15000)
	v.SetDefault("backend.chat_timeout", 60000)

	v.SetDefault("prompt.default_language", "Bahasa Indonesia")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.key_prefix", "copilot-proxy")
	v.SetDefault("cache.redis.ttl", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("observability.service_name", "copilot-proxy")
	v.SetDefault("observability.jaeger_endpoint", "")
}

// loadEnvFile loads .env from the working directory or the project root, if present.
func loadEnvFile() string {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars resolves ${VAR} placeholders inside string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	base, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("backend.base_url must be an absolute URL")
	}

	chat, err := url.Parse(cfg.Backend.ChatURL)
	if err != nil || (chat.Scheme != "ws" && chat.Scheme != "wss") {
		return fmt.Errorf("backend.chat_url must be a ws:// or wss:// URL")
	}

	if cfg.Backend.ChatTimeout <= 0 {
		return fmt.Errorf("backend.chat_timeout must be positive")
	}
	if cfg.Backend.CreateTimeout <= 0 {
		return fmt.Errorf("backend.create_timeout must be positive")
	}

	if cfg.Cache.Redis.Enabled && cfg.Cache.Redis.Address == "" {
		return fmt.Errorf("cache.redis.address is required when the redis cache is enabled")
	}

	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", cfg.Logging.Format)
	}

	return nil
}
