package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Server        ServerConfig        `mapstructure:"server"`
	Backend       BackendConfig       `mapstructure:"backend"`
	Prompt        PromptConfig        `mapstructure:"prompt"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	StaticDir       string   `mapstructure:"static_dir"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	MaxBodyBytes    int64    `mapstructure:"max_body_bytes"`
	ShutdownTimeout int      `mapstructure:"shutdown_timeout"` // milliseconds
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// BackendConfig describes the external conversational service.
type BackendConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	ConversationPath string `mapstructure:"conversation_path"`
	ChatURL          string `mapstructure:"chat_url"`
	Origin           string `mapstructure:"origin"`
	UserAgent        string `mapstructure:"user_agent"`
	DefaultModel     string `mapstructure:"default_model"`
	CreateTimeout    int    `mapstructure:"create_timeout"` // milliseconds
	ChatTimeout      int    `mapstructure:"chat_timeout"`   // milliseconds
}

// ConversationURL returns the conversation-creation endpoint.
func (b BackendConfig) ConversationURL() string {
	return b.BaseURL + b.ConversationPath
}

// PromptConfig holds prompt templating settings for the ask-ai handler.
type PromptConfig struct {
	DefaultLanguage string `mapstructure:"default_language"`
}

type CacheConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	TTL       int    `mapstructure:"ttl"` // milliseconds, 0 keeps the identity forever
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
