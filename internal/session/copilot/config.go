package copilot

import (
	"time"

	"copilot-proxy/internal/common/config"
)

type Config struct {
	ConversationURL string
	ChatURL         string
	Origin          string
	UserAgent       string
	DefaultModel    string
	CreateTimeout   time.Duration
	ChatTimeout     time.Duration
}

// LoadConfig builds the session config from the backend section.
func LoadConfig(backend config.BackendConfig) *Config {
	return &Config{
		ConversationURL: backend.ConversationURL(),
		ChatURL:         backend.ChatURL,
		Origin:          backend.Origin,
		UserAgent:       backend.UserAgent,
		DefaultModel:    backend.DefaultModel,
		CreateTimeout:   config.GetDuration(backend.CreateTimeout),
		ChatTimeout:     config.GetDuration(backend.ChatTimeout),
	}
}
