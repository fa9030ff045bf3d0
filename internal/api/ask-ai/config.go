// internal/api/ask-ai/config.go
package askai

import "copilot-proxy/internal/common/config"

type Config struct {
	DefaultLanguage string
	DefaultModel    string
	MaxBodyBytes    int64
}

func LoadConfig(cfg *config.Config) *Config {
	return &Config{
		DefaultLanguage: cfg.Prompt.DefaultLanguage,
		DefaultModel:    cfg.Backend.DefaultModel,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
	}
}
