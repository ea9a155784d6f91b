package llm

import (
	"github.com/kyleking/finance-qa/internal/config"
)

// ConfigFromApp converts the application LLM settings into a client Config.
func ConfigFromApp(cfg config.LLMConfig) Config {
	timeout, err := cfg.TimeoutDuration()
	if err != nil || timeout <= 0 {
		timeout = DefaultTimeout
	}

	return Config{
		Provider:  cfg.Provider,
		Model:     cfg.Model,
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		MaxTokens: cfg.MaxTokens,
		Timeout:   timeout,
	}
}

// NewClientFromApp builds a configured client from application settings.
func NewClientFromApp(cfg config.LLMConfig) (*Client, error) {
	return NewClient(ConfigFromApp(cfg))
}
