package llm

import (
	"context"
	"time"
)

// Service defines the interface for chat-completion calls
type Service interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Configure(config Config) error
}

// Config represents LLM service configuration
type Config struct {
	Provider  string            `json:"provider"` // openai, anthropic, ollama
	Model     string            `json:"model"`
	APIKey    string            `json:"api_key,omitempty"`
	BaseURL   string            `json:"base_url,omitempty"`
	MaxTokens int               `json:"max_tokens,omitempty"`
	Timeout   time.Duration     `json:"timeout,omitempty"`
	Options   map[string]string `json:"options,omitempty"`
}

// Role of a chat message author
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat conversation
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a single chat-completion request
type Request struct {
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Response is the text reply of a chat completion
type Response struct {
	Content      string `json:"content"`
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// System builds a system message
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User builds a user message
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Provider constants for different LLM providers
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Default endpoints. The OpenAI-compatible default points at the Zhipu
// endpoint serving the glm models.
const (
	DefaultOpenAIBaseURL = "https://open.bigmodel.cn/api/paas/v4"
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultModel         = "glm-4-plus"
	DefaultMaxTokens     = 1024
	DefaultTimeout       = 60 * time.Second
)
