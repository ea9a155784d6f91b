package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/finance-qa/internal/config"
	"github.com/kyleking/finance-qa/internal/errors"
)

func TestClient_Configure(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		wantErr     bool
		wantBaseURL string
	}{
		{
			name:        "openai defaults to the glm endpoint",
			config:      Config{Provider: ProviderOpenAI, Model: DefaultModel, APIKey: "test-key"},
			wantBaseURL: DefaultOpenAIBaseURL,
		},
		{
			name: "openai trailing slash trimmed",
			config: Config{
				Provider: ProviderOpenAI,
				Model:    "gpt-4o-mini",
				APIKey:   "test-key",
				BaseURL:  "https://api.openai.com/v1/",
			},
			wantBaseURL: "https://api.openai.com/v1",
		},
		{
			name:   "anthropic",
			config: Config{Provider: ProviderAnthropic, Model: "claude-haiku-4-5", APIKey: "test-key"},
		},
		{
			name:        "ollama needs no key",
			config:      Config{Provider: ProviderOllama, Model: "qwen2.5"},
			wantBaseURL: DefaultOllamaBaseURL,
		},
		{
			name:    "missing provider",
			config:  Config{Model: DefaultModel, APIKey: "test-key"},
			wantErr: true,
		},
		{
			name:    "missing model",
			config:  Config{Provider: ProviderOpenAI, APIKey: "test-key"},
			wantErr: true,
		},
		{
			name:    "missing API key for openai",
			config:  Config{Provider: ProviderOpenAI, Model: DefaultModel},
			wantErr: true,
		},
		{
			name:    "missing API key for anthropic",
			config:  Config{Provider: ProviderAnthropic, Model: "claude-haiku-4-5"},
			wantErr: true,
		},
		{
			name:    "unsupported provider",
			config:  Config{Provider: "unsupported", Model: "m", APIKey: "k"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.config)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.config.Provider, client.Config().Provider)
			assert.Equal(t, tt.wantBaseURL, client.Config().BaseURL)
			assert.Equal(t, DefaultTimeout, client.Config().Timeout)
			assert.Equal(t, DefaultMaxTokens, client.Config().MaxTokens)
		})
	}
}

func TestClient_CompleteOpenAI(t *testing.T) {
	var captured openAIRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"model": "glm-4-plus",
			"choices": [{"message": {"role": "assistant", "content": "[\"constantdb.secumain\"]"}}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 9}
		}`)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Provider: ProviderOpenAI,
		Model:    DefaultModel,
		APIKey:   "test-key",
		BaseURL:  server.URL + "/",
	})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), Request{
		Messages:    []Message{System("你是一个金融数据分析助手"), User("平安银行的股票代码是什么？")},
		Temperature: 0.7,
	})
	require.NoError(t, err)

	assert.Equal(t, `["constantdb.secumain"]`, resp.Content)
	assert.Equal(t, "glm-4-plus", resp.Model)
	assert.Equal(t, 120, resp.InputTokens)
	assert.Equal(t, 9, resp.OutputTokens)

	assert.Equal(t, DefaultModel, captured.Model)
	assert.InDelta(t, 0.7, captured.Temperature, 1e-9)
	assert.Equal(t, DefaultMaxTokens, captured.MaxTokens)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "user", captured.Messages[1].Role)
}

func TestClient_CompleteOpenAIErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType errors.ErrorType
		contains string
	}{
		{
			name:     "error payload",
			status:   http.StatusOK,
			body:     `{"error": {"message": "model not found", "type": "invalid_request_error"}}`,
			wantType: errors.ErrTypeLLM,
			contains: "model not found",
		},
		{
			name:     "no choices",
			status:   http.StatusOK,
			body:     `{"choices": []}`,
			wantType: errors.ErrTypeLLM,
			contains: "no choices",
		},
		{
			name:     "empty content",
			status:   http.StatusOK,
			body:     `{"choices": [{"message": {"role": "assistant", "content": "  "}}]}`,
			wantType: errors.ErrTypeLLM,
			contains: "empty reply",
		},
		{
			name:     "server error",
			status:   http.StatusInternalServerError,
			body:     "Internal Server Error",
			wantType: errors.ErrTypeLLM,
			contains: "status 500",
		},
		{
			name:     "long chinese error body",
			status:   http.StatusBadGateway,
			body:     "x" + strings.Repeat("服务繁忙", 50),
			wantType: errors.ErrTypeLLM,
			contains: "(601 bytes)",
		},
		{
			name:     "unauthorized",
			status:   http.StatusUnauthorized,
			body:     `{"error": {"message": "bad key"}}`,
			wantType: errors.ErrTypeAuth,
			contains: "credentials",
		},
		{
			name:     "malformed body",
			status:   http.StatusOK,
			body:     "not json",
			wantType: errors.ErrTypeLLM,
			contains: "decode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			client, err := NewClient(Config{
				Provider: ProviderOpenAI,
				Model:    DefaultModel,
				APIKey:   "test-key",
				BaseURL:  server.URL,
			})
			require.NoError(t, err)

			_, err = client.Complete(context.Background(), Request{Messages: []Message{User("q")}})
			require.Error(t, err)
			assert.Equal(t, tt.wantType, errors.GetType(err))
			assert.Contains(t, err.Error(), tt.contains)
			assert.True(t, utf8.ValidString(err.Error()), "error is not valid UTF-8: %q", err.Error())
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))

	// 平 is three bytes; a cut at byte 2 backs up to the character start
	assert.Equal(t, "a... (7 bytes)", truncate("a平安", 2))
	assert.Equal(t, "a平... (7 bytes)", truncate("a平安", 4))
	assert.True(t, utf8.ValidString(truncate("x"+strings.Repeat("银行", 200), 300)))
}

func TestClient_CompleteOllama(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req ollamaRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.InDelta(t, 0.3, req.Options.Temperature, 1e-9)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ollamaResponse{
			Model:   "qwen2.5",
			Message: openAIMessage{Role: "assistant", Content: "SELECT 1"},
			Done:    true,
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{Provider: ProviderOllama, Model: "qwen2.5", BaseURL: server.URL})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), Request{
		Messages:    []Message{User("generate")},
		Temperature: 0.3,
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", resp.Content)
}

func TestClient_CompleteAnthropic(t *testing.T) {
	var body map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-haiku-4-5",
			"content": [{"type": "text", "text": "SELECT SecuCode FROM constantdb.secumain"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 42, "output_tokens": 7}
		}`)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Provider: ProviderAnthropic,
		Model:    "claude-haiku-4-5",
		APIKey:   "test-key",
		BaseURL:  server.URL,
	})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), Request{
		Messages:    []Message{System("你是一个SQL专家"), User("平安银行的股票代码")},
		Temperature: 1.5,
	})
	require.NoError(t, err)

	assert.Equal(t, "SELECT SecuCode FROM constantdb.secumain", resp.Content)
	assert.Equal(t, 42, resp.InputTokens)
	assert.Equal(t, 7, resp.OutputTokens)

	assert.Equal(t, "claude-haiku-4-5", body["model"])
	assert.InDelta(t, 1.0, body["temperature"], 1e-9)
	assert.NotNil(t, body["system"])

	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 1)
}

func TestClient_CompleteValidation(t *testing.T) {
	var unconfigured Client

	_, err := unconfigured.Complete(context.Background(), Request{Messages: []Message{User("q")}})
	assert.True(t, errors.IsType(err, errors.ErrTypeLLM))

	client, err := NewClient(Config{Provider: ProviderOllama, Model: "m"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), Request{})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestClient_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client, err := NewClient(Config{Provider: ProviderOllama, Model: "m", BaseURL: server.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.Complete(ctx, Request{Messages: []Message{User("q")}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNetwork))
}

func TestConfigFromApp(t *testing.T) {
	cfg := config.DefaultConfig().LLM
	cfg.APIKey = "k"
	cfg.Timeout = "5s"

	converted := ConfigFromApp(cfg)
	assert.Equal(t, ProviderOpenAI, converted.Provider)
	assert.Equal(t, DefaultModel, converted.Model)
	assert.Equal(t, 5*time.Second, converted.Timeout)

	cfg.Timeout = "bogus"
	assert.Equal(t, DefaultTimeout, ConfigFromApp(cfg).Timeout)

	client, err := NewClientFromApp(config.DefaultConfig().LLM)
	assert.Nil(t, client)
	assert.Error(t, err)
}
