package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/kyleking/finance-qa/internal/errors"
)

// Client implements the Service interface with multiple provider support
type Client struct {
	config     Config
	httpClient *http.Client
	anthropic  *anthropic.Client
}

// NewClient creates a new LLM client with the given configuration
func NewClient(config Config) (*Client, error) {
	c := &Client{}
	if err := c.Configure(config); err != nil {
		return nil, err
	}

	return c, nil
}

// Configure validates the configuration, fills provider defaults and
// rebuilds the underlying transport.
func (c *Client) Configure(config Config) error {
	if config.Provider == "" {
		return errors.NewConfigError("provider is required", "llm.provider")
	}

	if config.Model == "" {
		return errors.NewConfigError("model is required", "llm.model")
	}

	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultMaxTokens
	}

	switch config.Provider {
	case ProviderOpenAI:
		if config.APIKey == "" {
			return errors.NewConfigError("API key is required for the openai provider", "llm.api_key").
				WithSuggestion("Set FINANCE_QA_LLM_API_KEY")
		}

		if config.BaseURL == "" {
			config.BaseURL = DefaultOpenAIBaseURL
		}
	case ProviderAnthropic:
		if config.APIKey == "" {
			return errors.NewConfigError("API key is required for the anthropic provider", "llm.api_key").
				WithSuggestion("Set FINANCE_QA_LLM_API_KEY")
		}
	case ProviderOllama:
		if config.BaseURL == "" {
			config.BaseURL = DefaultOllamaBaseURL
		}
	default:
		return errors.NewConfigError("unsupported provider: "+config.Provider, "llm.provider")
	}

	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	c.config = config
	c.httpClient = &http.Client{Timeout: config.Timeout}
	c.anthropic = nil

	if config.Provider == ProviderAnthropic {
		client := newAnthropicClient(config, c.httpClient)
		c.anthropic = &client
	}

	return nil
}

// Config returns the active configuration
func (c *Client) Config() Config {
	return c.config
}

// Complete sends the conversation to the configured provider and returns the
// reply text. Failures are returned once; there is no retry.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.config.Provider == "" {
		return nil, errors.New(errors.ErrTypeLLM, "LLM client not configured")
	}

	if len(req.Messages) == 0 {
		return nil, errors.New(errors.ErrTypeValidation, "request has no messages")
	}

	if req.MaxTokens <= 0 {
		req.MaxTokens = c.config.MaxTokens
	}

	var (
		resp *Response
		err  error
	)

	switch c.config.Provider {
	case ProviderOpenAI:
		resp, err = c.completeOpenAI(ctx, req)
	case ProviderAnthropic:
		resp, err = c.completeAnthropic(ctx, req)
	case ProviderOllama:
		resp, err = c.completeOllama(ctx, req)
	default:
		err = errors.Newf(errors.ErrTypeConfig, "unsupported provider: %s", c.config.Provider)
	}

	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(resp.Content) == "" {
		return nil, errors.Newf(errors.ErrTypeLLM, "empty reply from %s", c.config.Provider)
	}

	return resp, nil
}

// OpenAI-compatible API structures
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *openAIError `json:"error,omitempty"`
}

type openAIChoice struct {
	Message openAIMessage `json:"message"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func (c *Client) completeOpenAI(ctx context.Context, req Request) (*Response, error) {
	reqBody := openAIRequest{
		Model:       c.config.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	for _, m := range req.Messages {
		reqBody.Messages = append(reqBody.Messages, openAIMessage{Role: string(m.Role), Content: m.Content})
	}

	headers := map[string]string{"Authorization": "Bearer " + c.config.APIKey}

	respBody, err := c.postJSON(ctx, "/chat/completions", reqBody, headers)
	if err != nil {
		return nil, err
	}

	var response openAIResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeLLM, "failed to decode chat completion response")
	}

	if response.Error != nil {
		return nil, errors.Newf(errors.ErrTypeLLM, "API error: %s", response.Error.Message)
	}

	if len(response.Choices) == 0 {
		return nil, errors.New(errors.ErrTypeLLM, "no choices in chat completion response")
	}

	return &Response{
		Content:      response.Choices[0].Message.Content,
		Model:        response.Model,
		InputTokens:  response.Usage.PromptTokens,
		OutputTokens: response.Usage.CompletionTokens,
	}, nil
}

// Ollama chat API structures
type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         openAIMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

func (c *Client) completeOllama(ctx context.Context, req Request) (*Response, error) {
	reqBody := ollamaRequest{
		Model:   c.config.Model,
		Stream:  false,
		Options: ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	}

	for _, m := range req.Messages {
		reqBody.Messages = append(reqBody.Messages, openAIMessage{Role: string(m.Role), Content: m.Content})
	}

	respBody, err := c.postJSON(ctx, "/api/chat", reqBody, nil)
	if err != nil {
		return nil, err
	}

	var response ollamaResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeLLM, "failed to decode Ollama response")
	}

	if response.Error != "" {
		return nil, errors.Newf(errors.ErrTypeLLM, "Ollama error: %s", response.Error)
	}

	return &Response{
		Content:      response.Message.Content,
		Model:        response.Model,
		InputTokens:  response.PromptEvalCount,
		OutputTokens: response.EvalCount,
	}, nil
}

// postJSON posts a JSON body to the configured base URL and returns the raw
// response body of a 200 reply.
func (c *Client) postJSON(
	ctx context.Context,
	endpoint string,
	reqBody interface{},
	headers map[string]string,
) ([]byte, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeInternal, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.config.BaseURL+endpoint,
		bytes.NewBuffer(jsonBody),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeLLM, "failed to create request")
	}

	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeNetwork, "request to %s failed", c.config.BaseURL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeNetwork, "failed to read response")
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.Newf(errors.ErrTypeAuth, "API rejected credentials (status %d)", resp.StatusCode).
			WithSuggestion("Check FINANCE_QA_LLM_API_KEY")
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Newf(
			errors.ErrTypeLLM,
			"API request failed with status %d: %s",
			resp.StatusCode,
			truncate(string(body), 300),
		)
	}

	return body, nil
}

// truncate keeps at most n bytes of s without splitting a character
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return fmt.Sprintf("%s... (%d bytes)", s[:cut], len(s))
}
