package llm

import (
	"context"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kyleking/finance-qa/internal/errors"
)

func newAnthropicClient(config Config, httpClient *http.Client) anthropic.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}

	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL+"/"))
	}

	return anthropic.NewClient(opts...)
}

// completeAnthropic sends the request through the Messages API. System
// messages are hoisted into the top-level system prompt.
func (c *Client) completeAnthropic(ctx context.Context, req Request) (*Response, error) {
	if c.anthropic == nil {
		return nil, errors.New(errors.ErrTypeLLM, "anthropic client not configured")
	}

	// The Messages API accepts temperatures in [0, 1]
	temperature := req.Temperature
	if temperature > 1 {
		temperature = 1
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.config.Model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(temperature),
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	message, err := c.anthropic.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeLLM, "Anthropic API error")
	}

	var text strings.Builder

	for _, block := range message.Content {
		if textBlock, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(textBlock.Text)
		}
	}

	return &Response{
		Content:      text.String(),
		Model:        string(message.Model),
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
	}, nil
}
