package adapter

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"
)

// ClaudeClient implements interfaces.Generator
type ClaudeClient struct {
	client      anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float64
}

type ClaudeOption func(*ClaudeClient)

func WithClaudeModel(model string) ClaudeOption {
	return func(c *ClaudeClient) {
		c.model = anthropic.Model(model)
	}
}

func WithClaudeMaxTokens(n int64) ClaudeOption {
	return func(c *ClaudeClient) {
		c.maxTokens = n
	}
}

func WithClaudeTemperature(t float64) ClaudeOption {
	return func(c *ClaudeClient) {
		c.temperature = t
	}
}

// NewClaude creates a new Claude API client
func NewClaude(apiKey string, opts ...ClaudeOption) *ClaudeClient {
	c := &ClaudeClient{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.ModelClaudeSonnet4_5,
		maxTokens: 4096,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ClaudeClient) Chat(ctx context.Context, messages []anthropic.MessageParam) (*anthropic.Message, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to send message to claude", goerr.V("model", c.model))
	}
	return msg, nil
}

// Generate implements interfaces.Generator
func (c *ClaudeClient) Generate(ctx context.Context, prompt string) (string, error) {
	msg, err := c.Chat(ctx, []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
