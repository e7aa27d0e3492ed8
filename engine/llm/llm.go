// Package llm wraps a chat-completion model behind a single prompt-in,
// text-out call with a bounded output budget.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/aviov/largo-chat/pkg/resilience"
)

// Generator answers a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Client calls a langchaingo model. A nil breaker passes calls through.
type Client struct {
	model     llms.Model
	maxTokens int
	breaker   *resilience.Breaker
}

// New wraps model.
func New(model llms.Model, maxTokens int, breaker *resilience.Breaker) *Client {
	return &Client{model: model, maxTokens: maxTokens, breaker: breaker}
}

// NewOpenAI builds a client for an OpenAI chat model.
func NewOpenAI(apiKey, model string, maxTokens int, breaker *resilience.Breaker) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("llm: no API key")
	}
	m, err := openai.New(openai.WithToken(apiKey), openai.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("llm: openai: %w", err)
	}
	return New(m, maxTokens, breaker), nil
}

// Generate sends prompt as a single user message.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	msgs := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}

	var out string
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		resp, err := c.model.GenerateContent(ctx, msgs, llms.WithMaxTokens(c.maxTokens))
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("no choices returned")
		}
		out = strings.TrimSpace(resp.Choices[0].Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("llm: generate: %w", err)
	}
	return out, nil
}
