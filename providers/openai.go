package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Base URLs of the OpenAI-compatible chat completion endpoints.
const (
	OpenAIBaseURL = "https://api.openai.com/v1"
	GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	GroqBaseURL   = "https://api.groq.com/openai/v1"
)

// ChatProvider talks to any endpoint speaking the OpenAI chat completion
// protocol. OpenAI, Gemini and Groq all expose one.
type ChatProvider struct {
	name      string
	client    *openai.Client
	maxTokens int
	timeout   time.Duration
}

var _ Provider = (*ChatProvider)(nil)

// NewChatProvider builds a provider named name against baseURL.
func NewChatProvider(name, baseURL, apiKey string, timeout time.Duration) *ChatProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ChatProvider{
		name:      name,
		client:    openai.NewClientWithConfig(cfg),
		maxTokens: 1024,
		timeout:   timeout,
	}
}

func (c *ChatProvider) Name() string { return c.name }

func (c *ChatProvider) Generate(ctx context.Context, routingKey, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     routingKey,
		MaxTokens: c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", c.name)
	}
	return resp.Choices[0].Message.Content, nil
}
