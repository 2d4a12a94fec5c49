package providers

import (
	"context"
	"fmt"
)

const mockPromptPreview = 100

// MockProvider answers without calling any upstream service.
type MockProvider struct {
	reason string
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider returns a mock; reason, when set, is appended to the
// header of every answer (e.g. "API key not configured").
func NewMockProvider(reason string) *MockProvider {
	return &MockProvider{reason: reason}
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Generate(ctx context.Context, routingKey, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	header := fmt.Sprintf("[Mock Response from %s]", routingKey)
	if m.reason != "" {
		header += " - " + m.reason
	}

	preview := []rune(prompt)
	suffix := ""
	if len(preview) > mockPromptPreview {
		preview = preview[:mockPromptPreview]
		suffix = "..."
	}

	return fmt.Sprintf("%s\n\nYour prompt: %q%s\n\nThis is a simulated response. A configured provider would answer with %s.",
		header, string(preview), suffix, routingKey), nil
}
