package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/fabfab/qa-agent/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Client completes a conversation with a generative model. An empty model
// selects the client's configured default.
type Client interface {
	Generate(ctx context.Context, model string, messages []Message) (string, error)
}

type Options struct {
	Provider string
	Model    string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	GeminiAPIKey  string
}

func NewClient(ctx context.Context, cfg config.Config) (Client, error) {
	opts := Options{
		Provider:      cfg.LLM.Provider,
		Model:         pickModel(cfg.LLM.Model, config.DefaultModelFor(cfg.LLM.Provider)),
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		GeminiAPIKey:  cfg.GeminiAPIKey,
	}

	switch opts.Provider {
	case config.ProviderGemini:
		if opts.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini provider selected but GEMINI_API_KEY not set")
		}
		return NewGeminiClient(ctx, opts)
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}

// ErrUnavailable is returned by the client installed when no provider could be
// configured.
var ErrUnavailable = errors.New("llm unavailable")

type unavailableClient struct {
	reason error
}

// Unavailable returns a Client whose every call fails with ErrUnavailable.
func Unavailable(reason error) Client {
	return unavailableClient{reason: reason}
}

func (c unavailableClient) Generate(context.Context, string, []Message) (string, error) {
	if c.reason == nil {
		return "", ErrUnavailable
	}
	return "", fmt.Errorf("%w: %w", ErrUnavailable, c.reason)
}

func pickModel(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}
