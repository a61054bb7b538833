package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/fabfab/qa-agent/config"
)

type geminiClient struct {
	client *genai.Client
	model  string
}

func NewGeminiClient(ctx context.Context, opts Options) (Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &geminiClient{
		client: client,
		model:  pickModel(opts.Model, config.DefaultModel),
	}, nil
}

func (c *geminiClient) Generate(ctx context.Context, model string, messages []Message) (string, error) {
	contents, system := toGeminiContents(messages)
	if len(contents) == 0 {
		return "", fmt.Errorf("gemini request has no user content")
	}

	var cfg *genai.GenerateContentConfig
	if system != nil {
		cfg = &genai.GenerateContentConfig{SystemInstruction: system}
	}

	resp, err := c.client.Models.GenerateContent(ctx, pickModel(model, c.model), contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned an empty response")
	}
	return text, nil
}

// ListGenerativeModels returns the names of models that support generateContent.
func ListGenerativeModels(ctx context.Context, apiKey string) ([]string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	var names []string
	for model, err := range client.Models.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("list gemini models: %w", err)
		}
		for _, action := range model.SupportedActions {
			if action == "generateContent" {
				names = append(names, strings.TrimPrefix(model.Name, "models/"))
				break
			}
		}
	}
	return names, nil
}

func toGeminiContents(messages []Message) ([]*genai.Content, *genai.Content) {
	var (
		contents []*genai.Content
		system   []string
	)
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	if len(system) == 0 {
		return contents, nil
	}
	return contents, genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
}
