package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type ollamaClient struct {
	host   string
	model  string
	client *http.Client
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Error   string            `json:"error"`
}

func NewOllamaClient(opts Options) Client {
	host := strings.TrimRight(opts.OllamaHost, "/")
	if host == "" {
		host = "http://localhost:11434"
	}

	return &ollamaClient{
		host:  host,
		model: opts.Model,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (c *ollamaClient) Generate(ctx context.Context, model string, messages []Message) (string, error) {
	model = pickModel(model, c.model)
	if model == "" {
		return "", fmt.Errorf("ollama chat requires a model name")
	}

	parsed, err := c.chat(ctx, ollamaChatRequest{Model: model, Messages: toOllamaMessages(messages)})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(parsed.Message.Content) == "" {
		return "", fmt.Errorf("ollama model %s returned an empty response", model)
	}
	return parsed.Message.Content, nil
}

// chat performs one non-streaming /api/chat round trip.
func (c *ollamaClient) chat(ctx context.Context, payload ollamaChatRequest) (ollamaChatResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return ollamaChatResponse{}, fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return ollamaChatResponse{}, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return ollamaChatResponse{}, fmt.Errorf("call ollama chat API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ollamaChatResponse{}, fmt.Errorf("ollama chat API returned status %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ollamaChatResponse{}, fmt.Errorf("decode ollama response: %w", err)
	}
	if parsed.Error != "" {
		return ollamaChatResponse{}, fmt.Errorf("ollama chat error: %s", parsed.Error)
	}
	return parsed, nil
}

func toOllamaMessages(messages []Message) []ollamaChatMessage {
	if len(messages) == 0 {
		return nil
	}
	converted := make([]ollamaChatMessage, len(messages))
	for i := range messages {
		converted[i] = ollamaChatMessage(messages[i])
	}
	return converted
}
