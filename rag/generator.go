package rag

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/fabfab/qa-agent/llm"
)

const (
	WarningMockTests = "LLM was not reachable. This is a mock response."
	WarningLLMDown   = "LLM was not reachable."

	// MockSource is the Grounded_In marker of the fallback test case.
	MockSource = "mock_doc.md"
	MockAnswer = "Mock Answer: Based on the documents, the answer is..."
)

type Request struct {
	Task   Task
	Model  string
	Prompt Prompt
	// Subject is the caller text echoed by the fallback: the query for tests,
	// the test case for scripts.
	Subject string
}

// Generation is the outcome of one model call. When Fallback is set, Text is
// the deterministic substitute for the task and Warning says so.
type Generation struct {
	Text     string
	Fallback bool
	Warning  string
}

// Generator calls the model. With no request or default model the client
// picks its own provider default.
type Generator struct {
	client       llm.Client
	logger       *zap.Logger
	defaultModel string
}

func NewGenerator(client llm.Client, logger *zap.Logger, defaultModel string) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = llm.Unavailable(nil)
	}
	return &Generator{client: client, logger: logger, defaultModel: defaultModel}
}

// Generate never fails: any model error is replaced by the task's fallback.
func (g *Generator) Generate(ctx context.Context, req Request) Generation {
	model := req.Model
	if model == "" {
		model = g.defaultModel
	}

	text, err := g.client.Generate(ctx, model, req.Prompt.Messages())
	if err != nil {
		g.logger.Warn("model call failed, using fallback",
			zap.String("task", req.Task.String()),
			zap.String("model", model),
			zap.Error(err),
		)
		return Fallback(req.Task, req.Subject)
	}

	return Generation{Text: text}
}

// Fallback returns the substitute output for task. It depends only on its
// arguments.
func Fallback(task Task, subject string) Generation {
	switch task {
	case TaskTestGeneration:
		mock := []TestCase{{
			TestID:         "TC-MOCK-001",
			Feature:        "Mock Feature",
			TestScenario:   "Mock Scenario based on " + subject,
			ExpectedResult: "Mock Result",
			GroundedIn:     MockSource,
		}}
		// Marshalling a fixed struct slice cannot fail.
		data, _ := json.Marshal(mock)
		return Generation{Text: string(data), Fallback: true, Warning: WarningMockTests}
	case TaskScriptGeneration:
		return Generation{
			Text: "# LLM not reachable. Mock script.\nfrom selenium import webdriver\n\n" +
				"print('Mock script for: " + truncateRunes(subject, 20) + "...')",
			Fallback: true,
			Warning:  WarningLLMDown,
		}
	default:
		return Generation{Text: MockAnswer, Fallback: true, Warning: WarningLLMDown}
	}
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
