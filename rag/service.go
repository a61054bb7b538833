package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fabfab/qa-agent/knowledge"
	"github.com/fabfab/qa-agent/llm"
)

const (
	DefaultTargetURL = "http://example.com"

	WarningRetrieval = "Knowledge base retrieval failed; the output is not grounded in any document."
)

// ErrInvalidRequest marks requests that are missing required input.
var ErrInvalidRequest = errors.New("invalid request")

// Depths is the number of chunks retrieved for each task.
type Depths struct {
	Tests  int
	Script int
	Chat   int
}

func DefaultDepths() Depths {
	return Depths{Tests: 5, Script: 3, Chat: 5}
}

// HTMLFetcher supplies page source for a target URL when the caller sent none.
type HTMLFetcher interface {
	FetchHTML(ctx context.Context, url string) (string, error)
}

type Service struct {
	retriever Retriever
	generator *Generator
	fetcher   HTMLFetcher
	depths    Depths
	logger    *zap.Logger
}

type Option func(*Service)

func WithDepths(d Depths) Option {
	return func(s *Service) {
		def := DefaultDepths()
		if d.Tests <= 0 {
			d.Tests = def.Tests
		}
		if d.Script <= 0 {
			d.Script = def.Script
		}
		if d.Chat <= 0 {
			d.Chat = def.Chat
		}
		s.depths = d
	}
}

func WithHTMLFetcher(f HTMLFetcher) Option {
	return func(s *Service) {
		s.fetcher = f
	}
}

// WithDefaultModel sets the model used when a request names none.
func WithDefaultModel(model string) Option {
	return func(s *Service) {
		if model != "" {
			s.generator.defaultModel = model
		}
	}
}

func NewService(retriever Retriever, client llm.Client, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		retriever: retriever,
		generator: NewGenerator(client, logger, ""),
		depths:    DefaultDepths(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) GenerateTests(ctx context.Context, req TestsRequest) (TestCasesResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return TestCasesResult{}, fmt.Errorf("%w: query cannot be empty", ErrInvalidRequest)
	}

	retrieved, retrievalWarning, err := s.retrieve(ctx, req.Query, s.depths.Tests)
	if err != nil {
		return TestCasesResult{}, err
	}

	gen := s.generator.Generate(ctx, Request{
		Task:    TaskTestGeneration,
		Model:   req.Model,
		Prompt:  Compose(TaskTestGeneration, retrieved.Text, Inputs{Query: req.Query}),
		Subject: req.Query,
	})

	cases, parseWarning := ExtractTestCases(gen.Text)
	if parseWarning != "" {
		s.logger.Warn("could not parse test cases from model output", zap.String("raw", gen.Text))
	}

	return TestCasesResult{
		TestCases: cases,
		Sources:   retrieved.Sources,
		Warning:   joinWarnings(retrievalWarning, gen.Warning, parseWarning),
	}, nil
}

func (s *Service) GenerateScript(ctx context.Context, req ScriptRequest) (ScriptResult, error) {
	if strings.TrimSpace(req.TestCase) == "" {
		return ScriptResult{}, fmt.Errorf("%w: test case cannot be empty", ErrInvalidRequest)
	}
	targetURL := strings.TrimSpace(req.TargetURL)
	if targetURL == "" {
		targetURL = DefaultTargetURL
	}

	html := req.HTMLContent
	if strings.TrimSpace(html) == "" && s.fetcher != nil {
		fetched, err := s.fetcher.FetchHTML(ctx, targetURL)
		if err != nil {
			s.logger.Warn("could not fetch target page", zap.String("url", targetURL), zap.Error(err))
		} else {
			html = fetched
		}
	}

	retrieved, retrievalWarning, err := s.retrieve(ctx, req.TestCase, s.depths.Script)
	if err != nil {
		return ScriptResult{}, err
	}

	gen := s.generator.Generate(ctx, Request{
		Task:  TaskScriptGeneration,
		Model: req.Model,
		Prompt: Compose(TaskScriptGeneration, retrieved.Text, Inputs{
			TestCase:  req.TestCase,
			HTML:      html,
			TargetURL: targetURL,
		}),
		Subject: req.TestCase,
	})

	return ScriptResult{
		Script:  ExtractScript(gen.Text),
		Sources: retrieved.Sources,
		Warning: joinWarnings(retrievalWarning, gen.Warning),
	}, nil
}

func (s *Service) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return ChatResult{}, fmt.Errorf("%w: query cannot be empty", ErrInvalidRequest)
	}

	retrieved, retrievalWarning, err := s.retrieve(ctx, req.Query, s.depths.Chat)
	if err != nil {
		return ChatResult{}, err
	}
	if len(retrieved.Chunks) == 0 {
		s.logger.Info("no context available for question")
	}

	gen := s.generator.Generate(ctx, Request{
		Task:    TaskChat,
		Model:   req.Model,
		Prompt:  Compose(TaskChat, retrieved.Text, Inputs{Query: req.Query}),
		Subject: req.Query,
	})

	return ChatResult{
		Answer:  ExtractAnswer(gen.Text),
		Sources: retrieved.Sources,
		Warning: joinWarnings(retrievalWarning, gen.Warning),
	}, nil
}

// retrieve degrades to an empty context when only the embedder failed. Any
// other store error is returned.
func (s *Service) retrieve(ctx context.Context, query string, k int) (RetrievedContext, string, error) {
	if s.retriever == nil {
		return RetrievedContext{}, "", fmt.Errorf("%w: no retriever configured", knowledge.ErrStoreUnavailable)
	}

	retrieved, err := BuildContext(ctx, s.retriever, query, k)
	switch {
	case err == nil:
		return retrieved, "", nil
	case errors.Is(err, knowledge.ErrEmbedding):
		s.logger.Warn("retrieval failed, continuing without context", zap.Error(err))
		return RetrievedContext{Sources: []string{}}, WarningRetrieval, nil
	default:
		return RetrievedContext{}, "", fmt.Errorf("retrieve context: %w", err)
	}
}

func joinWarnings(warnings ...string) string {
	parts := make([]string, 0, len(warnings))
	for _, w := range warnings {
		if w != "" {
			parts = append(parts, w)
		}
	}
	return strings.Join(parts, " ")
}
