package rag

import (
	"context"
	"strings"
	"sync"

	"github.com/fabfab/qa-agent/knowledge"
	"github.com/fabfab/qa-agent/llm"
)

type stubClient struct {
	mu       sync.Mutex
	text     string
	err      error
	models   []string
	messages [][]llm.Message
}

func (s *stubClient) Generate(_ context.Context, model string, messages []llm.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models = append(s.models, model)
	s.messages = append(s.messages, messages)
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

func (s *stubClient) lastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return ""
	}
	var parts []string
	for _, m := range s.messages[len(s.messages)-1] {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

type stubRetriever struct {
	chunks []knowledge.Chunk
	err    error
	k      int
	query  string
}

func (s *stubRetriever) Query(_ context.Context, text string, k int) ([]knowledge.Chunk, error) {
	s.k, s.query = k, text
	if s.err != nil {
		return nil, s.err
	}
	if len(s.chunks) > k {
		return s.chunks[:k], nil
	}
	return s.chunks, nil
}

// wordEmbedder maps text onto a small fixed vocabulary.
type wordEmbedder struct {
	err error
}

var wordVocabulary = []string{"discount", "save10", "refund", "login", "password", "shipping"}

func (w wordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if w.err != nil {
		return nil, w.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		vec := make([]float32, len(wordVocabulary)+1)
		for j, word := range wordVocabulary {
			vec[j] = float32(strings.Count(lower, word))
		}
		vec[len(wordVocabulary)] = 0.1
		out[i] = vec
	}
	return out, nil
}
