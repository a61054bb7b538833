package rag

import (
	"context"
	"strings"

	"github.com/fabfab/qa-agent/knowledge"
)

// Retriever is the read side of the knowledge store.
type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]knowledge.Chunk, error)
}

// RetrievedContext holds the ranked chunks for one query. Sources follows the
// ranking and may repeat a source.
type RetrievedContext struct {
	Text    string
	Sources []string
	Chunks  []knowledge.Chunk
}

func BuildContext(ctx context.Context, retriever Retriever, query string, k int) (RetrievedContext, error) {
	chunks, err := retriever.Query(ctx, query, k)
	if err != nil {
		return RetrievedContext{Sources: []string{}}, err
	}

	sources := make([]string, len(chunks))
	for i, c := range chunks {
		sources[i] = c.SourceID
	}
	return RetrievedContext{Text: Render(chunks), Sources: sources, Chunks: chunks}, nil
}

// Render formats chunks as attributed blocks separated by a blank line.
func Render(chunks []knowledge.Chunk) string {
	blocks := make([]string, len(chunks))
	for i, c := range chunks {
		blocks[i] = "Source: " + c.SourceID + "\nContent: " + c.Text
	}
	return strings.Join(blocks, "\n\n")
}
