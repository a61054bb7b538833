package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Chunk is a bounded span of source text, the unit of storage and retrieval.
type Chunk struct {
	Text     string
	SourceID string
}

// Record is a chunk paired with its id and embedding as handed to an Index.
type Record struct {
	ID        string
	Chunk     Chunk
	Embedding []float32
}

// Index is the vector engine behind a Store. Append must be atomic: either
// every record is durable when it returns nil, or none is. Search ranks by
// similarity and breaks ties by insertion order.
type Index interface {
	Append(ctx context.Context, records []Record) error
	Search(ctx context.Context, vector []float32, k int) ([]Chunk, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

var (
	ErrInvalidChunk = errors.New("invalid chunk")
	errIndexClosed  = errors.New("index is closed")
)

func validate(chunks []Chunk) error {
	for i, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			return fmt.Errorf("%w: chunk %d has empty text", ErrInvalidChunk, i)
		}
		if strings.TrimSpace(c.SourceID) == "" {
			return fmt.Errorf("%w: chunk %d has empty source id", ErrInvalidChunk, i)
		}
	}
	return nil
}
