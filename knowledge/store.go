package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fabfab/qa-agent/config"
	"github.com/fabfab/qa-agent/embeddings"
)

var (
	// ErrStoreUnavailable marks failures to open, read or write the index.
	ErrStoreUnavailable = errors.New("knowledge store unavailable")
	// ErrEmbedding marks failures of the embedding capability.
	ErrEmbedding = errors.New("embedding failed")
)

const (
	embedBatchSize   = 32
	embedConcurrency = 4
)

type Options struct {
	Backend   string
	Dir       string
	DSN       string
	Dimension int
	Embedder  embeddings.Embedder
	Logger    *zap.Logger
}

// Store is an append-only collection of embedded chunks. It is safe for
// concurrent use: Add holds the write lock only while appending, Query holds
// the read lock only while searching.
type Store struct {
	mu       sync.RWMutex
	index    Index
	embedder embeddings.Embedder
	logger   *zap.Logger
}

// Open creates the backing storage when absent and reopens it otherwise.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Embedder == nil {
		return nil, fmt.Errorf("%w: embedder is nil", ErrStoreUnavailable)
	}

	var (
		index Index
		err   error
	)
	switch opts.Backend {
	case "", config.StoreSQLite:
		index, err = OpenSQLiteIndex(ctx, opts.Dir)
	case config.StorePostgres:
		index, err = OpenPostgresIndex(ctx, opts.DSN, opts.Dimension)
	case config.StoreMemory:
		index = NewMemoryIndex()
	default:
		err = fmt.Errorf("unknown store backend: %s", opts.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return New(index, opts.Embedder, opts.Logger), nil
}

// New wraps an already opened index.
func New(index Index, embedder embeddings.Embedder, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{index: index, embedder: embedder, logger: logger}
}

// Add embeds and appends chunks, returning the ids assigned to them in order.
// Nothing is written if any chunk is invalid or any embedding fails.
func (s *Store) Add(ctx context.Context, chunks []Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if err := validate(chunks); err != nil {
		return nil, err
	}

	vectors, err := s.embedAll(ctx, chunks)
	if err != nil {
		return nil, err
	}

	records := make([]Record, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = uuid.NewString()
		records[i] = Record{ID: ids[i], Chunk: c, Embedding: vectors[i]}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Append(ctx, records); err != nil {
		return nil, fmt.Errorf("%w: append chunks: %w", ErrStoreUnavailable, err)
	}

	s.logger.Debug("appended chunks", zap.Int("count", len(records)))
	return ids, nil
}

// Query returns at most k chunks ranked by similarity to text.
func (s *Store) Query(ctx context.Context, text string, k int) ([]Chunk, error) {
	if k <= 0 {
		return []Chunk{}, nil
	}

	count, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return []Chunk{}, nil
	}

	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", ErrEmbedding, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: expected 1 query vector, got %d", ErrEmbedding, len(vectors))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results, err := s.index.Search(ctx, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("%w: search chunks: %w", ErrStoreUnavailable, err)
	}
	if results == nil {
		results = []Chunk{}
	}
	return results, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.index.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: count chunks: %w", ErrStoreUnavailable, err)
	}
	return n, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

func (s *Store) embedAll(ctx context.Context, chunks []Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Text)
			}

			batch, err := s.embedder.Embed(gctx, texts)
			if err != nil {
				return err
			}
			if len(batch) != len(texts) {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(batch), len(texts))
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	return vectors, nil
}
