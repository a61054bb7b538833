package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fabfab/qa-agent/knowledge"
)

var ErrNoStore = errors.New("knowledge store not configured")

// Report summarises one ingestion run.
type Report struct {
	Files   int
	Loaded  int
	Chunks  int
	Skipped []string
	Failed  []string
}

// Message is the user-facing summary of the run.
func (r Report) Message() string {
	if r.Loaded == 0 {
		return "No text could be extracted from the uploaded files."
	}
	return fmt.Sprintf("Successfully ingested %d files. Created %d chunks.", r.Files, r.Chunks)
}

type Service struct {
	store   *knowledge.Store
	mirror  *knowledge.GraphMirror
	logger  *zap.Logger
	size    int
	overlap int
}

type Option func(*Service)

// WithChunking overrides the default chunk size and overlap.
func WithChunking(size, overlap int) Option {
	return func(s *Service) {
		s.size, s.overlap = normalizeChunking(size, overlap)
	}
}

// WithGraphMirror records ingested chunks in Neo4j as well.
func WithGraphMirror(mirror *knowledge.GraphMirror) Option {
	return func(s *Service) {
		s.mirror = mirror
	}
}

func NewService(store *knowledge.Store, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		store:   store,
		logger:  logger,
		size:    DefaultChunkSize,
		overlap: DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestFiles loads, chunks and stores the given files. Unsupported and
// unparseable files are skipped; a store or embedding failure aborts the run
// with nothing from this call written.
func (s *Service) IngestFiles(ctx context.Context, paths []string) (Report, error) {
	if s.store == nil {
		return Report{}, ErrNoStore
	}

	report := Report{Files: len(paths)}
	docs := make([]SourceDocument, 0, len(paths))

	for _, path := range paths {
		doc, ok, err := Load(path)
		switch {
		case !ok:
			s.logger.Info("skipping unsupported file", zap.String("path", path))
			report.Skipped = append(report.Skipped, filepath.Base(path))
			continue
		case err != nil:
			s.logger.Warn("failed to load file", zap.String("path", path), zap.Error(err))
			report.Failed = append(report.Failed, filepath.Base(path))
			continue
		}

		if strings.TrimSpace(doc.Text) == "" {
			s.logger.Info("skipping file without text", zap.String("path", path))
			continue
		}
		docs = append(docs, doc)
	}

	report.Loaded = len(docs)
	if len(docs) == 0 {
		return report, nil
	}

	chunks := ChunkDocuments(docs, s.size, s.overlap)
	ids, err := s.store.Add(ctx, chunks)
	if err != nil {
		return report, fmt.Errorf("store chunks: %w", err)
	}
	report.Chunks = len(chunks)

	s.syncMirror(ctx, ids, chunks)

	s.logger.Info("ingestion complete",
		zap.Int("files", report.Files),
		zap.Int("documents", report.Loaded),
		zap.Int("chunks", report.Chunks),
	)
	return report, nil
}

// IngestDirectory ingests every supported file below dir.
func (s *Service) IngestDirectory(ctx context.Context, dir string) (Report, error) {
	if _, err := os.Stat(dir); err != nil {
		return Report{}, fmt.Errorf("data directory: %w", err)
	}

	var paths []string
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if Supported(path) {
			paths = append(paths, path)
		}
		return nil
	}); err != nil {
		return Report{}, fmt.Errorf("walk data directory: %w", err)
	}

	if len(paths) == 0 {
		s.logger.Info("no supported files found", zap.String("dir", dir))
		return Report{}, nil
	}

	return s.IngestFiles(ctx, paths)
}

// syncMirror is best effort: the store already holds the chunks.
func (s *Service) syncMirror(ctx context.Context, ids []string, chunks []knowledge.Chunk) {
	if s.mirror == nil {
		return
	}

	var (
		order    []string
		bySource = map[string][]int{}
	)
	for i, c := range chunks {
		if _, seen := bySource[c.SourceID]; !seen {
			order = append(order, c.SourceID)
		}
		bySource[c.SourceID] = append(bySource[c.SourceID], i)
	}

	for _, source := range order {
		idx := bySource[source]
		srcIDs := make([]string, len(idx))
		srcChunks := make([]knowledge.Chunk, len(idx))
		for j, i := range idx {
			srcIDs[j] = ids[i]
			srcChunks[j] = chunks[i]
		}
		if err := s.mirror.SyncSource(ctx, source, srcIDs, srcChunks); err != nil {
			s.logger.Warn("sync knowledge graph failed", zap.String("source", source), zap.Error(err))
		}
	}
}
