package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fabfab/qa-agent/browser"
	"github.com/fabfab/qa-agent/config"
	"github.com/fabfab/qa-agent/database"
	"github.com/fabfab/qa-agent/embeddings"
	"github.com/fabfab/qa-agent/ingestion"
	"github.com/fabfab/qa-agent/knowledge"
	"github.com/fabfab/qa-agent/llm"
	"github.com/fabfab/qa-agent/rag"
)

// app holds the long-lived handles shared by every command.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	store   *knowledge.Store
	mirror  *knowledge.GraphMirror
	fetcher *browser.Fetcher
}

// openApp opens the knowledge store and optional side services. With
// tolerateStore set a store that cannot be opened is logged and left nil so
// the HTTP surface can still answer with 503.
func openApp(ctx context.Context, cfg config.Config, logger *zap.Logger, tolerateStore bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		if !tolerateStore {
			return nil, err
		}
		logger.Error("knowledge store unavailable", zap.Error(err))
	} else {
		a.store = store
	}

	if cfg.Neo4jURI != "" {
		driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			logger.Warn("neo4j mirror disabled", zap.Error(err))
		} else {
			a.mirror = knowledge.NewGraphMirror(driver)
		}
	}

	if cfg.RenderHTML {
		a.fetcher = browser.NewFetcher(browser.Options{Logger: logger.Named("browser")})
	}
	return a, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*knowledge.Store, error) {
	embedder, err := embeddings.NewEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: embedder setup: %w", knowledge.ErrStoreUnavailable, err)
	}

	return knowledge.Open(ctx, knowledge.Options{
		Backend:   cfg.Store.Backend,
		Dir:       cfg.Store.Dir,
		DSN:       cfg.PostgresDSN,
		Dimension: cfg.Embeddings.Dimension,
		Embedder:  embedder,
		Logger:    logger.Named("knowledge"),
	})
}

func (a *app) ingestion() *ingestion.Service {
	opts := []ingestion.Option{ingestion.WithChunking(a.cfg.Chunking.Size, a.cfg.Chunking.Overlap)}
	if a.mirror != nil {
		opts = append(opts, ingestion.WithGraphMirror(a.mirror))
	}
	return ingestion.NewService(a.store, a.logger.Named("ingestion"), opts...)
}

func (a *app) pipeline(ctx context.Context) *rag.Service {
	client, err := llm.NewClient(ctx, a.cfg)
	if err != nil {
		a.logger.Warn("llm unavailable, responses will fall back", zap.Error(err))
		client = llm.Unavailable(err)
	}

	opts := []rag.Option{
		rag.WithDefaultModel(a.cfg.LLM.Model),
		rag.WithDepths(rag.Depths{
			Tests:  a.cfg.Retrieval.TestsK,
			Script: a.cfg.Retrieval.ScriptK,
			Chat:   a.cfg.Retrieval.ChatK,
		}),
	}
	if a.fetcher != nil {
		opts = append(opts, rag.WithHTMLFetcher(a.fetcher))
	}

	// A nil *Store must not become a non-nil Retriever.
	var retriever rag.Retriever
	if a.store != nil {
		retriever = a.store
	}
	return rag.NewService(retriever, client, a.logger.Named("rag"), opts...)
}

func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.fetcher != nil {
		errs = append(errs, a.fetcher.Close())
	}
	if a.mirror != nil {
		errs = append(errs, a.mirror.Close(ctx))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
