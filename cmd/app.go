package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"spec-rag/internal/cache"
	"spec-rag/internal/catalog"
	"spec-rag/internal/chromemdb"
	"spec-rag/internal/chunker"
	"spec-rag/internal/config"
	"spec-rag/internal/db"
	"spec-rag/internal/embedding"
	"spec-rag/internal/kb"
	"spec-rag/internal/llmservice"
	"spec-rag/internal/parser"
	"spec-rag/internal/pgvectordb"
	"spec-rag/internal/vectorstore"
)

// app opens components on first use so each command only pays for what it
// touches.
type app struct {
	cfg         *config.Config
	projectID   int64
	projectName string

	registry *kb.Registry
	chromem  *chromemdb.VectorDBManager
	pg       *bun.DB
	catalog  *catalog.Catalog
	cache    *cache.Cache
	closers  []func() error
}

func newApp(flags *globalFlags) (*app, error) {
	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	log.Debug().Interface("config", cfg).Msg("Loaded config")
	return &app{cfg: cfg, projectID: flags.projectID, projectName: flags.projectName}, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Error closing resource")
		}
	}
}

func (a *app) provider(ctx context.Context) (vectorstore.Provider, error) {
	switch a.cfg.VectorStore.Backend {
	case "pgvector":
		if a.pg == nil {
			pg, err := db.OpenPostgres(ctx, a.cfg.Database.DSN, a.cfg.Database.Password, a.cfg.Database.Debug)
			if err != nil {
				return nil, err
			}
			a.pg = pg
			a.closers = append(a.closers, pg.Close)
		}
		return pgvectordb.NewManager(ctx, a.pg)
	default:
		if a.chromem == nil {
			m, err := chromemdb.NewVectorDBManager(&a.cfg.VectorStore)
			if err != nil {
				return nil, err
			}
			a.chromem = m
		}
		return a.chromem, nil
	}
}

// knowledgeBase returns the selected project's knowledge base.
func (a *app) knowledgeBase(ctx context.Context) (*kb.KnowledgeBase, error) {
	if a.registry == nil {
		embedder, err := embedding.New(&a.cfg.EmbedLLM)
		if err != nil {
			return nil, fmt.Errorf("error creating embedder: %w", err)
		}
		provider, err := a.provider(ctx)
		if err != nil {
			return nil, fmt.Errorf("error opening vector store: %w", err)
		}
		log.Debug().Str("backend", provider.Backend()).Str("model", embedder.ModelName()).Msg("Vector store ready")
		a.registry = kb.NewRegistry(provider, embedder, chunker.New(&a.cfg.RAG))
	}
	return a.registry.Get(ctx, a.projectID)
}

func (a *app) chromemManager(ctx context.Context) (*chromemdb.VectorDBManager, error) {
	if a.cfg.VectorStore.Backend != "chromem" {
		return nil, errors.New("export and import need the chromem backend")
	}
	if _, err := a.provider(ctx); err != nil {
		return nil, err
	}
	return a.chromem, nil
}

func (a *app) openCatalog(ctx context.Context) (*catalog.Catalog, error) {
	if a.catalog == nil {
		c, err := catalog.Open(ctx, &a.cfg.Catalog, a.cfg.Database.Debug)
		if err != nil {
			return nil, fmt.Errorf("error opening catalog: %w", err)
		}
		a.catalog = c
		a.closers = append(a.closers, c.Close)
	}
	return a.catalog, nil
}

func (a *app) openCache(ctx context.Context) (*cache.Cache, error) {
	if a.cache == nil {
		c, err := cache.Open(ctx, &a.cfg.Cache, parser.NewRegistry(), a.cfg.Database.Debug)
		if err != nil {
			return nil, fmt.Errorf("error opening content cache: %w", err)
		}
		a.cache = c
		a.closers = append(a.closers, c.Close)
	}
	return a.cache, nil
}

func (a *app) generator() (*llmservice.Client, error) {
	client, err := llmservice.New(&a.cfg.GenLLM)
	if err != nil {
		return nil, fmt.Errorf("error creating LLM client: %w", err)
	}
	return client, nil
}

// project names the catalog project matching the selected knowledge base.
func (a *app) project() *catalog.Project {
	name := a.projectName
	if name == "" {
		name = fmt.Sprintf("project-%d", a.projectID)
	}
	return &catalog.Project{ID: a.projectID, Name: name}
}

// withApp builds the app, runs fn and releases everything it opened.
func withApp(flags *globalFlags, fn func(a *app) error) error {
	a, err := newApp(flags)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
