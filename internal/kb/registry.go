package kb

import (
	"context"
	"fmt"
	"sync"

	"spec-rag/internal/chunker"
	"spec-rag/internal/embedding"
	"spec-rag/internal/vectorstore"
)

// Registry hands out one KnowledgeBase per project, creating it on first use.
// Bases for different projects share nothing but the embedder, and opening one
// project's store never waits on another's.
type Registry struct {
	provider vectorstore.Provider
	embedder embedding.Service
	chunker  *chunker.Chunker

	mu    sync.Mutex
	bases map[int64]*pending
}

// pending is a base being opened; ready closes once kb or err is set.
type pending struct {
	ready chan struct{}
	kb    *KnowledgeBase
	err   error
}

func NewRegistry(provider vectorstore.Provider, embedder embedding.Service, c *chunker.Chunker) *Registry {
	return &Registry{
		provider: provider,
		embedder: embedder,
		chunker:  c,
		bases:    make(map[int64]*pending),
	}
}

// Get returns the project's knowledge base. Concurrent calls for one project
// share a single open; a failed open is forgotten so the next call retries.
func (r *Registry) Get(ctx context.Context, projectID int64) (*KnowledgeBase, error) {
	r.mu.Lock()
	p, ok := r.bases[projectID]
	if !ok {
		p = &pending{ready: make(chan struct{})}
		r.bases[projectID] = p
	}
	r.mu.Unlock()

	if ok {
		select {
		case <-p.ready:
			return p.kb, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	store, err := r.provider.Open(ctx, projectID)
	if err != nil {
		p.err = fmt.Errorf("failed to open store for project %d: %w", projectID, err)
		r.mu.Lock()
		delete(r.bases, projectID)
		r.mu.Unlock()
	} else {
		p.kb = New(projectID, r.chunker, r.embedder, store)
	}
	close(p.ready)
	return p.kb, p.err
}

// Embedder is the embedding service shared by every base.
func (r *Registry) Embedder() embedding.Service {
	return r.embedder
}
