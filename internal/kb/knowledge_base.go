package kb

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"spec-rag/internal/chunker"
	"spec-rag/internal/embedding"
	"spec-rag/internal/helper"
	"spec-rag/internal/models"
	"spec-rag/internal/vectorstore"
)

// KnowledgeBase indexes one project's documents and answers searches over them.
type KnowledgeBase struct {
	projectID int64
	chunker   *chunker.Chunker
	embedder  embedding.Service
	store     vectorstore.Store
}

// Stats adds embedding and chunking settings to the store stats.
type Stats struct {
	vectorstore.Stats
	EmbeddingModel string `json:"embedding_model"`
	ChunkSize      int    `json:"chunk_size"`
	ChunkOverlap   int    `json:"chunk_overlap"`
}

func New(projectID int64, c *chunker.Chunker, embedder embedding.Service, store vectorstore.Store) *KnowledgeBase {
	return &KnowledgeBase{
		projectID: projectID,
		chunker:   c,
		embedder:  embedder,
		store:     store,
	}
}

func (kb *KnowledgeBase) ProjectID() int64 {
	return kb.projectID
}

// IndexDocument replaces every chunk of fileID with a fresh chunking of
// content and returns the number of chunks stored. Empty content is a no-op.
func (kb *KnowledgeBase) IndexDocument(ctx context.Context, content string, fileID int64, filename string, isSpecification bool) (int, error) {
	if strings.TrimSpace(content) == "" {
		log.Warn().Str("filename", filename).Msg("Empty content, skipping indexing")
		return 0, nil
	}

	if _, err := kb.RemoveDocument(ctx, fileID); err != nil {
		return 0, err
	}

	contentType := "other"
	if isSpecification {
		contentType = chunker.ContentTypeSpecification
	}
	chunks := kb.chunker.ChunkDocument(content, fileID, filename, contentType)
	if len(chunks) == 0 {
		log.Warn().Str("filename", filename).Msg("No chunks generated")
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := kb.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed chunks of %s: %w", filename, err)
	}

	records := make([]models.Record, len(chunks))
	for i, ch := range chunks {
		records[i] = models.Record{
			ID:        helper.ChunkID(fileID, ch.ChunkIndex),
			Text:      ch.Text,
			Embedding: vectors[i],
			Metadata:  ch.Metadata(),
		}
	}
	if err := kb.store.Add(ctx, records); err != nil {
		return 0, fmt.Errorf("failed to store chunks of %s: %w", filename, err)
	}

	log.Info().
		Int64("project_id", kb.projectID).
		Int64("file_id", fileID).
		Str("filename", filename).
		Int("chunks", len(chunks)).
		Msg("Indexed document")
	return len(chunks), nil
}

// RemoveDocument deletes every chunk of fileID.
func (kb *KnowledgeBase) RemoveDocument(ctx context.Context, fileID int64) (int, error) {
	n, err := kb.store.DeleteByFileID(ctx, fileID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("file_id", fileID).Int("chunks", n).Msg("Removed document chunks")
	}
	return n, nil
}

// Search embeds query and returns up to n results, best first. A positive
// minScore drops weaker results.
func (kb *KnowledgeBase) Search(ctx context.Context, query string, n int, minScore float64) ([]models.SearchResult, error) {
	vec, err := kb.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	results, err := kb.store.Search(ctx, vec, n)
	if err != nil {
		return nil, err
	}
	if minScore <= 0 {
		return results, nil
	}

	kept := results[:0]
	for _, r := range results {
		if r.Score >= minScore {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

// SearchWithContext is Search flattened for prompt assembly, with each text
// cut to contextChars.
func (kb *KnowledgeBase) SearchWithContext(ctx context.Context, query string, n, contextChars int) ([]models.ContextResult, error) {
	results, err := kb.Search(ctx, query, n, 0)
	if err != nil {
		return nil, err
	}
	out := make([]models.ContextResult, 0, len(results))
	for _, r := range results {
		out = append(out, toContext(r, clip(r.Text, contextChars), helper.Round(r.Score, 4)))
	}
	return out, nil
}

func (kb *KnowledgeBase) Count(ctx context.Context) (int, error) {
	return kb.store.Count(ctx)
}

func (kb *KnowledgeBase) Clear(ctx context.Context) error {
	if err := kb.store.Clear(ctx); err != nil {
		return err
	}
	log.Info().Int64("project_id", kb.projectID).Msg("Cleared knowledge base")
	return nil
}

func (kb *KnowledgeBase) Stats(ctx context.Context) (Stats, error) {
	st, err := kb.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Stats:          st,
		EmbeddingModel: kb.embedder.ModelName(),
		ChunkSize:      kb.chunker.ChunkSize,
		ChunkOverlap:   kb.chunker.ChunkOverlap,
	}, nil
}

func toContext(r models.SearchResult, text string, score float64) models.ContextResult {
	return models.ContextResult{
		Text:         text,
		Source:       r.Metadata.SourceFilename,
		SourceFileID: r.Metadata.SourceFileID,
		Section:      r.Metadata.SectionTitle,
		Score:        score,
	}
}

// clip cuts text to n runes and marks the cut. n <= 0 keeps the full text.
func clip(text string, n int) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + models.Ellipsis
}
