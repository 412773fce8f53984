package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"spec-rag/internal/kb"
	"spec-rag/internal/models"
)

const (
	fallbackQueryChars = 1000
	unknownSource      = "Unknown"
	unknownSection     = "N/A"
)

// Retriever is the slice of the knowledge base the responder needs.
type Retriever interface {
	SearchMultiQuery(ctx context.Context, queries []string, opts kb.MultiQueryOptions) ([]models.ContextResult, error)
	SearchWithContext(ctx context.Context, query string, n, contextChars int) ([]models.ContextResult, error)
}

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options tunes retrieval for a response.
type Options struct {
	MultiQuery      kb.MultiQueryOptions
	FallbackResults int
	FallbackContext int
}

func DefaultOptions() Options {
	return Options{
		MultiQuery: kb.MultiQueryOptions{
			ResultsPerQuery: 5,
			MaxTotalResults: 8,
			ContextChars:    1200,
			MinScore:        0.4,
		},
		FallbackResults: 8,
		FallbackContext: 1200,
	}
}

// Responder drafts a reply to a construction document from the project's
// specifications.
type Responder struct {
	retriever Retriever
	generator Generator
	opts      Options
}

func NewResponder(r Retriever, g Generator, opts Options) *Responder {
	return &Responder{retriever: r, generator: g, opts: opts}
}

// Retrieve finds the specification passages relevant to a document. When the
// derived queries find nothing, the head of the document is searched directly.
func (r *Responder) Retrieve(ctx context.Context, content, filename string) ([]models.ContextResult, Extracted, error) {
	extracted := Extract(content, filename)
	queries := extracted.Queries()
	log.Info().
		Str("filename", filename).
		Str("number", extracted.Number).
		Strs("keywords", extracted.Keywords[:min(len(extracted.Keywords), 5)]).
		Int("queries", len(queries)).
		Msg("Extracted search queries")

	var results []models.ContextResult
	if len(queries) > 0 {
		var err error
		results, err = r.retriever.SearchMultiQuery(ctx, queries, r.opts.MultiQuery)
		if err != nil {
			return nil, extracted, fmt.Errorf("multi-query search failed: %w", err)
		}
	}
	if len(results) == 0 {
		head := truncateRunes(content, fallbackQueryChars)
		if strings.TrimSpace(head) == "" {
			return nil, extracted, nil
		}
		var err error
		results, err = r.retriever.SearchWithContext(ctx, head, r.opts.FallbackResults, r.opts.FallbackContext)
		if err != nil {
			return nil, extracted, fmt.Errorf("fallback search failed: %w", err)
		}
	}
	return results, extracted, nil
}

// Respond retrieves context for the document and asks the generator for a
// draft. docType names the document kind in the prompt, e.g. "RFI".
func (r *Responder) Respond(ctx context.Context, docType, content, filename string) (*models.PromptResponse, error) {
	results, extracted, err := r.Retrieve(ctx, content, filename)
	if err != nil {
		return nil, err
	}

	prompt := BuildPrompt(docType, content, results)
	answer, err := r.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return &models.PromptResponse{
		Query:   extracted.Question,
		Source:  filename,
		Content: answer,
		Context: results,
	}, nil
}

// BuildContext renders results as labelled excerpts.
func BuildContext(results []models.ContextResult) string {
	parts := make([]string, 0, len(results))
	for _, res := range results {
		source, section := res.Source, res.Section
		if source == "" {
			source = unknownSource
		}
		if section == "" {
			section = unknownSection
		}
		parts = append(parts, fmt.Sprintf("--- Source: %s | Section: %s | Relevance: %d%% ---\n%s",
			source, section, int(res.Score*100), res.Text))
	}
	return strings.Join(parts, "\n\n")
}

// AverageRelevance is the mean score as a whole percentage.
func AverageRelevance(results []models.ContextResult) int {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, res := range results {
		sum += res.Score
	}
	return int(sum / float64(len(results)) * 100)
}

func BuildPrompt(docType, content string, results []models.ContextResult) string {
	return fmt.Sprintf(models.ResponsePromptTemplate, docType, AverageRelevance(results), BuildContext(results), content)
}
