package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/errgroup"

	"spec-rag/internal/config"
)

var (
	// ErrContextLength is returned when the backend rejects the input as too
	// long even after the shortened retry.
	ErrContextLength = errors.New("embedding input exceeds model context length")
	// ErrEmptyEmbedding is returned when the backend answers without a vector.
	ErrEmptyEmbedding = errors.New("embedding backend returned an empty vector")
)

const (
	defaultWorkers    = 4
	defaultMaxChars   = 20000
	defaultRetryChars = 5000
	dimensionProbe    = "test"
)

// Service maps text to fixed-dimension vectors. Implementations are safe for
// concurrent use.
type Service interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
	Dimension(ctx context.Context) (int, error)
}

// New selects an embedding service by provider name.
func New(cfg *config.LLMConfig) (Service, error) {
	switch cfg.Provider {
	case "ollama", "":
		return NewOllamaEmbedder(cfg)
	case "openai":
		return NewOpenAIEmbedder(cfg)
	case "local":
		return NewLocalEmbedder(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// ServerEmbedder embeds text through a model server reached by langchaingo.
type ServerEmbedder struct {
	embedder   embeddings.Embedder
	model      string
	workers    int
	maxChars   int
	retryChars int

	mu        sync.Mutex
	dimension int
}

// NewOllamaEmbedder talks to a locally hosted Ollama server.
func NewOllamaEmbedder(llmConfig *config.LLMConfig) (*ServerEmbedder, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Creating ollama embedder")

	llm, err := ollama.New(
		ollama.WithServerURL(llmConfig.BaseURL),
		ollama.WithModel(llmConfig.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return NewServerEmbedder(embedder, "ollama/"+llmConfig.Model, llmConfig), nil
}

// NewOpenAIEmbedder talks to any OpenAI-compatible embeddings endpoint.
func NewOpenAIEmbedder(llmConfig *config.LLMConfig) (*ServerEmbedder, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Creating openai embedder")

	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithEmbeddingModel(llmConfig.Model),
	}
	if llmConfig.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return NewServerEmbedder(embedder, "openai/"+llmConfig.Model, llmConfig), nil
}

// NewServerEmbedder wraps any langchaingo embedder. Zero limits in llmConfig
// fall back to the defaults.
func NewServerEmbedder(embedder embeddings.Embedder, model string, llmConfig *config.LLMConfig) *ServerEmbedder {
	s := &ServerEmbedder{
		embedder:   embedder,
		model:      model,
		workers:    defaultWorkers,
		maxChars:   defaultMaxChars,
		retryChars: defaultRetryChars,
	}
	if llmConfig != nil {
		if llmConfig.Workers > 0 {
			s.workers = llmConfig.Workers
		}
		if llmConfig.MaxChars > 0 {
			s.maxChars = llmConfig.MaxChars
		}
		if llmConfig.RetryChars > 0 {
			s.retryChars = llmConfig.RetryChars
		}
	}
	return s
}

func (s *ServerEmbedder) ModelName() string {
	return s.model
}

// Embed truncates text to the character budget and embeds it. A context-length
// rejection is retried once with a much shorter prefix.
func (s *ServerEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.EmbedQuery(ctx, truncate(text, s.maxChars))
	if err != nil && isContextLengthError(err) {
		log.Warn().Err(err).Int("retry_chars", s.retryChars).Msg("Embedding input too long, retrying shorter")
		vec, err = s.embedder.EmbedQuery(ctx, truncate(text, s.retryChars))
		if err != nil && isContextLengthError(err) {
			return nil, fmt.Errorf("%w: %v", ErrContextLength, err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(vec) == 0 {
		return nil, ErrEmptyEmbedding
	}

	s.mu.Lock()
	if s.dimension == 0 {
		s.dimension = len(vec)
	}
	s.mu.Unlock()
	return vec, nil
}

// EmbedBatch embeds texts in parallel and returns vectors in input order.
func (s *ServerEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return BatchEmbed(ctx, texts, s.workers, s.Embed)
}

// Dimension embeds a probe string on first use and caches the vector length.
func (s *ServerEmbedder) Dimension(ctx context.Context) (int, error) {
	s.mu.Lock()
	dim := s.dimension
	s.mu.Unlock()
	if dim > 0 {
		return dim, nil
	}
	vec, err := s.Embed(ctx, dimensionProbe)
	if err != nil {
		return 0, err
	}
	return len(vec), nil
}

// BatchEmbed fans texts out over at most workers concurrent embed calls. Each
// worker writes only its own result slot, so output order matches input order.
func BatchEmbed(ctx context.Context, texts []string, workers int, embed func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) <= 1 {
		for i, text := range texts {
			vec, err := embed(ctx, text)
			if err != nil {
				return nil, err
			}
			out[i] = vec
		}
		return out, nil
	}
	if workers <= 0 {
		workers = defaultWorkers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := embed(gctx, text)
			if err != nil {
				return fmt.Errorf("failed to embed text %d: %w", i, err)
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func isContextLengthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context length") || strings.Contains(msg, "input length")
}

// truncate returns at most n runes of text.
func truncate(text string, n int) string {
	if n <= 0 || len(text) <= n {
		return text
	}
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
