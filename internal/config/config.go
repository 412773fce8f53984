package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultChunkSize       = 1000 // chars
	defaultChunkOverlap    = 200  // chars
	defaultMinChunkSize    = 100  // chars
	defaultSplitFactor     = 2
	defaultSentenceWindow  = 100
	defaultEmbedWorkers    = 4
	defaultEmbedMaxChars   = 20000
	defaultEmbedRetryChars = 5000
	defaultCacheItems      = 500
	defaultCacheBytes      = 100 * 1024 * 1024
	defaultCacheTTL        = 24 * time.Hour

	defaultOllamaURL        = "http://localhost:11434"
	defaultOllamaEmbedModel = "nomic-embed-text"
	defaultOllamaGenModel   = "llama3.2"
)

type Config struct {
	RAG         RAGConfig         `yaml:"rag"`
	EmbedLLM    LLMConfig         `yaml:"embed_llm"`
	GenLLM      LLMConfig         `yaml:"gen_llm"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Database    DatabaseConfig    `yaml:"database"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Cache       CacheConfig       `yaml:"cache"`
	Search      SearchConfig      `yaml:"search"`
}

// RAGConfig controls how documents are cut into chunks.
type RAGConfig struct {
	ChunkSize      int `yaml:"chunk_size"`
	ChunkOverlap   int `yaml:"chunk_overlap"`
	MinChunkSize   int `yaml:"min_chunk_size"`
	SplitFactor    int `yaml:"spec_split_factor"`
	SentenceWindow int `yaml:"sentence_window"`
}

// LLMConfig describes a model endpoint. Provider is one of ollama, openai or local
// (local is only valid for embeddings).
type LLMConfig struct {
	Provider   string `yaml:"provider"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Key        string `yaml:"key"`
	Workers    int    `yaml:"workers"`
	MaxChars   int    `yaml:"max_chars"`
	RetryChars int    `yaml:"retry_chars"`
	Dimension  int    `yaml:"dimension"`
}

type VectorStoreConfig struct {
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
	Compress bool   `yaml:"compress"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type CatalogConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type CacheConfig struct {
	MaxItems int           `yaml:"max_items"`
	MaxBytes int64         `yaml:"max_bytes"`
	TTL      time.Duration `yaml:"ttl"`
	Path     string        `yaml:"path"`
}

// SearchConfig holds defaults for the fused search modes.
type SearchConfig struct {
	NResults          int     `yaml:"n_results"`
	ContextChars      int     `yaml:"context_chars"`
	ResultsPerQuery   int     `yaml:"results_per_query"`
	MaxTotalResults   int     `yaml:"max_total_results"`
	MultiQueryMinimum float64 `yaml:"multi_query_min_score"`
	SemanticWeight    float64 `yaml:"semantic_weight"`
	KeywordWeight     float64 `yaml:"keyword_weight"`
	HybridMinimum     float64 `yaml:"hybrid_min_score"`
}

// LoadConfig reads the YAML file at path over the defaults, so keys the file
// sets win even when they are zero. A missing file yields the defaults.
// Environment references like ${OPENAI_API_KEY} are expanded before parsing.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	// provider-specific endpoints are filled after parsing, once the
	// provider is known
	cfg.EmbedLLM.BaseURL, cfg.EmbedLLM.Model = "", ""
	cfg.GenLLM.BaseURL, cfg.GenLLM.Model = "", ""
	expanded := []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// an unset overlap follows a smaller chunk size instead of tripping Validate
	var set struct {
		RAG struct {
			ChunkOverlap *int `yaml:"chunk_overlap"`
		} `yaml:"rag"`
	}
	if err := yaml.Unmarshal(expanded, &set); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if set.RAG.ChunkOverlap == nil && cfg.RAG.ChunkOverlap >= cfg.RAG.ChunkSize {
		cfg.RAG.ChunkOverlap = cfg.RAG.ChunkSize * defaultChunkOverlap / defaultChunkSize
	}
	cfg.EmbedLLM.applyProviderDefaults(defaultOllamaEmbedModel)
	cfg.GenLLM.applyProviderDefaults(defaultOllamaGenModel)
	return cfg, cfg.Validate()
}

// Default returns a config with every field set to its default.
func Default() *Config {
	cfg := &Config{
		RAG: RAGConfig{
			ChunkSize:      defaultChunkSize,
			ChunkOverlap:   defaultChunkOverlap,
			MinChunkSize:   defaultMinChunkSize,
			SplitFactor:    defaultSplitFactor,
			SentenceWindow: defaultSentenceWindow,
		},
		EmbedLLM: LLMConfig{
			Provider:   "ollama",
			Workers:    defaultEmbedWorkers,
			MaxChars:   defaultEmbedMaxChars,
			RetryChars: defaultEmbedRetryChars,
		},
		GenLLM:      LLMConfig{Provider: "ollama"},
		VectorStore: VectorStoreConfig{Backend: "chromem", Path: "./data/chromem"},
		Catalog:     CatalogConfig{Driver: "sqlite"},
		Cache: CacheConfig{
			MaxItems: defaultCacheItems,
			MaxBytes: defaultCacheBytes,
			TTL:      defaultCacheTTL,
		},
		Search: SearchConfig{
			NResults:          10,
			ContextChars:      1000,
			ResultsPerQuery:   5,
			MaxTotalResults:   10,
			MultiQueryMinimum: 0.3,
			SemanticWeight:    0.7,
			KeywordWeight:     0.3,
			HybridMinimum:     0.2,
		},
	}
	cfg.EmbedLLM.applyProviderDefaults(defaultOllamaEmbedModel)
	cfg.GenLLM.applyProviderDefaults(defaultOllamaGenModel)
	return cfg
}

// applyProviderDefaults points an ollama config without an endpoint or model
// at the local server.
func (l *LLMConfig) applyProviderDefaults(model string) {
	if l.Provider != "ollama" {
		return
	}
	if l.BaseURL == "" {
		l.BaseURL = defaultOllamaURL
	}
	if l.Model == "" {
		l.Model = model
	}
}

func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, chunk_size), got %d", c.RAG.ChunkOverlap)
	}
	if c.RAG.MinChunkSize < 0 {
		return fmt.Errorf("rag.min_chunk_size must not be negative, got %d", c.RAG.MinChunkSize)
	}
	switch c.EmbedLLM.Provider {
	case "ollama", "openai", "local":
	default:
		return fmt.Errorf("embed_llm.provider %q is not supported", c.EmbedLLM.Provider)
	}
	switch c.GenLLM.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("gen_llm.provider %q is not supported", c.GenLLM.Provider)
	}
	switch c.VectorStore.Backend {
	case "chromem":
	case "pgvector":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for the pgvector backend")
		}
	default:
		return fmt.Errorf("vector_store.backend %q is not supported", c.VectorStore.Backend)
	}
	switch c.Catalog.Driver {
	case "sqlite":
	case "postgres":
		if c.Catalog.DSN == "" {
			return errors.New("catalog.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("catalog.driver %q is not supported", c.Catalog.Driver)
	}
	for name, w := range map[string]float64{
		"search.semantic_weight": c.Search.SemanticWeight,
		"search.keyword_weight":  c.Search.KeywordWeight,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s must be 0-1, got %f", name, w)
		}
	}
	return nil
}
