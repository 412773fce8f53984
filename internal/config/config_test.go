package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, RAGConfig{ChunkSize: 1000, ChunkOverlap: 200, MinChunkSize: 100, SplitFactor: 2, SentenceWindow: 100}, cfg.RAG)
	assert.Equal(t, "ollama", cfg.EmbedLLM.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.EmbedLLM.Model)
	assert.Equal(t, 4, cfg.EmbedLLM.Workers)
	assert.Equal(t, "chromem", cfg.VectorStore.Backend)
	assert.Equal(t, "sqlite", cfg.Catalog.Driver)
	assert.Equal(t, 500, cfg.Cache.MaxItems)
	assert.Equal(t, int64(100*1024*1024), cfg.Cache.MaxBytes)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 0.7, cfg.Search.SemanticWeight)
	assert.Equal(t, 0.3, cfg.Search.KeywordWeight)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadConfig_ExpandsEnvironment(t *testing.T) {
	t.Setenv("SPEC_RAG_TEST_KEY", "Bearer sk-test")
	path := writeConfig(t, `
rag:
  chunk_size: 800
  chunk_overlap: 100
gen_llm:
  provider: openai
  model: gpt-4o-mini
  key: ${SPEC_RAG_TEST_KEY}
cache:
  ttl: 90m
search:
  keyword_weight: 0.5
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 800, cfg.RAG.ChunkSize)
	assert.Equal(t, 100, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 100, cfg.RAG.MinChunkSize)
	assert.Equal(t, "Bearer sk-test", cfg.GenLLM.Key)
	assert.Empty(t, cfg.GenLLM.BaseURL, "ollama defaults are not applied to other providers")
	assert.Equal(t, 90*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 0.5, cfg.Search.KeywordWeight)
	assert.Equal(t, 0.7, cfg.Search.SemanticWeight)
}

func TestLoadConfig_ExplicitZerosAreKept(t *testing.T) {
	path := writeConfig(t, `
rag:
  chunk_overlap: 0
  min_chunk_size: 0
cache:
  ttl: 0s
  max_bytes: 0
search:
  hybrid_min_score: 0
  multi_query_min_score: 0
  keyword_weight: 0
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Zero(t, cfg.RAG.ChunkOverlap)
	assert.Zero(t, cfg.RAG.MinChunkSize)
	assert.Zero(t, cfg.Cache.TTL)
	assert.Zero(t, cfg.Cache.MaxBytes)
	assert.Zero(t, cfg.Search.HybridMinimum)
	assert.Zero(t, cfg.Search.MultiQueryMinimum)
	assert.Zero(t, cfg.Search.KeywordWeight)
	assert.Equal(t, 1000, cfg.RAG.ChunkSize, "keys the file leaves out keep their defaults")
	assert.Equal(t, 500, cfg.Cache.MaxItems)
}

func TestLoadConfig_SmallChunkSizeScalesUnsetOverlap(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "rag:\n  chunk_size: 150\n"))
	require.NoError(t, err)
	assert.Equal(t, 150, cfg.RAG.ChunkSize)
	assert.Equal(t, 30, cfg.RAG.ChunkOverlap)

	_, err = LoadConfig(writeConfig(t, "rag:\n  chunk_size: 150\n  chunk_overlap: 200\n"))
	assert.ErrorContains(t, err, "rag.chunk_overlap", "an explicit overlap is never rewritten")
}

func TestLoadConfig_ProviderDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "gen_llm:\n  provider: ollama\n  model: qwen3\nembed_llm:\n  provider: openai\n"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434", cfg.GenLLM.BaseURL)
	assert.Equal(t, "qwen3", cfg.GenLLM.Model)
	assert.Empty(t, cfg.EmbedLLM.BaseURL)
	assert.Empty(t, cfg.EmbedLLM.Model)
	assert.Equal(t, 4, cfg.EmbedLLM.Workers)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"overlap too large", "rag:\n  chunk_size: 100\n  chunk_overlap: 100\n", "rag.chunk_overlap"},
		{"negative min size", "rag:\n  min_chunk_size: -1\n", "rag.min_chunk_size"},
		{"embed provider", "embed_llm:\n  provider: cohere\n", "embed_llm.provider"},
		{"local generation", "gen_llm:\n  provider: local\n", "gen_llm.provider"},
		{"pgvector without dsn", "vector_store:\n  backend: pgvector\n", "database.dsn"},
		{"unknown backend", "vector_store:\n  backend: qdrant\n", "vector_store.backend"},
		{"postgres catalog without dsn", "catalog:\n  driver: postgres\n", "catalog.dsn"},
		{"weight range", "search:\n  semantic_weight: 1.5\n", "search.semantic_weight"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadConfig_BadYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "rag: [\n"))
	assert.ErrorContains(t, err, "failed to parse config")
}
