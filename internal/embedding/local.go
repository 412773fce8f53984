package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"spec-rag/internal/config"
	"spec-rag/internal/models"
)

const defaultLocalDimension = 384

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\d+(?:\.\d+)*`)

// LocalEmbedder is an in-process embedder. Terms and adjacent term pairs are
// hashed into a fixed number of buckets and the result is L2-normalized, so
// texts sharing vocabulary land close together in cosine space. It needs no
// model server and no corpus preparation.
type LocalEmbedder struct {
	dimension int
	workers   int
}

func NewLocalEmbedder(cfg *config.LLMConfig) *LocalEmbedder {
	e := &LocalEmbedder{dimension: defaultLocalDimension, workers: defaultWorkers}
	if cfg != nil {
		if cfg.Dimension > 0 {
			e.dimension = cfg.Dimension
		}
		if cfg.Workers > 0 {
			e.workers = cfg.Workers
		}
	}
	return e
}

func (e *LocalEmbedder) ModelName() string {
	return fmt.Sprintf("local/hashing-%d", e.dimension)
}

// Dimension is fixed at construction, so no text is embedded to learn it.
func (e *LocalEmbedder) Dimension(context.Context) (int, error) {
	return e.dimension, nil
}

func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float64, e.dimension)
	var prev string
	for _, tok := range e.tokenize(text) {
		e.add(vec, tok, 1.0)
		if prev != "" {
			e.add(vec, prev+" "+tok, 0.5)
		}
		prev = tok
	}

	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, e.dimension)
	if norm == 0 {
		// a zero vector has no direction; give empty text a fixed one
		out[0] = 1
		return out, nil
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return BatchEmbed(ctx, texts, e.workers, e.Embed)
}

// add hashes term into a bucket; a second hash bit picks the sign so
// collisions tend to cancel rather than accumulate.
func (e *LocalEmbedder) add(vec []float64, term string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(term))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dimension))
	if (sum>>63)&1 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func (e *LocalEmbedder) tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := raw[:0]
	for _, tok := range raw {
		if _, stop := models.Stopwords[tok]; stop {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}
