package kb

import (
	"context"
	"hash/fnv"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"spec-rag/internal/helper"
	"spec-rag/internal/models"
)

const (
	minQueryLength = 5
	dedupPrefix    = 200
	agreementBoost = 1.1
	oversample     = 3
)

var keywordRe = regexp.MustCompile(models.KeywordRegex)

// MultiQueryOptions tunes SearchMultiQuery.
type MultiQueryOptions struct {
	ResultsPerQuery int
	MaxTotalResults int
	ContextChars    int
	MinScore        float64
}

func DefaultMultiQueryOptions() MultiQueryOptions {
	return MultiQueryOptions{ResultsPerQuery: 5, MaxTotalResults: 10, ContextChars: 1000, MinScore: 0.3}
}

// HybridOptions tunes HybridSearch. A nil Keywords derives them from the
// query; a non-nil empty slice disables keyword scoring.
type HybridOptions struct {
	Keywords       []string
	NResults       int
	SemanticWeight float64
	KeywordWeight  float64
	MinScore       float64
}

func DefaultHybridOptions() HybridOptions {
	return HybridOptions{NResults: 10, SemanticWeight: 0.7, KeywordWeight: 0.3, MinScore: 0.2}
}

type fused struct {
	result  models.ContextResult
	score   float64
	matches int
}

// SearchMultiQuery runs each query in turn and merges the hits. A chunk found
// by more than one query has its score raised by 10% over the best score
// seen for it so far; reported scores never exceed 1.
func (kb *KnowledgeBase) SearchMultiQuery(ctx context.Context, queries []string, opts MultiQueryOptions) ([]models.ContextResult, error) {
	if len(queries) == 0 {
		return nil, nil
	}

	var order []string
	seen := make(map[string]*fused)
	for _, q := range queries {
		if len(strings.TrimSpace(q)) < minQueryLength {
			continue
		}
		results, err := kb.Search(ctx, q, opts.ResultsPerQuery, opts.MinScore)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			key := dedupKey(r)
			if f, ok := seen[key]; ok {
				f.score = max(f.score, r.Score) * agreementBoost
				f.matches++
				continue
			}
			seen[key] = &fused{
				result:  toContext(r, clip(r.Text, opts.ContextChars), 0),
				score:   r.Score,
				matches: 1,
			}
			order = append(order, key)
		}
	}

	merged := make([]*fused, 0, len(order))
	for _, key := range order {
		merged = append(merged, seen[key])
	}
	// stable: equal scores keep first-seen order
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].score > merged[j].score })
	if opts.MaxTotalResults >= 0 && len(merged) > opts.MaxTotalResults {
		merged = merged[:opts.MaxTotalResults]
	}

	out := make([]models.ContextResult, len(merged))
	for i, f := range merged {
		out[i] = f.result
		out[i].Score = helper.Round(min(f.score, 1.0), 4)
	}

	log.Info().Int("queries", len(queries)).Int("results", len(out)).Msg("Multi-query search")
	return out, nil
}

// HybridSearch re-ranks an oversampled semantic candidate pool by a weighted
// sum of semantic score and the fraction of keywords present in the text.
func (kb *KnowledgeBase) HybridSearch(ctx context.Context, query string, opts HybridOptions) ([]models.HybridResult, error) {
	candidates, err := kb.Search(ctx, query, opts.NResults*oversample, 0)
	if err != nil {
		return nil, err
	}

	keywords := opts.Keywords
	if keywords == nil {
		keywords = ExtractKeywords(query)
	}

	var out []models.HybridResult
	for _, r := range candidates {
		kwScore := keywordScore(r.Text, keywords)
		combined := r.Score*opts.SemanticWeight + kwScore*opts.KeywordWeight
		if combined < opts.MinScore {
			continue
		}
		out = append(out, models.HybridResult{
			ContextResult: toContext(r, r.Text, helper.Round(combined, 4)),
			SemanticScore: helper.Round(r.Score, 4),
			KeywordScore:  helper.Round(kwScore, 4),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > opts.NResults {
		out = out[:opts.NResults]
	}

	log.Info().Str("query", clip(query, 50)).Int("results", len(out)).Msg("Hybrid search")
	return out, nil
}

// ExtractKeywords lowercases query and keeps alphabetic words longer than two
// letters that are not stopwords, in order of appearance.
func ExtractKeywords(query string) []string {
	var keywords []string
	for _, w := range keywordRe.FindAllString(strings.ToLower(query), -1) {
		if len(w) <= 2 {
			continue
		}
		if _, stop := models.Stopwords[w]; stop {
			continue
		}
		keywords = append(keywords, w)
	}
	return keywords
}

func keywordScore(text string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matches := 0
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			matches++
		}
	}
	return float64(matches) / float64(len(keywords))
}

// dedupKey identifies a chunk by its source and a hash of its leading text.
// Collisions only cause an unearned boost.
func dedupKey(r models.SearchResult) string {
	prefix := r.Text
	if runes := []rune(prefix); len(runes) > dedupPrefix {
		prefix = string(runes[:dedupPrefix])
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(prefix))
	return strconv.FormatInt(r.Metadata.SourceFileID, 10) + "_" + strconv.FormatUint(h.Sum64(), 16)
}
