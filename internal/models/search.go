package models

// SearchResult is a chunk returned by a similarity search. Score is in [0,1],
// 1.0 meaning identical.
type SearchResult struct {
	Text     string        `json:"text"`
	Score    float64       `json:"score"`
	Metadata ChunkMetadata `json:"metadata"`
}

// ContextResult is the flattened form handed to the generation step.
type ContextResult struct {
	Text         string  `json:"text"`
	Source       string  `json:"source"`
	SourceFileID int64   `json:"source_file_id"`
	Section      string  `json:"section"`
	Score        float64 `json:"score"`
}

// HybridResult carries the component scores next to the combined score.
type HybridResult struct {
	ContextResult
	SemanticScore float64 `json:"semantic_score"`
	KeywordScore  float64 `json:"keyword_score"`
}

// PromptResponse is a drafted answer plus the context it was drafted from.
type PromptResponse struct {
	Query   string          `json:"query"`
	Source  string          `json:"source"`
	Content string          `json:"content"`
	Context []ContextResult `json:"context"`
}
