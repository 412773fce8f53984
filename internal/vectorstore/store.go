package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"spec-rag/internal/models"
)

// ErrDimensionMismatch is returned when a record or query vector does not match
// the dimension the store was created with.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Store holds one project's chunk records. Implementations never share
// records between projects.
type Store interface {
	// Add inserts records, replacing any with the same id.
	Add(ctx context.Context, records []models.Record) error
	// Search returns up to n nearest records, best first.
	Search(ctx context.Context, embedding []float32, n int) ([]models.SearchResult, error)
	// DeleteByFileID removes every record of one source document.
	DeleteByFileID(ctx context.Context, fileID int64) (int, error)
	Count(ctx context.Context) (int, error)
	// Clear leaves the namespace existing and empty.
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
}

// Stats describes one project's store.
type Stats struct {
	ProjectID int64  `json:"project_id"`
	Namespace string `json:"collection_name"`
	Backend   string `json:"backend"`
	Documents int    `json:"document_count"`
}

// Provider opens the isolated store of a project.
type Provider interface {
	Open(ctx context.Context, projectID int64) (Store, error)
	Backend() string
}

// ScoreFromDistance converts a cosine distance in [0,2] to a similarity score
// in [0,1]. Out-of-range distances are clamped.
func ScoreFromDistance(distance float64) float64 {
	score := 1 - distance/2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Namespace is the per-project collection or table name.
func Namespace(projectID int64) string {
	return fmt.Sprintf("project_%d", projectID)
}

// Validate checks that records are complete and share one dimension.
func Validate(records []models.Record) (int, error) {
	dim := 0
	for i, r := range records {
		if r.ID == "" {
			return 0, fmt.Errorf("record %d has no id", i)
		}
		if len(r.Embedding) == 0 {
			return 0, fmt.Errorf("record %s has no embedding", r.ID)
		}
		if dim == 0 {
			dim = len(r.Embedding)
		} else if len(r.Embedding) != dim {
			return 0, fmt.Errorf("%w: record %s has %d, expected %d", ErrDimensionMismatch, r.ID, len(r.Embedding), dim)
		}
	}
	return dim, nil
}
