package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"spec-rag/internal/config"
	"spec-rag/internal/models"
	"spec-rag/internal/vectorstore"
)

const backendName = "chromem"

// VectorDBManager owns one chromem database holding a collection per project.
type VectorDBManager struct {
	db       *chromem.DB
	dbPath   string
	compress bool

	mu     sync.Mutex
	stores map[int64]*ProjectStore
}

// NewVectorDBManager opens the database at dbPath, or an in-memory one.
func NewVectorDBManager(cfg *config.VectorStoreConfig) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	log.Debug().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("compress", cfg.Compress).
		Msg("Opened chromem database")

	return &VectorDBManager{
		db:       db,
		dbPath:   cfg.Path,
		compress: cfg.Compress,
		stores:   make(map[int64]*ProjectStore),
	}, nil
}

func (m *VectorDBManager) Backend() string {
	return backendName
}

// Open returns the store of a project, creating its collection on first use.
func (m *VectorDBManager) Open(_ context.Context, projectID int64) (vectorstore.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[projectID]; ok {
		return s, nil
	}
	s := &ProjectStore{db: m.db, projectID: projectID, name: vectorstore.Namespace(projectID)}
	if err := s.load(); err != nil {
		return nil, err
	}
	m.stores[projectID] = s
	return s, nil
}

// Export writes the named project collections to one file. The key, when
// set, must be 32 bytes long.
func (m *VectorDBManager) Export(path, encryptionKey string, projectIDs ...int64) error {
	names := make([]string, 0, len(projectIDs))
	for _, id := range projectIDs {
		names = append(names, vectorstore.Namespace(id))
	}
	log.Debug().Str("file", path).Strs("collections", names).Bool("compress", m.compress).Msg("Exporting collections")
	if err := m.db.ExportToFile(path, m.compress, encryptionKey, names...); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import restores collections from a file written by Export. Open stores are
// dropped so the next Open sees the imported data.
func (m *VectorDBManager) Import(path, encryptionKey string, projectIDs ...int64) error {
	names := make([]string, 0, len(projectIDs))
	for _, id := range projectIDs {
		names = append(names, vectorstore.Namespace(id))
	}
	if err := m.db.ImportFromFile(path, encryptionKey, names...); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}

	m.mu.Lock()
	m.stores = make(map[int64]*ProjectStore)
	m.mu.Unlock()
	return nil
}

// ProjectStore is one project's collection.
type ProjectStore struct {
	db        *chromem.DB
	projectID int64
	name      string

	// mu guards collection, which Clear swaps out, and its embedding size
	// once known
	mu         sync.RWMutex
	collection *chromem.Collection
	dim        int
}

func (s *ProjectStore) load() error {
	c, err := s.db.GetOrCreateCollection(s.name, map[string]string{"project_id": strconv.FormatInt(s.projectID, 10)}, nil)
	if err != nil {
		return fmt.Errorf("failed to create/get collection %s: %w", s.name, err)
	}
	s.collection = c
	return nil
}

func (s *ProjectStore) current() (*chromem.Collection, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection, s.dim
}

func (s *ProjectStore) Add(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	dim, err := vectorstore.Validate(records)
	if err != nil {
		return err
	}
	c, existing := s.current()
	if existing == 0 {
		if existing, err = s.learnDimension(ctx, c, records[0].Embedding); err != nil {
			return err
		}
	}
	if existing > 0 && existing != dim {
		return fmt.Errorf("%w: collection %s holds %d, got %d", vectorstore.ErrDimensionMismatch, s.name, existing, dim)
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Text,
			Metadata:  r.Metadata.ToMap(),
			Embedding: r.Embedding,
		}
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}

	s.remember(c, dim)
	return nil
}

func (s *ProjectStore) remember(c *chromem.Collection, dim int) {
	s.mu.Lock()
	if s.collection == c {
		s.dim = dim
	}
	s.mu.Unlock()
}

// learnDimension finds the embedding size of a collection this process has
// not written to yet, as after a restart or an import. chromem keeps no
// schema, but a query fails when its vector length differs from the stored
// ones, so a one-result query with vec either confirms its size or proves a
// mismatch. An empty collection reports zero.
func (s *ProjectStore) learnDimension(ctx context.Context, c *chromem.Collection, vec []float32) (int, error) {
	if c.Count() == 0 {
		return 0, nil
	}
	results, err := c.QueryWithOptions(ctx, chromem.QueryOptions{QueryEmbedding: vec, NResults: 1})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, fmt.Errorf("%w: collection %s does not hold %d-dimensional vectors: %v", vectorstore.ErrDimensionMismatch, s.name, len(vec), err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	dim := len(results[0].Embedding)
	s.remember(c, dim)
	return dim, nil
}

// Search queries the collection. chromem reports cosine similarity; it is
// turned back into a distance so scoring goes through one conversion.
func (s *ProjectStore) Search(ctx context.Context, embedding []float32, n int) ([]models.SearchResult, error) {
	if len(embedding) == 0 {
		return nil, errors.New("query embedding must be provided")
	}
	c, existing := s.current()
	count := c.Count()
	if count == 0 || n <= 0 {
		return nil, nil
	}
	if existing == 0 {
		var err error
		if existing, err = s.learnDimension(ctx, c, embedding); err != nil {
			return nil, err
		}
	}
	if existing > 0 && existing != len(embedding) {
		return nil, fmt.Errorf("%w: collection %s holds %d, query has %d", vectorstore.ErrDimensionMismatch, s.name, existing, len(embedding))
	}

	results, err := c.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: embedding,
		NResults:       min(n, count),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	out := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		distance := 1 - float64(r.Similarity)
		out = append(out, models.SearchResult{
			Text:     r.Content,
			Score:    vectorstore.ScoreFromDistance(distance),
			Metadata: models.MetadataFromMap(r.Metadata),
		})
	}
	return out, nil
}

// DeleteByFileID removes a document's chunks. chromem does not report how
// many documents a delete matched, so the count is taken from the size change.
func (s *ProjectStore) DeleteByFileID(ctx context.Context, fileID int64) (int, error) {
	c, _ := s.current()
	before := c.Count()
	if before == 0 {
		return 0, nil
	}
	where := map[string]string{models.MetaSourceFileID: strconv.FormatInt(fileID, 10)}
	if err := c.Delete(ctx, where, nil); err != nil {
		return 0, fmt.Errorf("failed to delete chunks of file %d: %w", fileID, err)
	}
	return before - c.Count(), nil
}

func (s *ProjectStore) Count(_ context.Context) (int, error) {
	c, _ := s.current()
	return c.Count(), nil
}

// Clear drops the collection and creates it again empty.
func (s *ProjectStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(s.name); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", s.name, err)
	}
	if err := s.load(); err != nil {
		return err
	}
	s.dim = 0
	log.Info().Int64("project_id", s.projectID).Msg("Cleared vector collection")
	return nil
}

func (s *ProjectStore) Stats(ctx context.Context) (vectorstore.Stats, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return vectorstore.Stats{}, err
	}
	return vectorstore.Stats{
		ProjectID: s.projectID,
		Namespace: s.name,
		Backend:   backendName,
		Documents: n,
	}, nil
}
