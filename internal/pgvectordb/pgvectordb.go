package pgvectordb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"spec-rag/internal/models"
	"spec-rag/internal/vectorstore"
)

const backendName = "pgvector"

// Chunk is one row of a project table.
type Chunk struct {
	bun.BaseModel `bun:"table:chunks"`

	ID             string          `bun:"id,pk"`
	Content        string          `bun:"content,notnull"`
	SourceFileID   int64           `bun:"source_file_id,notnull"`
	SourceFilename string          `bun:"source_filename"`
	ChunkIndex     int             `bun:"chunk_index"`
	SectionTitle   string          `bun:"section_title"`
	PageNumber     int             `bun:"page_number"`
	Embedding      pgvector.Vector `bun:"embedding,type:vector"`
	Distance       float64         `bun:"distance,scanonly"`
}

// Manager keeps one table per project in a postgres database with the
// vector extension.
type Manager struct {
	db *bun.DB

	mu     sync.Mutex
	stores map[int64]*ProjectStore
}

func NewManager(ctx context.Context, db *bun.DB) (*Manager, error) {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return nil, fmt.Errorf("failed to enable vector extension: %w", err)
	}
	return &Manager{db: db, stores: make(map[int64]*ProjectStore)}, nil
}

func (m *Manager) Backend() string {
	return backendName
}

func (m *Manager) Open(ctx context.Context, projectID int64) (vectorstore.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[projectID]; ok {
		return s, nil
	}
	s := &ProjectStore{db: m.db, projectID: projectID, table: vectorstore.Namespace(projectID)}
	if err := s.createTable(ctx); err != nil {
		return nil, err
	}
	m.stores[projectID] = s
	return s, nil
}

// ProjectStore is one project's table.
type ProjectStore struct {
	db        *bun.DB
	projectID int64
	table     string

	// mu serializes Clear against the other operations
	mu sync.RWMutex
}

func (s *ProjectStore) createTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS ? (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		source_file_id BIGINT NOT NULL,
		source_filename TEXT,
		chunk_index INTEGER,
		section_title TEXT,
		page_number INTEGER,
		embedding vector NOT NULL
	)`, bun.Ident(s.table))
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	_, err = s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS ? ON ? (source_file_id)",
		bun.Ident(s.table+"_source_file_id_idx"), bun.Ident(s.table))
	if err != nil {
		return fmt.Errorf("failed to index table %s: %w", s.table, err)
	}
	return nil
}

func (s *ProjectStore) query() *bun.SelectQuery {
	return s.db.NewSelect().Model((*Chunk)(nil)).ModelTableExpr("?", bun.Ident(s.table))
}

// dimension reads the vector length of any stored row, 0 when empty.
func (s *ProjectStore) dimension(ctx context.Context) (int, error) {
	var dim int
	err := s.db.NewSelect().
		TableExpr("?", bun.Ident(s.table)).
		ColumnExpr("vector_dims(embedding)").
		Limit(1).
		Scan(ctx, &dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return dim, err
}

func (s *ProjectStore) Add(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	dim, err := vectorstore.Validate(records)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	existing, err := s.dimension(ctx)
	if err != nil {
		return fmt.Errorf("failed to read dimension of %s: %w", s.table, err)
	}
	if existing > 0 && existing != dim {
		return fmt.Errorf("%w: table %s holds %d, got %d", vectorstore.ErrDimensionMismatch, s.table, existing, dim)
	}

	rows := make([]Chunk, len(records))
	for i, r := range records {
		rows[i] = Chunk{
			ID:             r.ID,
			Content:        r.Text,
			SourceFileID:   r.Metadata.SourceFileID,
			SourceFilename: r.Metadata.SourceFilename,
			ChunkIndex:     r.Metadata.ChunkIndex,
			SectionTitle:   r.Metadata.SectionTitle,
			PageNumber:     r.Metadata.PageNumber,
			Embedding:      pgvector.NewVector(r.Embedding),
		}
	}
	_, err = s.db.NewInsert().
		Model(&rows).
		ModelTableExpr("?", bun.Ident(s.table)).
		On("CONFLICT (id) DO UPDATE").
		Set("content = EXCLUDED.content").
		Set("source_file_id = EXCLUDED.source_file_id").
		Set("source_filename = EXCLUDED.source_filename").
		Set("chunk_index = EXCLUDED.chunk_index").
		Set("section_title = EXCLUDED.section_title").
		Set("page_number = EXCLUDED.page_number").
		Set("embedding = EXCLUDED.embedding").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert chunks into %s: %w", s.table, err)
	}
	return nil
}

// Search orders by the <=> cosine distance operator, which yields [0,2].
func (s *ProjectStore) Search(ctx context.Context, embedding []float32, n int) ([]models.SearchResult, error) {
	if len(embedding) == 0 {
		return nil, errors.New("query embedding must be provided")
	}
	if n <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	existing, err := s.dimension(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read dimension of %s: %w", s.table, err)
	}
	if existing == 0 {
		return nil, nil
	}
	if existing != len(embedding) {
		return nil, fmt.Errorf("%w: table %s holds %d, query has %d", vectorstore.ErrDimensionMismatch, s.table, existing, len(embedding))
	}

	var rows []Chunk
	err = s.query().
		Column("id", "content", "source_file_id", "source_filename", "chunk_index", "section_title", "page_number").
		ColumnExpr("embedding <=> ? AS distance", pgvector.NewVector(embedding)).
		OrderExpr("distance ASC").
		Limit(n).
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.table, err)
	}

	out := make([]models.SearchResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.SearchResult{
			Text:  r.Content,
			Score: vectorstore.ScoreFromDistance(r.Distance),
			Metadata: models.ChunkMetadata{
				SourceFileID:   r.SourceFileID,
				SourceFilename: r.SourceFilename,
				ChunkIndex:     r.ChunkIndex,
				SectionTitle:   r.SectionTitle,
				PageNumber:     r.PageNumber,
			},
		})
	}
	return out, nil
}

func (s *ProjectStore) DeleteByFileID(ctx context.Context, fileID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, err := s.db.NewDelete().
		Model((*Chunk)(nil)).
		ModelTableExpr("?", bun.Ident(s.table)).
		Where("source_file_id = ?", fileID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks of file %d: %w", fileID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *ProjectStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query().Count(ctx)
}

// Clear drops the table and creates it again empty.
func (s *ProjectStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS ?", bun.Ident(s.table)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", s.table, err)
	}
	if err := s.createTable(ctx); err != nil {
		return err
	}
	log.Info().Int64("project_id", s.projectID).Msg("Cleared vector table")
	return nil
}

func (s *ProjectStore) Stats(ctx context.Context) (vectorstore.Stats, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return vectorstore.Stats{}, err
	}
	return vectorstore.Stats{
		ProjectID: s.projectID,
		Namespace: s.table,
		Backend:   backendName,
		Documents: n,
	}, nil
}
