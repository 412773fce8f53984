package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// overflowRow is the durable copy of an Entry. Times are unix nanoseconds so
// mtime comparisons survive the round trip exactly.
type overflowRow struct {
	bun.BaseModel `bun:"table:content_cache,alias:cc"`

	Key          string         `bun:"cache_key,pk"`
	Path         string         `bun:"path,notnull"`
	Content      string         `bun:"content"`
	Metadata     map[string]any `bun:"metadata"`
	FileModified int64          `bun:"file_modified"`
	CachedAt     int64          `bun:"cached_at"`
	AccessCount  int            `bun:"access_count"`
}

type overflow struct {
	db *bun.DB
}

func newOverflow(ctx context.Context, bunDB *bun.DB) (*overflow, error) {
	_, err := bunDB.NewCreateTable().Model((*overflowRow)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache table: %w", err)
	}
	return &overflow{db: bunDB}, nil
}

func (o *overflow) get(ctx context.Context, key string) (*Entry, error) {
	row := new(overflowRow)
	err := o.db.NewSelect().Model(row).Where("cc.cache_key = ?", key).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	metadata := row.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Entry{
		Key:          row.Key,
		Path:         row.Path,
		Content:      row.Content,
		Metadata:     metadata,
		FileModified: time.Unix(0, row.FileModified),
		CachedAt:     time.Unix(0, row.CachedAt),
		AccessCount:  row.AccessCount,
	}, nil
}

func (o *overflow) put(ctx context.Context, e *Entry) error {
	row := &overflowRow{
		Key:          e.Key,
		Path:         e.Path,
		Content:      e.Content,
		Metadata:     e.Metadata,
		FileModified: e.FileModified.UnixNano(),
		CachedAt:     e.CachedAt.UnixNano(),
		AccessCount:  e.AccessCount,
	}
	_, err := o.db.NewInsert().
		Model(row).
		On("CONFLICT (cache_key) DO UPDATE").
		Set("path = EXCLUDED.path").
		Set("content = EXCLUDED.content").
		Set("metadata = EXCLUDED.metadata").
		Set("file_modified = EXCLUDED.file_modified").
		Set("cached_at = EXCLUDED.cached_at").
		Set("access_count = EXCLUDED.access_count").
		Exec(ctx)
	return err
}

func (o *overflow) delete(ctx context.Context, key string) error {
	_, err := o.db.NewDelete().Model((*overflowRow)(nil)).Where("cache_key = ?", key).Exec(ctx)
	return err
}

func (o *overflow) clear(ctx context.Context) error {
	_, err := o.db.NewDelete().Model((*overflowRow)(nil)).Where("1 = 1").Exec(ctx)
	return err
}

func (o *overflow) count(ctx context.Context) (int, error) {
	return o.db.NewSelect().Model((*overflowRow)(nil)).Count(ctx)
}
