package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"spec-rag/internal/config"
	"spec-rag/internal/db"
	"spec-rag/internal/helper"
)

const (
	defaultFilename    = "metadata_index.db"
	defaultSearchLimit = 100
	topExtensions      = 10
)

// ErrNotFound is returned when a path is not in the catalog.
var ErrNotFound = errors.New("file not in catalog")

// Catalog records file attributes so files can be found without parsing them.
type Catalog struct {
	db  *bun.DB
	now func() time.Time
}

// ScanOptions tunes ScanDirectory. An empty AllowedExtensions accepts all.
type ScanOptions struct {
	Project           *Project
	AllowedExtensions []string
}

type ScanStats struct {
	FilesFound   int `json:"files_found"`
	FilesIndexed int `json:"files_indexed"`
	FilesSkipped int `json:"files_skipped"`
	Errors       int `json:"errors"`
}

// Query filters Search. Zero fields do not filter.
type Query struct {
	Pattern        string
	FileTypes      []string
	Extensions     []string
	ProjectID      *int64
	ModifiedAfter  time.Time
	ModifiedBefore time.Time
	Limit          int
}

type ExtensionCount struct {
	Extension string `bun:"extension" json:"extension"`
	Count     int    `bun:"count" json:"count"`
}

type Stats struct {
	TotalFiles    int              `json:"total_files"`
	ByType        map[string]int   `json:"by_type"`
	TopExtensions []ExtensionCount `json:"top_extensions"`
}

// Open connects to the configured catalog database and prepares its schema.
func Open(ctx context.Context, cfg *config.CatalogConfig, debug bool) (*Catalog, error) {
	var bunDB *bun.DB
	var err error
	switch cfg.Driver {
	case "postgres":
		bunDB, err = db.OpenPostgresPQ(ctx, cfg.DSN, debug)
	default:
		path := cfg.Path
		if path == "" {
			path = filepath.Join(helper.DataDir(), defaultFilename)
		}
		bunDB, err = db.OpenSQLite(path, debug)
	}
	if err != nil {
		return nil, err
	}
	c, err := New(ctx, bunDB)
	if err != nil {
		_ = bunDB.Close()
		return nil, err
	}
	return c, nil
}

// New prepares the schema on an open database.
func New(ctx context.Context, bunDB *bun.DB) (*Catalog, error) {
	c := &Catalog{db: bunDB, now: time.Now}
	if err := c.createSchema(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) createSchema(ctx context.Context) error {
	for _, model := range []any{(*File)(nil), (*ScanRecord)(nil)} {
		if _, err := c.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create catalog tables: %w", err)
		}
	}
	for _, col := range []string{"filename", "extension", "file_type", "project_id", "modified_at"} {
		_, err := c.db.NewCreateIndex().
			Model((*File)(nil)).
			Index("idx_files_" + col).
			Column(col).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create index on %s: %w", col, err)
		}
	}
	return nil
}

// IndexFile records path's attributes. It reports false when path is not a
// regular file. Project tags already on the entry survive a nil project.
func (c *Catalog) IndexFile(ctx context.Context, path string, project *Project) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return false, nil
	}

	file := &File{
		Path:       abs,
		Filename:   info.Name(),
		Extension:  Extension(abs),
		FileType:   Classify(abs),
		SizeBytes:  info.Size(),
		ModifiedAt: timestamp(info.ModTime()),
		CreatedAt:  timestamp(info.ModTime()),
		IndexedAt:  timestamp(c.now()),
	}
	if project != nil {
		file.ProjectID = &project.ID
		file.ProjectName = &project.Name
	}

	existing, err := c.GetFile(ctx, abs)
	switch {
	case err == nil:
		file.CreatedAt = existing.CreatedAt
		if project == nil {
			file.ProjectID = existing.ProjectID
			file.ProjectName = existing.ProjectName
		}
	case !errors.Is(err, ErrNotFound):
		return false, err
	}

	_, err = c.db.NewInsert().
		Model(file).
		On("CONFLICT (path) DO UPDATE").
		Set("filename = EXCLUDED.filename").
		Set("extension = EXCLUDED.extension").
		Set("file_type = EXCLUDED.file_type").
		Set("size_bytes = EXCLUDED.size_bytes").
		Set("modified_at = EXCLUDED.modified_at").
		Set("project_id = EXCLUDED.project_id").
		Set("project_name = EXCLUDED.project_name").
		Set("indexed_at = EXCLUDED.indexed_at").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to index %s: %w", abs, err)
	}
	return true, nil
}

// ScanDirectory walks root and indexes every visible file. Hidden files and
// directories are not visited. A failing file is counted, not fatal.
func (c *Catalog) ScanDirectory(ctx context.Context, root string, opts ScanOptions) (ScanStats, error) {
	var stats ScanStats

	rec := &ScanRecord{RootPath: root, StartedAt: timestamp(c.now()), Status: ScanRunning}
	if _, err := c.db.NewInsert().Model(rec).Exec(ctx); err != nil {
		return stats, fmt.Errorf("failed to record scan: %w", err)
	}

	allowed := make(map[string]struct{}, len(opts.AllowedExtensions))
	for _, ext := range opts.AllowedExtensions {
		allowed[strings.TrimPrefix(strings.ToLower(ext), ".")] = struct{}{}
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			log.Warn().Err(err).Str("path", path).Msg("Cannot read path during scan")
			stats.Errors++
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		stats.FilesFound++
		if len(allowed) > 0 {
			if _, ok := allowed[Extension(path)]; !ok {
				stats.FilesSkipped++
				return nil
			}
		}
		ok, err := c.IndexFile(ctx, path, opts.Project)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("path", path).Msg("Failed to index file")
			stats.Errors++
		case ok:
			stats.FilesIndexed++
		default:
			stats.FilesSkipped++
		}
		return nil
	})

	rec.CompletedAt = timestamp(c.now())
	rec.FilesFound = stats.FilesFound
	rec.FilesIndexed = stats.FilesIndexed
	rec.FilesSkipped = stats.FilesSkipped
	rec.Errors = stats.Errors
	rec.Status = ScanCompleted
	if walkErr != nil {
		rec.Status = ScanFailed
	}
	if _, err := c.db.NewUpdate().Model(rec).WherePK().Exec(context.WithoutCancel(ctx)); err != nil {
		log.Error().Err(err).Int64("scan_id", rec.ID).Msg("Failed to complete scan record")
	}

	log.Info().
		Str("root", root).
		Int("found", stats.FilesFound).
		Int("indexed", stats.FilesIndexed).
		Int("skipped", stats.FilesSkipped).
		Int("errors", stats.Errors).
		Msg("Scanned directory")

	if walkErr != nil {
		return stats, fmt.Errorf("failed to scan %s: %w", root, walkErr)
	}
	return stats, nil
}

// Search matches filenames against a wildcard pattern. A bare word matches
// anywhere in the name; '*' stands for any run of characters. Results are
// newest first.
func (c *Catalog) Search(ctx context.Context, q Query) ([]File, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	sel := c.db.NewSelect().Model((*File)(nil))
	if pattern := likePattern(q.Pattern); pattern != "%" {
		sel = sel.Where("LOWER(f.filename) LIKE ?", strings.ToLower(pattern))
	}
	if len(q.FileTypes) > 0 {
		sel = sel.Where("f.file_type IN (?)", bun.In(q.FileTypes))
	}
	if len(q.Extensions) > 0 {
		exts := make([]string, len(q.Extensions))
		for i, e := range q.Extensions {
			exts[i] = strings.TrimPrefix(strings.ToLower(e), ".")
		}
		sel = sel.Where("f.extension IN (?)", bun.In(exts))
	}
	if q.ProjectID != nil {
		sel = sel.Where("f.project_id = ?", *q.ProjectID)
	}
	if !q.ModifiedAfter.IsZero() {
		sel = sel.Where("f.modified_at >= ?", timestamp(q.ModifiedAfter))
	}
	if !q.ModifiedBefore.IsZero() {
		sel = sel.Where("f.modified_at <= ?", timestamp(q.ModifiedBefore))
	}

	var files []File
	err := sel.OrderExpr("f.modified_at DESC, f.id ASC").Limit(limit).Scan(ctx, &files)
	if err != nil {
		return nil, fmt.Errorf("failed to search catalog: %w", err)
	}
	return files, nil
}

func (c *Catalog) GetFile(ctx context.Context, path string) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	file := new(File)
	err = c.db.NewSelect().Model(file).Where("f.path = ?", abs).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", abs, err)
	}
	return file, nil
}

// RemoveFile deletes one entry and reports whether it existed.
func (c *Catalog) RemoveFile(ctx context.Context, path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	res, err := c.db.NewDelete().Model((*File)(nil)).Where("path = ?", abs).Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to remove %s: %w", abs, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RemoveMissing deletes entries whose file no longer exists.
func (c *Catalog) RemoveMissing(ctx context.Context) (int, error) {
	var files []File
	if err := c.db.NewSelect().Model(&files).Column("id", "path").Scan(ctx); err != nil {
		return 0, fmt.Errorf("failed to list catalog: %w", err)
	}

	var gone []int64
	for _, f := range files {
		if _, err := os.Stat(f.Path); errors.Is(err, fs.ErrNotExist) {
			gone = append(gone, f.ID)
		}
	}
	if len(gone) == 0 {
		return 0, nil
	}
	res, err := c.db.NewDelete().Model((*File)(nil)).Where("id IN (?)", bun.In(gone)).Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to remove missing files: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	log.Info().Int64("removed", n).Msg("Removed missing files from catalog")
	return int(n), nil
}

func (c *Catalog) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByType: make(map[string]int)}

	total, err := c.db.NewSelect().Model((*File)(nil)).Count(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to count catalog: %w", err)
	}
	stats.TotalFiles = total

	var byType []struct {
		FileType string `bun:"file_type"`
		Count    int    `bun:"count"`
	}
	err = c.db.NewSelect().
		Model((*File)(nil)).
		Column("file_type").
		ColumnExpr("COUNT(*) AS count").
		Group("file_type").
		Scan(ctx, &byType)
	if err != nil {
		return stats, fmt.Errorf("failed to group catalog by type: %w", err)
	}
	for _, row := range byType {
		stats.ByType[row.FileType] = row.Count
	}

	err = c.db.NewSelect().
		Model((*File)(nil)).
		Column("extension").
		ColumnExpr("COUNT(*) AS count").
		Group("extension").
		OrderExpr("count DESC, extension ASC").
		Limit(topExtensions).
		Scan(ctx, &stats.TopExtensions)
	if err != nil {
		return stats, fmt.Errorf("failed to group catalog by extension: %w", err)
	}
	return stats, nil
}

// ScanHistory lists the latest scans, newest first.
func (c *Catalog) ScanHistory(ctx context.Context, limit int) ([]ScanRecord, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	var recs []ScanRecord
	err := c.db.NewSelect().Model(&recs).OrderExpr("s.id DESC").Limit(limit).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read scan history: %w", err)
	}
	return recs, nil
}

// Clear deletes every file entry. Scan history is kept.
func (c *Catalog) Clear(ctx context.Context) error {
	_, err := c.db.NewDelete().Model((*File)(nil)).Where("1 = 1").Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to clear catalog: %w", err)
	}
	return nil
}

// likePattern turns a user pattern into a LIKE pattern.
func likePattern(query string) string {
	if !strings.ContainsAny(query, "%*") {
		query = "%" + query + "%"
	}
	return strings.ReplaceAll(query, "*", "%")
}
