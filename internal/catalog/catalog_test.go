package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spec-rag/internal/db"
)

func newCatalog(t *testing.T) *Catalog {
	t.Helper()
	bunDB, err := db.OpenSQLite(db.InMemory, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunDB.Close() })

	c, err := New(context.Background(), bunDB)
	require.NoError(t, err)
	return c
}

func writeFile(t *testing.T, path, content string, mtime time.Time) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	if !mtime.IsZero() {
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
	return path
}

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/p/RFI-012 footing.pdf", TypeRFI},
		{"/p/Submittal 05 12 00.pdf", TypeSubmittal},
		{"/p/Project Specs Vol 1.pdf", TypeSpecification},
		{"/p/rfi submittal.pdf", TypeRFI},
		{"/p/A-501.dwg", TypeDrawing},
		{"/p/schedule.XLSX", TypeSpreadsheet},
		{"/p/photo.jpeg", TypeImage},
		{"/p/notes.md", TypeText},
		{"/p/model.rvt", TypeModel},
		{"/p/archive.zip", TypeOther},
		{"/p/README", TypeOther},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.path))
		})
	}
}

func TestScanDirectory_AllowedExtensions(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(t)
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "spec-03.pdf"), "a", time.Time{})
	writeFile(t, filepath.Join(root, "RFI-001.docx"), "b", time.Time{})
	writeFile(t, filepath.Join(root, "sub", "notes.txt"), "c", time.Time{})
	writeFile(t, filepath.Join(root, "sub", "A-101.dwg"), "d", time.Time{})
	writeFile(t, filepath.Join(root, "photo.png"), "e", time.Time{})
	// hidden entries are never counted
	writeFile(t, filepath.Join(root, ".DS_Store"), "x", time.Time{})
	writeFile(t, filepath.Join(root, ".git", "config"), "x", time.Time{})

	stats, err := c.ScanDirectory(ctx, root, ScanOptions{AllowedExtensions: []string{"pdf", ".DOCX", "txt"}})
	require.NoError(t, err)
	assert.Equal(t, ScanStats{FilesFound: 5, FilesIndexed: 3, FilesSkipped: 2, Errors: 0}, stats)

	history, err := c.ScanHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ScanCompleted, history[0].Status)
	assert.Equal(t, 5, history[0].FilesFound)
	assert.Equal(t, 3, history[0].FilesIndexed)
	assert.False(t, history[0].CompletedAt.IsZero())

	all, err := c.Search(ctx, Query{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestScanDirectory_MissingRoot(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(t)

	_, err := c.ScanDirectory(ctx, filepath.Join(t.TempDir(), "nope"), ScanOptions{})
	require.Error(t, err)

	history, err := c.ScanHistory(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ScanFailed, history[0].Status)
}

func TestIndexFile_UpsertPreservesProject(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(t)
	path := writeFile(t, filepath.Join(t.TempDir(), "spec.pdf"), "v1", time.Time{})

	ok, err := c.IndexFile(ctx, path, &Project{ID: 7, Name: "Library"})
	require.NoError(t, err)
	require.True(t, ok)

	writeFile(t, path, "version two", time.Time{})
	ok, err = c.IndexFile(ctx, path, nil)
	require.NoError(t, err)
	require.True(t, ok)

	files, err := c.Search(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, files, 1, "path is unique")

	f, err := c.GetFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(len("version two")), f.SizeBytes)
	require.NotNil(t, f.ProjectID)
	assert.Equal(t, int64(7), *f.ProjectID)
	assert.Equal(t, "Library", *f.ProjectName)
	assert.Equal(t, TypeSpecification, f.FileType)
	assert.Equal(t, "pdf", f.Extension)

	ok, err = c.IndexFile(ctx, path, &Project{ID: 8, Name: "Annex"})
	require.NoError(t, err)
	require.True(t, ok)
	f, err = c.GetFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(8), *f.ProjectID)
}

func TestIndexFile_NotARegularFile(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(t)
	dir := t.TempDir()

	ok, err := c.IndexFile(ctx, dir, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.IndexFile(ctx, filepath.Join(dir, "missing.pdf"), nil)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.GetFile(ctx, filepath.Join(dir, "missing.pdf"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearch_Filters(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(t)
	root := t.TempDir()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	writeFile(t, filepath.Join(root, "Footing Spec.pdf"), "a", base)
	writeFile(t, filepath.Join(root, "footing-detail.dwg"), "b", base.Add(24*time.Hour))
	writeFile(t, filepath.Join(root, "RFI-004 footing.pdf"), "c", base.Add(48*time.Hour))
	writeFile(t, filepath.Join(root, "roof plan.pdf"), "d", base.Add(72*time.Hour))

	_, err := c.ScanDirectory(ctx, root, ScanOptions{})
	require.NoError(t, err)
	other := writeFile(t, filepath.Join(t.TempDir(), "footing calc.xlsx"), "e", base)
	_, err = c.IndexFile(ctx, other, &Project{ID: 2, Name: "Other"})
	require.NoError(t, err)

	names := func(files []File) []string {
		out := make([]string, len(files))
		for i, f := range files {
			out[i] = f.Filename
		}
		return out
	}

	files, err := c.Search(ctx, Query{Pattern: "FOOTING"})
	require.NoError(t, err)
	assert.Equal(t, []string{"RFI-004 footing.pdf", "footing-detail.dwg", "Footing Spec.pdf", "footing calc.xlsx"}, names(files))

	files, err = c.Search(ctx, Query{Pattern: "footing*.pdf"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Footing Spec.pdf"}, names(files))

	files, err = c.Search(ctx, Query{Pattern: "footing", Extensions: []string{".PDF"}})
	require.NoError(t, err)
	assert.Len(t, files, 2)

	files, err = c.Search(ctx, Query{Pattern: "footing", FileTypes: []string{TypeRFI, TypeDrawing}})
	require.NoError(t, err)
	assert.Equal(t, []string{"RFI-004 footing.pdf", "footing-detail.dwg"}, names(files))

	project := int64(2)
	files, err = c.Search(ctx, Query{Pattern: "footing", ProjectID: &project})
	require.NoError(t, err)
	assert.Equal(t, []string{"footing calc.xlsx"}, names(files))

	files, err = c.Search(ctx, Query{
		ModifiedAfter:  base.Add(24 * time.Hour),
		ModifiedBefore: base.Add(48 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"RFI-004 footing.pdf", "footing-detail.dwg"}, names(files))

	files, err = c.Search(ctx, Query{Pattern: "footing", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestRemoveMissingAndRemoveFile(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(t)
	root := t.TempDir()

	keep := writeFile(t, filepath.Join(root, "keep.pdf"), "a", time.Time{})
	gone := writeFile(t, filepath.Join(root, "gone.pdf"), "b", time.Time{})
	drop := writeFile(t, filepath.Join(root, "drop.pdf"), "c", time.Time{})
	_, err := c.ScanDirectory(ctx, root, ScanOptions{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(gone))
	n, err := c.RemoveMissing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = c.RemoveMissing(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	removed, err := c.RemoveFile(ctx, drop)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = c.RemoveFile(ctx, drop)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = c.GetFile(ctx, keep)
	assert.NoError(t, err)
}

func TestStatsAndClear(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.pdf"), "a", time.Time{})
	writeFile(t, filepath.Join(root, "b.pdf"), "b", time.Time{})
	writeFile(t, filepath.Join(root, "c.dwg"), "c", time.Time{})
	writeFile(t, filepath.Join(root, "RFI 1.pdf"), "d", time.Time{})
	_, err := c.ScanDirectory(ctx, root, ScanOptions{})
	require.NoError(t, err)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalFiles)
	assert.Equal(t, map[string]int{TypeDocument: 2, TypeDrawing: 1, TypeRFI: 1}, stats.ByType)
	require.Len(t, stats.TopExtensions, 2)
	assert.Equal(t, ExtensionCount{Extension: "pdf", Count: 3}, stats.TopExtensions[0])

	require.NoError(t, c.Clear(ctx))
	stats, err = c.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalFiles)
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, "%footing%", likePattern("footing"))
	assert.Equal(t, "footing%.pdf", likePattern("footing*.pdf"))
	assert.Equal(t, "%", likePattern("*"))
	assert.Equal(t, "%%", likePattern(""))
}
