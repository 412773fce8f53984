package watch

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spec-rag/internal/catalog"
)

type recorder struct {
	mu          sync.Mutex
	invalidated []string
	indexed     []string
	removed     []string
	projects    []*catalog.Project
}

func (r *recorder) Invalidate(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, path)
	return nil
}

func (r *recorder) IndexFile(_ context.Context, path string, project *catalog.Project) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, path)
	r.projects = append(r.projects, project)
	return true, nil
}

func (r *recorder) RemoveFile(_ context.Context, path string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, path)
	return true, nil
}

func (r *recorder) has(list *[]string, path string) func() bool {
	return func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return slices.Contains(*list, path)
	}
}

func startWatcher(t *testing.T, rec *recorder, root string, project *catalog.Project) {
	t.Helper()
	w, err := New(rec, rec, Options{Project: project, Debounce: 20 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, w.Add(root))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = w.Close()
	})
}

func TestWatcher_WriteRefreshesAndRemoveDrops(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	project := &catalog.Project{ID: 3, Name: "Clinic"}
	startWatcher(t, rec, root, project)

	path := filepath.Join(root, "spec.pdf")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	assert.Eventually(t, rec.has(&rec.indexed, path), 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, rec.has(&rec.invalidated, path), 2*time.Second, 10*time.Millisecond)
	rec.mu.Lock()
	assert.Same(t, project, rec.projects[0])
	rec.mu.Unlock()

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, rec.has(&rec.removed, path), 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_FollowsNewDirectoriesAndSkipsHidden(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	startWatcher(t, rec, root, nil)

	sub := filepath.Join(root, "Division 07")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// give the watcher a moment to pick up the new directory
	time.Sleep(100 * time.Millisecond)

	nested := filepath.Join(sub, "07 13 00.docx")
	require.NoError(t, os.WriteFile(nested, []byte("x"), 0o644))
	hiddenFile := filepath.Join(root, ".~lock.spec.docx#")
	require.NoError(t, os.WriteFile(hiddenFile, []byte("x"), 0o644))

	assert.Eventually(t, rec.has(&rec.indexed, nested), 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.False(t, rec.has(&rec.indexed, hiddenFile)())
	assert.False(t, rec.has(&rec.indexed, sub)(), "directories are not catalog entries")
}

func TestWatcher_DebounceCoalesces(t *testing.T) {
	root := t.TempDir()
	w, err := New(&recorder{}, &recorder{}, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	assert.Equal(t, defaultDebounce, w.debounce)

	rec := &recorder{}
	w.cache, w.catalog = rec, rec
	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	for i := 0; i < 5; i++ {
		assert.True(t, w.record(fsnotify.Event{Name: path, Op: fsnotify.Write}))
	}
	assert.False(t, w.record(fsnotify.Event{Name: path, Op: fsnotify.Chmod}))
	w.flush(context.Background())
	assert.Equal(t, []string{path}, rec.indexed)
	assert.Equal(t, []string{path}, rec.invalidated)
}
