package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"spec-rag/internal/config"
	"spec-rag/internal/db"
	"spec-rag/internal/parser"
)

// fileParser returns the file's bytes upper-cased with a marker so tests
// can tell a fresh parse from a cached read.
type fileParser struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (p *fileParser) Parse(path string) parser.Result {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.fail != nil {
		return parser.Result{Metadata: map[string]any{}, Error: p.fail.Error(), Err: p.fail}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return parser.Result{Metadata: map[string]any{}, Error: err.Error(), Err: err}
	}
	return parser.Result{Success: true, Text: "parsed:" + string(data), Metadata: map[string]any{"parser": "stub"}}
}

func (p *fileParser) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newOverflowDB(t *testing.T) *bun.DB {
	t.Helper()
	bunDB, err := db.OpenSQLite(db.InMemory, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunDB.Close() })
	return bunDB
}

func newCache(t *testing.T, cfg config.CacheConfig, p Parser, bunDB *bun.DB) *Cache {
	t.Helper()
	c, err := New(context.Background(), &cfg, p, bunDB)
	require.NoError(t, err)
	return c
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestKey(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	k := Key("spec.pdf")
	assert.Len(t, k, 32)
	assert.Equal(t, k, Key(filepath.Join(wd, "spec.pdf")))
	assert.NotEqual(t, k, Key("other.pdf"))
}

func TestGetOrParse_InvalidatesOnMtimeChange(t *testing.T) {
	ctx := context.Background()
	p := &fileParser{}
	c := newCache(t, config.CacheConfig{MaxItems: 10, MaxBytes: 1 << 20, TTL: time.Hour}, p, newOverflowDB(t))
	path := writeFile(t, t.TempDir(), "rfi.txt", "v1")
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))

	content, meta, cached := c.GetOrParse(ctx, path, false)
	assert.False(t, cached)
	assert.Equal(t, "parsed:v1", content)
	assert.Equal(t, "stub", meta["parser"])

	content, _, cached = c.GetOrParse(ctx, path, false)
	assert.True(t, cached)
	assert.Equal(t, "parsed:v1", content)
	assert.Equal(t, 1, p.count())

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	require.NoError(t, os.Chtimes(path, past.Add(time.Minute), past.Add(time.Minute)))

	content, _, cached = c.GetOrParse(ctx, path, false)
	assert.False(t, cached)
	assert.Equal(t, "parsed:v2", content)
	assert.Equal(t, 2, p.count())
}

func TestGetOrParse_ForceRefresh(t *testing.T) {
	ctx := context.Background()
	p := &fileParser{}
	c := newCache(t, config.CacheConfig{MaxItems: 10}, p, nil)
	path := writeFile(t, t.TempDir(), "a.txt", "a")

	c.GetOrParse(ctx, path, false)
	_, _, cached := c.GetOrParse(ctx, path, true)
	assert.False(t, cached)
	assert.Equal(t, 2, p.count())
	assert.Equal(t, 1, c.Stats().MemoryItems)
}

func TestGetOrParse_CachesParseFailure(t *testing.T) {
	ctx := context.Background()
	p := &fileParser{fail: errors.New("pdf parser failed: bad xref")}
	c := newCache(t, config.CacheConfig{MaxItems: 10}, p, nil)
	path := writeFile(t, t.TempDir(), "broken.pdf", "%PDF")

	content, meta, cached := c.GetOrParse(ctx, path, false)
	assert.False(t, cached)
	assert.Equal(t, "(parsing failed: pdf parser failed: bad xref)", content)
	assert.Equal(t, map[string]any{"error": "pdf parser failed: bad xref"}, meta)

	content, _, cached = c.GetOrParse(ctx, path, false)
	assert.True(t, cached)
	assert.Equal(t, "(parsing failed: pdf parser failed: bad xref)", content)
	assert.Equal(t, 1, p.count())
}

func TestEviction_LeastRecentlyUsedByCount(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := newCache(t, config.CacheConfig{MaxItems: 2}, &fileParser{}, nil)
	a := writeFile(t, dir, "a.txt", "a")
	b := writeFile(t, dir, "b.txt", "b")
	d := writeFile(t, dir, "d.txt", "d")

	c.Put(ctx, a, "A", nil)
	c.Put(ctx, b, "B", nil)
	_, ok := c.Get(ctx, a)
	require.True(t, ok)
	c.Put(ctx, d, "D", nil)

	_, ok = c.Get(ctx, b)
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get(ctx, a)
	assert.True(t, ok)
	_, ok = c.Get(ctx, d)
	assert.True(t, ok)

	stats := c.Stats()
	assert.Equal(t, 2, stats.MemoryItems)
	assert.Equal(t, 1, stats.Evictions)
	assert.Equal(t, 3, stats.Hits)
	assert.Equal(t, 1, stats.Misses)
	assert.InDelta(t, 0.75, stats.HitRate, 1e-9)
}

func TestEviction_ByteBound(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := newCache(t, config.CacheConfig{MaxItems: 100, MaxBytes: 10}, &fileParser{}, nil)
	a := writeFile(t, dir, "a.txt", "a")
	b := writeFile(t, dir, "b.txt", "b")

	c.Put(ctx, a, "123456", nil)
	c.Put(ctx, b, "abcdef", nil)

	stats := c.Stats()
	assert.Equal(t, 1, stats.MemoryItems)
	assert.Equal(t, int64(6), stats.MemoryBytes)
	_, ok := c.Get(ctx, a)
	assert.False(t, ok)

	// replacing an entry does not double count its bytes
	c.Put(ctx, b, "xyz", nil)
	assert.Equal(t, int64(3), c.Stats().MemoryBytes)
}

func TestOverflow_PromotesAcrossInstances(t *testing.T) {
	ctx := context.Background()
	bunDB := newOverflowDB(t)
	p := &fileParser{}
	path := writeFile(t, t.TempDir(), "spec.md", "walls")

	first := newCache(t, config.CacheConfig{MaxItems: 10, TTL: time.Hour}, p, bunDB)
	first.GetOrParse(ctx, path, false)

	second := newCache(t, config.CacheConfig{MaxItems: 10, TTL: time.Hour}, p, bunDB)
	content, meta, cached := second.GetOrParse(ctx, path, false)
	assert.True(t, cached)
	assert.Equal(t, "parsed:walls", content)
	assert.Equal(t, "stub", meta["parser"])
	assert.Equal(t, 1, p.count())

	stats := second.Stats()
	assert.Equal(t, 1, stats.DiskHits)
	assert.Equal(t, 1, stats.MemoryItems)

	_, _, cached = second.GetOrParse(ctx, path, false)
	assert.True(t, cached)
	assert.Equal(t, 1, second.Stats().Hits)
}

func TestOverflow_StaleEntryIsDropped(t *testing.T) {
	ctx := context.Background()
	bunDB := newOverflowDB(t)
	p := &fileParser{}
	path := writeFile(t, t.TempDir(), "spec.md", "v1")
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))

	first := newCache(t, config.CacheConfig{MaxItems: 10}, p, bunDB)
	first.GetOrParse(ctx, path, false)

	require.NoError(t, os.Chtimes(path, past.Add(time.Second), past.Add(time.Second)))
	second := newCache(t, config.CacheConfig{MaxItems: 10}, p, bunDB)
	_, ok := second.Get(ctx, path)
	assert.False(t, ok)

	n, err := second.store.count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEviction_SpillsReusedEntries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	bunDB := newOverflowDB(t)
	c := newCache(t, config.CacheConfig{MaxItems: 1}, &fileParser{}, bunDB)
	hot := writeFile(t, dir, "hot.txt", "h")
	cold := writeFile(t, dir, "cold.txt", "c")
	next := writeFile(t, dir, "next.txt", "n")

	c.Put(ctx, hot, "HOT", nil)
	c.Get(ctx, hot)
	c.Get(ctx, hot)
	require.NoError(t, c.store.delete(ctx, Key(hot)))

	c.Put(ctx, cold, "COLD", nil)
	require.NoError(t, c.store.delete(ctx, Key(cold)))
	e, err := c.store.get(ctx, Key(hot))
	require.NoError(t, err)
	require.NotNil(t, e, "reused entry is written to overflow on eviction")
	assert.Equal(t, "HOT", e.Content)
	assert.Equal(t, 2, e.AccessCount)

	c.Put(ctx, next, "NEXT", nil)
	e, err = c.store.get(ctx, Key(cold))
	require.NoError(t, err)
	assert.Nil(t, e, "entry never reused is dropped")
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, config.CacheConfig{MaxItems: 10, TTL: time.Minute}, &fileParser{}, nil)
	path := writeFile(t, t.TempDir(), "a.txt", "a")
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Put(ctx, path, "A", nil)
	_, ok := c.Get(ctx, path)
	require.True(t, ok)

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok = c.Get(ctx, path)
	assert.False(t, ok)
	assert.Zero(t, c.Stats().MemoryItems)
}

func TestGet_MissingFileInvalidates(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, config.CacheConfig{MaxItems: 10}, &fileParser{}, nil)
	path := writeFile(t, t.TempDir(), "a.txt", "a")

	c.Put(ctx, path, "A", nil)
	require.NoError(t, os.Remove(path))
	_, ok := c.Get(ctx, path)
	assert.False(t, ok)
	assert.Zero(t, c.Stats().MemoryItems)
}

func TestInvalidateClearAndWarm(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	bunDB := newOverflowDB(t)
	p := &fileParser{}
	c := newCache(t, config.CacheConfig{MaxItems: 10}, p, bunDB)
	a := writeFile(t, dir, "a.txt", "a")
	b := writeFile(t, dir, "b.txt", "b")

	assert.Equal(t, 2, c.Warm(ctx, []string{a, b}))
	assert.Equal(t, 0, c.Warm(ctx, []string{a, b}))

	require.NoError(t, c.Invalidate(ctx, a))
	_, ok := c.Get(ctx, a)
	assert.False(t, ok, "invalidate also removes the overflow copy")

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, Stats{MaxMemoryItems: 10}, c.Stats())
	n, err := c.store.count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := newCache(t, config.CacheConfig{MaxItems: 3}, &fileParser{}, newOverflowDB(t))
	paths := make([]string, 6)
	for i := range paths {
		paths[i] = writeFile(t, dir, string(rune('a'+i))+".txt", "x")
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				content, _, _ := c.GetOrParse(ctx, paths[(w+i)%len(paths)], false)
				assert.Equal(t, "parsed:x", content)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Stats().MemoryItems, 3)
}
