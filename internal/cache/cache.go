package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"spec-rag/internal/config"
	"spec-rag/internal/db"
	"spec-rag/internal/helper"
	"spec-rag/internal/parser"
)

const defaultFilename = "content_cache.db"

// Parser is the parsing capability the cache falls back to on a miss.
// *parser.Registry satisfies it.
type Parser interface {
	Parse(path string) parser.Result
}

// Entry is one file's parsed content.
type Entry struct {
	Key          string         `json:"key"`
	Path         string         `json:"file_path"`
	Content      string         `json:"content"`
	Metadata     map[string]any `json:"metadata"`
	FileModified time.Time      `json:"file_modified"`
	CachedAt     time.Time      `json:"cached_at"`
	AccessCount  int            `json:"access_count"`
	LastAccessed time.Time      `json:"last_accessed"`
}

type Stats struct {
	MemoryItems    int     `json:"memory_items"`
	MemoryBytes    int64   `json:"memory_bytes"`
	MaxMemoryItems int     `json:"max_memory_items"`
	MaxMemoryBytes int64   `json:"max_memory_bytes"`
	Hits           int     `json:"hits"`
	Misses         int     `json:"misses"`
	DiskHits       int     `json:"disk_hits"`
	Evictions      int     `json:"evictions"`
	HitRate        float64 `json:"hit_rate"`
}

// Cache keeps parsed file text in a count and byte bounded LRU, backed by an
// optional durable overflow table. Entries are valid while the file's mtime
// has not advanced and the entry is younger than the TTL.
type Cache struct {
	parser   Parser
	store    *overflow
	maxItems int
	maxBytes int64
	ttl      time.Duration
	now      func() time.Time

	mu        sync.Mutex
	lru       *simplelru.LRU[string, *Entry]
	bytes     int64
	hits      int
	misses    int
	diskHits  int
	evictions int
}

// Open creates a cache whose overflow lives in a SQLite file at cfg.Path,
// defaulting to the per-user cache directory.
func Open(ctx context.Context, cfg *config.CacheConfig, p Parser, debug bool) (*Cache, error) {
	path := cfg.Path
	if path == "" {
		path = filepath.Join(helper.CacheDir(), defaultFilename)
	}
	bunDB, err := db.OpenSQLite(path, debug)
	if err != nil {
		return nil, err
	}
	c, err := New(ctx, cfg, p, bunDB)
	if err != nil {
		_ = bunDB.Close()
		return nil, err
	}
	return c, nil
}

// New creates a cache. A nil bunDB keeps the cache memory-only.
func New(ctx context.Context, cfg *config.CacheConfig, p Parser, bunDB *bun.DB) (*Cache, error) {
	maxItems := max(cfg.MaxItems, 1)
	lru, err := simplelru.NewLRU[string, *Entry](maxItems, nil)
	if err != nil {
		return nil, err
	}
	c := &Cache{
		parser:   p,
		maxItems: maxItems,
		maxBytes: cfg.MaxBytes,
		ttl:      cfg.TTL,
		now:      time.Now,
		lru:      lru,
	}
	if bunDB != nil {
		if c.store, err = newOverflow(ctx, bunDB); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Close releases the overflow database.
func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.db.Close()
}

// Key returns the fixed-length, filesystem-safe key for path.
func Key(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])[:32]
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// Get returns the cached entry for path if it is still valid.
func (c *Cache) Get(ctx context.Context, path string) (Entry, bool) {
	path = absPath(path)
	key := Key(path)
	info, statErr := os.Stat(path)

	c.mu.Lock()
	if e, ok := c.lru.Get(key); ok {
		if c.expired(e, info, statErr) {
			c.removeLocked(key)
			c.misses++
			c.mu.Unlock()
			return Entry{}, false
		}
		e.AccessCount++
		e.LastAccessed = c.now()
		c.hits++
		out := *e
		c.mu.Unlock()
		return out, true
	}
	c.mu.Unlock()

	if e, ok := c.loadOverflow(ctx, key, info, statErr); ok {
		e.Path = path
		e.LastAccessed = c.now()
		c.mu.Lock()
		spilled := c.addLocked(key, e)
		c.diskHits++
		out := *e
		c.mu.Unlock()
		c.persist(ctx, spilled...)
		return out, true
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return Entry{}, false
}

// Put caches content for path and writes it through to the overflow.
// Overflow failures are logged and ignored.
func (c *Cache) Put(ctx context.Context, path, content string, metadata map[string]any) Entry {
	path = absPath(path)
	key := Key(path)
	now := c.now()

	mtime := now
	if info, err := os.Stat(path); err == nil {
		mtime = info.ModTime()
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	e := &Entry{
		Key:          key,
		Path:         path,
		Content:      content,
		Metadata:     metadata,
		FileModified: mtime,
		CachedAt:     now,
		LastAccessed: now,
	}

	c.mu.Lock()
	spilled := c.addLocked(key, e)
	out := *e
	c.mu.Unlock()

	c.persist(ctx, append(spilled, &out)...)
	return out
}

// GetOrParse returns cached content for path, parsing the file on a miss.
// A failed parse is cached as a "(parsing failed: ...)" placeholder with an
// "error" metadata field; it is never reported as an error.
func (c *Cache) GetOrParse(ctx context.Context, path string, forceRefresh bool) (string, map[string]any, bool) {
	if forceRefresh {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
	} else if e, ok := c.Get(ctx, path); ok {
		return e.Content, e.Metadata, true
	}

	res := c.parser.Parse(absPath(path))
	content, metadata := res.Text, res.Metadata
	if !res.Success {
		log.Warn().Str("path", path).Str("error", res.Error).Msg("Parse failed, caching placeholder")
		content = fmt.Sprintf("(parsing failed: %s)", res.Error)
		metadata = map[string]any{"error": res.Error}
	}
	e := c.Put(ctx, path, content, metadata)
	return e.Content, e.Metadata, false
}

// Invalidate drops path from memory and from the overflow.
func (c *Cache) Invalidate(ctx context.Context, path string) error {
	key := Key(path)
	c.mu.Lock()
	c.removeLocked(key)
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	if err := c.store.delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Clear empties both tiers and resets the counters.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.lru.Purge()
	c.bytes = 0
	c.hits, c.misses, c.diskHits, c.evictions = 0, 0, 0, 0
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	if err := c.store.clear(ctx); err != nil {
		return fmt.Errorf("failed to clear cache overflow: %w", err)
	}
	return nil
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rate float64
	if total := c.hits + c.misses; total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		MemoryItems:    c.lru.Len(),
		MemoryBytes:    c.bytes,
		MaxMemoryItems: c.maxItems,
		MaxMemoryBytes: c.maxBytes,
		Hits:           c.hits,
		Misses:         c.misses,
		DiskHits:       c.diskHits,
		Evictions:      c.evictions,
		HitRate:        rate,
	}
}

// Warm parses every path not already cached and returns how many were parsed.
func (c *Cache) Warm(ctx context.Context, paths []string) int {
	parsed := 0
	for _, p := range paths {
		if ctx.Err() != nil {
			break
		}
		if _, _, cached := c.GetOrParse(ctx, p, false); !cached {
			parsed++
		}
	}
	return parsed
}

func (c *Cache) expired(e *Entry, info os.FileInfo, statErr error) bool {
	if statErr != nil || info.ModTime().After(e.FileModified) {
		return true
	}
	return c.ttl > 0 && c.now().Sub(e.CachedAt) > c.ttl
}

// addLocked inserts e, evicting least recently used entries until both
// bounds hold. Evicted entries read more than once are returned so the
// caller can spill them after releasing the lock.
func (c *Cache) addLocked(key string, e *Entry) []*Entry {
	c.removeLocked(key)

	size := int64(len(e.Content))
	var spilled []*Entry
	for c.lru.Len() > 0 && (c.lru.Len() >= c.maxItems || (c.maxBytes > 0 && c.bytes+size > c.maxBytes)) {
		_, old, _ := c.lru.RemoveOldest()
		c.bytes -= int64(len(old.Content))
		c.evictions++
		if old.AccessCount > 1 {
			spilled = append(spilled, old)
		}
	}
	c.lru.Add(key, e)
	c.bytes += size
	return spilled
}

func (c *Cache) removeLocked(key string) {
	if old, ok := c.lru.Peek(key); ok {
		c.lru.Remove(key)
		c.bytes -= int64(len(old.Content))
	}
}

func (c *Cache) loadOverflow(ctx context.Context, key string, info os.FileInfo, statErr error) (*Entry, bool) {
	if c.store == nil || statErr != nil {
		return nil, false
	}
	e, err := c.store.get(ctx, key)
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Cache overflow read failed")
		return nil, false
	}
	if e == nil {
		return nil, false
	}
	if c.expired(e, info, nil) {
		if err := c.store.delete(ctx, key); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("Failed to drop stale overflow entry")
		}
		return nil, false
	}
	return e, true
}

func (c *Cache) persist(ctx context.Context, entries ...*Entry) {
	if c.store == nil {
		return
	}
	for _, e := range entries {
		if err := c.store.put(ctx, e); err != nil {
			log.Debug().Err(err).Str("path", e.Path).Msg("Cache overflow write failed")
		}
	}
}
