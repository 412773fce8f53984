package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"spec-rag/internal/catalog"
)

const defaultDebounce = 1500 * time.Millisecond

// Cache is the content cache surface the watcher keeps honest.
type Cache interface {
	Invalidate(ctx context.Context, path string) error
}

// Catalog is the metadata index surface the watcher keeps current.
type Catalog interface {
	IndexFile(ctx context.Context, path string, project *catalog.Project) (bool, error)
	RemoveFile(ctx context.Context, path string) (bool, error)
}

// Options tunes a Watcher. Zero Debounce uses the default.
type Options struct {
	Project  *catalog.Project
	Debounce time.Duration
}

// Watcher follows directory trees and, once a path has been quiet for the
// debounce interval, invalidates its cached content and refreshes or drops
// its catalog entry.
type Watcher struct {
	fs       *fsnotify.Watcher
	cache    Cache
	catalog  Catalog
	project  *catalog.Project
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]fsnotify.Op
}

func New(cache Cache, cat Catalog, opts Options) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		fs:       w,
		cache:    cache,
		catalog:  cat,
		project:  opts.Project,
		debounce: debounce,
		pending:  make(map[string]fsnotify.Op),
	}, nil
}

// Add watches root and every non-hidden directory below it.
func (w *Watcher) Add(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && hidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		log.Debug().Str("dir", path).Msg("Watching directory")
		return nil
	})
}

func (w *Watcher) Close() error {
	return w.fs.Close()
}

// Run processes events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(context.WithoutCancel(ctx))
			return ctx.Err()
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if w.record(ev) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Watcher error")
		case <-timer.C:
			w.flush(ctx)
		}
	}
}

// record folds ev into the pending set and reports whether it matters.
func (w *Watcher) record(ev fsnotify.Event) bool {
	if hidden(filepath.Base(ev.Name)) || ev.Op == fsnotify.Chmod {
		return false
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.Add(ev.Name); err != nil {
				log.Warn().Err(err).Str("dir", ev.Name).Msg("Failed to watch new directory")
			}
			return false
		}
	}
	w.mu.Lock()
	w.pending[ev.Name] |= ev.Op
	w.mu.Unlock()
	return true
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.mu.Unlock()

	for path := range pending {
		w.apply(ctx, path)
	}
}

// apply reconciles one path with what is on disk now; the recorded ops only
// say that something happened.
func (w *Watcher) apply(ctx context.Context, path string) {
	if err := w.cache.Invalidate(ctx, path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to invalidate cached content")
	}

	if _, err := os.Stat(path); err != nil {
		removed, err := w.catalog.RemoveFile(ctx, path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to remove catalog entry")
			return
		}
		if removed {
			log.Info().Str("path", path).Msg("Removed from catalog")
		}
		return
	}
	if _, err := w.catalog.IndexFile(ctx, path, w.project); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to refresh catalog entry")
		return
	}
	log.Info().Str("path", path).Msg("Refreshed catalog entry")
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
