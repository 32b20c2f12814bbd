// Package catalog caches built fragment stores for long-running hosts.
//
// A store is keyed by the ordered list of its source directories, because
// merge results depend on source order. Concurrent requests for the same key
// share one build. With Watch enabled, any change below a source directory
// drops every cached store built from it.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"tagforge/internal/fragment"
	"tagforge/internal/logging"
)

// ErrClosed is returned by Watch after Close.
var ErrClosed = errors.New("catalog: closed")

// slowBuild is the build duration above which a warning is logged.
const slowBuild = 2 * time.Second

// Spec names one on-disk fragment source.
type Spec struct {
	Name string `json:"name"`
	Dir  string `json:"dir"`
}

func (s Spec) source() fragment.Source {
	return fragment.DirSource(s.Name, s.Dir)
}

// Key returns the cache key for a base and its extensions. Reordering
// extensions yields a different key.
func Key(base Spec, extensions []Spec) string {
	parts := make([]string, 0, len(extensions)+1)
	parts = append(parts, filepath.Clean(base.Dir))
	for _, ext := range extensions {
		parts = append(parts, filepath.Clean(ext.Dir))
	}
	return strings.Join(parts, "\x00")
}

// Stats tracks cache activity.
type Stats struct {
	Hits          int       `json:"hits"`
	Builds        int       `json:"builds"`
	Invalidations int       `json:"invalidations"`
	WatchErrors   int       `json:"watch_errors"`
	LastEventTime time.Time `json:"last_event_time,omitempty"`
	LastEventPath string    `json:"last_event_path,omitempty"`
}

type entry struct {
	store  *fragment.Store
	report *fragment.LoadReport
	roots  []string
}

type buildResult struct {
	store  *fragment.Store
	report *fragment.LoadReport
}

// Catalog is safe for concurrent use.
type Catalog struct {
	builder *fragment.Builder
	logger  *zap.Logger
	group   singleflight.Group

	mu         sync.RWMutex
	entries    map[string]*entry
	generation uint64
	roots      map[string]struct{}
	stats      Stats

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
	closed  bool

	// onBuild runs before each uncached build; tests use it to hold a build open.
	onBuild func(context.Context)
}

// New creates an empty catalog that builds stores with builder.
func New(builder *fragment.Builder, logger *zap.Logger) *Catalog {
	if builder == nil {
		builder = fragment.NewBuilder(logger)
	}
	return &Catalog{
		builder: builder,
		logger:  logging.For(logger, logging.CategoryCatalog),
		entries: make(map[string]*entry),
		roots:   make(map[string]struct{}),
	}
}

// Get returns the cached store for base and extensions, building it on a
// miss. Build failures are not cached.
func (c *Catalog) Get(ctx context.Context, base Spec, extensions []Spec) (*fragment.Store, *fragment.LoadReport, error) {
	key := Key(base, extensions)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.stats.Hits++
		c.mu.Unlock()
		return e.store, e.report, nil
	}
	c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	// The build is shared by every caller waiting on key, so it must not
	// stop when the caller that started it goes away.
	buildCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.build(buildCtx, key, base, extensions)
	})
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, nil, res.Err
		}
		r := res.Val.(buildResult)
		return r.store, r.report, nil
	}
}

func (c *Catalog) build(ctx context.Context, key string, base Spec, extensions []Spec) (buildResult, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.stats.Hits++
		c.mu.Unlock()
		return buildResult{store: e.store, report: e.report}, nil
	}
	gen := c.generation
	c.mu.Unlock()

	if c.onBuild != nil {
		c.onBuild(ctx)
	}
	timer := logging.StartTimer(c.logger, "build")
	defer timer.StopWithThreshold(slowBuild)

	exts := make([]fragment.Source, len(extensions))
	for i, ext := range extensions {
		exts[i] = ext.source()
	}
	store, report, err := c.builder.Build(ctx, base.source(), exts)
	if err != nil {
		return buildResult{}, fmt.Errorf("catalog: build %s: %w", base.Dir, err)
	}

	roots := make([]string, 0, len(extensions)+1)
	roots = append(roots, filepath.Clean(base.Dir))
	for _, ext := range extensions {
		roots = append(roots, filepath.Clean(ext.Dir))
	}

	c.mu.Lock()
	c.stats.Builds++
	// A change seen while building may not be reflected in this store.
	fresh := gen == c.generation
	if fresh {
		c.entries[key] = &entry{store: store, report: report, roots: roots}
	}
	var added []string
	for _, r := range roots {
		if _, ok := c.roots[r]; !ok {
			c.roots[r] = struct{}{}
			added = append(added, r)
		}
	}
	watcher := c.watcher
	c.mu.Unlock()

	if watcher != nil {
		for _, r := range added {
			c.watchTree(watcher, r)
		}
	}

	c.logger.Debug("store built", zap.Strings("roots", roots), zap.Bool("cached", fresh))
	return buildResult{store: store, report: report}, nil
}

// Len returns the number of cached stores.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of cache activity.
func (c *Catalog) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Invalidate drops every cached store.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.stats.Invalidations += len(c.entries)
	c.entries = make(map[string]*entry)
}

// InvalidatePath drops every cached store with a source root containing
// path, and returns how many were dropped.
func (c *Catalog) InvalidatePath(path string) int {
	path = filepath.Clean(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	dropped := 0
	for key, e := range c.entries {
		for _, root := range e.roots {
			if within(root, path) {
				delete(c.entries, key)
				dropped++
				break
			}
		}
	}
	c.stats.Invalidations += dropped
	return dropped
}

func within(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// Watch starts watching every known source root, and every root a later
// build adds, for changes. It is non-blocking; the watch loop stops when ctx
// is cancelled or Close is called.
func (c *Catalog) Watch(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.running {
		c.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("catalog: create watcher: %w", err)
	}
	c.watcher = watcher
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.running = true
	roots := make([]string, 0, len(c.roots))
	for r := range c.roots {
		roots = append(roots, r)
	}
	c.mu.Unlock()

	for _, r := range roots {
		c.watchTree(watcher, r)
	}

	go c.run(ctx, watcher)
	return nil
}

// watchTree adds root and its immediate subdirectories (the tag
// directories) to the watcher.
func (c *Catalog) watchTree(w *fsnotify.Watcher, root string) {
	if err := w.Add(root); err != nil {
		c.logger.Warn("cannot watch source root", zap.String("root", root), zap.Error(err))
		return
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if err := w.Add(dir); err != nil {
			c.logger.Debug("cannot watch tag directory", zap.String("dir", dir), zap.Error(err))
		}
	}
}

func (c *Catalog) run(ctx context.Context, w *fsnotify.Watcher) {
	defer close(c.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			c.handleEvent(w, event)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			c.logger.Warn("watch error", zap.Error(err))
			c.mu.Lock()
			c.stats.WatchErrors++
			c.mu.Unlock()
		}
	}
}

func (c *Catalog) handleEvent(w *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.Add(event.Name)
		}
	}

	c.mu.Lock()
	c.stats.LastEventTime = time.Now()
	c.stats.LastEventPath = event.Name
	c.mu.Unlock()

	dropped := c.InvalidatePath(event.Name)
	c.logger.Debug("source changed",
		zap.String("path", event.Name),
		zap.String("op", event.Op.String()),
		zap.Int("dropped", dropped))
}

// Close stops the watcher, if any, and waits for its loop to exit.
func (c *Catalog) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	running := c.running
	c.running = false
	watcher := c.watcher
	c.watcher = nil
	c.mu.Unlock()

	if !running {
		return nil
	}
	close(c.stopCh)
	<-c.doneCh
	return watcher.Close()
}
