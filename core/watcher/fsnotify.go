package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
)

// =============================================================================
// Constants
// =============================================================================

// DefaultDebounce is the quiescence window applied per path.
const DefaultDebounce = 500 * time.Millisecond

// batchQueueSize bounds the hand-off between the fsnotify side and the
// processing side.
const batchQueueSize = 100

// DefaultExcludes keeps archived notes, repository internals and atomic-write
// temporaries out of the event stream.
var DefaultExcludes = []string{
	"archive",
	"archive/**",
	"**/archive",
	"**/archive/**",
	".git",
	".git/**",
	"**/.git",
	"**/.git/**",
	".*.tmp",
	"**/.*.tmp",
}

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrWatcherInit wraps every failure to start watching.
	ErrWatcherInit = errors.New("watcher init failed")

	// ErrRootNotExist indicates the document root does not exist.
	ErrRootNotExist = errors.New("watch root does not exist")

	// ErrRootNotDirectory indicates the document root is not a directory.
	ErrRootNotDirectory = errors.New("watch root is not a directory")

	// ErrInvalidPattern indicates an exclude pattern could not be compiled.
	ErrInvalidPattern = errors.New("invalid exclude pattern")
)

// =============================================================================
// FSWatcher
// =============================================================================

// FSConfig configures the raw filesystem layer.
type FSConfig struct {
	// Root is watched recursively.
	Root string

	// Excludes are glob patterns matched against root-relative slash paths.
	Excludes []string

	// Debounce is how long a path must stay quiet before it is flushed.
	Debounce time.Duration

	Logger *slog.Logger
}

type pendingEvent struct {
	event    RawEvent
	lastSeen time.Time
}

// FSWatcher wraps fsnotify with recursive registration, exclusion and
// per-path debouncing. Its loop is the only goroutine that reads fsnotify's
// channels; flushed batches leave through a bounded queue.
type FSWatcher struct {
	config   FSConfig
	watcher  *fsnotify.Watcher
	excludes []glob.Glob

	mu      sync.Mutex
	pending map[string]*pendingEvent

	batches  chan Batch
	done     chan struct{}
	stopOnce sync.Once
}

// NewFSWatcher validates the root and patterns and opens an fsnotify handle.
func NewFSWatcher(config FSConfig) (*FSWatcher, error) {
	if err := validateRoot(config.Root); err != nil {
		return nil, err
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	excludes, err := compileExcludePatterns(config.Excludes)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &FSWatcher{
		config:   config,
		watcher:  watcher,
		excludes: excludes,
		pending:  make(map[string]*pendingEvent),
		batches:  make(chan Batch, batchQueueSize),
		done:     make(chan struct{}),
	}, nil
}

// =============================================================================
// Validation
// =============================================================================

// validateRoot checks that the root exists and is a directory.
func validateRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrRootNotExist
		}
		return err
	}
	if !info.IsDir() {
		return ErrRootNotDirectory
	}
	return nil
}

// compileExcludePatterns compiles glob patterns with '/' as separator.
func compileExcludePatterns(patterns []string) ([]glob.Glob, error) {
	excludes := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, errors.Join(ErrInvalidPattern, err)
		}
		excludes = append(excludes, g)
	}
	return excludes, nil
}

// =============================================================================
// Start
// =============================================================================

// Start registers the tree and begins the event loop. The returned channel
// is closed when ctx is cancelled or Stop is called.
func (w *FSWatcher) Start(ctx context.Context) (<-chan Batch, error) {
	if err := w.addDirectoryRecursive(w.config.Root, nil); err != nil {
		w.watcher.Close()
		return nil, err
	}

	go w.loop(ctx)
	return w.batches, nil
}

// addDirectoryRecursive watches dir and every non-excluded subdirectory.
// When found is non-nil, regular files discovered during the walk are
// reported to it.
func (w *FSWatcher) addDirectoryRecursive(dir string, found func(path string)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}

		if path != w.config.Root && w.IsExcluded(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.IsDir() {
			if found != nil {
				found(path)
			}
			return nil
		}

		return w.watcher.Add(path)
	})
}

// =============================================================================
// Event Loop
// =============================================================================

func (w *FSWatcher) loop(ctx context.Context) {
	defer close(w.batches)

	ticker := time.NewTicker(w.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.handleError(err)
		case now := <-ticker.C:
			if batch := w.flushQuiet(now); len(batch) > 0 {
				if !w.send(ctx, batch) {
					return
				}
			}
		}
	}
}

// handleError logs watch errors. The loop keeps running; an overflow means
// some external edits were lost.
func (w *FSWatcher) handleError(err error) {
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		w.config.Logger.Warn("filesystem event queue overflowed, external changes may be missed",
			"root", w.config.Root, "error", err)
		return
	}
	w.config.Logger.Warn("filesystem watch error", "root", w.config.Root, "error", err)
}

// tickInterval checks pending paths four times per debounce window.
func (w *FSWatcher) tickInterval() time.Duration {
	interval := w.config.Debounce / 4
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	return interval
}

// send hands a batch to the consumer, blocking while the queue is full.
func (w *FSWatcher) send(ctx context.Context, batch Batch) bool {
	select {
	case w.batches <- batch:
		return true
	case <-ctx.Done():
		return false
	case <-w.done:
		return false
	}
}

// handleFSEvent records one fsnotify event in the pending table.
func (w *FSWatcher) handleFSEvent(event fsnotify.Event) {
	if w.IsExcluded(event.Name) {
		return
	}

	if event.Has(fsnotify.Create) {
		w.handlePossibleNewDirectory(event.Name)
	}

	w.schedule(event.Name, mapFSNotifyOperation(event.Op), time.Now())
}

// handlePossibleNewDirectory watches a freshly created directory. Files that
// landed in it before the watch existed are scheduled as creations.
func (w *FSWatcher) handlePossibleNewDirectory(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	now := time.Now()
	_ = w.addDirectoryRecursive(path, func(file string) {
		w.schedule(file, OpCreate, now)
	})
}

// fsOpMappings maps fsnotify operations to FileOperation. First match wins.
var fsOpMappings = []struct {
	fsOp   fsnotify.Op
	fileOp FileOperation
}{
	{fsnotify.Create, OpCreate},
	{fsnotify.Write, OpModify},
	{fsnotify.Remove, OpDelete},
	{fsnotify.Rename, OpRename},
	{fsnotify.Chmod, OpModify},
}

func mapFSNotifyOperation(op fsnotify.Op) FileOperation {
	for _, m := range fsOpMappings {
		if op.Has(m.fsOp) {
			return m.fileOp
		}
	}
	return OpModify
}

// =============================================================================
// Debouncing
// =============================================================================

// schedule records or refreshes the pending entry for path.
func (w *FSWatcher) schedule(path string, op FileOperation, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] = &pendingEvent{
		event:    RawEvent{Path: path, Operation: op, Time: now},
		lastSeen: now,
	}
}

// flushQuiet removes and returns every pending path that has been quiet for
// at least one debounce window, ordered by path.
func (w *FSWatcher) flushQuiet(now time.Time) Batch {
	w.mu.Lock()
	defer w.mu.Unlock()

	var batch Batch
	for path, p := range w.pending {
		if now.Sub(p.lastSeen) >= w.config.Debounce {
			batch = append(batch, p.event)
			delete(w.pending, path)
		}
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	return batch
}

// =============================================================================
// Exclusion
// =============================================================================

// IsExcluded reports whether path matches an exclude pattern. Absolute paths
// are matched relative to the root.
func (w *FSWatcher) IsExcluded(path string) bool {
	rel := w.relative(path)
	if rel == "" {
		return false
	}
	for _, pattern := range w.excludes {
		if pattern.Match(rel) {
			return true
		}
	}
	return false
}

// relative returns the slash path of p below the root, or "" for the root
// itself and paths outside it.
func (w *FSWatcher) relative(p string) string {
	if !filepath.IsAbs(p) {
		return filepath.ToSlash(p)
	}
	rel, err := filepath.Rel(w.config.Root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	return filepath.ToSlash(rel)
}

// =============================================================================
// Stop
// =============================================================================

// Stop ends the loop and releases the fsnotify handle. Safe to call multiple
// times.
func (w *FSWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.mu.Lock()
		w.pending = make(map[string]*pendingEvent)
		w.mu.Unlock()

		err = w.watcher.Close()
	})
	return err
}
