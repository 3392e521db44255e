package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/OlaProeis/ironPad/core/events"
	"github.com/OlaProeis/ironPad/core/filesystem"
	"github.com/OlaProeis/ironPad/core/metrics"
)

// DefaultSuppressWindow matches the marker age below which events are
// attributed to this process.
const DefaultSuppressWindow = filesystem.DefaultSuppressWindow

const documentExt = ".md"

// Publisher receives the events the watcher emits. *events.Hub satisfies it.
type Publisher interface {
	Publish(ev events.ChangeEvent)
}

// Config configures a Watcher.
type Config struct {
	// Root is the document root to watch.
	Root string

	// Markers is the self-write table shared with the filesystem store.
	Markers *filesystem.Markers

	// Publisher receives FileCreated, FileModified and FileDeleted events.
	Publisher Publisher

	// Debounce is the per-path quiescence window. Default 500ms.
	Debounce time.Duration

	// SuppressWindow is how recent a marker must be to swallow an event.
	// Default 2s.
	SuppressWindow time.Duration

	// Excludes replaces DefaultExcludes when non-empty.
	Excludes []string

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Watcher classifies debounced filesystem batches and publishes the ones
// that were not caused by this process.
type Watcher struct {
	config Config
	fs     *FSWatcher
	logger *slog.Logger

	// known holds root-relative paths of documents believed to exist. Only
	// the processing goroutine touches it after Start.
	known map[string]struct{}

	stopOnce sync.Once
	done     chan struct{}
}

// New validates cfg. Nothing is watched until Start.
func New(cfg Config) (*Watcher, error) {
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("%w: publisher is required", ErrWatcherInit)
	}
	if cfg.Markers == nil {
		cfg.Markers = filesystem.NewMarkers(filesystem.DefaultMarkerHorizon)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.SuppressWindow <= 0 {
		cfg.SuppressWindow = DefaultSuppressWindow
	}
	if len(cfg.Excludes) == 0 {
		cfg.Excludes = DefaultExcludes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherInit, err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	cfg.Root = root

	return &Watcher{
		config: cfg,
		logger: cfg.Logger,
		known:  make(map[string]struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start registers the tree and begins processing. Every failure is wrapped
// in ErrWatcherInit; callers may keep running without live notifications.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := NewFSWatcher(FSConfig{
		Root:     w.config.Root,
		Excludes: w.config.Excludes,
		Debounce: w.config.Debounce,
		Logger:   w.logger,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWatcherInit, err)
	}
	w.fs = fsw

	w.seedKnown()

	batches, err := fsw.Start(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWatcherInit, err)
	}

	w.logger.Info("file watcher started", "root", w.config.Root, "known_documents", len(w.known))
	go w.run(batches)
	return nil
}

// Stop ends watching. Done is closed once the processing loop exits.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		if w.fs != nil {
			_ = w.fs.Stop()
		}
	})
}

// Done is closed when processing has stopped.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) run(batches <-chan Batch) {
	defer close(w.done)
	for batch := range batches {
		w.processBatch(batch)
	}
	w.logger.Debug("file watcher stopped")
}

// seedKnown records every document present at start so later events can be
// classified as modifications rather than creations.
func (w *Watcher) seedKnown() {
	_ = filepath.WalkDir(w.config.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path != w.config.Root && w.fs.IsExcluded(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if rel, ok := w.documentPath(path); ok {
			w.known[rel] = struct{}{}
		}
		return nil
	})
}

// =============================================================================
// Processing
// =============================================================================

func (w *Watcher) processBatch(batch Batch) {
	for _, raw := range batch {
		w.processEvent(raw)
	}
}

func (w *Watcher) processEvent(raw RawEvent) {
	rel, ok := w.documentPath(raw.Path)
	if !ok {
		w.config.Metrics.WatcherEvent(metrics.OutcomeFiltered)
		return
	}

	ev := w.classify(rel, raw.Path)
	if ev == nil {
		w.config.Metrics.WatcherEvent(metrics.OutcomeFiltered)
		return
	}

	if w.config.Markers.Recent(rel, w.config.SuppressWindow) {
		w.logger.Debug("suppressed self-write", "path", rel, "event", ev.Type().String())
		w.config.Metrics.WatcherEvent(metrics.OutcomeSuppressed)
		return
	}

	w.logger.Info("external file change", "path", rel, "event", ev.Type().String(), "op", raw.Operation.String())
	w.config.Metrics.WatcherEvent(metrics.OutcomeEmitted)
	w.config.Publisher.Publish(ev)
}

// classify compares the file's current presence with the known set. The
// known set is updated even when the event is later suppressed.
func (w *Watcher) classify(rel, abs string) events.ChangeEvent {
	info, err := os.Stat(abs)
	exists := err == nil && !info.IsDir()
	_, known := w.known[rel]

	switch {
	case exists && known:
		return events.FileModified{Path: rel}
	case exists:
		w.known[rel] = struct{}{}
		return events.FileCreated{Path: rel}
	case known:
		delete(w.known, rel)
		return events.FileDeleted{Path: rel}
	default:
		// Created and removed inside one window.
		return nil
	}
}

// documentPath returns the root-relative slash path of abs when it names a
// markdown document that is not excluded.
func (w *Watcher) documentPath(abs string) (string, bool) {
	if !strings.EqualFold(filepath.Ext(abs), documentExt) {
		return "", false
	}
	if filesystem.IsTempName(abs) {
		return "", false
	}
	rel := w.fs.relative(abs)
	if rel == "" {
		return "", false
	}
	if w.fs.IsExcluded(abs) {
		return "", false
	}
	return rel, true
}
