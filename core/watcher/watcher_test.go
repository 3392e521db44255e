package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OlaProeis/ironPad/core/events"
	"github.com/OlaProeis/ironPad/core/filesystem"
)

// =============================================================================
// Test Helpers
// =============================================================================

type recorder struct {
	mu     sync.Mutex
	events []events.ChangeEvent
	notify chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 1024)}
}

func (r *recorder) Publish(ev events.ChangeEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *recorder) snapshot() []events.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.ChangeEvent(nil), r.events...)
}

func (r *recorder) waitFor(t *testing.T, n int, timeout time.Duration) []events.ChangeEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if got := r.snapshot(); len(got) >= n {
			return got
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %v", n, r.snapshot())
			return nil
		}
	}
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// newOfflineWatcher builds a watcher whose fsnotify side is never started so
// batches can be fed directly.
func newOfflineWatcher(t *testing.T, root string, markers *filesystem.Markers) (*Watcher, *recorder) {
	t.Helper()
	rec := newRecorder()
	w, err := New(Config{Root: root, Markers: markers, Publisher: rec})
	require.NoError(t, err)

	fsw, err := NewFSWatcher(FSConfig{Root: w.config.Root, Excludes: w.config.Excludes})
	require.NoError(t, err)
	t.Cleanup(func() { _ = fsw.Stop() })
	w.fs = fsw
	w.seedKnown()
	return w, rec
}

func startWatcher(t *testing.T, root string, store *filesystem.Store) *recorder {
	t.Helper()
	rec := newRecorder()
	w, err := New(Config{
		Root:      root,
		Markers:   store.Markers(),
		Publisher: rec,
		Debounce:  100 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		cancel()
		w.Stop()
		<-w.Done()
	})
	return rec
}

// =============================================================================
// Classification
// =============================================================================

func TestWatcher_ClassifiesAgainstKnownSet(t *testing.T) {
	root := t.TempDir()
	existing := writeFile(t, root, "notes/old.md", "old")
	w, rec := newOfflineWatcher(t, root, nil)

	fresh := writeFile(t, root, "notes/new.md", "new")
	require.NoError(t, os.Remove(existing))

	w.processBatch(Batch{
		{Path: fresh, Operation: OpCreate},
		{Path: existing, Operation: OpDelete},
	})
	writeFile(t, root, "notes/new.md", "edited")
	w.processBatch(Batch{{Path: fresh, Operation: OpModify}})

	assert.Equal(t, []events.ChangeEvent{
		events.FileCreated{Path: "notes/new.md"},
		events.FileDeleted{Path: "notes/old.md"},
		events.FileModified{Path: "notes/new.md"},
	}, rec.snapshot())
}

func TestWatcher_DropsTransientFiles(t *testing.T) {
	root := t.TempDir()
	w, rec := newOfflineWatcher(t, root, nil)

	w.processBatch(Batch{{Path: filepath.Join(root, "gone.md"), Operation: OpCreate}})

	assert.Empty(t, rec.snapshot())
}

func TestWatcher_Filters(t *testing.T) {
	root := t.TempDir()
	w, rec := newOfflineWatcher(t, root, nil)

	paths := []string{
		writeFile(t, root, "image.png", "x"),
		writeFile(t, root, ".note.md.123.tmp", "x"),
		writeFile(t, root, "archive/old.md", "x"),
		writeFile(t, root, "projects/p/archive/old.md", "x"),
		writeFile(t, root, ".git/COMMIT_EDITMSG.md", "x"),
	}
	batch := make(Batch, 0, len(paths))
	for _, p := range paths {
		batch = append(batch, RawEvent{Path: p, Operation: OpCreate})
	}

	w.processBatch(batch)

	assert.Empty(t, rec.snapshot())
}

func TestWatcher_ArchiveIsComponentMatch(t *testing.T) {
	root := t.TempDir()
	w, rec := newOfflineWatcher(t, root, nil)

	p := writeFile(t, root, "archived-ideas.md", "x")
	w.processBatch(Batch{{Path: p, Operation: OpCreate}})

	assert.Equal(t, []events.ChangeEvent{events.FileCreated{Path: "archived-ideas.md"}}, rec.snapshot())
}

func TestWatcher_SuppressesRecentSelfWrites(t *testing.T) {
	root := t.TempDir()
	markers := filesystem.NewMarkers(filesystem.DefaultMarkerHorizon)
	w, rec := newOfflineWatcher(t, root, markers)

	p := writeFile(t, root, "mine.md", "x")
	markers.Mark("mine.md")
	w.processBatch(Batch{{Path: p, Operation: OpCreate}})
	assert.Empty(t, rec.snapshot())

	// The known set still learned about the file.
	other := writeFile(t, root, "theirs.md", "x")
	w.processBatch(Batch{{Path: other, Operation: OpModify}})
	assert.Equal(t, []events.ChangeEvent{events.FileCreated{Path: "theirs.md"}}, rec.snapshot())
	_, known := w.known["mine.md"]
	assert.True(t, known)
}

func TestNew_RequiresPublisher(t *testing.T) {
	_, err := New(Config{Root: t.TempDir()})
	assert.ErrorIs(t, err, ErrWatcherInit)
}

func TestWatcher_StartFailsForMissingRoot(t *testing.T) {
	w, err := New(Config{Root: filepath.Join(t.TempDir(), "missing"), Publisher: newRecorder()})
	require.NoError(t, err)

	err = w.Start(context.Background())
	assert.ErrorIs(t, err, ErrWatcherInit)
	assert.ErrorIs(t, err, ErrRootNotExist)
}

// =============================================================================
// Live fsnotify
// =============================================================================

func TestWatcher_ExternalEditEmitsOnce(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "notes/a.md", "v1")
	store, err := filesystem.NewStore(filesystem.StoreConfig{Root: root})
	require.NoError(t, err)
	rec := startWatcher(t, root, store)

	writeFile(t, root, "notes/a.md", "v2")
	writeFile(t, root, "notes/a.md", "v3")

	got := rec.waitFor(t, 1, 3*time.Second)
	assert.Equal(t, events.FileModified{Path: "notes/a.md"}, got[0])

	time.Sleep(300 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)
}

func TestWatcher_SelfWriteProducesNoEvents(t *testing.T) {
	root := t.TempDir()
	store, err := filesystem.NewStore(filesystem.StoreConfig{Root: root})
	require.NoError(t, err)
	rec := startWatcher(t, root, store)

	require.NoError(t, store.AtomicWrite("notes/self.md", []byte("hello")))
	require.NoError(t, store.AtomicWrite("notes/self.md", []byte("hello again")))

	time.Sleep(500 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestWatcher_CreateAndDelete(t *testing.T) {
	root := t.TempDir()
	store, err := filesystem.NewStore(filesystem.StoreConfig{Root: root})
	require.NoError(t, err)
	rec := startWatcher(t, root, store)

	p := writeFile(t, root, "fresh.md", "x")
	got := rec.waitFor(t, 1, 3*time.Second)
	assert.Equal(t, events.FileCreated{Path: "fresh.md"}, got[0])

	require.NoError(t, os.Remove(p))
	got = rec.waitFor(t, 2, 3*time.Second)
	assert.Equal(t, events.FileDeleted{Path: "fresh.md"}, got[1])
}

func TestWatcher_NewDirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	store, err := filesystem.NewStore(filesystem.StoreConfig{Root: root})
	require.NoError(t, err)
	rec := startWatcher(t, root, store)

	writeFile(t, root, "projects/alpha/index.md", "x")

	got := rec.waitFor(t, 1, 3*time.Second)
	assert.Equal(t, events.FileCreated{Path: "projects/alpha/index.md"}, got[0])
}

func TestWatcher_IgnoresNoise(t *testing.T) {
	root := t.TempDir()
	store, err := filesystem.NewStore(filesystem.StoreConfig{Root: root})
	require.NoError(t, err)
	rec := startWatcher(t, root, store)

	writeFile(t, root, "picture.png", "x")
	writeFile(t, root, ".draft.md.tmp", "x")
	writeFile(t, root, "archive/old.md", "x")

	time.Sleep(500 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}
