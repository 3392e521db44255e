package filesystem

import (
	"sync"
	"time"
)

const (
	// DefaultSuppressWindow is how long a self-write marker silences the watcher.
	DefaultSuppressWindow = 2 * time.Second
	// DefaultMarkerHorizon is the age after which markers are garbage collected.
	DefaultMarkerHorizon = 5 * time.Second
)

// Markers records the paths the process itself has just written so the
// watcher can tell its own writes from external edits. Keys are the
// root-relative slash paths produced by Store.Rel.
//
// Entries older than the horizon are pruned on every access; the table never
// grows beyond the set of paths written within one horizon.
type Markers struct {
	mu      sync.Mutex
	entries map[string]time.Time
	horizon time.Duration
	now     func() time.Time
}

func NewMarkers(horizon time.Duration) *Markers {
	if horizon <= 0 {
		horizon = DefaultMarkerHorizon
	}
	return &Markers{
		entries: make(map[string]time.Time),
		horizon: horizon,
		now:     time.Now,
	}
}

// Mark stamps path with the current time.
func (m *Markers) Mark(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.pruneLocked(now)
	m.entries[path] = now
}

// Recent reports whether path was marked less than within ago.
func (m *Markers) Recent(path string, within time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.pruneLocked(now)

	stamp, ok := m.entries[path]
	if !ok {
		return false
	}
	return now.Sub(stamp) < within
}

func (m *Markers) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked(m.now())
	return len(m.entries)
}

// Horizon returns the garbage collection age.
func (m *Markers) Horizon() time.Duration {
	return m.horizon
}

func (m *Markers) pruneLocked(now time.Time) {
	for path, stamp := range m.entries {
		if now.Sub(stamp) >= m.horizon {
			delete(m.entries, path)
		}
	}
}
