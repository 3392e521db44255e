// Package locks implements advisory per-file locks held by connected
// clients. Locks are exclusive, in-memory and lost on restart.
package locks

import (
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/OlaProeis/ironPad/core/metrics"
)

// Manager owns the lock table. Mutations take the write lock; probes share
// the read lock.
type Manager struct {
	mu      sync.RWMutex
	locks   map[string]Lock
	now     func() time.Time
	metrics *metrics.Metrics
}

type Option func(*Manager)

// WithMetrics reports the table size after every mutation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithClock overrides the time source used for AcquiredAt.
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) { mgr.now = now }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		locks: make(map[string]Lock),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NormalizePath returns the table key for p: slash separated, cleaned and
// without a leading slash.
func NormalizePath(p string) string {
	p = path.Clean(filepath.ToSlash(p))
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// Acquire grants path to clientID. Re-acquiring a path the client already
// holds succeeds, updates the kind and keeps the original AcquiredAt.
func (m *Manager) Acquire(p, clientID string, kind Kind) (Lock, error) {
	key := NormalizePath(p)
	if key == "" {
		return Lock{}, ErrEmptyPath
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.locks[key]; ok {
		if existing.ClientID != clientID {
			return Lock{}, &ConflictError{Path: key, Holder: existing.ClientID, Kind: existing.Kind}
		}
		existing.Kind = kind
		m.locks[key] = existing
		return existing, nil
	}

	lock := Lock{
		Path:       key,
		ClientID:   clientID,
		Kind:       kind,
		AcquiredAt: m.now(),
	}
	m.locks[key] = lock
	m.metrics.SetLocksHeld(len(m.locks))
	return lock, nil
}

// Release frees path if clientID holds it.
func (m *Manager) Release(p, clientID string) error {
	key := NormalizePath(p)

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[key]
	if !ok {
		return ErrNotLocked
	}
	if existing.ClientID != clientID {
		return ErrNotOwner
	}
	delete(m.locks, key)
	m.metrics.SetLocksHeld(len(m.locks))
	return nil
}

// IsLockedByOther returns the lock on path when it is held by someone other
// than clientID.
func (m *Manager) IsLockedByOther(p, clientID string) (Lock, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lock, ok := m.locks[NormalizePath(p)]
	if !ok || lock.ClientID == clientID {
		return Lock{}, false
	}
	return lock, true
}

func (m *Manager) IsLocked(p string) (Lock, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lock, ok := m.locks[NormalizePath(p)]
	return lock, ok
}

// ReleaseAllForClient drops every lock held by clientID in a single pass and
// returns the freed paths in sorted order.
func (m *Manager) ReleaseAllForClient(clientID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var released []string
	for key, lock := range m.locks {
		if lock.ClientID == clientID {
			delete(m.locks, key)
			released = append(released, key)
		}
	}
	if len(released) > 0 {
		m.metrics.SetLocksHeld(len(m.locks))
	}
	sort.Strings(released)
	return released
}

// Locks returns a snapshot of the table ordered by path.
func (m *Manager) Locks() []Lock {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Lock, 0, len(m.locks))
	for _, lock := range m.locks {
		out = append(out, lock)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.locks)
}
