package locks

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Acquire / Release
// =============================================================================

func TestManager_AcquireAndRelease(t *testing.T) {
	m := NewManager()

	lock, err := m.Acquire("notes/a.md", "c1", KindEditor)
	require.NoError(t, err)
	assert.Equal(t, "notes/a.md", lock.Path)
	assert.Equal(t, "c1", lock.ClientID)
	assert.Equal(t, KindEditor, lock.Kind)

	require.NoError(t, m.Release("notes/a.md", "c1"))
	_, held := m.IsLocked("notes/a.md")
	assert.False(t, held)
}

func TestManager_AcquireConflict(t *testing.T) {
	m := NewManager()

	_, err := m.Acquire("a.md", "c1", KindEditor)
	require.NoError(t, err)

	_, err = m.Acquire("a.md", "c2", KindTaskView)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockConflict)

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "c1", conflict.Holder)
	assert.Equal(t, KindEditor, conflict.Kind)
}

func TestManager_ReacquireBySameOwner(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := base
	m := NewManager(WithClock(func() time.Time { return now }))

	first, err := m.Acquire("a.md", "c1", KindEditor)
	require.NoError(t, err)

	now = base.Add(time.Minute)
	second, err := m.Acquire("a.md", "c1", KindTaskView)
	require.NoError(t, err)

	assert.Equal(t, KindTaskView, second.Kind)
	assert.Equal(t, first.AcquiredAt, second.AcquiredAt)
	assert.Equal(t, 1, m.Len())
}

func TestManager_ReleaseErrors(t *testing.T) {
	m := NewManager()

	assert.ErrorIs(t, m.Release("a.md", "c1"), ErrNotLocked)

	_, err := m.Acquire("a.md", "c1", KindEditor)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Release("a.md", "c2"), ErrNotOwner)
	_, held := m.IsLocked("a.md")
	assert.True(t, held, "failed release must not change the table")
}

func TestManager_EmptyPath(t *testing.T) {
	m := NewManager()

	_, err := m.Acquire("", "c1", KindEditor)
	assert.ErrorIs(t, err, ErrEmptyPath)
	_, err = m.Acquire("/", "c1", KindEditor)
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestManager_PathsAreNormalized(t *testing.T) {
	m := NewManager()

	_, err := m.Acquire("/notes//a.md", "c1", KindEditor)
	require.NoError(t, err)

	_, err = m.Acquire("notes/./a.md", "c2", KindEditor)
	assert.ErrorIs(t, err, ErrLockConflict)
	require.NoError(t, m.Release("notes/a.md", "c1"))
}

// =============================================================================
// Probes
// =============================================================================

func TestManager_IsLockedByOther(t *testing.T) {
	m := NewManager()
	_, err := m.Acquire("a.md", "c1", KindEditor)
	require.NoError(t, err)

	_, other := m.IsLockedByOther("a.md", "c1")
	assert.False(t, other)

	lock, other := m.IsLockedByOther("a.md", "c2")
	assert.True(t, other)
	assert.Equal(t, "c1", lock.ClientID)

	_, other = m.IsLockedByOther("b.md", "c2")
	assert.False(t, other)
}

func TestManager_LocksSnapshotSorted(t *testing.T) {
	m := NewManager()
	for _, p := range []string{"c.md", "a.md", "b.md"} {
		_, err := m.Acquire(p, "c1", KindEditor)
		require.NoError(t, err)
	}

	snapshot := m.Locks()
	require.Len(t, snapshot, 3)
	assert.Equal(t, "a.md", snapshot[0].Path)
	assert.Equal(t, "c.md", snapshot[2].Path)
}

// =============================================================================
// Bulk Release
// =============================================================================

func TestManager_ReleaseAllForClient(t *testing.T) {
	m := NewManager()
	for _, p := range []string{"b.md", "a.md"} {
		_, err := m.Acquire(p, "c1", KindEditor)
		require.NoError(t, err)
	}
	_, err := m.Acquire("x.md", "c2", KindTaskView)
	require.NoError(t, err)

	released := m.ReleaseAllForClient("c1")
	assert.Equal(t, []string{"a.md", "b.md"}, released)

	_, held := m.IsLocked("x.md")
	assert.True(t, held)
	assert.Empty(t, m.ReleaseAllForClient("c1"))
}

func TestManager_ConcurrentAcquireSingleWinner(t *testing.T) {
	m := NewManager()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			client := string(rune('A' + id))
			if _, err := m.Acquire("contended.md", client, KindEditor); err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

// =============================================================================
// Kind
// =============================================================================

func TestKind_WireNames(t *testing.T) {
	k, err := ParseKind("task_view")
	require.NoError(t, err)
	assert.Equal(t, KindTaskView, k)

	_, err = ParseKind("reader")
	assert.ErrorIs(t, err, ErrUnknownKind)

	data, err := json.Marshal(Lock{Path: "a.md", ClientID: "c1", Kind: KindEditor})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"lock_type":"editor"`)
}
