// Package watcher turns filesystem activity under the document root into
// change events for connected clients, ignoring the process's own writes.
package watcher

import "time"

// =============================================================================
// FileOperation
// =============================================================================

// FileOperation is the raw operation reported by fsnotify.
type FileOperation int

const (
	OpCreate FileOperation = iota
	OpModify
	OpDelete
	OpRename
)

func (op FileOperation) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// =============================================================================
// RawEvent
// =============================================================================

// RawEvent is one coalesced filesystem notification. Several raw operations
// on the same path inside one debounce window collapse into a single RawEvent
// carrying the last operation seen.
type RawEvent struct {
	// Path is absolute.
	Path string

	// Operation is the last fsnotify operation observed for Path.
	Operation FileOperation

	// Time is when the last operation was observed.
	Time time.Time
}

// Batch is the set of paths that went quiet in the same flush.
type Batch []RawEvent
