package locks

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrLockConflict = errors.New("file is locked by another client")
	ErrNotLocked    = errors.New("file is not locked")
	ErrNotOwner     = errors.New("lock is held by another client")
	ErrEmptyPath    = errors.New("empty path")
	ErrUnknownKind  = errors.New("unknown lock type")
)

// Kind distinguishes why a client holds a lock.
type Kind int

const (
	KindEditor Kind = iota
	KindTaskView
)

var kindNames = map[Kind]string{
	KindEditor:   "editor",
	KindTaskView: "task_view",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a wire name to a Kind.
func ParseKind(s string) (Kind, error) {
	for kind, name := range kindNames {
		if name == s {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) MarshalText() ([]byte, error) {
	name, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(k))
	}
	return []byte(name), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Lock is one entry of the lock table.
type Lock struct {
	Path       string    `json:"path"`
	ClientID   string    `json:"client_id"`
	Kind       Kind      `json:"lock_type"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// ConflictError is returned when another client already holds the path.
type ConflictError struct {
	Path   string
	Holder string
	Kind   Kind
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s is locked by %s (%s)", e.Path, e.Holder, e.Kind)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrLockConflict
}
