// Package filesystem owns the on-disk document tree: root-bounded path
// resolution, crash-safe writes and the self-write marker table shared with
// the watcher.
package filesystem

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrEmptyPath     = errors.New("empty path")
	ErrPathTraversal = errors.New("path traversal detected")
	ErrOutsideRoot   = errors.New("path outside document root")
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
	tempExt  = ".tmp"
)

type StoreConfig struct {
	Root    string
	Markers *Markers
	Logger  *slog.Logger
}

// Store writes documents under a single root directory.
type Store struct {
	root    string
	markers *Markers
	logger  *slog.Logger
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("store root: %w", ErrEmptyPath)
	}
	root, err := resolveRoot(cfg.Root)
	if err != nil {
		return nil, err
	}

	markers := cfg.Markers
	if markers == nil {
		markers = NewMarkers(DefaultMarkerHorizon)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{root: root, markers: markers, logger: logger}, nil
}

func resolveRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return filepath.Clean(abs), nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) Markers() *Markers { return s.markers }

// Resolve returns the absolute location of path, which may be absolute or
// relative to the root. Paths escaping the root are rejected.
func (s *Store) Resolve(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	if containsTraversal(path) {
		return "", ErrPathTraversal
	}

	var abs string
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Join(s.root, filepath.FromSlash(path))
	}

	if !isWithinRoot(abs, s.root) || abs == s.root {
		return "", ErrOutsideRoot
	}
	return abs, nil
}

// Rel converts path to the normalised key used by markers, locks and change
// events: slash separated and relative to the root.
func (s *Store) Rel(path string) (string, error) {
	abs, err := s.Resolve(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func containsTraversal(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

func isWithinRoot(path, root string) bool {
	return strings.HasPrefix(path, root+string(filepath.Separator)) || path == root
}

// IsTempName reports whether name is a hidden temporary produced by AtomicWrite.
func IsTempName(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, ".") && strings.HasSuffix(base, tempExt)
}

// AtomicWrite replaces path with data so that readers observe either the old
// or the new content, never a mix. The self-write marker is registered before
// any bytes reach the disk. A failed write leaves the target untouched and
// removes the temporary.
func (s *Store) AtomicWrite(path string, data []byte) error {
	abs, err := s.Resolve(path)
	if err != nil {
		return err
	}
	rel, err := s.Rel(abs)
	if err != nil {
		return err
	}

	s.markers.Mark(rel)

	if err := writeFileAtomic(abs, data); err != nil {
		s.logger.Error("atomic write failed", "path", rel, "error", err)
		return err
	}

	s.logger.Debug("atomic write", "path", rel, "bytes", len(data))
	return nil
}

func writeFileAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("atomic write mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*"+tempExt)
	if err != nil {
		return fmt.Errorf("atomic write create: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("atomic write write: %w", err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		return fmt.Errorf("atomic write chmod: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("atomic write sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("atomic write close: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("atomic write rename: %w", err)
	}
	success = true

	// The rename is durable only once the directory entry is flushed.
	syncDir(dir)
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}

func (s *Store) Read(path string) ([]byte, error) {
	abs, err := s.Resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// Rename moves a document within the root. Both endpoints are marked so the
// watcher treats the move as a self-write.
func (s *Store) Rename(from, to string) error {
	fromAbs, err := s.Resolve(from)
	if err != nil {
		return err
	}
	toAbs, err := s.Resolve(to)
	if err != nil {
		return err
	}
	fromRel, _ := s.Rel(fromAbs)
	toRel, _ := s.Rel(toAbs)

	s.markers.Mark(fromRel)
	s.markers.Mark(toRel)

	if err := os.MkdirAll(filepath.Dir(toAbs), dirPerm); err != nil {
		return fmt.Errorf("rename mkdir: %w", err)
	}
	if err := os.Rename(fromAbs, toAbs); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	syncDir(filepath.Dir(toAbs))

	s.logger.Debug("renamed", "from", fromRel, "to", toRel)
	return nil
}

// Exists reports whether path is present under the root.
func (s *Store) Exists(path string) (bool, error) {
	abs, err := s.Resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(abs)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
