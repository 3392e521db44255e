// Package storage resolves where ironpad keeps its configuration and
// documents, with XDG support.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	appName = "ironpad"

	// DataDirEnv overrides every other data directory source.
	DataDirEnv = "IRONPAD_DATA_DIR"
)

var ErrEmptyDataDir = errors.New("data directory resolved to an empty path")

// Dirs provides platform-native directory resolution with XDG support.
type Dirs struct {
	Config string // User configuration (config.yaml)
}

// ProjectDirs returns project-local directories.
type ProjectDirs struct {
	Root   string // .ironpad/
	Config string // .ironpad/config.yaml
}

var (
	globalDirs     *Dirs
	globalDirsOnce sync.Once
	globalDirsErr  error
)

// ResolveDirs returns platform-appropriate directories.
// Results are cached after first call.
func ResolveDirs() (*Dirs, error) {
	globalDirsOnce.Do(func() {
		globalDirs, globalDirsErr = resolveDirsImpl()
	})
	return globalDirs, globalDirsErr
}

func resolveDirsImpl() (*Dirs, error) {
	dirs := &Dirs{
		Config: resolveDir("XDG_CONFIG_HOME", platformConfigDefault()),
	}
	return dirs, nil
}

func resolveDir(envVar, fallback string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, appName)
	}
	return fallback
}

// ResolveProjectDirs returns project-local directories for the given project root.
func ResolveProjectDirs(projectRoot string) *ProjectDirs {
	dir := filepath.Join(projectRoot, "."+appName)
	return &ProjectDirs{
		Root:   dir,
		Config: filepath.Join(dir, "config.yaml"),
	}
}

// ConfigDir returns the config subdirectory path.
func (d *Dirs) ConfigDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Config}, subpath...)...)
}

// UserConfigFile is the per-user config.yaml.
func (d *Dirs) UserConfigFile() string {
	return d.ConfigDir("config.yaml")
}

// =============================================================================
// Data Directory
// =============================================================================

// DataDirSource names where ResolveDataDir found the directory.
type DataDirSource string

const (
	SourceFlag        DataDirSource = "flag"
	SourceEnv         DataDirSource = "env"
	SourceConfig      DataDirSource = "config"
	SourceBundled     DataDirSource = "bundled"
	SourceDevelopment DataDirSource = "development"
)

// executableDir is replaced in tests.
var executableDir = func() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// ResolveDataDir picks the document root, in order: IRONPAD_DATA_DIR, the
// configured value, <exe dir>/data when a bundled frontend sits next to the
// binary (<exe dir>/static/index.html), and finally ../data. The directory is
// created if missing and returned as an absolute path.
func ResolveDataDir(configured string) (string, DataDirSource, error) {
	path, source := dataDirCandidate(configured)
	abs, err := PrepareDataDir(path)
	return abs, source, err
}

// PrepareDataDir makes path absolute and creates it if missing.
func PrepareDataDir(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyDataDir
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve data dir %s: %w", path, err)
	}
	if err := EnsureStandardDir(abs); err != nil {
		return "", fmt.Errorf("create data dir %s: %w", abs, err)
	}
	return abs, nil
}

func dataDirCandidate(configured string) (string, DataDirSource) {
	if v := os.Getenv(DataDirEnv); v != "" {
		return v, SourceEnv
	}
	if configured != "" {
		return configured, SourceConfig
	}
	exeDir := executableDir()
	if _, err := os.Stat(filepath.Join(exeDir, "static", "index.html")); err == nil {
		return filepath.Join(exeDir, "data"), SourceBundled
	}
	return filepath.Join("..", "data"), SourceDevelopment
}

// EnsureDir creates a directory with the specified permissions if it doesn't exist.
func EnsureDir(path string, perm os.FileMode) error {
	if perm == 0 {
		perm = 0700
	}
	return os.MkdirAll(path, perm)
}

// EnsureStandardDir creates a directory with standard permissions (0755).
func EnsureStandardDir(path string) error {
	return EnsureDir(path, 0755)
}
