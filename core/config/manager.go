// Package config loads layered ironpad configuration: defaults, YAML files,
// then IRONPAD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OlaProeis/ironPad/core/storage"
	"gopkg.in/yaml.v3"
)

const envPrefix = "IRONPAD_"

var ErrInvalidConfig = errors.New("invalid configuration")

type Manager struct {
	config      atomic.Pointer[Config]
	dirs        *storage.Dirs
	projectRoot string
	file        string
	watchers    []func(*Config)
	watcherMu   sync.RWMutex
}

type Config struct {
	// DataDir is the document root. Empty defers to storage.ResolveDataDir.
	DataDir string        `yaml:"data_dir"`
	Server  ServerConfig  `yaml:"server"`
	Watcher WatcherConfig `yaml:"watcher"`
	Hub     HubConfig     `yaml:"hub"`
	Session SessionConfig `yaml:"session"`
	Git     GitConfig     `yaml:"git"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	// Addr pins the listen address and disables the port scan.
	Addr      string `yaml:"addr"`
	PortStart int    `yaml:"port_start"`
	PortEnd   int    `yaml:"port_end"`
}

type WatcherConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Debounce       time.Duration `yaml:"debounce"`
	SuppressWindow time.Duration `yaml:"suppress_window"`
	MarkerHorizon  time.Duration `yaml:"marker_horizon"`
	Excludes       []string      `yaml:"excludes"`
}

type HubConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

type SessionConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type GitConfig struct {
	AutoCommit         bool          `yaml:"auto_commit"`
	AutoCommitInterval time.Duration `yaml:"auto_commit_interval"`
	Remote             string        `yaml:"remote"`
	AuthorName         string        `yaml:"author_name"`
	AuthorEmail        string        `yaml:"author_email"`
	LogLimit           int           `yaml:"log_limit"`
	DefaultBranch      string        `yaml:"default_branch"`
	KnownHosts         []string      `yaml:"known_hosts"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithFile adds an explicit config file, applied after the user and project
// files. Unlike those, it must exist.
func WithFile(path string) Option {
	return func(m *Manager) { m.file = path }
}

// WithProjectRoot sets where .ironpad/config.yaml is looked up. Default ".".
func WithProjectRoot(root string) Option {
	return func(m *Manager) { m.projectRoot = root }
}

func NewManager(dirs *storage.Dirs, opts ...Option) *Manager {
	m := &Manager{
		dirs:        dirs,
		projectRoot: ".",
	}
	for _, opt := range opts {
		opt(m)
	}
	m.config.Store(DefaultConfig())
	return m
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			PortStart: 3000,
			PortEnd:   3010,
		},
		Watcher: WatcherConfig{
			Enabled:        true,
			Debounce:       500 * time.Millisecond,
			SuppressWindow: 2 * time.Second,
			MarkerHorizon:  5 * time.Second,
		},
		Hub: HubConfig{
			BufferSize: 100,
		},
		Session: SessionConfig{
			PingInterval: 30 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Git: GitConfig{
			AutoCommit:         true,
			AutoCommitInterval: 60 * time.Second,
			Remote:             "origin",
			AuthorName:         "Ironpad",
			AuthorEmail:        "ironpad@local",
			LogLimit:           50,
			DefaultBranch:      "main",
			KnownHosts:         defaultKnownHosts(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultKnownHosts() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".ssh", "known_hosts")}
}

func (m *Manager) Get() *Config {
	return m.config.Load()
}

// Load rebuilds the configuration from every layer. On failure the previous
// configuration stays active.
func (m *Manager) Load() error {
	cfg := DefaultConfig()

	if err := m.loadUserConfig(cfg); err != nil {
		return fmt.Errorf("user config: %w", err)
	}

	if err := m.loadProjectConfig(cfg); err != nil {
		return fmt.Errorf("project config: %w", err)
	}

	if m.file != "" {
		if _, err := os.Stat(m.file); err != nil {
			return fmt.Errorf("config file: %w", err)
		}
		if err := loadYAMLFile(m.file, cfg); err != nil {
			return fmt.Errorf("config file %s: %w", m.file, err)
		}
	}

	if err := applyEnvironment(cfg); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	m.config.Store(cfg)
	m.notifyWatchers(cfg)

	return nil
}

func (m *Manager) loadUserConfig(cfg *Config) error {
	if m.dirs == nil {
		return nil
	}
	return loadYAMLFile(m.dirs.UserConfigFile(), cfg)
}

func (m *Manager) loadProjectConfig(cfg *Config) error {
	projectDirs := storage.ResolveProjectDirs(m.projectRoot)
	return loadYAMLFile(projectDirs.Config, cfg)
}

// loadYAMLFile decodes onto cfg, so keys absent from the file keep their
// current value. A missing file is not an error.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func applyEnvironment(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(envPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(envPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv(envPrefix + key); v != "" {
			b, err := strconv.ParseBool(strings.ToLower(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("ADDR", &cfg.Server.Addr)
	num("PORT_START", &cfg.Server.PortStart)
	num("PORT_END", &cfg.Server.PortEnd)

	flag("WATCHER_ENABLED", &cfg.Watcher.Enabled)
	dur("WATCHER_DEBOUNCE", &cfg.Watcher.Debounce)
	dur("WATCHER_SUPPRESS_WINDOW", &cfg.Watcher.SuppressWindow)
	dur("WATCHER_MARKER_HORIZON", &cfg.Watcher.MarkerHorizon)

	num("HUB_BUFFER_SIZE", &cfg.Hub.BufferSize)
	dur("SESSION_PING_INTERVAL", &cfg.Session.PingInterval)

	flag("GIT_AUTO_COMMIT", &cfg.Git.AutoCommit)
	dur("GIT_AUTO_COMMIT_INTERVAL", &cfg.Git.AutoCommitInterval)
	str("GIT_REMOTE", &cfg.Git.Remote)
	str("GIT_AUTHOR_NAME", &cfg.Git.AuthorName)
	str("GIT_AUTHOR_EMAIL", &cfg.Git.AuthorEmail)

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	return errors.Join(errs...)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Server.Addr == "" {
		if c.Server.PortStart <= 0 || c.Server.PortEnd > 65535 || c.Server.PortStart > c.Server.PortEnd {
			invalid("server port range %d-%d", c.Server.PortStart, c.Server.PortEnd)
		}
	}
	if c.Watcher.Debounce <= 0 {
		invalid("watcher.debounce must be positive")
	}
	if c.Watcher.SuppressWindow <= 0 {
		invalid("watcher.suppress_window must be positive")
	}
	if c.Watcher.SuppressWindow >= c.Watcher.MarkerHorizon {
		invalid("watcher.suppress_window (%s) must be shorter than watcher.marker_horizon (%s)",
			c.Watcher.SuppressWindow, c.Watcher.MarkerHorizon)
	}
	if c.Hub.BufferSize <= 0 {
		invalid("hub.buffer_size must be positive")
	}
	if c.Session.PingInterval <= 0 {
		invalid("session.ping_interval must be positive")
	}
	if c.Git.AutoCommitInterval <= 0 {
		invalid("git.auto_commit_interval must be positive")
	}
	if c.Git.LogLimit <= 0 {
		invalid("git.log_limit must be positive")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		invalid("log.level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		invalid("log.format %q", c.Log.Format)
	}

	return errors.Join(errs...)
}

func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

func (m *Manager) Reload() error {
	return m.Load()
}
