// Package cmd provides the ironpad command line.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/OlaProeis/ironPad/core/config"
	"github.com/OlaProeis/ironPad/core/storage"
	"github.com/spf13/cobra"
)

// =============================================================================
// Global Flags
// =============================================================================

var (
	configFile string
	dataDir    string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "ironpad",
	Short: "Ironpad - local-first markdown notes with live sync and git history",
	Long: `Ironpad keeps a directory of markdown documents in sync with connected
editors and versions every change in a git repository.

Configuration is read from the user config file, .ironpad/config.yaml in the
working directory, --config, and IRONPAD_* environment variables, in that order.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Explicit config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Document root (overrides data_dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
}

func Execute() error {
	return rootCmd.Execute()
}

// =============================================================================
// Shared Setup
// =============================================================================

// appEnv is what every command needs after flags are parsed.
type appEnv struct {
	config  *config.Config
	manager *config.Manager
	dataDir string
	logger  *slog.Logger

	// level backs logger so a config reload can change verbosity. It is
	// pinned when --log-level was given.
	level       *slog.LevelVar
	levelPinned bool
}

// loadEnv resolves configuration, installs the process logger and finds the
// document root. Flags win over every config layer and the environment.
func loadEnv(cmd *cobra.Command) (*appEnv, error) {
	var opts []config.Option
	if configFile != "" {
		opts = append(opts, config.WithFile(configFile))
	}

	dirs, err := storage.ResolveDirs()
	if err != nil {
		return nil, fmt.Errorf("resolve directories: %w", err)
	}
	manager := config.NewManager(dirs, opts...)
	if err := manager.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := manager.Get()

	levelName, format := cfg.Log.Level, cfg.Log.Format
	if logLevel != "" {
		levelName = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}
	lvl, err := parseLevel(levelName)
	if err != nil {
		return nil, err
	}
	level := new(slog.LevelVar)
	level.Set(lvl)
	logger, err := newLogger(cmd.ErrOrStderr(), level, format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	var (
		root   string
		source = storage.SourceFlag
	)
	if dataDir != "" {
		root, err = storage.PrepareDataDir(dataDir)
	} else {
		root, source, err = storage.ResolveDataDir(cfg.DataDir)
	}
	if err != nil {
		return nil, err
	}
	logger.Debug("data directory resolved", "path", root, "source", source)

	return &appEnv{
		config:      cfg,
		manager:     manager,
		dataDir:     root,
		logger:      logger,
		level:       level,
		levelPinned: logLevel != "",
	}, nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}

func newLogger(w io.Writer, level slog.Leveler, format string) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
