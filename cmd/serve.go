package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OlaProeis/ironPad/core/config"
	"github.com/OlaProeis/ironPad/core/events"
	"github.com/OlaProeis/ironPad/core/filesystem"
	"github.com/OlaProeis/ironPad/core/git"
	"github.com/OlaProeis/ironPad/core/locks"
	"github.com/OlaProeis/ironPad/core/metrics"
	"github.com/OlaProeis/ironPad/core/session"
	"github.com/OlaProeis/ironPad/core/watcher"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	listenHost      = "127.0.0.1"
	shutdownTimeout = 5 * time.Second
)

var errNoFreePort = errors.New("no available port")

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync server",
	Long: `Run the sync server: watch the document root, accept editor sessions on
/ws, and auto-commit changes to the git repository.

Without --addr the first free port between server.port_start and
server.port_end on 127.0.0.1 is used. SIGHUP reloads the configuration;
log.level applies immediately, everything else on the next start.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (disables the port scan)")
}

func runServe(cmd *cobra.Command, args []string) error {
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		env.config.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := newServer(env)
	if err != nil {
		return err
	}
	return srv.run(ctx)
}

// =============================================================================
// Server
// =============================================================================

// server owns every long-lived component of a running instance.
type server struct {
	env     *appEnv
	logger  *slog.Logger
	metrics *metrics.Metrics

	// markers is shared by store and watcher so the watcher recognises the
	// store's writes.
	markers  *filesystem.Markers
	store    *filesystem.Store
	hub      *events.Hub
	locks    *locks.Manager
	sessions *session.Manager
	repo     *git.Repository
	watcher  *watcher.Watcher

	listener net.Listener
	http     *http.Server
}

func newServer(env *appEnv) (*server, error) {
	cfg := env.config
	logger := env.logger
	m := metrics.New()

	hub := events.NewHub(events.HubConfig{
		BufferSize: cfg.Hub.BufferSize,
		Logger:     logger.With("component", "hub"),
		Metrics:    m,
	})
	lockManager := locks.NewManager(locks.WithMetrics(m))

	sessions, err := session.NewManager(session.Config{
		Hub:          hub,
		Locks:        lockManager,
		PingInterval: cfg.Session.PingInterval,
		WriteTimeout: cfg.Session.WriteTimeout,
		Logger:       logger.With("component", "session"),
		Metrics:      m,
	})
	if err != nil {
		return nil, err
	}

	repo, err := git.New(git.Config{
		Root:            env.dataDir,
		RemoteName:      cfg.Git.Remote,
		AuthorName:      cfg.Git.AuthorName,
		AuthorEmail:     cfg.Git.AuthorEmail,
		DefaultBranch:   cfg.Git.DefaultBranch,
		LogLimit:        cfg.Git.LogLimit,
		KnownHostsFiles: cfg.Git.KnownHosts,
		Logger:          logger.With("component", "git"),
		Metrics:         m,
	})
	if err != nil {
		return nil, err
	}

	markers := filesystem.NewMarkers(cfg.Watcher.MarkerHorizon)
	store, err := filesystem.NewStore(filesystem.StoreConfig{
		Root:    env.dataDir,
		Markers: markers,
		Logger:  logger.With("component", "store"),
	})
	if err != nil {
		repo.Close()
		return nil, err
	}

	listener, err := listen(cfg.Server.Addr, cfg.Server.PortStart, cfg.Server.PortEnd)
	if err != nil {
		repo.Close()
		return nil, err
	}

	s := &server{
		env:      env,
		logger:   logger,
		metrics:  m,
		markers:  markers,
		store:    store,
		hub:      hub,
		locks:    lockManager,
		sessions: sessions,
		repo:     repo,
		listener: listener,
	}
	s.http = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if env.manager != nil {
		env.manager.OnChange(s.applyConfig)
	}
	return s, nil
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", s.sessions)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

// run starts the background components and serves until ctx is done, then
// shuts everything down in reverse order.
func (s *server) run(ctx context.Context) error {
	cfg := s.env.config
	defer s.repo.Close()

	s.startWatcher(ctx)

	if created, err := s.repo.InitIfAbsent(); err != nil {
		s.logger.Warn("git init skipped", "error", err)
	} else if created {
		s.logger.Info("created git repository", "root", s.env.dataDir)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Git.AutoCommit {
		committer := git.NewAutoCommitter(s.repo, git.AutoCommitConfig{
			Interval:   cfg.Git.AutoCommitInterval,
			OnConflict: s.publishConflicts,
			Logger:     s.logger.With("component", "autocommit"),
		})
		g.Go(func() error {
			committer.Run(gctx)
			return nil
		})
	}

	if s.env.manager != nil {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		g.Go(func() error {
			defer signal.Stop(hup)
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-hup:
					s.reloadConfig()
				}
			}
		})
	}

	g.Go(func() error {
		s.logger.Info("ironpad running", "url", "http://"+s.listener.Addr().String(), "data_dir", s.env.dataDir)
		if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})

	return g.Wait()
}

// startWatcher degrades to a warning: the server still runs, only external
// edits go unnoticed.
func (s *server) startWatcher(ctx context.Context) {
	cfg := s.env.config.Watcher
	if !cfg.Enabled {
		s.logger.Info("file watcher disabled")
		return
	}

	w, err := watcher.New(watcher.Config{
		Root:           s.env.dataDir,
		Markers:        s.markers,
		Publisher:      s.hub,
		Debounce:       cfg.Debounce,
		SuppressWindow: cfg.SuppressWindow,
		Excludes:       cfg.Excludes,
		Logger:         s.logger.With("component", "watcher"),
		Metrics:        s.metrics,
	})
	if err == nil {
		err = w.Start(ctx)
	}
	if err != nil {
		s.logger.Warn("file watcher failed to start", "error", err)
		return
	}
	s.watcher = w
}

// reloadConfig rereads every config layer. A failed reload keeps the
// current settings.
func (s *server) reloadConfig() {
	if err := s.env.manager.Reload(); err != nil {
		s.logger.Warn("config reload failed, keeping current settings", "error", err)
	}
}

// applyConfig runs after a successful reload. Only the log level is applied
// live; components keep the settings they were built with.
func (s *server) applyConfig(cfg *config.Config) {
	if !s.env.levelPinned && s.env.level != nil {
		if lvl, err := parseLevel(cfg.Log.Level); err == nil {
			s.env.level.Set(lvl)
		}
	}
	s.logger.Info("configuration reloaded", "log_level", cfg.Log.Level, "log_level_pinned", s.env.levelPinned)
}

func (s *server) publishConflicts(paths []string) {
	s.logger.Warn("git conflicts detected", "files", paths)
	s.hub.Publish(events.GitConflict{Files: paths})
}

func (s *server) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", "error", err)
	}
	s.sessions.Close()
	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.hub.Close()
	s.logger.Info("ironpad stopped")
}

// listen binds addr, or the first free port in [start, end] on 127.0.0.1.
// The listener is returned open so the port cannot be taken in between.
func listen(addr string, start, end int) (net.Listener, error) {
	if addr != "" {
		return net.Listen("tcp", addr)
	}
	for port := start; port <= end; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(listenHost, fmt.Sprint(port)))
		if err == nil {
			return ln, nil
		}
	}
	return nil, fmt.Errorf("%w in range %d-%d", errNoFreePort, start, end)
}
