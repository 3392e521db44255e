// Package session runs one duplex websocket session per connected client:
// hub events flow out, lock requests flow in, and a disconnect frees every
// lock the client held.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/OlaProeis/ironPad/core/events"
	"github.com/OlaProeis/ironPad/core/locks"
	"github.com/OlaProeis/ironPad/core/metrics"
)

const (
	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second

	directQueueSize = 16
)

var ErrMissingDependency = errors.New("session manager requires a hub and a lock manager")

// Conn is the subset of *websocket.Conn a session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Broadcaster is the hub surface a session needs. *events.Hub satisfies it.
type Broadcaster interface {
	Publish(ev events.ChangeEvent)
	Subscribe() *events.Subscription
}

// Config configures a Manager.
type Config struct {
	Hub      Broadcaster
	Locks    *locks.Manager
	Registry *Registry

	// PingInterval enables heartbeats and the matching read deadline of two
	// intervals. Any inbound frame or protocol pong renews the deadline. Zero
	// disables both.
	PingInterval time.Duration

	// WriteTimeout bounds every frame write.
	WriteTimeout time.Duration

	// CheckOrigin is passed to the websocket upgrader. Nil accepts any origin.
	CheckOrigin func(r *http.Request) bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Manager accepts websocket connections and owns their sessions.
type Manager struct {
	config   Config
	upgrader websocket.Upgrader
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Hub == nil || cfg.Locks == nil {
		return nil, ErrMissingDependency
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = func(*http.Request) bool { return true }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (m *Manager) Registry() *Registry { return m.config.Registry }

// ServeHTTP upgrades the request and runs the session until it ends.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	m.Serve(r.Context(), conn)
}

// Serve runs a session on an established connection and blocks until it
// ends. The session also ends when Close is called.
func (m *Manager) Serve(ctx context.Context, conn Conn) {
	m.wg.Add(1)
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	s := m.open(conn)
	s.run(ctx)
}

// Close ends every session and waits for their teardown.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}
