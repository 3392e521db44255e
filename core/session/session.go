package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/OlaProeis/ironPad/core/events"
	"github.com/OlaProeis/ironPad/core/locks"
)

var errSubscriptionClosed = errors.New("subscription closed")

// session is one connected client. Only the forwarder writes to conn.
type session struct {
	id     string
	conn   Conn
	m      *Manager
	sub    *events.Subscription
	direct chan events.ChangeEvent
	logger *slog.Logger

	teardownOnce sync.Once
}

// open registers the client and subscribes it before anything is sent so no
// event published after the Connected ack is missed.
func (m *Manager) open(conn Conn) *session {
	id := uuid.NewString()
	s := &session{
		id:     id,
		conn:   conn,
		m:      m,
		sub:    m.config.Hub.Subscribe(),
		direct: make(chan events.ChangeEvent, directQueueSize),
		logger: m.logger.With("client_id", id),
	}
	m.config.Registry.Add(id)
	m.config.Metrics.SessionOpened()
	s.logger.Info("client connected", "clients", m.config.Registry.Count())
	return s
}

func (s *session) run(ctx context.Context) {
	defer s.teardown()

	if err := s.write(events.Connected{ClientID: s.id}); err != nil {
		s.logger.Debug("connected ack failed", "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	// Unblocks the reader once either side has finished.
	stop := context.AfterFunc(gctx, func() { _ = s.conn.Close() })
	defer stop()

	g.Go(func() error { return s.forward(gctx) })
	g.Go(func() error { return s.read(gctx) })

	if err := g.Wait(); err != nil {
		s.logger.Debug("session ended", "reason", err)
	}
}

// teardown frees the client's locks, tells everyone, and deregisters. It
// runs exactly once per session.
func (s *session) teardown() {
	s.teardownOnce.Do(func() {
		s.sub.Close()

		released := s.m.config.Locks.ReleaseAllForClient(s.id)
		for _, path := range released {
			s.m.config.Hub.Publish(events.FileUnlocked{Path: path})
		}

		s.m.config.Registry.Remove(s.id)
		s.m.config.Metrics.SessionClosed()
		_ = s.conn.Close()

		s.logger.Info("client disconnected",
			"released_locks", len(released),
			"clients", s.m.config.Registry.Count())
	})
}

// =============================================================================
// Forwarder
// =============================================================================

func (s *session) forward(ctx context.Context) error {
	var tick <-chan time.Time
	if s.m.config.PingInterval > 0 {
		ticker := time.NewTicker(s.m.config.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.sub.Events():
			if !ok {
				return errSubscriptionClosed
			}
			if err := s.write(ev); err != nil {
				return err
			}
		case ev := <-s.direct:
			if err := s.write(ev); err != nil {
				return err
			}
		case <-tick:
			if err := s.ping(); err != nil {
				return err
			}
		}
	}
}

func (s *session) write(ev events.ChangeEvent) error {
	data, err := events.Encode(ev)
	if err != nil {
		s.logger.Error("encode event", "event", ev.Type().String(), "error", err)
		return nil
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.m.config.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", ev.Type(), err)
	}
	return nil
}

// ping sends a protocol ping, which browsers answer without client code,
// followed by the application Ping event.
func (s *session) ping() error {
	deadline := time.Now().Add(s.m.config.WriteTimeout)
	if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return s.write(events.Ping{})
}

// reply queues ev for this client only. It is dropped if the queue is full.
func (s *session) reply(ev events.ChangeEvent) {
	select {
	case s.direct <- ev:
	default:
		s.logger.Debug("reply dropped", "event", ev.Type().String())
	}
}

// =============================================================================
// Reader
// =============================================================================

func (s *session) read(ctx context.Context) error {
	if s.m.config.PingInterval > 0 {
		s.conn.SetPongHandler(func(string) error {
			s.extendReadDeadline()
			return nil
		})
	}

	for {
		s.extendReadDeadline()

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		msg, err := DecodeClientMessage(data)
		if err != nil {
			s.logger.Debug("ignoring client message", "error", err)
			continue
		}
		s.handle(msg)
	}
}

func (s *session) extendReadDeadline() {
	if s.m.config.PingInterval > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(2 * s.m.config.PingInterval))
	}
}

func (s *session) handle(msg ClientMessage) {
	switch m := msg.(type) {
	case LockFile:
		s.handleLock(m)
	case UnlockFile:
		s.handleUnlock(m)
	case Pong:
	}
}

func (s *session) handleLock(m LockFile) {
	kind, err := locks.ParseKind(m.LockType)
	if err != nil {
		s.logger.Warn("lock request with unknown type", "path", m.Path, "lock_type", m.LockType)
		s.reply(events.Error{Message: err.Error()})
		return
	}

	lock, err := s.m.config.Locks.Acquire(m.Path, s.id, kind)
	if err != nil {
		s.logger.Info("lock refused", "path", m.Path, "error", err)
		s.reply(events.Error{Message: err.Error()})
		return
	}

	s.m.config.Hub.Publish(events.FileLocked{
		Path:     lock.Path,
		ClientID: s.id,
		LockType: lock.Kind.String(),
	})
}

func (s *session) handleUnlock(m UnlockFile) {
	if err := s.m.config.Locks.Release(m.Path, s.id); err != nil {
		s.logger.Info("unlock refused", "path", m.Path, "error", err)
		s.reply(events.Error{Message: err.Error()})
		return
	}
	s.m.config.Hub.Publish(events.FileUnlocked{Path: locks.NormalizePath(m.Path)})
}
