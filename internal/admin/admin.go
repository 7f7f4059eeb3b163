// Package admin implements the local control-plane endpoint operators use
// to inspect and steer a running server, grounded on
// original_source/server/src/admin_handler.c's admin_thread_handler: a
// single admin connection at a time, gated behind a pre-handshake
// permission check, dispatching a small fixed command set. Where the
// original authenticates admins with a password compared in admin_handler.c,
// this module substitutes filesystem access to a 0600 Unix-domain socket
// for that check, since only a user who can already read the server's own
// runtime directory should be able to open it.
package admin

import (
	"context"
	"net"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"ccexec/internal/protocol"
	"ccexec/internal/queue"
	"ccexec/internal/session"
	"ccexec/internal/stats"
	"ccexec/pkg/apperrors"
	"ccexec/pkg/logger"
)

// IdleTimeout matches §5's 1800-second admin session idle timeout.
const IdleTimeout = 1800 * time.Second

const pollTickMillis = 1000

// SocketMode is the permission bits applied to the rendezvous socket file;
// only its owner may connect, substituting for password authentication.
const SocketMode = 0o600

// Config wires the admin dispatcher to the components its commands touch.
type Config struct {
	Sessions *session.Manager
	Queue    *queue.Queue
	Stats    *stats.Stats
	Configs  *ConfigStore

	// Shutdown is invoked once ServerShutdown accepts a request. graceful
	// false means exit immediately after the ack is flushed; true means the
	// caller should let in-flight jobs finish and then stop.
	Shutdown func(graceful bool, delay time.Duration)
}

// Manager is the single-admin-session dispatcher, the Go analogue of
// admin_thread_handler plus its module-level g_admin_session.
type Manager struct {
	cfg Config

	listener   net.Listener
	listenerFD int

	mu           sync.Mutex
	conn         net.Conn
	fd           int
	authed       bool
	lastActivity time.Time
	commandCount uint64
}

// NewManager wraps listener (already bound and listening on a Unix-domain
// socket) with an admin dispatcher.
func NewManager(listener net.Listener, cfg Config) (*Manager, error) {
	fd, err := connFD(listener)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal).WithMessage("resolve admin listener fd")
	}
	return &Manager{cfg: cfg, listener: listener, listenerFD: fd, fd: -1}, nil
}

func connFD(c any) (int, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return 0, apperrors.New(apperrors.Internal).WithMessage("connection does not expose a raw fd")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	if err := raw.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return 0, err
	}
	return fd, nil
}

// Run blocks servicing the (at most one) admin connection until ctx is
// cancelled, matching admin_thread_handler's own poll loop.
func (m *Manager) Run(ctx context.Context) {
	logger.Info(ctx, "admin dispatcher started")
	for {
		select {
		case <-ctx.Done():
			m.closeConn()
			logger.Info(ctx, "admin dispatcher stopped")
			return
		default:
		}

		pollFDs := m.buildPollFDs()
		n, err := unix.Poll(pollFDs, pollTickMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			logger.Error(ctx, "admin poll failed", zap.Error(err))
			continue
		}

		if n == 0 {
			m.checkIdle(ctx)
			continue
		}

		for _, pfd := range pollFDs {
			if pfd.Revents == 0 {
				continue
			}
			if pfd.Fd == int32(m.listenerFD) {
				m.acceptOne(ctx)
				continue
			}
			m.service(ctx, int(pfd.Fd))
		}
		m.checkIdle(ctx)
	}
}

func (m *Manager) buildPollFDs() []unix.PollFd {
	m.mu.Lock()
	defer m.mu.Unlock()
	fds := []unix.PollFd{{Fd: int32(m.listenerFD), Events: unix.POLLIN}}
	if m.conn != nil {
		fds = append(fds, unix.PollFd{Fd: int32(m.fd), Events: unix.POLLIN})
	}
	return fds
}

// acceptOne enforces the single-admin-session gate: a second connection
// attempt while one is already active is refused outright, matching
// admin_thread_handler's `if (g_admin_session.client_fd != -1) { close; }`.
func (m *Manager) acceptOne(ctx context.Context) {
	conn, err := m.listener.Accept()
	if err != nil {
		logger.Warn(ctx, "admin accept failed", zap.Error(err))
		return
	}

	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		logger.Warn(ctx, "rejecting admin connection, session already active")
		conn.Close()
		return
	}

	fd, err := connFD(conn)
	if err != nil {
		m.mu.Unlock()
		conn.Close()
		return
	}

	m.conn = conn
	m.fd = fd
	m.authed = false
	m.lastActivity = time.Now()
	m.commandCount = 0
	m.mu.Unlock()

	logger.Info(ctx, "admin connected")
}

func (m *Manager) service(ctx context.Context, fd int) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil || fd != m.fd {
		return
	}

	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		m.disconnect(ctx, "read error")
		return
	}

	m.mu.Lock()
	m.lastActivity = time.Now()
	m.commandCount++
	m.mu.Unlock()

	if err := m.dispatch(ctx, msg); err != nil {
		m.disconnect(ctx, err.Error())
	}
}

func (m *Manager) checkIdle(ctx context.Context) {
	m.mu.Lock()
	active := m.conn != nil
	idle := time.Since(m.lastActivity)
	m.mu.Unlock()
	if active && idle > IdleTimeout {
		logger.Info(ctx, "admin session idle timeout")
		m.disconnect(ctx, "idle timeout")
	}
}

func (m *Manager) disconnect(ctx context.Context, reason string) {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.fd = -1
	m.authed = false
	m.mu.Unlock()
	if conn == nil {
		return
	}
	conn.Close()
	logger.Info(ctx, "admin disconnected", zap.String("reason", reason))
}

func (m *Manager) closeConn() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Active reports whether an admin session currently holds the connection,
// for tests and for internal/runtimeapp's status logging.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}
