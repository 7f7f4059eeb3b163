package session

import (
	"context"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"go.uber.org/zap"

	"ccexec/internal/compiler"
	"ccexec/internal/filemanager"
	"ccexec/internal/protocol"
	"ccexec/internal/queue"
	"ccexec/internal/stats"
	"ccexec/pkg/apperrors"
	"ccexec/pkg/logger"
)

// IdleTimeout matches §5's session idle timeout.
const IdleTimeout = 300 * time.Second

// MaxSessions matches client_handler.c's MAX_POLL_FDS budget (minus the
// listening socket's own slot).
const MaxSessions = 1023

// pollTickMillis is poll(2)'s timeout argument, matching the original's
// hardcoded 1000ms tick used to drive periodic idle-client sweeps.
const pollTickMillis = 1000

// Config wires the dispatcher to the components each handler drives.
type Config struct {
	Registry       *compiler.Registry
	Files          *filemanager.Manager
	Queue          *queue.Queue
	Stats          *stats.Stats
	MaxUploadBytes int64
}

// Manager owns every open session and the single poll loop that services
// them, the Go analogue of client_thread_handler plus its module-level
// g_poll_fds array.
type Manager struct {
	cfg Config

	listener   net.Listener
	listenerFD int

	mu       sync.Mutex
	byFD     map[int]*Session
	byID     map[uint32]*Session
	nextID   uint32
}

// NewManager wraps listener (already bound and listening) with a session
// dispatcher.
func NewManager(listener net.Listener, cfg Config) (*Manager, error) {
	fd, err := connFD(listener)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal).WithMessage("resolve listener fd")
	}
	return &Manager{
		cfg:        cfg,
		listener:   listener,
		listenerFD: fd,
		byFD:       make(map[int]*Session),
		byID:       make(map[uint32]*Session),
		nextID:     1,
	}, nil
}

// connFD extracts the raw file descriptor backing a net.Listener or
// net.Conn via SyscallConn, the same handle poll(2) needs.
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
	ctrlErr := raw.Control(func(f uintptr) { fd = int(f) })
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}

// Run blocks servicing connections until ctx is cancelled, matching
// client_thread_handler's while(!shutdown_requested) loop.
func (m *Manager) Run(ctx context.Context) {
	logger.Info(ctx, "session dispatcher started")
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			logger.Info(ctx, "session dispatcher stopped")
			return
		default:
		}

		pollFDs := m.buildPollFDs()
		n, err := unix.Poll(pollFDs, pollTickMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			logger.Error(ctx, "poll failed", zap.Error(err))
			continue
		}

		if n == 0 {
			m.sweep(ctx)
			continue
		}

		if pollFDs[0].Fd == int32(m.listenerFD) && pollFDs[0].Revents&unix.POLLIN != 0 {
			m.acceptOne(ctx)
		}
		for _, pfd := range pollFDs[1:] {
			if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
				m.service(ctx, int(pfd.Fd))
			}
		}
		m.sweep(ctx)
	}
}

func (m *Manager) buildPollFDs() []unix.PollFd {
	m.mu.Lock()
	defer m.mu.Unlock()

	fds := make([]unix.PollFd, 0, len(m.byFD)+1)
	fds = append(fds, unix.PollFd{Fd: int32(m.listenerFD), Events: unix.POLLIN})
	for fd := range m.byFD {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	return fds
}

func (m *Manager) acceptOne(ctx context.Context) {
	conn, err := m.listener.Accept()
	if err != nil {
		logger.Warn(ctx, "accept failed", zap.Error(err))
		return
	}

	m.mu.Lock()
	if len(m.byFD) >= MaxSessions {
		m.mu.Unlock()
		logger.Warn(ctx, "session limit reached, rejecting connection", zap.String("remote", conn.RemoteAddr().String()))
		conn.Close()
		return
	}
	m.mu.Unlock()

	fd, err := connFD(conn)
	if err != nil {
		logger.Warn(ctx, "resolve conn fd failed", zap.Error(err))
		conn.Close()
		return
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.nextID == 0 {
		m.nextID = 1
	}
	s := newSession(id, conn, fd)
	m.byFD[fd] = s
	m.byID[id] = s
	m.mu.Unlock()

	m.cfg.Stats.ClientConnected()
	logger.Info(ctx, "client connected", zap.Uint32("session_id", id), zap.String("remote", s.RemoteAddr))
}

func (m *Manager) service(ctx context.Context, fd int) {
	m.mu.Lock()
	s, ok := m.byFD[fd]
	m.mu.Unlock()
	if !ok {
		return
	}

	msg, err := protocol.ReadMessage(s.conn)
	if err != nil {
		m.disconnect(ctx, s, "read error")
		return
	}

	s.touch()
	s.bytesReceived += uint64(protocol.HeaderSize) + uint64(len(msg.Payload))
	m.cfg.Stats.BytesReceived(uint64(protocol.HeaderSize) + uint64(len(msg.Payload)))

	if err := m.dispatch(ctx, s, msg); err != nil {
		m.disconnect(ctx, s, err.Error())
	}
}

// sweep reaps sessions idle past IdleTimeout and resets any session whose
// active jobs have all reached a terminal state, matching
// cleanup_inactive_clients plus the state-reset the original's handler
// never performs (see internal/queue's job-completion contract in
// SPEC_FULL.md).
func (m *Manager) sweep(ctx context.Context) {
	now := time.Now()

	m.mu.Lock()
	var stale []*Session
	live := make([]*Session, 0, len(m.byFD))
	for _, s := range m.byFD {
		if s.idleFor(now) > IdleTimeout {
			stale = append(stale, s)
		} else {
			live = append(live, s)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		logger.Info(ctx, "client idle timeout", zap.Uint32("session_id", s.ID))
		m.disconnect(ctx, s, "idle timeout")
	}

	for _, s := range live {
		m.reapFinishedJobs(s)
	}
}

func (m *Manager) reapFinishedJobs(s *Session) {
	m.mu.Lock()
	ids := make([]uint32, 0, len(s.activeJobs))
	for id := range s.activeJobs {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		job, ok := m.cfg.Queue.StatusOf(id)
		if !ok || !job.Status.IsTerminal() {
			continue
		}
		m.mu.Lock()
		delete(s.activeJobs, id)
		if len(s.activeJobs) == 0 && s.state == StateProcessing {
			s.state = StateIdle
		}
		m.mu.Unlock()
	}
}

func (m *Manager) disconnect(ctx context.Context, s *Session, reason string) {
	m.mu.Lock()
	_, ok := m.byFD[s.fd]
	if ok {
		delete(m.byFD, s.fd)
		delete(m.byID, s.ID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	s.conn.Close()
	n := m.cfg.Queue.CancelForSession(s.ID)
	m.cfg.Stats.ClientDisconnected()
	logger.Info(ctx, "client disconnected",
		zap.Uint32("session_id", s.ID), zap.String("reason", reason), zap.Int("jobs_cancelled", n))
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.byFD))
	for _, s := range m.byFD {
		sessions = append(sessions, s)
	}
	m.byFD = make(map[int]*Session)
	m.byID = make(map[uint32]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.conn.Close()
		m.cfg.Queue.CancelForSession(s.ID)
	}
}

// Snapshot returns a stable view of every open session, for internal/admin's
// ListClients.
func (m *Manager) Snapshot() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	out := make([]Snapshot, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, s.snapshot(now))
	}
	return out
}

// Disconnect force-closes a session by ID, for internal/admin's
// DisconnectClient/BulkDisconnect.
func (m *Manager) Disconnect(id uint32) bool {
	m.mu.Lock()
	s, ok := m.byID[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.disconnect(context.Background(), s, "admin disconnect")
	return true
}

// Count reports how many sessions are currently open.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}
