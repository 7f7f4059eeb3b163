// Package session implements one client connection's state machine and the
// single poll-based dispatcher loop that drives every connection, grounded
// on original_source/server/src/client_handler.c's client_thread_handler.
// The original spawns nothing per client: one thread polls the listening
// socket plus every open connection with a 1-second tick and dispatches
// whichever fds come back readable. golang.org/x/sys/unix.Poll reproduces
// that shape directly instead of the usual net.Listener/goroutine-per-
// connection idiom, which the concurrency model explicitly rules out.
package session

import (
	"bytes"
	"net"
	"time"

	"ccexec/internal/protocol"
)

// State is a session's position in the connect/upload/compile lifecycle,
// mirroring client_state_t.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateIdle
	StateUploading
	StateProcessing
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateIdle:
		return "idle"
	case StateUploading:
		return "uploading"
	case StateProcessing:
		return "processing"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// pendingUpload accumulates chunks for one in-flight MSG_FILE_UPLOAD_START
// .. MSG_FILE_UPLOAD_END sequence. The original leaves chunk storage as a
// TODO and only acknowledges; this module actually buffers and persists the
// bytes through internal/filemanager once the upload closes.
type pendingUpload struct {
	filename  string
	totalSize uint64
	chunkSize uint32
	checksum  uint32
	buf       bytes.Buffer
}

// Session is one connected client, the Go analogue of client_info_t.
type Session struct {
	ID             uint32
	RemoteAddr     string
	ClientName     string
	ClientPlatform string

	conn net.Conn
	fd   int

	state        State
	lastActivity time.Time
	activeJobs   map[uint32]bool

	upload *pendingUpload

	// uploads maps a completed upload's filename to the full path
	// filemanager wrote it to, so a later MsgCompileRequest can find it.
	uploads map[string]string

	bytesReceived uint64
	bytesSent     uint64
}

func newSession(id uint32, conn net.Conn, fd int) *Session {
	return &Session{
		ID:           id,
		RemoteAddr:   conn.RemoteAddr().String(),
		conn:         conn,
		fd:           fd,
		state:        StateConnecting,
		lastActivity: time.Now(),
		activeJobs:   make(map[uint32]bool),
		uploads:      make(map[string]string),
	}
}

// State returns the session's current state under no lock: callers already
// hold the Manager's mutex whenever they can observe a Session at all.
func (s *Session) State() State { return s.state }

// touch records activity, resetting the idle-timeout clock.
func (s *Session) touch() { s.lastActivity = time.Now() }

// idleFor reports how long the session has been silent.
func (s *Session) idleFor(now time.Time) time.Duration { return now.Sub(s.lastActivity) }

// Snapshot is the admin-facing view of one session (see internal/admin's
// ListClients).
type Snapshot struct {
	ID             uint32
	RemoteAddr     string
	ClientName     string
	ClientPlatform string
	State          State
	ActiveJobs     int
	BytesReceived  uint64
	BytesSent      uint64
	IdleSeconds    int64
}

func (s *Session) snapshot(now time.Time) Snapshot {
	return Snapshot{
		ID:             s.ID,
		RemoteAddr:     s.RemoteAddr,
		ClientName:     s.ClientName,
		ClientPlatform: s.ClientPlatform,
		State:          s.state,
		ActiveJobs:     len(s.activeJobs),
		BytesReceived:  s.bytesReceived,
		BytesSent:      s.bytesSent,
		IdleSeconds:    int64(s.idleFor(now).Seconds()),
	}
}

// progressFor is a tiny convenience the status handler uses to fill
// protocol.JobStatusPayload's progress field with the same 0/50/100
// approximation the original hardcodes.
func progressFor(status protocol.JobStatus) uint16 {
	switch status {
	case protocol.JobStatusCompleted, protocol.JobStatusFailed, protocol.JobStatusCancelled, protocol.JobStatusTimeout:
		return 100
	case protocol.JobStatusRunning, protocol.JobStatusCompiling:
		return 50
	default:
		return 0
	}
}
