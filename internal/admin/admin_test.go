package admin

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"ccexec/internal/filemanager"
	"ccexec/internal/protocol"
	"ccexec/internal/queue"
	"ccexec/internal/session"
	"ccexec/internal/stats"
)

func newTestAdmin(t *testing.T) (*Manager, string, func()) {
	t.Helper()

	files, err := filemanager.New(filemanager.Config{
		ProcessingRoot: t.TempDir(),
		OutgoingRoot:   t.TempDir(),
	})
	if err != nil {
		t.Fatalf("filemanager.New: %v", err)
	}
	q := queue.New()
	st := stats.New()

	sessLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen tcp: %v", err)
	}
	sessions, err := session.NewManager(sessLn, session.Config{Files: files, Queue: q, Stats: st})
	if err != nil {
		t.Fatalf("session.NewManager: %v", err)
	}

	sockPath := filepath.Join(t.TempDir(), "admin.sock")
	adminLn, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen unix: %v", err)
	}

	m, err := NewManager(adminLn, Config{
		Sessions: sessions,
		Queue:    q,
		Stats:    st,
		Configs:  NewConfigStore(1023, queue.MaxQueueSize, 300, 1800),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() { sessions.Run(ctx); done <- struct{}{} }()
	go func() { m.Run(ctx); done <- struct{}{} }()

	cleanup := func() {
		cancel()
		<-done
		<-done
	}
	return m, sockPath, cleanup
}

func dialAdmin(t *testing.T, sockPath string) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial admin socket: %v", err)
	}
	return conn
}

func handshake(t *testing.T, conn net.Conn) {
	t.Helper()
	if err := protocol.WriteMessage(conn, protocol.MsgAdminConnect, 1, 0, nil); err != nil {
		t.Fatalf("write admin connect: %v", err)
	}
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("read admin connect ack: %v", err)
	}
	if msg.Header.Type != protocol.MsgAdminConnect {
		t.Fatalf("response type = %v, want MsgAdminConnect", msg.Header.Type)
	}
}

func TestCommandBeforeHandshakeIsRejected(t *testing.T) {
	t.Parallel()

	_, sockPath, cleanup := newTestAdmin(t)
	defer cleanup()

	conn := dialAdmin(t, sockPath)
	defer conn.Close()

	if err := protocol.WriteMessage(conn, protocol.MsgAdminListClients, 2, 0, nil); err != nil {
		t.Fatalf("write list clients: %v", err)
	}
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if msg.Header.Type != protocol.MsgError {
		t.Errorf("response type = %v, want MsgError (handshake required)", msg.Header.Type)
	}
}

func TestListClientsAfterHandshakeReturnsTable(t *testing.T) {
	t.Parallel()

	_, sockPath, cleanup := newTestAdmin(t)
	defer cleanup()

	conn := dialAdmin(t, sockPath)
	defer conn.Close()
	handshake(t, conn)

	if err := protocol.WriteMessage(conn, protocol.MsgAdminListClients, 3, 0, nil); err != nil {
		t.Fatalf("write list clients: %v", err)
	}
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if msg.Header.Type != protocol.MsgAdminListClients {
		t.Fatalf("response type = %v, want MsgAdminListClients", msg.Header.Type)
	}
	table, err := protocol.UnmarshalTextTable(msg.Payload)
	if err != nil {
		t.Fatalf("unmarshal text table: %v", err)
	}
	if len(table.Text) == 0 {
		t.Error("expected a non-empty header row even with zero connected clients")
	}
}

func TestSecondAdminConnectionIsRejected(t *testing.T) {
	t.Parallel()

	m, sockPath, cleanup := newTestAdmin(t)
	defer cleanup()

	first := dialAdmin(t, sockPath)
	defer first.Close()
	handshake(t, first)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !m.Active() {
		time.Sleep(5 * time.Millisecond)
	}
	if !m.Active() {
		t.Fatal("admin manager never marked active")
	}

	second := dialAdmin(t, sockPath)
	defer second.Close()
	second.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	if _, err := protocol.ReadMessage(second); err == nil {
		t.Error("expected the second connection to be closed without a response")
	}
}

func TestConfigSetThenGetRoundTrips(t *testing.T) {
	t.Parallel()

	_, sockPath, cleanup := newTestAdmin(t)
	defer cleanup()

	conn := dialAdmin(t, sockPath)
	defer conn.Close()
	handshake(t, conn)

	set, _ := protocol.ConfigEntryPayload{Key: "server.max_sessions", Value: "42"}.Marshal()
	if err := protocol.WriteMessage(conn, protocol.MsgAdminConfigSet, 4, 0, set); err != nil {
		t.Fatalf("write config set: %v", err)
	}
	if msg, err := protocol.ReadMessage(conn); err != nil || msg.Header.Type != protocol.MsgAdminConfigSet {
		t.Fatalf("config set response: msg=%+v err=%v", msg, err)
	}

	get, _ := protocol.ConfigEntryPayload{Key: "server.max_sessions"}.Marshal()
	if err := protocol.WriteMessage(conn, protocol.MsgAdminConfigGet, 5, 0, get); err != nil {
		t.Fatalf("write config get: %v", err)
	}
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("read config get response: %v", err)
	}
	resp, err := protocol.UnmarshalConfigEntry(msg.Payload)
	if err != nil {
		t.Fatalf("unmarshal config entry: %v", err)
	}
	if resp.Value != "42" {
		t.Errorf("Value = %q, want 42", resp.Value)
	}
}

func TestConfigSetUnknownKeyIsRejected(t *testing.T) {
	t.Parallel()

	_, sockPath, cleanup := newTestAdmin(t)
	defer cleanup()

	conn := dialAdmin(t, sockPath)
	defer conn.Close()
	handshake(t, conn)

	set, _ := protocol.ConfigEntryPayload{Key: "does.not.exist", Value: "x"}.Marshal()
	if err := protocol.WriteMessage(conn, protocol.MsgAdminConfigSet, 6, 0, set); err != nil {
		t.Fatalf("write config set: %v", err)
	}
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if msg.Header.Type != protocol.MsgError {
		t.Errorf("response type = %v, want MsgError", msg.Header.Type)
	}
}

func TestKillJobOnUnknownIDIsRejected(t *testing.T) {
	t.Parallel()

	_, sockPath, cleanup := newTestAdmin(t)
	defer cleanup()

	conn := dialAdmin(t, sockPath)
	defer conn.Close()
	handshake(t, conn)

	req, _ := protocol.AdminCommandPayload{CommandType: protocol.AdminCmdKillJob, TargetID: 9999}.Marshal()
	if err := protocol.WriteMessage(conn, protocol.MsgAdminKillJob, 7, 0, req); err != nil {
		t.Fatalf("write kill job: %v", err)
	}
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if msg.Header.Type != protocol.MsgError {
		t.Errorf("response type = %v, want MsgError", msg.Header.Type)
	}
}

func TestConfigSetAcceptNewJobsTogglesQueueAdmission(t *testing.T) {
	t.Parallel()

	files, err := filemanager.New(filemanager.Config{ProcessingRoot: t.TempDir(), OutgoingRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("filemanager.New: %v", err)
	}
	q := queue.New()
	st := stats.New()
	sessLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen tcp: %v", err)
	}
	sessions, err := session.NewManager(sessLn, session.Config{Files: files, Queue: q, Stats: st})
	if err != nil {
		t.Fatalf("session.NewManager: %v", err)
	}

	sockPath := filepath.Join(t.TempDir(), "admin.sock")
	adminLn, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen unix: %v", err)
	}
	m, err := NewManager(adminLn, Config{
		Sessions: sessions,
		Queue:    q,
		Stats:    st,
		Configs:  NewConfigStore(1023, queue.MaxQueueSize, 300, 1800),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sessions.Run(ctx)
	go m.Run(ctx)

	conn := dialAdmin(t, sockPath)
	defer conn.Close()
	handshake(t, conn)

	set, _ := protocol.ConfigEntryPayload{Key: "queue.accept_new_jobs", Value: "false"}.Marshal()
	if err := protocol.WriteMessage(conn, protocol.MsgAdminConfigSet, 9, 0, set); err != nil {
		t.Fatalf("write config set: %v", err)
	}
	if msg, err := protocol.ReadMessage(conn); err != nil || msg.Header.Type != protocol.MsgAdminConfigSet {
		t.Fatalf("config set response: msg=%+v err=%v", msg, err)
	}

	if q.AcceptingNewJobs() {
		t.Fatal("queue still accepting jobs after admin disabled admission")
	}
	if _, err := q.Submit(&queue.Job{SessionID: 1}); err == nil {
		t.Error("Submit succeeded despite admission being disabled")
	}
}

func TestConfigSetMaxSizeTogglesQueueDepthCap(t *testing.T) {
	t.Parallel()

	files, err := filemanager.New(filemanager.Config{ProcessingRoot: t.TempDir(), OutgoingRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("filemanager.New: %v", err)
	}
	q := queue.New()
	st := stats.New()
	sessLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen tcp: %v", err)
	}
	sessions, err := session.NewManager(sessLn, session.Config{Files: files, Queue: q, Stats: st})
	if err != nil {
		t.Fatalf("session.NewManager: %v", err)
	}

	sockPath := filepath.Join(t.TempDir(), "admin.sock")
	adminLn, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen unix: %v", err)
	}
	m, err := NewManager(adminLn, Config{
		Sessions: sessions,
		Queue:    q,
		Stats:    st,
		Configs:  NewConfigStore(1023, queue.MaxQueueSize, 300, 1800),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sessions.Run(ctx)
	go m.Run(ctx)

	conn := dialAdmin(t, sockPath)
	defer conn.Close()
	handshake(t, conn)

	set, _ := protocol.ConfigEntryPayload{Key: "queue.max_size", Value: "1"}.Marshal()
	if err := protocol.WriteMessage(conn, protocol.MsgAdminConfigSet, 10, 0, set); err != nil {
		t.Fatalf("write config set: %v", err)
	}
	if msg, err := protocol.ReadMessage(conn); err != nil || msg.Header.Type != protocol.MsgAdminConfigSet {
		t.Fatalf("config set response: msg=%+v err=%v", msg, err)
	}

	if _, err := q.Submit(&queue.Job{SessionID: 1}); err != nil {
		t.Fatalf("first Submit under new cap: %v", err)
	}
	if _, err := q.Submit(&queue.Job{SessionID: 1}); err == nil {
		t.Error("expected second Submit to be rejected once queue.max_size is 1")
	}
}

func TestServerShutdownAcksAndInvokesCallback(t *testing.T) {
	t.Parallel()

	files, err := filemanager.New(filemanager.Config{ProcessingRoot: t.TempDir(), OutgoingRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("filemanager.New: %v", err)
	}
	q := queue.New()
	st := stats.New()
	sessLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen tcp: %v", err)
	}
	sessions, err := session.NewManager(sessLn, session.Config{Files: files, Queue: q, Stats: st})
	if err != nil {
		t.Fatalf("session.NewManager: %v", err)
	}

	sockPath := filepath.Join(t.TempDir(), "admin.sock")
	adminLn, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen unix: %v", err)
	}

	shutdownCh := make(chan bool, 1)
	m, err := NewManager(adminLn, Config{
		Sessions: sessions,
		Queue:    q,
		Stats:    st,
		Configs:  NewConfigStore(1023, queue.MaxQueueSize, 300, 1800),
		Shutdown: func(graceful bool, delay time.Duration) { shutdownCh <- graceful },
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sessions.Run(ctx)
	go m.Run(ctx)

	conn := dialAdmin(t, sockPath)
	defer conn.Close()
	handshake(t, conn)

	req, _ := protocol.AdminCommandPayload{CommandType: protocol.AdminCmdServerShutdown, Flags: 0, TargetID: 0}.Marshal()
	if err := protocol.WriteMessage(conn, protocol.MsgAdminServerShutdown, 8, 0, req); err != nil {
		t.Fatalf("write shutdown: %v", err)
	}
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("read shutdown ack: %v", err)
	}
	if msg.Header.Type != protocol.MsgAdminServerShutdown {
		t.Fatalf("response type = %v, want MsgAdminServerShutdown", msg.Header.Type)
	}

	select {
	case graceful := <-shutdownCh:
		if !graceful {
			t.Error("graceful = false, want true for flags=0")
		}
	case <-time.After(time.Second):
		t.Fatal("shutdown callback never invoked")
	}
}
