package session

import (
	"context"
	"net"
	"testing"
	"time"

	"ccexec/internal/filemanager"
	"ccexec/internal/protocol"
	"ccexec/internal/queue"
	"ccexec/internal/stats"
)

func newTestManager(t *testing.T) (*Manager, net.Listener, func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	files, err := filemanager.New(filemanager.Config{
		ProcessingRoot: t.TempDir(),
		OutgoingRoot:   t.TempDir(),
	})
	if err != nil {
		t.Fatalf("filemanager.New: %v", err)
	}

	q := queue.New()
	m, err := NewManager(ln, Config{
		Files: files,
		Queue: q,
		Stats: stats.New(),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	cleanup := func() {
		cancel()
		<-done
	}
	return m, ln, cleanup
}

func dialAndHello(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	hello, _ := protocol.HelloPayload{ClientName: "test-client", ClientPlatform: "test"}.Marshal()
	if err := protocol.WriteMessage(conn, protocol.MsgHello, 1, 0, hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("read hello response: %v", err)
	}
	if msg.Header.Type != protocol.MsgHello {
		t.Fatalf("response type = %v, want MsgHello", msg.Header.Type)
	}
	return conn
}

func TestHelloAuthenticatesAndEchoesServerIdentity(t *testing.T) {
	t.Parallel()

	m, ln, cleanup := newTestManager(t)
	defer cleanup()

	conn := dialAndHello(t, ln.Addr().String())
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.Count() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if m.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", m.Count())
	}
}

func TestPingReceivesPong(t *testing.T) {
	t.Parallel()

	_, ln, cleanup := newTestManager(t)
	defer cleanup()

	conn := dialAndHello(t, ln.Addr().String())
	defer conn.Close()

	if err := protocol.WriteMessage(conn, protocol.MsgPing, 2, 0, nil); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if msg.Header.Type != protocol.MsgPong {
		t.Errorf("response type = %v, want MsgPong", msg.Header.Type)
	}
	if msg.Header.CorrelationID != 2 {
		t.Errorf("correlation id = %d, want 2", msg.Header.CorrelationID)
	}
}

func TestCompileRequestBeforeUploadIsRejected(t *testing.T) {
	t.Parallel()

	_, ln, cleanup := newTestManager(t)
	defer cleanup()

	conn := dialAndHello(t, ln.Addr().String())
	defer conn.Close()

	req, _ := protocol.CompileRequestPayload{Filename: "main.py", Mode: protocol.ModeInterpretOnly}.Marshal()
	if err := protocol.WriteMessage(conn, protocol.MsgCompileRequest, 3, 0, req); err != nil {
		t.Fatalf("write compile request: %v", err)
	}
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if msg.Header.Type != protocol.MsgError {
		t.Errorf("response type = %v, want MsgError (file not uploaded)", msg.Header.Type)
	}
}

func TestUploadThenCompileRequestSubmitsAJob(t *testing.T) {
	t.Parallel()

	m, ln, cleanup := newTestManager(t)
	defer cleanup()

	conn := dialAndHello(t, ln.Addr().String())
	defer conn.Close()

	source := []byte("print('hi')")
	start, _ := protocol.FileUploadStartPayload{
		FileSize:  uint64(len(source)),
		Filename:  "main.py",
		ChunkSize: uint32(len(source)),
	}.Marshal()
	if err := protocol.WriteMessage(conn, protocol.MsgFileUploadStart, 10, 0, start); err != nil {
		t.Fatalf("write upload start: %v", err)
	}
	if _, err := protocol.ReadMessage(conn); err != nil {
		t.Fatalf("read upload start ack: %v", err)
	}

	chunk := protocol.FileChunkHeader{ChunkID: 0, ChunkSize: uint32(len(source))}.Marshal()
	chunk = append(chunk, source...)
	if err := protocol.WriteMessage(conn, protocol.MsgFileUploadChunk, 11, 0, chunk); err != nil {
		t.Fatalf("write chunk: %v", err)
	}
	if _, err := protocol.ReadMessage(conn); err != nil {
		t.Fatalf("read chunk ack: %v", err)
	}

	if err := protocol.WriteMessage(conn, protocol.MsgFileUploadEnd, 12, 0, nil); err != nil {
		t.Fatalf("write upload end: %v", err)
	}
	if _, err := protocol.ReadMessage(conn); err != nil {
		t.Fatalf("read upload end ack: %v", err)
	}

	req, _ := protocol.CompileRequestPayload{Filename: "main.py", Mode: protocol.ModeInterpretOnly}.Marshal()
	if err := protocol.WriteMessage(conn, protocol.MsgCompileRequest, 13, 0, req); err != nil {
		t.Fatalf("write compile request: %v", err)
	}
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("read compile response: %v", err)
	}
	if msg.Header.Type != protocol.MsgCompileResponse {
		t.Fatalf("response type = %v, want MsgCompileResponse", msg.Header.Type)
	}
	resp, err := protocol.UnmarshalCompileResponse(msg.Payload)
	if err != nil {
		t.Fatalf("unmarshal compile response: %v", err)
	}
	if resp.Status != protocol.JobStatusQueued {
		t.Errorf("Status = %v, want Queued", resp.Status)
	}

	job, ok := m.cfg.Queue.Find(resp.JobID)
	if !ok {
		t.Fatalf("job %d not tracked by queue", resp.JobID)
	}
	if job.SourceFile != "main.py" || job.UploadedPath == "" {
		t.Errorf("job = %+v, want SourceFile=main.py and a non-empty UploadedPath", job)
	}
}

func TestStatusRequestForUnknownJobReturnsError(t *testing.T) {
	t.Parallel()

	_, ln, cleanup := newTestManager(t)
	defer cleanup()

	conn := dialAndHello(t, ln.Addr().String())
	defer conn.Close()

	req, _ := protocol.StatusRequestPayload{JobID: 9999}.Marshal()
	if err := protocol.WriteMessage(conn, protocol.MsgStatusRequest, 20, 0, req); err != nil {
		t.Fatalf("write status request: %v", err)
	}
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if msg.Header.Type != protocol.MsgError {
		t.Errorf("response type = %v, want MsgError", msg.Header.Type)
	}
}

func TestResultRequestBeforeJobCompletesIsRejected(t *testing.T) {
	t.Parallel()

	m, ln, cleanup := newTestManager(t)
	defer cleanup()

	conn := dialAndHello(t, ln.Addr().String())
	defer conn.Close()

	id, err := m.cfg.Queue.Submit(&queue.Job{SessionID: firstSessionID(t, m)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	req, _ := protocol.ResultRequestPayload{JobID: id}.Marshal()
	if err := protocol.WriteMessage(conn, protocol.MsgResultRequest, 30, 0, req); err != nil {
		t.Fatalf("write result request: %v", err)
	}
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if msg.Header.Type != protocol.MsgError {
		t.Errorf("response type = %v, want MsgError (job not completed)", msg.Header.Type)
	}
}

func firstSessionID(t *testing.T, m *Manager) uint32 {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		for id := range m.byID {
			m.mu.Unlock()
			return id
		}
		m.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no session registered in time")
	return 0
}

func TestDisconnectCancelsSessionJobs(t *testing.T) {
	t.Parallel()

	m, ln, cleanup := newTestManager(t)
	defer cleanup()

	conn := dialAndHello(t, ln.Addr().String())
	sid := firstSessionID(t, m)

	id, err := m.cfg.Queue.Submit(&queue.Job{SessionID: sid})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if job, ok := m.cfg.Queue.Find(id); ok && job.Status == protocol.JobStatusCancelled {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job was never cancelled after disconnect")
}
