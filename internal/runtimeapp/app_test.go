package runtimeapp

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ccexec/internal/config"
	"ccexec/internal/protocol"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Admin.SocketPath = filepath.Join(t.TempDir(), "admin.sock")
	cfg.Storage.ProcessingRoot = filepath.Join(t.TempDir(), "processing")
	cfg.Storage.OutgoingRoot = filepath.Join(t.TempDir(), "outgoing")
	cfg.Storage.CleanupInterval = time.Hour
	cfg.Sandbox.Root = filepath.Join(t.TempDir(), "sandboxes")
	cfg.Metrics.Enabled = false
	return cfg
}

func TestNewBindsListenersAndSocket(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	app, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer app.sessionLn.Close()
	defer app.adminLn.Close()

	if _, err := os.Stat(cfg.Admin.SocketPath); err != nil {
		t.Errorf("admin socket not created: %v", err)
	}
	info, err := os.Stat(cfg.Admin.SocketPath)
	if err != nil {
		t.Fatalf("stat admin socket: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("admin socket mode = %o, want 0600", info.Mode().Perm())
	}
}

func TestRunAcceptsAConnectionAndShutsDownCleanly(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	app, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	addr := app.sessionLn.Addr().String()
	sockPath := cfg.Admin.SocketPath

	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(ctx) }()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial session listener: %v", err)
	}
	hello, _ := protocol.HelloPayload{ClientName: "smoke-test"}.Marshal()
	if err := protocol.WriteMessage(conn, protocol.MsgHello, 1, 0, hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	if _, err := protocol.ReadMessage(conn); err != nil {
		t.Fatalf("read hello response: %v", err)
	}
	conn.Close()

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after shutdown")
	}

	if _, err := os.Stat(sockPath); err == nil {
		t.Error("admin socket file still present after shutdown")
	}
}
