// Package runtimeapp wires every long-lived worker into one process
// lifecycle: listener/socket setup, working-directory creation, signal
// handling, and a coordinated shutdown fan-out. Grounded on
// original_source/server/src/server.c's main()/setup_signal_handlers (three
// worker threads: client dispatcher, admin dispatcher, job processor, torn
// down on SIGINT/SIGTERM) and on ManuGH-xg2g's internal/daemon.App, which
// wires an analogous set of background subsystems through a single
// errgroup.Group instead of hand-rolled WaitGroup bookkeeping.
package runtimeapp

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ccexec/internal/admin"
	"ccexec/internal/compiler"
	"ccexec/internal/config"
	"ccexec/internal/filemanager"
	"ccexec/internal/queue"
	"ccexec/internal/sandbox"
	"ccexec/internal/session"
	"ccexec/internal/stats"
	"ccexec/pkg/apperrors"
	"ccexec/pkg/logger"
)

// shutdownGrace bounds how long Run waits for in-flight work to unwind once
// its context is cancelled, matching the teacher's defaultShutdownTimeout
// pattern in cmd/gateway/main.go.
const shutdownGrace = 15 * time.Second

// App owns every wired component for one server process.
type App struct {
	cfg config.Config

	registry  *compiler.Registry
	sandboxes *sandbox.Manager
	files     *filemanager.Manager
	q         *queue.Queue
	sup       *queue.Supervisor
	st        *stats.Stats
	configs   *admin.ConfigStore

	sessionLn net.Listener
	sessions  *session.Manager

	adminLn *net.UnixListener
	adminMg *admin.Manager

	metricsSrv *http.Server

	shutdownOnce chan struct{}
	cancel       context.CancelFunc
}

// New builds and binds every component but starts nothing yet; Run does
// that. Binding listeners eagerly here means New itself fails fast on a
// port conflict instead of only surfacing it once Run is called.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	registry := compiler.DetectAll(ctx)
	logger.Info(ctx, "detected compiler toolchains", zap.Int("count", registry.Count()))

	sandboxes := &sandbox.Manager{Root: cfg.Sandbox.Root}
	if cfg.Sandbox.EnableCgroup {
		sandboxes.CgroupRoot = cfg.Sandbox.CgroupRoot
	}
	if err := os.MkdirAll(cfg.Sandbox.Root, 0o755); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.FileIo, "create sandbox root %s", cfg.Sandbox.Root)
	}

	files, err := filemanager.New(filemanager.Config{
		ProcessingRoot:  cfg.Storage.ProcessingRoot,
		OutgoingRoot:    cfg.Storage.OutgoingRoot,
		MaxUploadBytes:  cfg.Storage.MaxUploadBytes,
		MaxFileAge:      cfg.Storage.MaxFileAge,
		CleanupInterval: cfg.Storage.CleanupInterval,
	})
	if err != nil {
		return nil, err
	}

	st := stats.New()
	q := queue.New()
	q.SetMaxSize(cfg.Queue.MaxSize)
	sup := queue.NewSupervisor(q, queue.SupervisorConfig{
		Registry:       registry,
		Sandboxes:      sandboxes,
		Files:          files,
		Stats:          st,
		CompileTimeout: cfg.Queue.CompileTimeout,
		ExecuteTimeout: cfg.Queue.ExecutionTimeout,
		RetentionGC:    cfg.Queue.RetentionGrace,
		SandboxLimits: sandbox.Limits{
			MemoryMB: cfg.Sandbox.MemoryMB,
			PIDs:     cfg.Sandbox.PIDs,
		},
	})

	sessionLn, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.Network, "listen on %s", cfg.Server.ListenAddr)
	}
	sessions, err := session.NewManager(sessionLn, session.Config{
		Registry:       registry,
		Files:          files,
		Queue:          q,
		Stats:          st,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
	})
	if err != nil {
		sessionLn.Close()
		return nil, err
	}

	os.Remove(cfg.Admin.SocketPath)
	adminLn, err := net.ListenUnix("unix", &net.UnixAddr{Name: cfg.Admin.SocketPath, Net: "unix"})
	if err != nil {
		sessionLn.Close()
		return nil, apperrors.Wrapf(err, apperrors.Network, "listen on admin socket %s", cfg.Admin.SocketPath)
	}
	if err := os.Chmod(cfg.Admin.SocketPath, admin.SocketMode); err != nil {
		sessionLn.Close()
		adminLn.Close()
		return nil, apperrors.Wrap(err, apperrors.Internal).WithMessage("chmod admin socket")
	}

	configs := admin.NewConfigStore(session.MaxSessions, cfg.Queue.MaxSize, int(cfg.Server.ClientTimeout.Seconds()), int(cfg.Admin.IdleTimeout.Seconds()))

	app := &App{
		cfg:       cfg,
		registry:  registry,
		sandboxes: sandboxes,
		files:     files,
		q:         q,
		sup:       sup,
		st:        st,
		configs:   configs,
		sessionLn: sessionLn,
		sessions:  sessions,
		adminLn:   adminLn,
	}

	adminMg, err := admin.NewManager(adminLn, admin.Config{
		Sessions: sessions,
		Queue:    q,
		Stats:    st,
		Configs:  configs,
		Shutdown: app.requestShutdown,
	})
	if err != nil {
		sessionLn.Close()
		adminLn.Close()
		return nil, err
	}
	app.adminMg = adminMg

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(st.Registry(), promhttp.HandlerOpts{}))
		app.metricsSrv = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
	}

	return app, nil
}

// requestShutdown is handed to internal/admin as its ServerShutdown
// callback. A non-graceful request exits the process immediately after the
// admin ack has already been flushed, matching admin_handler.c's
// handle_server_shutdown forcing exit(0); a graceful request waits out
// delay and then cancels the run context so every worker unwinds through
// its own shutdown path instead.
func (a *App) requestShutdown(graceful bool, delay time.Duration) {
	if !graceful {
		os.Exit(0)
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if a.cancel != nil {
		a.cancel()
	}
}

// Run starts every worker and blocks until ctx is cancelled or a worker
// reports a fatal error, then tears everything down within shutdownGrace.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { a.sup.Run(gctx); return nil })
	g.Go(func() error { a.files.Run(gctx); return nil })
	g.Go(func() error { a.sessions.Run(gctx); return nil })
	g.Go(func() error { a.adminMg.Run(gctx); return nil })
	g.Go(func() error { a.runGCLoop(gctx); return nil })

	if a.metricsSrv != nil {
		g.Go(func() error {
			logger.Info(gctx, "metrics server started", zap.String("addr", a.metricsSrv.Addr))
			err := a.metricsSrv.ListenAndServe()
			if err != nil && err != http.ErrServerClosed {
				return apperrors.Wrap(err, apperrors.Network).WithMessage("metrics server")
			}
			return nil
		})
	}

	<-gctx.Done()
	logger.Info(ctx, "shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if a.metricsSrv != nil {
		_ = a.metricsSrv.Shutdown(shutdownCtx)
	}
	a.q.Close()
	a.sessionLn.Close()
	a.adminLn.Close()
	os.Remove(a.cfg.Admin.SocketPath)

	return g.Wait()
}

// runGCLoop periodically reaps terminal jobs past their retention grace and
// deletes their artefacts, matching cleanup_completed_jobs' own ticker
// cadence (reused here at the same period the file manager sweeps).
func (a *App) runGCLoop(ctx context.Context) {
	interval := a.cfg.Storage.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := a.sup.GC()
			if removed > 0 {
				logger.Info(ctx, "garbage collected terminal jobs", zap.Int("count", removed))
			}
		}
	}
}
