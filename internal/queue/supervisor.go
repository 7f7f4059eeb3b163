package queue

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"ccexec/internal/compiler"
	"ccexec/internal/executor"
	"ccexec/internal/filemanager"
	"ccexec/internal/protocol"
	"ccexec/internal/sandbox"
	"ccexec/internal/stats"
	"ccexec/pkg/apperrors"
	"ccexec/pkg/logger"
)

// SupervisorConfig wires the single worker to the components it drives per
// job, matching process_compilation_job's dependencies on the compiler
// service, file manager, and statistics.
type SupervisorConfig struct {
	Registry       *compiler.Registry
	Sandboxes      *sandbox.Manager
	Files          *filemanager.Manager
	Stats          *stats.Stats
	CompileTimeout time.Duration // default 300s
	ExecuteTimeout time.Duration // default 60s
	RetentionGC    time.Duration
	SandboxLimits  sandbox.Limits // memory/PID caps applied to each job's cgroup, if enabled
}

// Supervisor is the single dedicated worker that drains the queue,
// matching job_processor_thread — one goroutine, run on its own via Run.
type Supervisor struct {
	q   *Queue
	cfg SupervisorConfig
}

// NewSupervisor builds a Supervisor bound to q.
func NewSupervisor(q *Queue, cfg SupervisorConfig) *Supervisor {
	if cfg.CompileTimeout <= 0 {
		cfg.CompileTimeout = 300 * time.Second
	}
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = 60 * time.Second
	}
	return &Supervisor{q: q, cfg: cfg}
}

// Run blocks, popping and processing jobs until ctx is cancelled or the
// queue is closed, matching job_processor_thread's while loop.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		job, ok := s.q.Next(ctx)
		if !ok {
			return
		}
		s.process(ctx, job)
	}
}

// process runs one job to a terminal state, mirroring
// process_compilation_job's dispatch over EXEC_MODE_*.
func (s *Supervisor) process(parent context.Context, job *Job) {
	jobCtx, cancel := context.WithCancel(parent)
	defer cancel()

	s.q.mu.Lock()
	job.Cancel = cancel
	job.StartedAt = time.Now()
	job.Status = protocol.JobStatusCompiling
	s.q.mu.Unlock()
	s.cfg.Stats.JobStarted()

	sb, err := s.cfg.Sandboxes.Create(job.ID, s.cfg.SandboxLimits)
	if err != nil {
		s.finish(job, protocol.JobStatusFailed, -1, err.Error())
		return
	}
	defer sb.Cleanup()

	lang := job.Language
	profile, ok := s.cfg.Registry.Get(lang)
	if !ok {
		s.finish(job, protocol.JobStatusFailed, -1, "no toolchain available for language")
		return
	}

	if job.SourceFile == "" || job.UploadedPath == "" {
		s.finish(job, protocol.JobStatusFailed, -1, "job has no source file")
		return
	}
	if err := s.stageSource(job, sb); err != nil {
		s.finish(job, protocol.JobStatusFailed, -1, err.Error())
		return
	}

	switch job.Mode {
	case protocol.ModeSyntaxCheck:
		s.syntaxCheck(jobCtx, job, sb, profile)
		return
	case protocol.ModeCompileOnly, protocol.ModeCompileAndRun:
		if err := s.compile(jobCtx, job, sb, profile); err != nil {
			return // finish already called by compile on failure
		}
		if job.Mode == protocol.ModeCompileOnly {
			s.finish(job, protocol.JobStatusCompleted, 0, "")
			return
		}
	}

	s.execute(jobCtx, job, sb, profile)
}

// stageSource copies the upload from the file manager's processing root into
// the job's sandbox directory, matching process_compilation_job's implicit
// assumption that the source lives alongside the compiler invocation.
func (s *Supervisor) stageSource(job *Job, sb *sandbox.Job) error {
	data, err := os.ReadFile(job.UploadedPath)
	if err != nil {
		return apperrors.Wrap(err, apperrors.FileIo)
	}
	dest := filepath.Join(sb.Dir, job.SourceFile)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return apperrors.Wrap(err, apperrors.FileIo)
	}
	return nil
}

// onPIDLocked returns a callback for executor.Run that records the running
// child's pid under the queue lock so Queue.Cancel can signal it directly,
// then joins the pid to sb's cgroup (a no-op when cgroups are disabled) so
// SandboxLimits actually constrains the process the pid identifies rather
// than nothing; see executor.Run's doc comment on why cancellation goes
// through the pid rather than the job's context.
func (s *Supervisor) onPIDLocked(job *Job, sb *sandbox.Job) func(pid int) {
	return func(pid int) {
		s.q.mu.Lock()
		job.PID = int32(pid)
		s.q.mu.Unlock()
		if err := sb.AddProcess(pid); err != nil {
			logger.Warn(context.Background(), "failed to join process to cgroup",
				zap.Uint32("job_id", job.ID), zap.Int("pid", pid), zap.Error(err))
		}
	}
}

func (s *Supervisor) syntaxCheck(ctx context.Context, job *Job, sb *sandbox.Job, profile compiler.Profile) {
	argv, err := s.cfg.Registry.BuildSyntaxCheckCommand(profile, job.SourceFile, job.CompilerArgs)
	if err != nil {
		s.finish(job, protocol.JobStatusFailed, -1, err.Error())
		return
	}

	res, err := executor.Run(ctx, sb.Dir, argv, s.cfg.CompileTimeout, s.onPIDLocked(job, sb))
	if err != nil {
		s.finish(job, protocol.JobStatusFailed, -1, err.Error())
		return
	}
	s.writeArtifacts(job, res)

	switch {
	case res.TimedOut:
		s.finish(job, protocol.JobStatusTimeout, executor.ExitTimeout, "syntax check timed out")
	case sb.OOMKilled():
		s.finish(job, protocol.JobStatusFailed, executor.ExitOOMKilled, "syntax check killed: out of memory")
	case ctx.Err() == context.Canceled:
		s.finish(job, protocol.JobStatusCancelled, int32(res.ExitCode), "")
	case res.ExitCode == 0:
		s.finish(job, protocol.JobStatusCompleted, 0, "")
	default:
		s.finish(job, protocol.JobStatusFailed, int32(res.ExitCode), string(res.Stderr))
	}
}

func (s *Supervisor) compile(ctx context.Context, job *Job, sb *sandbox.Job, profile compiler.Profile) error {
	argv, err := s.cfg.Registry.BuildCompileCommand(profile, job.SourceFile, job.CompilerArgs)
	if err != nil {
		s.finish(job, protocol.JobStatusFailed, -1, err.Error())
		s.cfg.Stats.RecordCompileTime(0)
		return err
	}
	if argv == nil {
		return nil // interpreted language, nothing to compile
	}

	start := time.Now()
	res, err := executor.Run(ctx, sb.Dir, argv, s.cfg.CompileTimeout, s.onPIDLocked(job, sb))
	elapsed := time.Since(start)
	if err != nil {
		s.finish(job, protocol.JobStatusFailed, -1, err.Error())
		s.cfg.Stats.RecordCompileTime(elapsed)
		return err
	}
	s.cfg.Stats.RecordCompileTime(elapsed)

	if res.TimedOut {
		s.finish(job, protocol.JobStatusTimeout, executor.ExitTimeout, "compilation timed out")
		return apperrors.New(apperrors.Timeout).WithMessage("compilation timed out")
	}
	if sb.OOMKilled() {
		s.writeArtifacts(job, res)
		s.finish(job, protocol.JobStatusFailed, executor.ExitOOMKilled, "compilation killed: out of memory")
		return apperrors.New(apperrors.MemoryAllocation).WithMessage("compilation killed: out of memory")
	}
	if res.ExitCode != 0 {
		s.writeArtifacts(job, res)
		s.finish(job, protocol.JobStatusFailed, int32(res.ExitCode), string(res.Stderr))
		return apperrors.New(apperrors.Compilation).WithMessage("compilation failed")
	}
	return nil
}

func (s *Supervisor) execute(ctx context.Context, job *Job, sb *sandbox.Job, profile compiler.Profile) {
	s.q.mu.Lock()
	job.Status = protocol.JobStatusRunning
	s.q.mu.Unlock()

	argv, err := s.cfg.Registry.BuildExecuteCommand(profile, job.SourceFile, job.ExecutionArgs)
	if err != nil {
		s.finish(job, protocol.JobStatusFailed, -1, err.Error())
		s.cfg.Stats.RecordExecutionTime(0)
		return
	}

	start := time.Now()
	res, err := executor.Run(ctx, sb.Dir, argv, s.cfg.ExecuteTimeout, s.onPIDLocked(job, sb))
	elapsed := time.Since(start)
	if err != nil {
		s.finish(job, protocol.JobStatusFailed, -1, err.Error())
		s.cfg.Stats.RecordExecutionTime(elapsed)
		return
	}
	s.cfg.Stats.RecordExecutionTime(elapsed)
	s.writeArtifacts(job, res)

	switch {
	case res.TimedOut:
		s.finish(job, protocol.JobStatusTimeout, executor.ExitTimeout, "execution timed out")
	case sb.OOMKilled():
		s.finish(job, protocol.JobStatusFailed, executor.ExitOOMKilled, "execution killed: out of memory")
	case ctx.Err() == context.Canceled:
		s.finish(job, protocol.JobStatusCancelled, int32(res.ExitCode), "")
	case res.ExitCode == 0:
		s.finish(job, protocol.JobStatusCompleted, 0, "")
	default:
		s.finish(job, protocol.JobStatusFailed, int32(res.ExitCode), string(res.Stderr))
	}
}

func (s *Supervisor) writeArtifacts(job *Job, res executor.Result) {
	base := job.SourceFile
	if ext := filepath.Ext(base); ext != "" {
		base = base[:len(base)-len(ext)]
	}
	s.q.mu.Lock()
	job.OutputFile = base + "_output.txt"
	job.ErrorFile = base + "_error.txt"
	job.OutputSize = uint32(len(res.Stdout))
	job.ErrorSize = uint32(len(res.Stderr))
	s.q.mu.Unlock()

	if _, err := s.cfg.Files.SaveUploadedFile(context.Background(), job.ID, job.ClientID, job.OutputFile, res.Stdout); err != nil {
		logger.Warn(context.Background(), "failed to persist job stdout", zap.Uint32("job_id", job.ID), zap.Error(err))
	}
	if _, err := s.cfg.Files.SaveUploadedFile(context.Background(), job.ID, job.ClientID, job.ErrorFile, res.Stderr); err != nil {
		logger.Warn(context.Background(), "failed to persist job stderr", zap.Uint32("job_id", job.ID), zap.Error(err))
	}
}

func (s *Supervisor) finish(job *Job, status protocol.JobStatus, exitCode int32, message string) {
	s.q.mu.Lock()
	job.Status = status
	job.ExitCode = exitCode
	job.ErrorMessage = message
	job.EndedAt = time.Now()
	job.PID = 0
	s.q.mu.Unlock()

	s.cfg.Stats.JobFinished(status, job.EndedAt.Sub(job.StartedAt))
}

// GC runs a maintenance pass matching cleanup_completed_jobs, additionally
// asking the file manager to clean up each removed job's artefacts.
func (s *Supervisor) GC() int {
	removed := s.q.GC(s.cfg.RetentionGC)
	for _, job := range removed {
		s.cfg.Files.CleanupJobFiles(job.ID)
	}
	return len(removed)
}
