//go:build linux

// Package executor runs a single child process to completion, capturing its
// stdout/stderr into fixed-size buffers and enforcing a wall-clock deadline.
// Grounded on original_source/server/src/compiler_service.c's
// execute_command_with_timeout/wait_for_process_completion, translated from
// a hand-rolled select loop over raw pipes to Go's os/exec, whose Cmd.Stdout
// and Cmd.Stderr already pump each pipe concurrently without blocking the
// child — the boundedBuffer below reproduces the original's "keep draining,
// discard past the cap" behaviour instead of the select+read loop itself.
package executor

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"ccexec/pkg/apperrors"
	"ccexec/pkg/logger"

	"go.uber.org/zap"
)

// OutputCap is the maximum number of bytes retained per stream, matching
// original_source's MAX_COMPILER_OUTPUT.
const OutputCap = 8 * 1024

// ExitTimeout is the sentinel exit code returned when the wall-clock
// deadline is exceeded, matching the original's use of GNU coreutils
// `timeout`'s own exit convention.
const ExitTimeout = 124

// ExitOOMKilled is the sentinel exit code internal/queue's supervisor
// substitutes when the kernel OOM-killed a job's process inside its
// cgroup, matching the 128+SIGKILL convention translateExitCode already
// uses for signal deaths.
const ExitOOMKilled = 128 + 9

// Result reports the outcome of one supervised child process.
type Result struct {
	ExitCode        int
	Stdout          []byte
	Stderr          []byte
	StdoutTruncated bool
	StderrTruncated bool
	TimedOut        bool
	WallTime        time.Duration
	CPUTime         time.Duration
	MaxRSSKB        int64
}

// Run executes argv in dir, waiting up to timeout before killing the
// process group and reporting a timeout result. argv[0] is resolved via the
// caller-supplied absolute or PATH-relative path; no shell is invoked.
// onStart, if non-nil, receives the child's pid as soon as it is running so
// the caller can wire up out-of-band cancellation (see Signal) — the
// context passed in only bounds this one Run call's wall clock and is not a
// substitute for it, since job cancellation must choose between SIGTERM and
// SIGKILL while Run's own timeout always hard-kills.
func Run(ctx context.Context, dir string, argv []string, timeout time.Duration, onStart func(pid int)) (Result, error) {
	if len(argv) == 0 {
		return Result{}, apperrors.New(apperrors.InvalidArgument).WithMessage("empty command")
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	setProcessGroup(cmd)
	// The default os/exec Cancel hook fires on ANY context cancellation,
	// including a parent job context cancelled for reasons unrelated to
	// this Run call's own deadline (an external SIGTERM/SIGKILL cancel is
	// delivered directly via Signal against the pid handed to onStart).
	// Restrict the automatic kill to this Run call's own timeout so the two
	// paths don't race to signal the same process group differently.
	cmd.Cancel = func() error {
		if runCtx.Err() == context.DeadlineExceeded {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return nil
	}

	stdout := newBoundedBuffer(OutputCap)
	stderr := newBoundedBuffer(OutputCap)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, apperrors.Wrap(err, apperrors.Internal)
	}
	if onStart != nil {
		onStart(cmd.Process.Pid)
	}

	waitErr := cmd.Wait()
	wall := time.Since(start)

	res := Result{
		Stdout:          stdout.Bytes(),
		Stderr:          stderr.Bytes(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		WallTime:        wall,
	}
	if state := cmd.ProcessState; state != nil {
		res.CPUTime = state.UserTime() + state.SystemTime()
		res.MaxRSSKB = maxRSSKB(state)
	}

	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = ExitTimeout
		logger.Warn(ctx, "child process exceeded wall-clock timeout",
			zap.Strings("argv", argv), zap.Duration("timeout", timeout))
		return res, nil
	}

	res.ExitCode = translateExitCode(waitErr, cmd.ProcessState)
	return res, nil
}

// Signal delivers one termination signal to pid's process group: SIGTERM,
// or SIGKILL when force is true, matching admin_handler.c's
// handle_kill_job_command (`int signal = force ? SIGKILL : SIGTERM`). It
// only signals — the goroutine already blocked in Run's cmd.Wait observes
// the resulting exit. ESRCH (already exited) is not an error.
func Signal(pid int, force bool) error {
	if pid <= 0 {
		return nil
	}
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	if err := syscall.Kill(-pid, sig); err != nil && err != syscall.ESRCH {
		return apperrors.Wrap(err, apperrors.Internal)
	}
	return nil
}

// translateExitCode mirrors wait_for_process_completion's
// WIFEXITED/WIFSIGNALED handling using os.ProcessState's decoded status.
func translateExitCode(waitErr error, state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	code := state.ExitCode()
	if code >= 0 {
		return code
	}
	// Negative ExitCode means the process was terminated by a signal;
	// os/exec doesn't expose the signal number portably, so recover it
	// from the ProcessState's platform-specific Sys() value.
	if ws, ok := waitStatus(waitErr); ok {
		if ws.Signaled() {
			return 128 + int(ws.Signal())
		}
	}
	return -1
}

func waitStatus(err error) (syscall.WaitStatus, bool) {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return 0, false
	}
	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	return ws, ok
}

// boundedBuffer caps retained bytes at max, but reports whether the stream
// produced more than that — the original's "output truncation is silent
// once the buffer is full" behaviour, applied per-stream.
type boundedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newBoundedBuffer(max int) *boundedBuffer {
	return &boundedBuffer{max: max}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.max - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *boundedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

func (b *boundedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
