// Package queue holds the FIFO of submitted jobs and the single supervisor
// worker that drains it. Grounded on
// original_source/server/src/queue_manager.c's linked-list-plus-condition-
// variable shape (add_job/get_next_job/job_processor_thread), translated
// from a pthread_cond_wait loop to sync.Cond the way
// programme-lv-tester/internal/filestore uses it for its own
// producer/consumer wait, and from a raw singly linked list to
// container/list for the priority-reorder operation queue_manager.c does
// with pointer surgery.
package queue

import (
	"container/list"
	"context"
	"sync"
	"time"

	"ccexec/internal/executor"
	"ccexec/internal/protocol"
	"ccexec/pkg/apperrors"
)

// Priority mirrors job_priority_t; higher values run sooner.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// Job is one submitted compile/execute request tracked end to end.
type Job struct {
	ID              uint32
	SessionID       uint32
	ClientID        uint32
	Language        protocol.Language
	Mode            protocol.ExecutionMode
	SourceFile      string // bare filename the compiler/executor sees inside the sandbox
	UploadedPath    string // full path filemanager wrote the upload to
	CompilerArgs    string
	ExecutionArgs   string
	Priority        Priority
	Status          protocol.JobStatus
	ExitCode        int32
	OutputFile      string
	ErrorFile       string
	OutputSize      uint32
	ErrorSize       uint32
	ErrorMessage    string
	SubmittedAt     time.Time
	StartedAt       time.Time
	EndedAt         time.Time
	Cancel          context.CancelFunc // set once the supervisor starts running this job
	PID             int32              // child pid of the current compile/execute phase, 0 when none is running
}

// JobSnapshot is a value-type copy of a Job's externally-visible fields,
// taken under the queue lock. Callers outside this package (session, admin)
// must read job state through StatusOf or AllSnapshots rather than
// dereferencing a live *Job, since the supervisor mutates those fields from
// its own goroutine while holding the queue lock.
type JobSnapshot struct {
	ID           uint32
	SessionID    uint32
	Language     protocol.Language
	Mode         protocol.ExecutionMode
	SourceFile   string
	Priority     Priority
	Status       protocol.JobStatus
	ExitCode     int32
	OutputFile   string
	ErrorFile    string
	OutputSize   uint32
	ErrorSize    uint32
	ErrorMessage string
	SubmittedAt  time.Time
	StartedAt    time.Time
	EndedAt      time.Time
}

func snapshotLocked(job *Job) JobSnapshot {
	return JobSnapshot{
		ID:           job.ID,
		SessionID:    job.SessionID,
		Language:     job.Language,
		Mode:         job.Mode,
		SourceFile:   job.SourceFile,
		Priority:     job.Priority,
		Status:       job.Status,
		ExitCode:     job.ExitCode,
		OutputFile:   job.OutputFile,
		ErrorFile:    job.ErrorFile,
		OutputSize:   job.OutputSize,
		ErrorSize:    job.ErrorSize,
		ErrorMessage: job.ErrorMessage,
		SubmittedAt:  job.SubmittedAt,
		StartedAt:    job.StartedAt,
		EndedAt:      job.EndedAt,
	}
}

// MaxQueueSize matches queue_manager.c's job_queue.max_size cap.
const MaxQueueSize = 10000

// Queue is a mutex-and-condition-variable-guarded FIFO, mirroring
// job_queue_t plus its lookup-by-id helpers.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	entries  *list.List // of *Job, oldest at Front
	byID     map[uint32]*list.Element
	nextID   uint32
	closed   bool
	accept   bool
	maxSize  int
}

// New returns an empty Queue ready to accept jobs, capped at MaxQueueSize
// until SetMaxSize overrides it from configuration.
func New() *Queue {
	q := &Queue{
		entries: list.New(),
		byID:    make(map[uint32]*list.Element),
		nextID:  1,
		accept:  true,
		maxSize: MaxQueueSize,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// SetMaxSize overrides the queue depth Submit enforces, backing the
// admin plane's queue.max_size config entry and cmd/server's config.yaml
// queue.maxSize field. A non-positive value is ignored.
func (q *Queue) SetMaxSize(n int) {
	if n <= 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maxSize = n
}

// SetAcceptingNewJobs flips the admission gate Submit checks, backing the
// admin plane's queue.accept_new_jobs config toggle.
func (q *Queue) SetAcceptingNewJobs(accept bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.accept = accept
}

// AcceptingNewJobs reports whether Submit currently admits new jobs.
func (q *Queue) AcceptingNewJobs() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.accept
}

// Submit appends job to the tail under the queue lock and wakes the
// supervisor, matching add_job. The queue assigns job.ID, wrapping past
// zero the way generate_job_id does.
func (q *Queue) Submit(job *Job) (uint32, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, apperrors.New(apperrors.Internal).WithMessage("queue is shutting down")
	}
	if !q.accept {
		return 0, apperrors.New(apperrors.Permission).WithMessage("server is not accepting new jobs")
	}
	if q.entries.Len() >= q.maxSize {
		return 0, apperrors.New(apperrors.QuotaExceeded).WithMessage("job queue is full")
	}

	job.ID = q.nextID
	q.nextID++
	if q.nextID == 0 {
		q.nextID = 1
	}
	job.Status = protocol.JobStatusQueued
	job.SubmittedAt = time.Now()

	elem := q.entries.PushBack(job)
	q.byID[job.ID] = elem
	q.notEmpty.Signal()
	return job.ID, nil
}

// Next blocks until a Queued job reaches the head, or ctx is cancelled or
// Close is called, matching job_processor_thread's wait-then-pop loop
// (the condition-variable wait is kept; a helper goroutine broadcasts on it
// when ctx is cancelled, and Close broadcasts on it directly).
func (q *Queue) Next(ctx context.Context) (*Job, bool) {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		case <-stop:
		}
	}()
	defer close(stop)

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if job := q.popNextQueuedLocked(); job != nil {
			return job, true
		}
		if q.closed || ctx.Err() != nil {
			return nil, false
		}
		q.notEmpty.Wait()
	}
}

// popNextQueuedLocked scans from the head for the first Queued entry, since
// Cancel may have marked earlier-queued jobs Cancelled in place without
// removing them (mirroring cancel_job's "flip state so the supervisor skips
// it" behaviour).
func (q *Queue) popNextQueuedLocked() *Job {
	for e := q.entries.Front(); e != nil; e = e.Next() {
		job := e.Value.(*Job)
		if job.Status == protocol.JobStatusQueued {
			return job
		}
	}
	return nil
}

// Close wakes every blocked Next call so the supervisor can observe
// shutdown and exit.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.mu.Unlock()
}

// Find returns the tracked job for id, matching find_job. The returned
// pointer aliases the supervisor's own copy: callers outside this package
// must not read or write its fields without holding the queue lock, which
// they cannot do from here. Use StatusOf instead unless you are queue-
// internal code that already runs under q.mu.
func (q *Queue) Find(id uint32) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	elem, ok := q.byID[id]
	if !ok {
		return nil, false
	}
	return elem.Value.(*Job), true
}

// StatusOf returns a point-in-time copy of job id's state, safe to read
// without further locking. This is the accessor session and admin handlers
// use instead of Find, since the supervisor updates a running job's Status,
// StartedAt, EndedAt, ExitCode and friends from its own goroutine while
// holding the queue lock (see supervisor.go's finish).
func (q *Queue) StatusOf(id uint32) (JobSnapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	elem, ok := q.byID[id]
	if !ok {
		return JobSnapshot{}, false
	}
	return snapshotLocked(elem.Value.(*Job)), true
}

// AllSnapshots returns a locked-copy of every tracked job, for the admin
// plane's ListJobs command; see StatusOf for why this is preferred over
// ranging over live *Job pointers.
func (q *Queue) AllSnapshots() []JobSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]JobSnapshot, 0, q.entries.Len())
	for e := q.entries.Front(); e != nil; e = e.Next() {
		out = append(out, snapshotLocked(e.Value.(*Job)))
	}
	return out
}

// ListForSession returns every job submitted by sessionID, matching
// get_client_jobs.
func (q *Queue) ListForSession(sessionID uint32) []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*Job
	for e := q.entries.Front(); e != nil; e = e.Next() {
		if job := e.Value.(*Job); job.SessionID == sessionID {
			out = append(out, job)
		}
	}
	return out
}

// Cancel matches cancel_job: a Queued job is flipped to Cancelled in place;
// a Running job has its tracked process signaled and is left for the
// supervisor to reap and finalize. force selects SIGKILL over SIGTERM,
// matching admin_handler.c's handle_kill_job_command. Job state is read and
// mutated entirely under the queue lock, since the supervisor writes
// Status/PID from its own goroutine while holding the same lock.
func (q *Queue) Cancel(id uint32, force bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	elem, ok := q.byID[id]
	if !ok {
		return apperrors.New(apperrors.NotFound).WithContext("job")
	}
	return cancelJobLocked(elem.Value.(*Job), force)
}

func cancelJobLocked(job *Job, force bool) error {
	switch job.Status {
	case protocol.JobStatusQueued:
		job.Status = protocol.JobStatusCancelled
		job.EndedAt = time.Now()
		return nil
	case protocol.JobStatusCompiling, protocol.JobStatusRunning:
		if job.PID != 0 {
			if err := executor.Signal(int(job.PID), force); err != nil {
				return err
			}
		}
		// job.Cancel unblocks the supervisor's own context-derived checks
		// (ctx.Err() == context.Canceled); the actual kill already happened
		// above via the signal to job.PID, since job.Cancel's context is not
		// wired to executor.Run's Cancel hook (see executor.Run's doc comment).
		if job.Cancel != nil {
			job.Cancel()
		}
		return nil
	default:
		return apperrors.New(apperrors.InvalidArgument).WithMessage("job already finished")
	}
}

// CancelForSession applies Cancel's logic to every non-terminal job owned
// by sessionID, matching cancel_client_jobs, and reports how many it
// touched. A session disconnect is never a forced kill in the wire
// protocol, so this always signals SIGTERM.
func (q *Queue) CancelForSession(sessionID uint32) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for e := q.entries.Front(); e != nil; e = e.Next() {
		job := e.Value.(*Job)
		if job.SessionID == sessionID && !job.Status.IsTerminal() && cancelJobLocked(job, false) == nil {
			count++
		}
	}
	return count
}

// Reorder bubble-sorts contiguous Queued entries so higher Priority
// precedes lower, exactly matching reorder_queue_by_priority's scope
// (running/terminal entries never move).
func (q *Queue) Reorder() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for swapped := true; swapped; {
		swapped = false
		for e := q.entries.Front(); e != nil && e.Next() != nil; e = e.Next() {
			cur := e.Value.(*Job)
			next := e.Next().Value.(*Job)
			if cur.Status == protocol.JobStatusQueued && next.Status == protocol.JobStatusQueued && cur.Priority < next.Priority {
				e.Value, e.Next().Value = next, cur
				swapped = true
			}
		}
	}
}

// SetPriority updates a queued job's priority, matching set_job_priority.
func (q *Queue) SetPriority(id uint32, p Priority) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	elem, ok := q.byID[id]
	if !ok {
		return apperrors.New(apperrors.NotFound).WithContext("job")
	}
	elem.Value.(*Job).Priority = p
	return nil
}

// EstimatedWait counts preceding active (Queued or running) entries and
// multiplies by meanJobTime, matching get_estimated_wait_time generalized
// to use the live statistics EMA instead of a hardcoded 30s constant.
func (q *Queue) EstimatedWait(id uint32, meanJobTime time.Duration) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	target, ok := q.byID[id]
	if !ok || target.Value.(*Job).Status != protocol.JobStatusQueued {
		return 0
	}

	ahead := 0
	for e := q.entries.Front(); e != target; e = e.Next() {
		job := e.Value.(*Job)
		if job.Status == protocol.JobStatusQueued || job.Status == protocol.JobStatusRunning || job.Status == protocol.JobStatusCompiling {
			ahead++
		}
	}
	return time.Duration(ahead) * meanJobTime
}

// GC removes terminal jobs whose EndedAt is older than retention, matching
// cleanup_completed_jobs, and returns the removed jobs so the caller can
// ask internal/filemanager to clean up their artefacts.
func (q *Queue) GC(retention time.Duration) []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var removed []*Job
	for e := q.entries.Front(); e != nil; {
		next := e.Next()
		job := e.Value.(*Job)
		if job.Status.IsTerminal() && now.Sub(job.EndedAt) > retention {
			q.entries.Remove(e)
			delete(q.byID, job.ID)
			removed = append(removed, job)
		}
		e = next
	}
	return removed
}

// Len reports the number of tracked jobs (any status).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Len()
}

// Stats mirrors queue_stats_t.
type Stats struct {
	Total     int
	Queued    int
	Running   int
	Completed int
	Failed    int
	Cancelled int
}

// Snapshot matches get_queue_stats.
func (q *Queue) Snapshot() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	s.Total = q.entries.Len()
	for e := q.entries.Front(); e != nil; e = e.Next() {
		switch e.Value.(*Job).Status {
		case protocol.JobStatusQueued:
			s.Queued++
		case protocol.JobStatusRunning, protocol.JobStatusCompiling:
			s.Running++
		case protocol.JobStatusCompleted:
			s.Completed++
		case protocol.JobStatusFailed, protocol.JobStatusTimeout:
			s.Failed++
		case protocol.JobStatusCancelled:
			s.Cancelled++
		}
	}
	return s
}
