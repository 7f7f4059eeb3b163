// Package stats aggregates process-wide server statistics: the counters
// the admin plane reports in a binary ServerStats payload (see
// original_source/server/include/server.h's server_stats_t), mirrored as
// Prometheus metrics for ecosystem-standard scraping.
package stats

import (
	"runtime"
	"sync"
	"time"

	"ccexec/internal/protocol"
)

// Stats holds every counter §3's "Server statistics" names, guarded by a
// single mutex the way the teacher's LRUCache guards its own state.
type Stats struct {
	mu sync.Mutex

	startTime time.Time

	totalClients  uint32
	activeClients uint32

	totalJobs     uint32
	activeJobs    uint32
	completedJobs uint32
	failedJobs    uint32
	cancelledJobs uint32
	timedOutJobs  uint32

	totalBytesReceived uint64
	totalBytesSent     uint64

	responseTimeEMAMs float64
	compileTimeEMAMs  float64
	execTimeEMAMs     float64
	sampleCount       uint64

	prom *promCollectors
}

// emaAlpha weights the most recent sample; matches the smoothing factor a
// simple exponential moving average conventionally uses for latency EMAs.
const emaAlpha = 0.2

// New creates a Stats tracker and registers its Prometheus collectors on a
// registry private to this instance, so the default registry is never
// touched.
func New() *Stats {
	return &Stats{
		startTime: time.Now(),
		prom:      newPromCollectors(),
	}
}

func (s *Stats) ClientConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalClients++
	s.activeClients++
	s.prom.clientsTotal.Inc()
	s.prom.clientsActive.Set(float64(s.activeClients))
}

func (s *Stats) ClientDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeClients > 0 {
		s.activeClients--
	}
	s.prom.clientsActive.Set(float64(s.activeClients))
}

func (s *Stats) JobQueued() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalJobs++
	s.prom.jobsTotal.Inc()
	s.prom.jobsQueueDepth.Inc()
}

func (s *Stats) JobStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeJobs++
	s.prom.jobsQueueDepth.Dec()
	s.prom.jobsActive.Set(float64(s.activeJobs))
}

// JobFinished records a terminal job transition and folds its wall-clock
// duration into the running EMA.
func (s *Stats) JobFinished(status protocol.JobStatus, wallTime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeJobs > 0 {
		s.activeJobs--
	}
	s.prom.jobsActive.Set(float64(s.activeJobs))

	switch status {
	case protocol.JobStatusCompleted:
		s.completedJobs++
		s.prom.jobsCompleted.Inc()
	case protocol.JobStatusFailed:
		s.failedJobs++
		s.prom.jobsFailed.Inc()
	case protocol.JobStatusCancelled:
		s.cancelledJobs++
		s.prom.jobsCancelled.Inc()
	case protocol.JobStatusTimeout:
		s.timedOutJobs++
		s.prom.jobsTimedOut.Inc()
	}

	ms := float64(wallTime.Milliseconds())
	s.sampleCount++
	if s.sampleCount == 1 {
		s.responseTimeEMAMs = ms
	} else {
		s.responseTimeEMAMs = emaAlpha*ms + (1-emaAlpha)*s.responseTimeEMAMs
	}
	s.prom.jobDurationSeconds.Observe(wallTime.Seconds())
}

// RecordCompileTime folds a compile-phase duration into its own EMA,
// separate from the overall job wall-time EMA.
func (s *Stats) RecordCompileTime(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := float64(d.Milliseconds())
	if s.compileTimeEMAMs == 0 {
		s.compileTimeEMAMs = ms
	} else {
		s.compileTimeEMAMs = emaAlpha*ms + (1-emaAlpha)*s.compileTimeEMAMs
	}
	s.prom.compileDurationSeconds.Observe(d.Seconds())
}

func (s *Stats) RecordExecutionTime(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := float64(d.Milliseconds())
	if s.execTimeEMAMs == 0 {
		s.execTimeEMAMs = ms
	} else {
		s.execTimeEMAMs = emaAlpha*ms + (1-emaAlpha)*s.execTimeEMAMs
	}
	s.prom.executeDurationSeconds.Observe(d.Seconds())
}

func (s *Stats) BytesReceived(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalBytesReceived += n
	s.prom.bytesReceived.Add(float64(n))
}

func (s *Stats) BytesSent(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalBytesSent += n
	s.prom.bytesSent.Add(float64(n))
}

// defaultMeanJobTime seeds EstimatedWait before any job has completed,
// matching get_estimated_wait_time's hardcoded 30-second fallback.
const defaultMeanJobTime = 30 * time.Second

// MeanJobTime returns the current overall job wall-time EMA, or
// defaultMeanJobTime before the first sample lands.
func (s *Stats) MeanJobTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sampleCount == 0 {
		return defaultMeanJobTime
	}
	return time.Duration(s.responseTimeEMAMs) * time.Millisecond
}

// Snapshot returns the wire-ready ServerStats payload for the admin plane.
func (s *Stats) Snapshot() protocol.ServerStatsPayload {
	s.mu.Lock()
	defer s.mu.Unlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return protocol.ServerStatsPayload{
		StartTimeUnix:      s.startTime.Unix(),
		CurrentTimeUnix:    time.Now().Unix(),
		TotalClients:       s.totalClients,
		ActiveClients:      s.activeClients,
		TotalJobs:          s.totalJobs,
		ActiveJobs:         s.activeJobs,
		CompletedJobs:      s.completedJobs,
		FailedJobs:         s.failedJobs,
		TotalBytesReceived: s.totalBytesReceived,
		TotalBytesSent:     s.totalBytesSent,
		MemoryUsageKB:      uint32(mem.Sys / 1024),
		CPUUsagePercent:    0, // not sampled: no per-process CPU accounting without /proc parsing
		AvgResponseTimeMs:  float32(s.responseTimeEMAMs),
	}
}
