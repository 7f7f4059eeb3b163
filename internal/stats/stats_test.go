package stats

import (
	"testing"
	"time"

	"ccexec/internal/protocol"
)

func TestSnapshotReflectsClientAndJobCounters(t *testing.T) {
	t.Parallel()

	s := New()
	s.ClientConnected()
	s.ClientConnected()
	s.ClientDisconnected()

	s.JobQueued()
	s.JobStarted()
	s.JobFinished(protocol.JobStatusCompleted, 50*time.Millisecond)

	snap := s.Snapshot()
	if snap.TotalClients != 2 {
		t.Errorf("TotalClients = %d, want 2", snap.TotalClients)
	}
	if snap.ActiveClients != 1 {
		t.Errorf("ActiveClients = %d, want 1", snap.ActiveClients)
	}
	if snap.TotalJobs != 1 {
		t.Errorf("TotalJobs = %d, want 1", snap.TotalJobs)
	}
	if snap.ActiveJobs != 0 {
		t.Errorf("ActiveJobs = %d, want 0", snap.ActiveJobs)
	}
	if snap.CompletedJobs != 1 {
		t.Errorf("CompletedJobs = %d, want 1", snap.CompletedJobs)
	}
	if snap.AvgResponseTimeMs <= 0 {
		t.Errorf("AvgResponseTimeMs = %f, want > 0", snap.AvgResponseTimeMs)
	}
}

func TestJobFinishedNeverUnderflowsActiveJobs(t *testing.T) {
	t.Parallel()

	s := New()
	s.JobFinished(protocol.JobStatusFailed, time.Millisecond)

	snap := s.Snapshot()
	if snap.ActiveJobs != 0 {
		t.Errorf("ActiveJobs = %d, want 0 (must not underflow)", snap.ActiveJobs)
	}
	if snap.FailedJobs != 1 {
		t.Errorf("FailedJobs = %d, want 1", snap.FailedJobs)
	}
}

func TestResponseTimeEMASmoothsTowardRecentSamples(t *testing.T) {
	t.Parallel()

	s := New()
	s.JobFinished(protocol.JobStatusCompleted, 100*time.Millisecond)
	first := s.Snapshot().AvgResponseTimeMs

	for i := 0; i < 20; i++ {
		s.JobFinished(protocol.JobStatusCompleted, 10*time.Millisecond)
	}
	later := s.Snapshot().AvgResponseTimeMs

	if later >= first {
		t.Errorf("EMA did not move toward smaller recent samples: first=%f later=%f", first, later)
	}
}

func TestBytesCountersAccumulate(t *testing.T) {
	t.Parallel()

	s := New()
	s.BytesReceived(100)
	s.BytesReceived(50)
	s.BytesSent(30)

	snap := s.Snapshot()
	if snap.TotalBytesReceived != 150 {
		t.Errorf("TotalBytesReceived = %d, want 150", snap.TotalBytesReceived)
	}
	if snap.TotalBytesSent != 30 {
		t.Errorf("TotalBytesSent = %d, want 30", snap.TotalBytesSent)
	}
}

func TestRegistryIsUsableForPromhttp(t *testing.T) {
	t.Parallel()

	s := New()
	if s.Registry() == nil {
		t.Fatal("Registry() returned nil")
	}
	families, err := s.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected at least one registered metric family")
	}
}
