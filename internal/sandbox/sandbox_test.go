package sandbox

import (
	"os"
	"testing"
)

func TestCreateMakesAJobDirectory(t *testing.T) {
	t.Parallel()

	m := &Manager{Root: t.TempDir()}
	job, err := m.Create(42, Limits{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := os.Stat(job.Dir); err != nil {
		t.Fatalf("sandbox directory not created: %v", err)
	}
}

func TestCleanupRemovesTheJobDirectory(t *testing.T) {
	t.Parallel()

	m := &Manager{Root: t.TempDir()}
	job, err := m.Create(1, Limits{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	job.Cleanup()

	if _, err := os.Stat(job.Dir); !os.IsNotExist(err) {
		t.Errorf("expected sandbox directory to be gone, stat err = %v", err)
	}
}

func TestWithoutCgroupRootAddProcessAndOOMKilledAreNoops(t *testing.T) {
	t.Parallel()

	m := &Manager{Root: t.TempDir()}
	job, err := m.Create(1, Limits{MemoryMB: 64})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := job.AddProcess(os.Getpid()); err != nil {
		t.Errorf("AddProcess: %v", err)
	}
	if job.OOMKilled() {
		t.Error("OOMKilled() should be false when cgroups are disabled")
	}
}

func TestSeparateJobsGetSeparateDirectories(t *testing.T) {
	t.Parallel()

	m := &Manager{Root: t.TempDir()}
	jobA, err := m.Create(1, Limits{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	jobB, err := m.Create(2, Limits{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if jobA.Dir == jobB.Dir {
		t.Errorf("expected distinct sandbox directories, both are %s", jobA.Dir)
	}
}
