//go:build linux

package sandbox

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ccexec/pkg/apperrors"
)

func createCgroup(root string, jobID uint32) (string, error) {
	path := filepath.Join(root, "job_"+strconv.FormatUint(uint64(jobID), 10))
	if err := os.MkdirAll(path, 0o750); err != nil {
		return "", apperrors.Wrapf(err, apperrors.Internal, "create cgroup %s", path)
	}
	return path, nil
}

func applyCgroupLimits(cgroupPath string, limits Limits) error {
	pidsValue := "max"
	if limits.PIDs > 0 {
		pidsValue = strconv.FormatInt(limits.PIDs, 10)
	}
	if err := writeCgroupValue(cgroupPath, "pids.max", pidsValue); err != nil {
		return err
	}
	if limits.MemoryMB > 0 {
		if err := writeCgroupValue(cgroupPath, "memory.max", strconv.FormatInt(limits.MemoryMB*1024*1024, 10)); err != nil {
			return err
		}
	}
	return nil
}

func addProcessToCgroup(cgroupPath string, pid int) error {
	if pid <= 0 {
		return apperrors.New(apperrors.InvalidArgument).WithMessage("invalid pid")
	}
	return writeCgroupValue(cgroupPath, "cgroup.procs", strconv.Itoa(pid))
}

func wasOOMKilled(cgroupPath string) bool {
	data, err := os.ReadFile(filepath.Join(cgroupPath, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "oom_kill" {
			val, _ := strconv.ParseInt(fields[1], 10, 64)
			return val > 0
		}
	}
	return false
}

func writeCgroupValue(cgroupPath, name, value string) error {
	path := filepath.Join(cgroupPath, name)
	if err := os.WriteFile(path, []byte(value), 0o640); err != nil {
		return apperrors.Wrapf(err, apperrors.Internal, "write cgroup value %s", name)
	}
	return nil
}
