//go:build !linux

package sandbox

import "ccexec/pkg/apperrors"

func createCgroup(root string, jobID uint32) (string, error) {
	return "", apperrors.New(apperrors.Internal).WithMessage("cgroup resource capping requires linux")
}

func applyCgroupLimits(cgroupPath string, limits Limits) error { return nil }

func addProcessToCgroup(cgroupPath string, pid int) error { return nil }

func wasOOMKilled(cgroupPath string) bool { return false }
