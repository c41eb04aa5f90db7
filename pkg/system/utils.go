package system

import (
	"context"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/sirupsen/logrus"
)

// GenerateRandomID returns a short random identifier suitable for directory names.
func GenerateRandomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// GetCPUCores returns the number of logical CPUs of the host.
func GetCPUCores() int {
	n, err := cpu.CountsWithContext(context.Background(), true)
	if err != nil || n < 1 {
		logrus.Debugf("cpu count from gopsutil unavailable (%v), using runtime.NumCPU", err)
		return runtime.NumCPU()
	}
	return n
}
