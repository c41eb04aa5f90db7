package system

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

const mib = 1 << 20

// MemoryInfo is a host memory snapshot in MiB.
type MemoryInfo struct {
	TotalMB     uint64
	AvailableMB uint64
}

func GetMemoryInfo(ctx context.Context) (*MemoryInfo, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read host memory: %w", err)
	}
	return &MemoryInfo{
		TotalMB:     vm.Total / mib,
		AvailableMB: vm.Available / mib,
	}, nil
}

// GetMaxMemoryInMB is the default guest memory: half of the host's total.
func GetMaxMemoryInMB() (uint64, error) {
	info, err := GetMemoryInfo(context.Background())
	if err != nil {
		return 0, err
	}
	return info.TotalMB / 2, nil
}
