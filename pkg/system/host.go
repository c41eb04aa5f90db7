package system

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/host"
)

type OSInfo struct {
	Platform string
	Version  string
	Arch     string
}

func (o OSInfo) String() string {
	return fmt.Sprintf("%s %s (%s)", o.Platform, o.Version, o.Arch)
}

func GetOSVersion(ctx context.Context) (*OSInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read host info: %w", err)
	}
	return &OSInfo{
		Platform: info.Platform,
		Version:  info.PlatformVersion,
		Arch:     info.KernelArch,
	}, nil
}
