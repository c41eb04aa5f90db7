//go:build !darwin

package vfkit

import (
	"vmcontroller/pkg/vmconfig"
)

func Args(_ *vmconfig.VMConfig, _ string) ([]string, error) {
	return nil, ErrUnsupported
}
