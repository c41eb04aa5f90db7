// Package vfkit turns a VM configuration into a vfkit command line.
package vfkit

import "errors"

var ErrUnsupported = errors.New("vfkit is only available on macOS")
