//go:build !windows

package main

import (
	"errors"

	"github.com/born-ml/convnet/internal/config"
)

// The WebGPU backend only builds on Windows in the current framework
// release.
func runGPU(config.Config) error {
	return errors.New("gpu device is not supported on this platform, use -device cpu")
}
