//go:build windows

package main

import (
	"fmt"

	"github.com/born-ml/born/backend/webgpu"

	"github.com/born-ml/convnet/internal/config"
)

func runGPU(cfg config.Config) error {
	gpu, err := webgpu.New()
	if err != nil {
		return fmt.Errorf("failed to initialize WebGPU backend: %w", err)
	}
	defer gpu.Release()
	return run(gpu, cfg)
}
