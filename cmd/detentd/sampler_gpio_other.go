//go:build !linux

package main

import (
	"errors"
	"log/slog"
)

func openGPIOSampler(cfg *Config, logger *slog.Logger) (sampleSource, error) {
	return nil, errors.New("gpio sampler is only supported on linux; use sampler.kind: replay")
}
