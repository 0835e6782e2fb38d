package main

import (
	"fmt"
	"io"
	"log/slog"

	"detentd/internal/tick"
)

// sampleSource is a tick.Sampler that holds an OS resource.
type sampleSource interface {
	tick.Sampler
	io.Closer
}

// openSampler opens the source named by cfg.Sampler.Kind.
func openSampler(cfg *Config, logger *slog.Logger) (sampleSource, error) {
	switch cfg.Sampler.Kind {
	case "gpio":
		return openGPIOSampler(cfg, logger)
	case "replay":
		return openReplaySampler(ExpandPath(cfg.Sampler.ReplayFile), cfg.Sampler.ReplayLoop)
	default:
		return nil, fmt.Errorf("unknown sampler kind %q", cfg.Sampler.Kind)
	}
}

// packSample places each line value at its bit. A non-zero value counts as
// high; invert flips a line before packing.
func packSample(values []int, bits []uint, invert []bool) tick.Sample {
	var s tick.Sample
	for i, v := range values {
		high := v != 0
		if invert[i] {
			high = !high
		}
		if high {
			s |= 1 << bits[i]
		}
	}
	return s
}
