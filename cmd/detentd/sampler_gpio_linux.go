//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/warthog618/go-gpiocdev"

	"detentd/internal/tick"
)

// gpioSampler reads the encoder and button lines from a GPIO character
// device in a single request, so all lines of a sample are read together.
//
// Line levels are read as-is; no kernel debounce or edge detection is
// requested because the tick does its own.
type gpioSampler struct {
	lines  *gpiocdev.Lines
	bits   []uint // bit position for each requested line
	invert []bool // per line
	values []int
}

func openGPIOSampler(cfg *Config, logger *slog.Logger) (sampleSource, error) {
	sc := cfg.Sampler

	var (
		offsets []int
		bits    []uint
		invert  []bool
	)
	if cfg.Encoder.Enabled {
		offsets = append(offsets, sc.Lines.A, sc.Lines.B)
		bits = append(bits, sc.Bits.A, sc.Bits.B)
		invert = append(invert, sc.EncoderActiveLow, sc.EncoderActiveLow)
	}
	if cfg.Button.Enabled {
		// Button polarity is applied by the tick layout, not here.
		offsets = append(offsets, sc.Lines.Button)
		bits = append(bits, sc.Bits.Button)
		invert = append(invert, false)
	}

	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithConsumer("detentd"),
	}
	if sc.PullUp {
		opts = append(opts, gpiocdev.WithPullUp)
	}

	lines, err := gpiocdev.RequestLines(sc.Chip, offsets, opts...)
	if err != nil {
		return nil, fmt.Errorf("request lines %v on %s: %w", offsets, sc.Chip, err)
	}

	logger.Info("gpio lines requested", "chip", sc.Chip, "offsets", offsets, "pull_up", sc.PullUp)

	return &gpioSampler{
		lines:  lines,
		bits:   bits,
		invert: invert,
		values: make([]int, len(offsets)),
	}, nil
}

func (g *gpioSampler) Sample(ctx context.Context) (tick.Sample, error) {
	if err := g.lines.Values(g.values); err != nil {
		return 0, fmt.Errorf("read line values: %w", err)
	}
	return packSample(g.values, g.bits, g.invert), nil
}

func (g *gpioSampler) Close() error {
	return g.lines.Close()
}
