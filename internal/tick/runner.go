package tick

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
)

// MaxReadErrors is how many consecutive sampler failures Run tolerates.
const MaxReadErrors = 50

// Sampler reads the raw input bits once per tick.
// Returning io.EOF ends the run cleanly.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(ctx context.Context) (Sample, error)

func (f SamplerFunc) Sample(ctx context.Context) (Sample, error) { return f(ctx) }

// Stats are counters kept by a Runner. Each field is read atomically on its
// own; the set as a whole is only eventually consistent.
type Stats struct {
	Ticks      uint64 `json:"ticks"`
	Overruns   uint64 `json:"overruns"`
	Coalesced  uint64 `json:"coalesced"`
	ReadErrors uint64 `json:"read_errors"`
	Faults     uint64 `json:"encoder_faults"`
}

// Runner calls a Dispatcher at a fixed period.
//
// The ticker channel holds at most one pending tick, so when a tick takes
// longer than the period the missed ticks collapse into one instead of
// building a backlog. Such ticks are counted as overruns.
type Runner struct {
	clock    clock.Clock
	period   time.Duration
	sampler  Sampler
	dispatch *Dispatcher
	logger   *slog.Logger

	ticks      atomic.Uint64
	overruns   atomic.Uint64
	readErrors atomic.Uint64
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// RateHz is the sampling rate. Required.
	RateHz int

	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// NewRunner returns a runner for d reading from s.
func NewRunner(cfg RunnerConfig, s Sampler, d *Dispatcher, logger *slog.Logger) (*Runner, error) {
	if cfg.RateHz <= 0 {
		return nil, fmt.Errorf("tick rate must be > 0, got %d", cfg.RateHz)
	}
	if s == nil || d == nil {
		return nil, errors.New("tick runner needs a sampler and a dispatcher")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		clock:    clk,
		period:   time.Second / time.Duration(cfg.RateHz),
		sampler:  s,
		dispatch: d,
		logger:   logger,
	}, nil
}

// Period returns the tick period.
func (r *Runner) Period() time.Duration { return r.period }

// Run samples and dispatches until ctx is canceled or the sampler is exhausted.
func (r *Runner) Run(ctx context.Context) error {
	ticker := r.clock.Ticker(r.period)
	defer ticker.Stop()

	r.logger.Info("tick runner starting", "period", r.period)

	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("tick runner stopping (context canceled)")
			return nil

		case <-ticker.C:
			start := r.clock.Now()

			s, err := r.sampler.Sample(ctx)
			if err != nil {
				if errors.Is(err, io.EOF) {
					r.logger.Info("tick runner stopping (sampler exhausted)", "ticks", r.ticks.Load())
					return nil
				}
				if ctx.Err() != nil {
					return nil
				}
				r.readErrors.Inc()
				consecutive++
				if consecutive >= MaxReadErrors {
					return fmt.Errorf("sampler failed %d times in a row: %w", consecutive, err)
				}
				r.logger.Warn("sample read failed", "error", err, "consecutive", consecutive)
				continue
			}
			consecutive = 0

			r.dispatch.Tick(s)
			r.ticks.Inc()

			if elapsed := r.clock.Since(start); elapsed > r.period {
				r.overruns.Inc()
				r.logger.Debug("tick overrun", "elapsed", elapsed, "period", r.period)
			}
		}
	}
}

// Stats returns the current counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Ticks:      r.ticks.Load(),
		Overruns:   r.overruns.Load(),
		Coalesced:  r.dispatch.Coalesced(),
		ReadErrors: r.readErrors.Load(),
		Faults:     r.dispatch.Faults(),
	}
}
