package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"detentd/internal/control"
	"detentd/internal/debounce"
	"detentd/internal/quadrature"
	"detentd/internal/tally"
	"detentd/internal/tick"
)

// ============================================================================
// Daemon wiring
// ============================================================================
//
// One goroutine owns the tick: sampler -> dispatcher (decoder + filter) ->
// tally. Everything else only reads the tally's published words or receives
// its change notifications:
//
//   runner      tick loop at tick.rate_hz
//   hub         websocket fan-out        (state_ws.listen != "")
//   broadcaster tally changes -> hub     (state_ws.listen != "")
//   http        /state endpoint          (state_ws.listen != "")
//   ipc         unix socket commands
//   display     periodic counter log     (display.interval_ms > 0)
//   watcher     config reload            (when started with -config)
//
// The first goroutine to fail cancels the others. A replay sampler that
// runs out of samples ends the daemon cleanly.
// ============================================================================

// daemon holds the wired components.
type daemon struct {
	cfg    Config
	logger *slog.Logger
	clock  clock.Clock

	source     sampleSource
	counts     *tally.Tally
	changes    chan tally.Change
	dispatcher *tick.Dispatcher
	runner     *tick.Runner
	ws         *Server
}

// newDaemon opens the sampler and builds the tick pipeline for cfg.
// cfg must already be validated.
func newDaemon(cfg Config, clk clock.Clock, logger *slog.Logger) (*daemon, error) {
	if clk == nil {
		clk = clock.New()
	}
	d := &daemon{cfg: cfg, logger: logger, clock: clk}

	var decoder *quadrature.Decoder
	if cfg.Encoder.Enabled {
		decoder = quadrature.NewDecoder()
	}

	var filter *debounce.Filter
	if cfg.Button.Enabled {
		f, err := debounce.New(cfg.Button.Window, cfg.ButtonMode())
		if err != nil {
			return nil, fmt.Errorf("button filter: %w", err)
		}
		filter = f
	}

	tcfg := tally.Config{Reverse: cfg.Encoder.Reverse, Clock: clk}
	if cfg.StateWS.Listen != "" {
		d.changes = make(chan tally.Change, changesBuf)
		tcfg.Changes = d.changes
	}
	d.counts = tally.New(tcfg)
	d.dispatcher = tick.NewDispatcher(cfg.Layout(), decoder, filter, d.counts)

	src, err := openSampler(&cfg, logger)
	if err != nil {
		return nil, err
	}
	d.source = src

	d.runner, err = tick.NewRunner(tick.RunnerConfig{RateHz: cfg.Tick.RateHz, Clock: clk}, src, d.dispatcher, logger)
	if err != nil {
		_ = src.Close()
		return nil, err
	}

	if cfg.StateWS.Listen != "" {
		d.ws = NewServer(logger, d.counts.Snapshot, ServerConfig{Hub: HubConfig{
			SendBuf:      cfg.StateWS.SendBuf,
			BroadcastBuf: cfg.StateWS.BroadcastBuf,
		}})
	}

	return d, nil
}

// stats collects the get_stats reply.
func (d *daemon) stats() control.Stats {
	st := control.Stats{
		Stats:            d.runner.Stats(),
		RateHz:           d.cfg.Tick.RateHz,
		ButtonDebounceMS: float64(debounce.Duration(d.cfg.Button.Window, d.cfg.Tick.RateHz)) / float64(time.Millisecond),
		DroppedChanges:   d.counts.Snapshot().Dropped,
	}
	if d.ws != nil {
		st.WSClients = d.ws.Hub().ClientCount()
	}
	return st
}

// run starts every goroutine and blocks until they have all stopped.
func (d *daemon) run(ctx context.Context, watcher *configWatcher) error {
	defer d.source.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// A finished replay stops the whole daemon.
		defer cancel()
		return d.runner.Run(gctx)
	})

	if d.ws != nil {
		mux := http.NewServeMux()
		d.ws.Register(mux, d.cfg.StateWS.Path)

		g.Go(func() error {
			d.ws.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, d.ws.Hub(), d.changes, d.clock, d.logger)
			return nil
		})
		g.Go(func() error {
			return runHTTPServer(gctx, d.cfg.StateWS.Listen, mux, d.logger)
		})
	}

	g.Go(func() error {
		return runIPCServer(gctx, d.cfg.IPC.SocketPath, IPCHandlers{
			Snapshot: d.counts.Snapshot,
			Stats:    d.stats,
			Reset:    d.counts.Reset,
		}, d.logger)
	})

	if d.cfg.Display.IntervalMS > 0 {
		interval := time.Duration(d.cfg.Display.IntervalMS) * time.Millisecond
		g.Go(func() error {
			runDisplay(gctx, d.clock, interval, d.counts.Snapshot, d.logger)
			return nil
		})
	}

	if watcher != nil {
		g.Go(func() error {
			// Losing live reload is not worth stopping the tick for.
			if err := watcher.Run(gctx); err != nil {
				d.logger.Warn("config watcher stopped", "error", err)
			}
			return nil
		})
	}

	err := g.Wait()

	final := d.counts.Snapshot()
	d.logger.Info("final counters",
		"cw", final.CW,
		"ccw", final.CCW,
		"position", final.Position,
		"presses", final.Presses,
		"ticks", final.Ticks)

	return err
}
