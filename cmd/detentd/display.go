package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"detentd/internal/tally"
)

// runDisplay logs the counters every interval, but only when they moved
// since the last refresh. It plays the part of the status display a
// front-panel build would drive from its idle loop.
func runDisplay(ctx context.Context, clk clock.Clock, interval time.Duration, snapshot func() tally.Snapshot, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	var last tally.Snapshot
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := snapshot()
			if !countersChanged(last, s) {
				continue
			}
			last = s
			logger.Info("counters",
				"cw", s.CW,
				"ccw", s.CCW,
				"position", s.Position,
				"presses", s.Presses,
				"last_click", s.LastClick)
		}
	}
}

func countersChanged(a, b tally.Snapshot) bool {
	return a.CW != b.CW || a.CCW != b.CCW || a.Presses != b.Presses || a.Position != b.Position
}
