package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func replayConfig(t *testing.T, samples []string) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Sampler.Kind = "replay"
	cfg.Sampler.ReplayFile = writeReplay(t, strings.Join(samples, "\n")+"\n")
	cfg.Sampler.ButtonActiveLow = false
	cfg.Tick.RateHz = 1000
	cfg.StateWS.Listen = ""
	cfg.IPC.SocketPath = filepath.Join(t.TempDir(), "d.sock")
	cfg.Display.IntervalMS = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

func repeatSample(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

// TestDaemon_ReplayEndToEnd tests a recorded session from file to counters.
func TestDaemon_ReplayEndToEnd(t *testing.T) {
	var samples []string
	samples = append(samples, "# two clockwise detents", "1", "0", "2", "0", "1", "0", "2", "0")
	samples = append(samples, "# one counter-clockwise detent", "0b10", "0", "0b01", "0")
	samples = append(samples, "# glitch: both lines high")
	samples = append(samples, "3", "0")
	samples = append(samples, "# button held for 12 ticks")
	samples = append(samples, repeatSample("0x4", 12)...)
	samples = append(samples, "0", "0")

	cfg := replayConfig(t, samples)
	d, err := newDaemon(cfg, nil, quietLogger())
	if err != nil {
		t.Fatalf("newDaemon: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.run(ctx, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("daemon did not stop when the replay ended")
	}

	s := d.counts.Snapshot()
	if s.CW != 2 || s.CCW != 1 || s.Position != 1 {
		t.Errorf("cw=%d ccw=%d position=%d, want 2/1/1", s.CW, s.CCW, s.Position)
	}
	if s.Presses != 1 {
		t.Errorf("presses = %d, want 1", s.Presses)
	}

	st := d.stats()
	if st.Faults != 1 {
		t.Errorf("faults = %d, want 1", st.Faults)
	}
	if st.RateHz != 1000 || st.ButtonDebounceMS != 8 {
		t.Errorf("stats = %+v, want rate 1000 and 8ms debounce", st)
	}
	if st.Ticks+st.Coalesced != uint64(len(samples)-4) {
		// four comment lines are not samples
		t.Errorf("ticks=%d coalesced=%d, want %d samples", st.Ticks, st.Coalesced, len(samples)-4)
	}
}

// TestDaemon_ReverseAndEncoderOnly tests config that changes what the tick sees.
func TestDaemon_ReverseAndEncoderOnly(t *testing.T) {
	cfg := replayConfig(t, []string{"1", "0", "2", "0", "4", "4", "4", "4", "4", "4", "4", "4", "4", "0"})
	cfg.Encoder.Reverse = true
	cfg.Button.Enabled = false

	d, err := newDaemon(cfg, nil, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := d.run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	s := d.counts.Snapshot()
	if s.CW != 0 || s.CCW != 1 || s.Position != -1 {
		t.Errorf("reversed clockwise turn counted as %+v", s)
	}
	if s.Presses != 0 {
		t.Errorf("button disabled but presses = %d", s.Presses)
	}
}

func TestNewDaemon_BadSampler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sampler.Kind = "replay"
	cfg.Sampler.ReplayFile = filepath.Join(t.TempDir(), "missing.txt")
	if _, err := newDaemon(cfg, nil, quietLogger()); err == nil {
		t.Fatal("expected error for missing replay file")
	}
}
