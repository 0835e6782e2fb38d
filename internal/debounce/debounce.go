// Package debounce filters a bouncing contact sampled at a fixed rate.
//
// Each sample is shifted into a 16-bit history. Bits above the comparison
// window are forced high by a guard mask, so the register only has to be
// compared against one constant pattern per tick and no separate counter is
// needed.
//
// The effective debounce time is window / sample rate. At 400 Hz a window of
// 8 samples rejects bounces shorter than 20 ms. The sample rate must be more
// than twice the fastest expected bounce frequency; faster bounces alias and
// may be missed for one or more cycles.
package debounce

import (
	"fmt"
	"strings"
	"time"
)

// MaxWindow is the largest supported window. Edge mode needs one extra bit
// of history for the open sample that precedes the closed run.
const MaxWindow = 15

// Mode selects what Sample reports.
type Mode uint8

const (
	// Edge reports true only on the tick where the contact has first been
	// closed for a full window after being open.
	Edge Mode = iota

	// Level reports true on every tick the last window samples were closed.
	Level
)

func (m Mode) String() string {
	switch m {
	case Edge:
		return "edge"
	case Level:
		return "level"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode converts a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "edge":
		return Edge, nil
	case "level":
		return Level, nil
	default:
		return 0, fmt.Errorf("invalid debounce mode: %s (must be edge or level)", s)
	}
}

// Filter debounces one input. It is not safe for concurrent use.
type Filter struct {
	history uint16
	guard   uint16
	target  uint16
	window  int
	mode    Mode
}

// New returns a filter that needs window consecutive closed samples.
func New(window int, mode Mode) (*Filter, error) {
	if window < 1 || window > MaxWindow {
		return nil, fmt.Errorf("debounce window %d out of range [1, %d]", window, MaxWindow)
	}

	ones := uint16(1)<<window - 1
	f := &Filter{window: window, mode: mode}
	switch mode {
	case Edge:
		// One open sample at bit `window`, then `window` closed samples.
		f.guard = ^uint16(0) << (window + 1)
		f.target = f.guard | ones
	case Level:
		f.guard = ^uint16(0) << window
		f.target = ^uint16(0)
	default:
		return nil, fmt.Errorf("unknown debounce mode %d", mode)
	}
	f.Reset()
	return f, nil
}

// Sample shifts in one raw reading and reports a debounced press per the filter's mode.
func (f *Filter) Sample(closed bool) bool {
	var bit uint16
	if closed {
		bit = 1
	}
	f.history = f.history<<1 | bit | f.guard
	return f.history == f.target
}

// Stable reports whether the last window samples were all closed, regardless of mode.
func (f *Filter) Stable() bool {
	ones := uint16(1)<<f.window - 1
	return f.history&ones == ones
}

// Reset clears the history so that every monitored bit reads open.
func (f *Filter) Reset() { f.history = f.guard }

// Window returns the number of closed samples required.
func (f *Filter) Window() int { return f.window }

// Mode returns the reporting mode.
func (f *Filter) Mode() Mode { return f.mode }

// Duration returns the debounce time for window samples at rateHz.
func Duration(window, rateHz int) time.Duration {
	if rateHz <= 0 {
		return 0
	}
	return time.Duration(window) * time.Second / time.Duration(rateHz)
}
