package tally

import (
	"time"
)

// spinWindow tracks recent clicks for velocity detection.
// This lets a consumer detect "fast spinning" and scale its step size.
//
// Owned by the tick goroutine; not safe for concurrent use.
type spinWindow struct {
	recent []spinStep
	window time.Duration
}

// spinStep records a single encoder detent.
type spinStep struct {
	at        time.Time
	direction int // +1 for clockwise, -1 for counter-clockwise
}

func newSpinWindow(window time.Duration) *spinWindow {
	return &spinWindow{
		recent: make([]spinStep, 0, 16),
		window: window,
	}
}

// add records a click and returns the count of clicks in the same direction
// within the window, including this one.
func (w *spinWindow) add(direction int, now time.Time) int {
	cutoff := now.Add(-w.window)

	// Drop steps that left the window.
	kept := w.recent[:0]
	for _, s := range w.recent {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	kept = append(kept, spinStep{at: now, direction: direction})
	w.recent = kept

	same := 0
	for _, s := range kept {
		if s.direction == direction {
			same++
		}
	}
	return same
}

func (w *spinWindow) reset() {
	w.recent = w.recent[:0]
}
