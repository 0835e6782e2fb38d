package main

import "time"

const version = "1.0.0"

// Tick defaults
const (
	defaultRateHz = 400 // 2.5 ms period

	// The rate must stay below this; beyond it the runner spends more time
	// waking up than sampling.
	maxRateHz = 10000
)

// Button defaults
const (
	defaultButtonWindow = 8 // 20 ms at 400 Hz
	defaultMaxBounceHz  = 150
)

// Default sample bit layout and GPIO lines
const (
	defaultBitA      = 0
	defaultBitB      = 1
	defaultBitButton = 2

	defaultGPIOChip   = "gpiochip0"
	defaultLineA      = 17
	defaultLineB      = 27
	defaultLineButton = 22
)

// Runtime defaults
const (
	defaultSocketPath        = "/tmp/detentd.sock"
	defaultStateWSListen     = "127.0.0.1:8765"
	defaultStateWSPath       = "/state"
	defaultDisplayIntervalMS = 250

	// changesBuf is the buffer between the tick goroutine and the broadcaster.
	changesBuf = 256

	// reloadDebounce collapses bursts of write events from editors.
	reloadDebounce = 200 * time.Millisecond
)
