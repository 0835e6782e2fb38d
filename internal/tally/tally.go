// Package tally is the application side of the tick: it turns decoded clicks
// and press edges into counters that other goroutines can read.
//
// Consume runs on the tick goroutine. Every published value is a single
// atomic word, so readers such as the websocket hub or the IPC server never
// block the tick and never see a torn value; a Snapshot taken while a tick is
// running may mix values from two consecutive ticks.
package tally

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"detentd/internal/quadrature"
	"detentd/internal/tick"
)

// DefaultSpinWindow is the time window for velocity detection.
const DefaultSpinWindow = 200 * time.Millisecond

// ChangeKind says what a Change reports.
type ChangeKind uint8

const (
	ChangeClick ChangeKind = iota + 1
	ChangePress
	ChangeReset
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeClick:
		return "click"
	case ChangePress:
		return "press"
	case ChangeReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Change is pushed to the Changes channel whenever a counter moves.
type Change struct {
	Kind     ChangeKind
	Event    quadrature.Event // for ChangeClick
	Burst    int              // same-direction clicks inside the spin window
	Snapshot Snapshot
	At       time.Time
}

// Snapshot is a copy of the published counters.
type Snapshot struct {
	CW       uint64 `json:"cw_count"`
	CCW      uint64 `json:"ccw_count"`
	Presses  uint64 `json:"press_count"`
	Position int64  `json:"position"`

	LastEncoder string `json:"last_encoder_event"`
	LastClick   string `json:"last_click"`
	LastPress   bool   `json:"last_button_event"`
	Burst       int    `json:"burst"`

	Ticks   uint64 `json:"ticks"`
	Dropped uint64 `json:"dropped_changes"`
}

// Config configures a Tally.
type Config struct {
	// Reverse swaps clockwise and counter-clockwise, for encoders wired the other way round.
	Reverse bool

	// SpinWindow defaults to DefaultSpinWindow.
	SpinWindow time.Duration

	// Clock defaults to the wall clock.
	Clock clock.Clock

	// Changes, if set, receives a Change for every click, press and reset.
	// Sends never block; when the channel is full the change is dropped.
	Changes chan<- Change
}

// Tally counts clicks and presses. It implements tick.Consumer.
type Tally struct {
	reverse bool
	clock   clock.Clock
	changes chan<- Change
	spin    *spinWindow

	cw, ccw, presses atomic.Uint64
	position         atomic.Int64
	lastEncoder      atomic.Uint32
	lastClick        atomic.Uint32
	lastPress        atomic.Bool
	burst            atomic.Int64
	ticks            atomic.Uint64
	dropped          atomic.Uint64
	resetSpin        atomic.Bool
}

var _ tick.Consumer = (*Tally)(nil)

// New returns an empty Tally.
func New(cfg Config) *Tally {
	window := cfg.SpinWindow
	if window <= 0 {
		window = DefaultSpinWindow
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Tally{
		reverse: cfg.Reverse,
		clock:   clk,
		changes: cfg.Changes,
		spin:    newSpinWindow(window),
	}
}

// Consume applies one tick result.
func (t *Tally) Consume(r tick.Result) {
	t.ticks.Inc()
	if t.resetSpin.CompareAndSwap(true, false) {
		t.spin.reset()
	}

	ev := r.Encoder
	if t.reverse {
		ev = ev.Reverse()
	}
	t.lastEncoder.Store(uint32(ev))
	t.lastPress.Store(r.Pressed)

	if ev != quadrature.None {
		switch ev {
		case quadrature.Clockwise:
			t.cw.Inc()
		case quadrature.CounterClockwise:
			t.ccw.Inc()
		}
		t.position.Add(int64(ev.Direction()))
		t.lastClick.Store(uint32(ev))

		now := t.clock.Now()
		burst := t.spin.add(ev.Direction(), now)
		t.burst.Store(int64(burst))
		t.publish(Change{Kind: ChangeClick, Event: ev, Burst: burst, At: now})
	}

	if r.Pressed {
		t.presses.Inc()
		t.publish(Change{Kind: ChangePress, At: t.clock.Now()})
	}
}

// Reset zeroes every counter. It may be called from any goroutine.
func (t *Tally) Reset() {
	t.cw.Store(0)
	t.ccw.Store(0)
	t.presses.Store(0)
	t.position.Store(0)
	t.burst.Store(0)
	t.lastClick.Store(uint32(quadrature.None))
	t.resetSpin.Store(true)
	t.publish(Change{Kind: ChangeReset, At: t.clock.Now()})
}

// Snapshot copies the published values. It may be called from any goroutine.
func (t *Tally) Snapshot() Snapshot {
	return Snapshot{
		CW:          t.cw.Load(),
		CCW:         t.ccw.Load(),
		Presses:     t.presses.Load(),
		Position:    t.position.Load(),
		LastEncoder: quadrature.Event(t.lastEncoder.Load()).String(),
		LastClick:   quadrature.Event(t.lastClick.Load()).String(),
		LastPress:   t.lastPress.Load(),
		Burst:       int(t.burst.Load()),
		Ticks:       t.ticks.Load(),
		Dropped:     t.dropped.Load(),
	}
}

func (t *Tally) publish(c Change) {
	if t.changes == nil {
		return
	}
	c.Snapshot = t.Snapshot()
	select {
	case t.changes <- c:
	default:
		t.dropped.Inc()
	}
}
