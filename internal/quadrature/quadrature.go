// Package quadrature decodes the two lines of a mechanical incremental rotary
// encoder into detent clicks.
//
// The decoder is polled: it is handed the 2-bit line pattern once per tick and
// walks a constant transition table. A click is reported only when the last
// intermediate state of a direction returns to Idle on the rest pattern, so a
// partial turn that reverses, or a sample sequence that skips a step, falls
// back to Idle without producing an event.
//
// Line patterns (bit 0 = line A, bit 1 = line B):
//
//	clockwise detent:          01 -> 00 -> 10 -> 00
//	counter-clockwise detent:  10 -> 00 -> 01 -> 00
//	both lines asserted (11):  never part of a detent, resets to Idle
//
// A reversal part way through a detent goes straight back to Idle instead of
// walking back through the intermediate states; no click is lost either way
// because a click needs the full sequence.
package quadrature

import (
	"fmt"

	"go.uber.org/atomic"
)

// State is the position of the decoder inside a detent.
// The zero value is Idle.
type State uint8

const (
	Idle State = iota
	CWA        // saw A
	CWB        // saw A, then rest
	CWC        // saw A, rest, then B
	CCWA       // saw B
	CCWB       // saw B, then rest
	CCWC       // saw B, rest, then A

	numStates = 7
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CWA:
		return "cw_a"
	case CWB:
		return "cw_b"
	case CWC:
		return "cw_c"
	case CCWA:
		return "ccw_a"
	case CCWB:
		return "ccw_b"
	case CCWC:
		return "ccw_c"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Input is the 2-bit pattern of the encoder lines for one tick.
type Input uint8

const (
	InputRest  Input = 0b00
	InputA     Input = 0b01
	InputB     Input = 0b10
	InputFault Input = 0b11

	numInputs = 4
)

// Event is the outcome of one decode step.
type Event uint8

const (
	None Event = iota
	Clockwise
	CounterClockwise
)

func (e Event) String() string {
	switch e {
	case None:
		return "none"
	case Clockwise:
		return "cw"
	case CounterClockwise:
		return "ccw"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

// Direction returns +1 for Clockwise, -1 for CounterClockwise and 0 otherwise.
func (e Event) Direction() int {
	switch e {
	case Clockwise:
		return 1
	case CounterClockwise:
		return -1
	default:
		return 0
	}
}

// Reverse swaps the two click directions.
func (e Event) Reverse() Event {
	switch e {
	case Clockwise:
		return CounterClockwise
	case CounterClockwise:
		return Clockwise
	default:
		return e
	}
}

// transitions[state][input] is the next state.
// Every row maps InputFault to Idle.
var transitions = [numStates][numInputs]State{
	//            00     01     10     11
	Idle: {Idle, CWA, CCWA, Idle},
	CWA:  {CWB, CWA, Idle, Idle},
	CWB:  {CWB, Idle, CWC, Idle},
	CWC:  {Idle, Idle, CWC, Idle},
	CCWA: {CCWB, Idle, CCWA, Idle},
	CCWB: {CCWB, CCWC, Idle, Idle},
	CCWC: {Idle, CCWC, Idle, Idle},
}

// Next returns the table entry for (s, in). Only the low two bits of in are used.
func Next(s State, in Input) State {
	return transitions[s%numStates][in&0b11]
}

// Decoder owns the state of one physical encoder.
// It is not safe for concurrent use; call it from the tick goroutine only.
// Faults is the exception and may be read from any goroutine.
type Decoder struct {
	state  State
	faults atomic.Uint64
}

// NewDecoder returns a decoder in the Idle state.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode advances the decoder by one sample and reports a completed click.
func (d *Decoder) Decode(in Input) Event {
	in &= 0b11
	cur := d.state
	next := transitions[cur][in]
	d.state = next

	if in == InputFault {
		d.faults.Inc()
		return None
	}
	if next != Idle || in != InputRest {
		return None
	}
	switch cur {
	case CWC:
		return Clockwise
	case CCWC:
		return CounterClockwise
	default:
		return None
	}
}

// State returns the current decoder state.
func (d *Decoder) State() State { return d.state }

// Faults returns how many desynchronized samples (both lines asserted) were seen.
func (d *Decoder) Faults() uint64 { return d.faults.Load() }

// Reset returns the decoder to Idle. The fault count is kept.
func (d *Decoder) Reset() { d.state = Idle }
