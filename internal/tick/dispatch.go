// Package tick runs the encoder decoder and the button filter once per
// sampling period and hands their outputs to a consumer.
package tick

import (
	"go.uber.org/atomic"

	"detentd/internal/debounce"
	"detentd/internal/quadrature"
)

// Sample is the raw input bit-field captured at one tick.
type Sample uint32

// Layout names the bits of a Sample that belong to the encoder and button.
// All other bits are ignored and may hold anything.
type Layout struct {
	A      uint // encoder line A
	B      uint // encoder line B
	Button uint

	// ButtonActiveLow treats a cleared button bit as a closed contact,
	// which is how a switch to ground with a pull-up reads.
	ButtonActiveLow bool
}

// DefaultLayout packs line A, line B and the button into bits 0, 1 and 2.
var DefaultLayout = Layout{A: 0, B: 1, Button: 2}

// EncoderInput extracts the 2-bit encoder pattern from s.
func (l Layout) EncoderInput(s Sample) quadrature.Input {
	a := uint32(s>>l.A) & 1
	b := uint32(s>>l.B) & 1
	return quadrature.Input(a | b<<1)
}

// ButtonClosed reports whether the button contact reads closed in s.
func (l Layout) ButtonClosed(s Sample) bool {
	set := (s>>l.Button)&1 == 1
	return set != l.ButtonActiveLow
}

// Result is what one tick produced.
type Result struct {
	Seq     uint64
	Encoder quadrature.Event
	Pressed bool
}

// Consumer receives every tick result. It is called from the tick goroutine
// and must not block.
type Consumer interface {
	Consume(Result)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(Result)

func (f ConsumerFunc) Consume(r Result) { f(r) }

// Dispatcher owns one decoder and one filter. Either may be nil when the
// corresponding input is not wired.
type Dispatcher struct {
	layout   Layout
	decoder  *quadrature.Decoder
	filter   *debounce.Filter
	consumer Consumer

	seq       uint64
	busy      atomic.Bool
	coalesced atomic.Uint64
}

// NewDispatcher builds a dispatcher. A nil consumer discards results.
func NewDispatcher(layout Layout, decoder *quadrature.Decoder, filter *debounce.Filter, consumer Consumer) *Dispatcher {
	if consumer == nil {
		consumer = ConsumerFunc(func(Result) {})
	}
	return &Dispatcher{
		layout:   layout,
		decoder:  decoder,
		filter:   filter,
		consumer: consumer,
	}
}

// Tick processes one sample. It returns false, without touching any state,
// if another Tick is still running; that sample is dropped, not queued.
func (d *Dispatcher) Tick(s Sample) (Result, bool) {
	if !d.busy.CompareAndSwap(false, true) {
		d.coalesced.Inc()
		return Result{}, false
	}
	defer d.busy.Store(false)

	d.seq++
	r := Result{Seq: d.seq}
	if d.decoder != nil {
		r.Encoder = d.decoder.Decode(d.layout.EncoderInput(s))
	}
	if d.filter != nil {
		r.Pressed = d.filter.Sample(d.layout.ButtonClosed(s))
	}
	d.consumer.Consume(r)
	return r, true
}

// Coalesced returns how many samples were dropped because a tick was in progress.
func (d *Dispatcher) Coalesced() uint64 { return d.coalesced.Load() }

// Faults returns how many samples had both encoder lines high, as counted by
// the decoder. It is zero when no decoder is wired.
func (d *Dispatcher) Faults() uint64 {
	if d.decoder == nil {
		return 0
	}
	return d.decoder.Faults()
}
