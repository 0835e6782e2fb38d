package tick

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"

	"detentd/internal/quadrature"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// scriptSampler returns samples in order, then io.EOF.
type scriptSampler struct {
	mu      sync.Mutex
	samples []Sample
	calls   int
	hook    func()
}

func (s *scriptSampler) Sample(ctx context.Context) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.hook != nil {
		s.hook()
	}
	if len(s.samples) == 0 {
		return 0, io.EOF
	}
	v := s.samples[0]
	s.samples = s.samples[1:]
	return v, nil
}

// driveUntilDone advances the mock clock one period at a time until Run returns.
func driveUntilDone(t *testing.T, mock *clock.Mock, period time.Duration, done <-chan error) error {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case err := <-done:
			return err
		case <-deadline:
			t.Fatalf("runner did not finish in time")
			return nil
		default:
			mock.Add(period)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestNewRunner_Validation(t *testing.T) {
	d := NewDispatcher(DefaultLayout, nil, nil, nil)
	s := &scriptSampler{}
	if _, err := NewRunner(RunnerConfig{RateHz: 0}, s, d, quietLogger); err == nil {
		t.Errorf("expected error for zero rate")
	}
	if _, err := NewRunner(RunnerConfig{RateHz: 400}, nil, d, quietLogger); err == nil {
		t.Errorf("expected error for nil sampler")
	}
	r, err := NewRunner(RunnerConfig{RateHz: 400}, s, d, quietLogger)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if r.Period() != 2500*time.Microsecond {
		t.Errorf("period = %v, want 2.5ms", r.Period())
	}
}

// TestRunner_DispatchesInOrder tests that every sample reaches the dispatcher in tick order.
func TestRunner_DispatchesInOrder(t *testing.T) {
	mock := clock.NewMock()
	var events []quadrature.Event
	d := NewDispatcher(DefaultLayout, quadrature.NewDecoder(), nil, ConsumerFunc(func(r Result) {
		if r.Encoder != quadrature.None {
			events = append(events, r.Encoder)
		}
	}))
	s := &scriptSampler{samples: []Sample{1, 0, 2, 0, 2, 0, 1, 0, 1, 0, 2, 0}}

	r, err := NewRunner(RunnerConfig{RateHz: 100, Clock: mock}, s, d, quietLogger)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	if err := driveUntilDone(t, mock, r.Period(), done); err != nil {
		t.Fatalf("Run returned %v, want nil on EOF", err)
	}

	want := []quadrature.Event{quadrature.Clockwise, quadrature.CounterClockwise, quadrature.Clockwise}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if st := r.Stats(); st.Ticks != 12 {
		t.Errorf("ticks = %d, want 12", st.Ticks)
	}
}

// TestRunner_StopsOnCancel tests that Run returns nil when the context is canceled.
func TestRunner_StopsOnCancel(t *testing.T) {
	mock := clock.NewMock()
	s := SamplerFunc(func(context.Context) (Sample, error) { return 0, nil })
	r, err := NewRunner(RunnerConfig{RateHz: 100, Clock: mock}, s, NewDispatcher(DefaultLayout, nil, nil, nil), quietLogger)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

// TestRunner_ReadErrors tests that transient read errors are skipped and a persistent failure ends the run.
func TestRunner_ReadErrors(t *testing.T) {
	mock := clock.NewMock()
	boom := errors.New("line read failed")
	s := SamplerFunc(func(context.Context) (Sample, error) { return 0, boom })
	r, err := NewRunner(RunnerConfig{RateHz: 100, Clock: mock}, s, NewDispatcher(DefaultLayout, nil, nil, nil), quietLogger)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	err = driveUntilDone(t, mock, r.Period(), done)
	if !errors.Is(err, boom) {
		t.Fatalf("Run returned %v, want wrapped %v", err, boom)
	}
	st := r.Stats()
	if st.ReadErrors != MaxReadErrors {
		t.Errorf("read errors = %d, want %d", st.ReadErrors, MaxReadErrors)
	}
	if st.Ticks != 0 {
		t.Errorf("ticks = %d, want 0", st.Ticks)
	}
}

// TestRunner_CountsOverruns tests that a tick taking longer than the period is counted.
func TestRunner_CountsOverruns(t *testing.T) {
	mock := clock.NewMock()
	s := &scriptSampler{samples: []Sample{0, 0, 0}}
	r, err := NewRunner(RunnerConfig{RateHz: 100, Clock: mock}, s, NewDispatcher(DefaultLayout, nil, nil, nil), quietLogger)
	if err != nil {
		t.Fatal(err)
	}
	// Every sample read stalls for three periods.
	s.hook = func() { mock.Add(3 * r.Period()) }

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	if err := driveUntilDone(t, mock, r.Period(), done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	st := r.Stats()
	if st.Ticks != 3 {
		t.Errorf("ticks = %d, want 3", st.Ticks)
	}
	if st.Overruns != 3 {
		t.Errorf("overruns = %d, want 3", st.Overruns)
	}
}
