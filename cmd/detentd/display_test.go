package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"detentd/internal/quadrature"
	"detentd/internal/tally"
	"detentd/internal/tick"
)

// syncBuffer is a bytes.Buffer safe for a logger goroutine and a test reader.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestRunDisplay_LogsOnlyChanges(t *testing.T) {
	mock := clock.NewMock()
	counts := tally.New(tally.Config{Clock: mock})

	var out syncBuffer
	logger, _ := setupLogger(&out, LogLevelInfo)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runDisplay(ctx, mock, 100*time.Millisecond, counts.Snapshot, logger)
	}()

	lines := func() int { return strings.Count(out.String(), "msg=counters") }

	counts.Consume(tick.Result{Encoder: quadrature.Clockwise})
	waitUntil(t, time.Second, func() bool {
		mock.Add(100 * time.Millisecond)
		return lines() == 1
	}, "first change not logged")

	// Nothing moved: further refreshes stay quiet.
	for i := 0; i < 5; i++ {
		mock.Add(100 * time.Millisecond)
	}
	if n := lines(); n != 1 {
		t.Errorf("logged %d times without a change, want 1", n)
	}

	counts.Consume(tick.Result{Pressed: true})
	waitUntil(t, time.Second, func() bool {
		mock.Add(100 * time.Millisecond)
		return lines() == 2
	}, "second change not logged")

	cancel()
	<-done

	if !strings.Contains(out.String(), "presses=1") {
		t.Errorf("log missing press count:\n%s", out.String())
	}
}

func TestRunDisplay_Disabled(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		runDisplay(context.Background(), clock.NewMock(), 0, nil, quietLogger())
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runDisplay with zero interval should return immediately")
	}
}
