package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"detentd/internal/tick"
)

// replaySampler feeds recorded samples to the tick runner, one per tick.
//
// File format: one sample per line, written in decimal, 0x hex or 0b binary.
// Blank lines and anything after '#' are ignored.
type replaySampler struct {
	mu      sync.Mutex
	samples []tick.Sample
	next    int
	loop    bool
}

func openReplaySampler(path string, loop bool) (sampleSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	samples, err := parseReplay(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%s: no samples", path)
	}
	return &replaySampler{samples: samples, loop: loop}, nil
}

func parseReplay(r io.Reader) ([]tick.Sample, error) {
	var samples []tick.Sample

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Base 0 accepts decimal, 0x, 0o and 0b prefixes.
		v, err := strconv.ParseUint(line, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid sample %q", lineNo, line)
		}
		samples = append(samples, tick.Sample(v))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read replay: %w", err)
	}
	return samples, nil
}

// Sample returns the next recorded sample, or io.EOF when the recording is
// exhausted and looping is off.
func (r *replaySampler) Sample(ctx context.Context) (tick.Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next >= len(r.samples) {
		if !r.loop || len(r.samples) == 0 {
			return 0, io.EOF
		}
		r.next = 0
	}
	s := r.samples[r.next]
	r.next++
	return s, nil
}

func (r *replaySampler) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.samples == nil {
		return errors.New("replay sampler already closed")
	}
	r.samples = nil
	return nil
}
