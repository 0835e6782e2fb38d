package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"detentd/internal/control"
	"detentd/internal/tally"
)

// fakeDaemon answers every request on a temp socket and records the types.
func fakeDaemon(t *testing.T) (string, <-chan string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ctl.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	seen := make(chan string, 8)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			line, err := bufio.NewReader(conn).ReadBytes('\n')
			if err == nil {
				var req control.Request
				_ = json.Unmarshal(line, &req)
				seen <- req.Type

				resp := control.Response{Status: control.StatusOK}
				switch req.Type {
				case control.GetSnapshot:
					resp.Snapshot = &tally.Snapshot{CW: 5, Position: 5}
				case control.GetStats:
					resp.Stats = &control.Stats{RateHz: 400}
				case control.ResetCounters:
				default:
					resp = control.Response{Status: control.StatusError, Error: "unknown request type"}
				}
				_ = json.NewEncoder(conn).Encode(resp)
			}
			conn.Close()
		}
	}()
	return path, seen
}

func TestRun_Commands(t *testing.T) {
	path, seen := fakeDaemon(t)

	tests := []struct {
		cmd      string
		wantType string
		wantOut  string
	}{
		{"snapshot", control.GetSnapshot, `"cw_count": 5`},
		{"get", control.GetSnapshot, `"position": 5`},
		{"stats", control.GetStats, `"rate_hz": 400`},
		{"reset", control.ResetCounters, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run([]string{"-socket", path, tt.cmd}, &stdout, &stderr); code != 0 {
				t.Fatalf("exit %d, stderr %q", code, stderr.String())
			}
			if got := <-seen; got != tt.wantType {
				t.Errorf("sent %q, want %q", got, tt.wantType)
			}
			if !strings.Contains(stdout.String(), tt.wantOut) {
				t.Errorf("stdout %q does not contain %q", stdout.String(), tt.wantOut)
			}
		})
	}
}

func TestRun_UsageErrors(t *testing.T) {
	tests := map[string][]string{
		"no args":        nil,
		"socket no path": {"-socket"},
		"socket only":    {"-socket", "/tmp/x.sock"},
		"unknown":        {"explode"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(args, &stdout, &stderr); code != 1 {
				t.Errorf("exit %d, want 1", code)
			}
			if stderr.Len() == 0 {
				t.Errorf("expected diagnostics on stderr")
			}
		})
	}
}

func TestRun_NoDaemon(t *testing.T) {
	var stdout, stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "missing.sock")
	if code := run([]string{"-socket", path, "snapshot"}, &stdout, &stderr); code != 1 {
		t.Errorf("exit %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "connect") {
		t.Errorf("stderr %q should mention the connect failure", stderr.String())
	}
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"help"}, &stdout, &stderr); code != 0 {
		t.Errorf("exit %d, want 0", code)
	}
	if !strings.Contains(stdout.String(), "Commands:") {
		t.Errorf("help output missing commands section")
	}
}
