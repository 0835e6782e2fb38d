package control

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"detentd/internal/tally"
)

// serveOnce answers the first request on a temp socket with reply.
func serveOnce(t *testing.T, reply string) (string, <-chan string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "c.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		got <- line
		_, _ = conn.Write([]byte(reply + "\n"))
	}()
	return path, got
}

func TestSend_Snapshot(t *testing.T) {
	path, got := serveOnce(t, `{"status":"ok","snapshot":{"cw_count":3,"ccw_count":1,"position":2,"last_click":"cw"}}`)

	resp, err := Send(path, GetSnapshot, time.Second)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if line := <-got; line != `{"type":"get_snapshot"}`+"\n" {
		t.Errorf("request line = %q", line)
	}

	want := &tally.Snapshot{CW: 3, CCW: 1, Position: 2, LastClick: "cw"}
	if diff := cmp.Diff(want, resp.Snapshot); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	if resp.Stats != nil {
		t.Errorf("unexpected stats %+v", resp.Stats)
	}
}

func TestSend_ErrorStatus(t *testing.T) {
	path, _ := serveOnce(t, `{"status":"error","error":"unknown request type \"x\""}`)

	resp, err := Send(path, "x", time.Second)
	if err == nil || !strings.Contains(err.Error(), "unknown request type") {
		t.Fatalf("got %v, want ipc error", err)
	}
	if resp.Status != StatusError {
		t.Errorf("status = %q, want error", resp.Status)
	}
}

func TestSend_NoServer(t *testing.T) {
	_, err := Send(filepath.Join(t.TempDir(), "none.sock"), GetStats, 100*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "connect") {
		t.Fatalf("got %v, want connect error", err)
	}
}

// TestStats_JSONFlattened tests that runner counters sit at the top level of get_stats.
func TestStats_JSONFlattened(t *testing.T) {
	var st Stats
	st.Ticks = 10
	st.Faults = 2
	st.RateHz = 400

	b, err := json.Marshal(st)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"ticks":10`, `"encoder_faults":2`, `"rate_hz":400`} {
		if !strings.Contains(string(b), key) {
			t.Errorf("%s missing from %s", key, b)
		}
	}
}
