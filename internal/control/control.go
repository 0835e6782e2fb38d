// Package control defines the line-delimited JSON protocol spoken on the
// daemon's Unix socket, and a small client for it.
//
//	-> {"type":"get_snapshot"}
//	<- {"status":"ok","snapshot":{...}}
package control

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"detentd/internal/tally"
	"detentd/internal/tick"
)

// Request types
const (
	GetSnapshot   = "get_snapshot"
	GetStats      = "get_stats"
	ResetCounters = "reset_counters"
)

// Response statuses
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Request is one line sent by a client.
type Request struct {
	Type string `json:"type"`
}

// Response is the reply to a Request.
type Response struct {
	Status   string          `json:"status"`          // "ok" or "error"
	Error    string          `json:"error,omitempty"` // error message if status == "error"
	Snapshot *tally.Snapshot `json:"snapshot,omitempty"`
	Stats    *Stats          `json:"stats,omitempty"`
}

// Stats are the tick diagnostics returned by get_stats.
type Stats struct {
	tick.Stats

	RateHz           int     `json:"rate_hz"`
	ButtonDebounceMS float64 `json:"button_debounce_ms"`
	DroppedChanges   uint64  `json:"dropped_changes"`
	WSClients        int     `json:"ws_clients"`
}

// Send sends one request and returns the response. A response with status
// "error" is also returned as an error.
func Send(socketPath, reqType string, timeout time.Duration) (Response, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return Response{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	data, err := json.Marshal(Request{Type: reqType})
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != StatusOK {
		return resp, fmt.Errorf("ipc error: %s", resp.Error)
	}
	return resp, nil
}
