package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	"detentd/internal/control"
	"detentd/internal/tally"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// The IPC server lets local tools (detent-ctl, scripts) query and reset the
// daemon's counters.
//
// Protocol: Line-delimited JSON, see package control
//   - Client sends: {"type": "get_snapshot" | "get_stats" | "reset_counters"}
//   - Server responds: {"status": "ok", ...} or {"status": "error", "error": "msg"}
// ============================================================================

// IPCHandlers connects the server to the daemon. Every function must be safe
// to call from any goroutine.
type IPCHandlers struct {
	Snapshot func() tally.Snapshot
	Stats    func() control.Stats
	Reset    func()
}

func (h IPCHandlers) handle(req control.Request) control.Response {
	switch req.Type {
	case control.GetSnapshot:
		snap := h.Snapshot()
		return control.Response{Status: control.StatusOK, Snapshot: &snap}
	case control.GetStats:
		st := h.Stats()
		return control.Response{Status: control.StatusOK, Stats: &st}
	case control.ResetCounters:
		h.Reset()
		return control.Response{Status: control.StatusOK}
	case "":
		return control.Response{Status: control.StatusError, Error: "missing request type"}
	default:
		return control.Response{Status: control.StatusError, Error: fmt.Sprintf("unknown request type %q", req.Type)}
	}
}

// runIPCServer starts the Unix domain socket server.
// It runs until ctx is canceled, at which point it closes the listener and exits.
func runIPCServer(ctx context.Context, socketPath string, h IPCHandlers, logger *slog.Logger) error {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	// reset_counters mutates state; owner and group only.
	if err := os.Chmod(socketPath, 0660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(conn, h, logger)
	}
}

// handleIPCConnection handles a single IPC connection
func handleIPCConnection(conn net.Conn, h IPCHandlers, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logger.Debug("IPC received", "line", line)

		var (
			req  control.Request
			resp control.Response
		)
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			resp = control.Response{Status: control.StatusError, Error: fmt.Sprintf("parse request: %v", err)}
		} else {
			resp = h.handle(req)
			if req.Type == control.ResetCounters && resp.Status == control.StatusOK {
				logger.Info("counters reset via IPC")
			}
		}

		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}

	logger.Debug("IPC connection closed")
}
