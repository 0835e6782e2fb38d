package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"detentd/internal/control"
)

// ============================================================================
// detent-ctl - Command-line IPC Client
// ============================================================================
// This tool queries and controls a running detentd over its Unix socket.
//
// Usage:
//   detent-ctl snapshot
//   detent-ctl stats
//   detent-ctl reset
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/detentd.sock)
// ============================================================================

const requestTimeout = 2 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	socketPath := "/tmp/detentd.sock"

	if len(args) == 0 {
		printUsage(stderr)
		return 1
	}

	// Check for -socket flag
	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(stderr, "error: -socket requires an argument\n")
			return 1
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage(stderr)
		return 1
	}

	// Parse command
	var reqType string
	switch args[0] {
	case "snapshot", "get":
		reqType = control.GetSnapshot
	case "stats":
		reqType = control.GetStats
	case "reset":
		reqType = control.ResetCounters
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "error: unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}

	resp, err := control.Send(socketPath, reqType, requestTimeout)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	var body any
	switch {
	case resp.Snapshot != nil:
		body = resp.Snapshot
	case resp.Stats != nil:
		body = resp.Stats
	default:
		fmt.Fprintln(stdout, "ok")
		return 0
	}

	out, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(out))
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "detent-ctl - Query and control detentd")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  detent-ctl [-socket PATH] <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Options:")
	fmt.Fprintln(w, "  -socket PATH    Unix domain socket path (default: /tmp/detentd.sock)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  snapshot        Print the current counters (alias: get)")
	fmt.Fprintln(w, "  stats           Print tick diagnostics")
	fmt.Fprintln(w, "  reset           Zero all counters")
	fmt.Fprintln(w, "  help            Show this help message")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  detent-ctl snapshot")
	fmt.Fprintln(w, "  detent-ctl -socket /run/detentd.sock stats")
	fmt.Fprintln(w, "  detent-ctl reset")
}
