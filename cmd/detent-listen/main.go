package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"detentd/internal/tally"
)

// detent-listen connects to detentd's state WebSocket and prints what the
// encoder and button do, one line per event.

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:8765/state", "detentd state websocket URL")
		raw   = flag.Bool("raw", false, "Print frames as received instead of formatting them")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	// Handle shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// The server pings every 20s; answer with pongs (gorilla does that by
	// default) and give up if nothing arrives for a minute.
	var writeMu sync.Mutex
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			if messageType != websocket.TextMessage {
				fmt.Printf("[BINARY] %d bytes\n", len(message))
				continue
			}
			if *raw {
				fmt.Println(string(message))
				continue
			}
			printFrame(os.Stdout, message)
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

type frame struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts"`
	Data json.RawMessage `json:"data"`
}

type clickData struct {
	Direction string `json:"direction"`
	Burst     int    `json:"burst"`
	Position  int64  `json:"position"`
}

type pressData struct {
	PressCount uint64 `json:"press_count"`
}

// printFrame writes one human-readable line for a state frame.
func printFrame(w io.Writer, message []byte) {
	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		fmt.Fprintf(w, "[TEXT] %s\n", message)
		return
	}

	ts := ""
	if f.Ts != nil {
		ts = f.Ts.Local().Format("15:04:05.000") + " "
	}

	switch f.Type {
	case "encoder_click":
		var c clickData
		if json.Unmarshal(f.Data, &c) == nil {
			arrow := "->"
			if c.Direction == "ccw" {
				arrow = "<-"
			}
			fmt.Fprintf(w, "%s[CLICK] %s %-3s position=%d burst=%d\n", ts, arrow, c.Direction, c.Position, c.Burst)
			return
		}

	case "button_press":
		var p pressData
		if json.Unmarshal(f.Data, &p) == nil {
			fmt.Fprintf(w, "%s[PRESS] #%d\n", ts, p.PressCount)
			return
		}

	case "state_init", "counters", "counters_reset":
		var s tally.Snapshot
		if json.Unmarshal(f.Data, &s) == nil {
			label := map[string]string{"state_init": "STATE", "counters": "COUNTERS", "counters_reset": "RESET"}[f.Type]
			fmt.Fprintf(w, "%s[%s] cw=%d ccw=%d position=%d presses=%d\n", ts, label, s.CW, s.CCW, s.Position, s.Presses)
			return
		}
	}

	// Unknown or malformed: pretty print whatever arrived.
	var v map[string]any
	if json.Unmarshal(message, &v) == nil {
		pretty, _ := json.MarshalIndent(v, "", "  ")
		fmt.Fprintf(w, "[MESSAGE]\n%s\n", pretty)
		return
	}
	fmt.Fprintf(w, "[TEXT] %s\n", message)
}
