package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"detentd/internal/tally"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// This file implements:
//   - A Hub that tracks connected WebSocket clients
//   - Per-client write pumps so one slow client doesn't block others
//   - A broadcaster loop that reads tally changes and fans them out
//
// Notes:
//   - Slow clients are disconnected when their send buffer fills.
//   - Messages are JSON text frames with an envelope: {type, ts, data}.
//   - The initial message on connect is "state_init" with the tally snapshot.
//   - "encoder_click", "button_press" and "counters_reset" are sent as they
//     happen; "counters" is rate-limited to one per wsCountersCoalesceWindow.
//
// ============================================================================

// wsClickData is the JSON `data` payload for "encoder_click".
type wsClickData struct {
	Direction string `json:"direction"`
	Burst     int    `json:"burst"`
	Position  int64  `json:"position"`
}

// wsPressData is the JSON `data` payload for "button_press".
type wsPressData struct {
	PressCount uint64 `json:"press_count"`
}

// wsOutboundEvent is a pre-typed, externally-consumable state event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time // optional timestamp; zero means use now
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string      `json:"type"`
	Ts   *time.Time  `json:"ts,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	// Configuration
	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size.
	// If zero, a conservative default is used.
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size.
	// If zero, a conservative default is used.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients first, then remove them after we unlock.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.closeSend()
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		c.closeSend()

		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

const (
	writeWait = 5 * time.Second

	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// wsCountersCoalesceWindow is the maximum time window during which bursty counter
// updates are coalesced (latest-wins) before broadcasting to clients.
const wsCountersCoalesceWindow = 50 * time.Millisecond

// closeStatus extracts a human-readable websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Info("ws "+pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", err)
				return
			}
		}
	}
}

// readPump reads and discards incoming messages to detect disconnects and handle control frames.
// It exits on read error, then unregisters the client.
func (c *Client) readPump(ctx context.Context) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP Handler + server wiring helpers
// ============================================================================

type Server struct {
	logger *slog.Logger

	hub *Hub

	// snapshot provides the state_init payload. Tally snapshots are lock-free
	// so this can be called from the HTTP goroutine.
	snapshot func() tally.Snapshot
}

type ServerConfig struct {
	Hub HubConfig
}

// NewServer constructs the WS state server components. Call Register on a mux,
// start hub.Run(ctx), and start the broadcaster loop.
func NewServer(logger *slog.Logger, snapshot func() tally.Snapshot, cfg ServerConfig) *Server {
	return &Server{
		logger:   logger,
		hub:      NewHub(logger, cfg.Hub),
		snapshot: snapshot,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register registers the WS handler on the provided mux.
func (s *Server) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStateWS)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStateWS upgrades and registers a client, then sends state_init.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Queue state_init before registering so it is the first frame the client
	// sees; a broadcast can only reach the client once it is registered.
	if s.snapshot != nil {
		now := time.Now().UTC()
		initMsg, mErr := json.Marshal(envelope{
			Type: "state_init",
			Ts:   &now,
			Data: s.snapshot(),
		})
		if mErr != nil {
			s.logger.Warn("ws state_init marshal failed", "error", mErr)
		} else {
			client.send <- initMsg
		}
	}

	s.hub.register <- client

	// Do not tie the pumps to the HTTP request context (r.Context()): net/http
	// cancels it when the handler returns. The connection lifetime is managed
	// by the hub and by websocket read/write errors.
	go client.writePump(context.Background())
	go client.readPump(context.Background())
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster reads tally changes, marshals them, and broadcasts them to all
// hub clients. Intended to run as a single goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan tally.Change, clk clock.Clock, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}
	if clk == nil {
		clk = clock.New()
	}

	broadcast := func(ev wsOutboundEvent) {
		ts := ev.At
		if ts.IsZero() {
			ts = clk.Now()
		}
		ts = ts.UTC()
		msg, err := json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.BroadcastBytes(msg)
	}

	// Counters are flushed at most once every wsCountersCoalesceWindow, even if
	// updates keep arriving (no debounce-on-silence).
	var pending *wsOutboundEvent
	var timer *clock.Timer
	var timerCh <-chan time.Time

	flushPending := func() {
		if pending == nil {
			return
		}
		broadcast(*pending)
		pending = nil
	}

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = nil
		timerCh = nil
	}

	for {
		select {
		case <-ctx.Done():
			flushPending()
			stopTimer()
			return

		case <-timerCh:
			flushPending()
			stopTimer()

		case ch, ok := <-src:
			if !ok {
				flushPending()
				stopTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			ev, ok := convertChange(ch)
			if !ok {
				continue
			}
			if ch.Kind == tally.ChangeReset {
				// A reset supersedes any pending counters.
				pending = nil
				stopTimer()
				broadcast(ev)
				continue
			}

			broadcast(ev)

			// Latest-wins: replace the pending counters and make sure the
			// timer is running. The timer is not reset on each update.
			counters := wsOutboundEvent{Type: "counters", Data: ch.Snapshot, At: ch.At}
			pending = &counters
			if timer == nil {
				timer = clk.Timer(wsCountersCoalesceWindow)
				timerCh = timer.C
			}
		}
	}
}

func convertChange(ch tally.Change) (wsOutboundEvent, bool) {
	switch ch.Kind {
	case tally.ChangeClick:
		return wsOutboundEvent{
			Type: "encoder_click",
			Data: wsClickData{
				Direction: ch.Event.String(),
				Burst:     ch.Burst,
				Position:  ch.Snapshot.Position,
			},
			At: ch.At,
		}, true

	case tally.ChangePress:
		return wsOutboundEvent{
			Type: "button_press",
			Data: wsPressData{PressCount: ch.Snapshot.Presses},
			At:   ch.At,
		}, true

	case tally.ChangeReset:
		return wsOutboundEvent{
			Type: "counters_reset",
			Data: ch.Snapshot,
			At:   ch.At,
		}, true

	default:
		return wsOutboundEvent{}, false
	}
}
