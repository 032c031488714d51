// Package signaling is the duplex channel to the browser: a websocket
// endpoint delivering offer/candidate/control events inbound and
// answer/candidate/lifecycle notifications outbound.
package signaling

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Browser-facing event names. Fixed for compatibility with the existing
// browser client.
const (
	// Inbound (browser -> bridge)
	EventBrowserOffer      = "browser-offer"
	EventRejectCall        = "reject-call"
	EventTerminateCall     = "terminate-call"
	EventRejectOutbound    = "reject-outbound-call"
	EventTerminateOutbound = "terminate-outbound-call"

	// Outbound (bridge -> browser)
	EventBrowserAnswer     = "browser-answer"
	EventStartBrowserTimer = "start-browser-timer"
	EventCallIsComing      = "call-is-coming"
	EventCallEnded         = "call-ended"
	EventOutgoingInitiated = "outgoing-call-initiated"
	EventOutgoingConnected = "outgoing-call-connected"
	EventOutgoingRejected  = "outgoing-call-rejected"
	EventOutgoingTimeout   = "outgoing-call-timeout"
	EventWebRTCError       = "webrtc-error"
	EventStartOutgoingCall = "start-outgoing-call-webrtc"

	// Both directions
	EventBrowserCandidate = "browser-candidate"
)

// Message is the wire envelope for every signaling event.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler consumes inbound browser events. Implemented by the bridge
// orchestrator.
type Handler interface {
	// HandleBrowserEvent is called for each decoded inbound message.
	HandleBrowserEvent(ch *Channel, event string, data json.RawMessage)

	// ChannelClosed is called after a channel's read loop exits.
	ChannelClosed(ch *Channel)
}

// Channel is one live browser connection. Writes are serialized by an
// internal mutex so Emit is safe from any goroutine.
type Channel struct {
	id           string
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
}

// ID returns the channel's identifier.
func (c *Channel) ID() string {
	return c.id
}

// Emit sends an event with a JSON-encoded payload to the browser.
func (c *Channel) Emit(event string, data any) error {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return err
		}
		raw = encoded
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteJSON(Message{Event: event, Data: raw})
}

func (c *Channel) sendControl(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(5 * time.Second)
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteControl(messageType, data, deadline)
}

// HubConfig holds websocket tuning knobs.
type HubConfig struct {
	ReadLimit    int64
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongWait     time.Duration
}

// DefaultHubConfig returns the hub defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		ReadLimit:    512 * 1024,
		WriteTimeout: 4 * time.Second,
		PingInterval: 20 * time.Second,
		PongWait:     45 * time.Second,
	}
}

// Hub accepts browser connections and fans notifications out to them.
type Hub struct {
	cfg      HubConfig
	handler  Handler
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewHub creates a hub dispatching inbound events to handler.
func NewHub(handler Handler, cfg HubConfig) *Hub {
	if cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait / 2
	}
	return &Hub{
		cfg:      cfg,
		handler:  handler,
		channels: make(map[string]*Channel),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
	}
}

// Count returns the number of connected channels.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

// Broadcast sends an event to every connected channel.
func (h *Hub) Broadcast(event string, data any) {
	h.mu.RLock()
	channels := make([]*Channel, 0, len(h.channels))
	for _, ch := range h.channels {
		channels = append(channels, ch)
	}
	h.mu.RUnlock()

	for _, ch := range channels {
		if err := ch.Emit(event, data); err != nil {
			slog.Warn("[Signaling] Broadcast failed", "channel_id", ch.id, "event", event, "error", err)
		}
	}
}

// HandleWS upgrades an HTTP request to a signaling channel and runs its
// read loop until the connection drops.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[Signaling] Upgrade failed", "error", err)
		return
	}

	ch := &Channel{
		id:           uuid.New().String(),
		conn:         conn,
		writeTimeout: h.cfg.WriteTimeout,
	}

	conn.SetReadLimit(h.cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		return nil
	})

	h.mu.Lock()
	h.channels[ch.id] = ch
	h.mu.Unlock()

	slog.Info("[Signaling] Browser connected", "channel_id", ch.id, "remote", r.RemoteAddr)

	stopPing := make(chan struct{})
	go func() {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := ch.sendControl(websocket.PingMessage, []byte("ping")); err != nil {
					_ = conn.Close()
					return
				}
			case <-stopPing:
				return
			}
		}
	}()

	for {
		_, raw, readErr := conn.ReadMessage()
		if readErr != nil {
			break
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			_ = ch.Emit(EventWebRTCError, map[string]string{"message": "invalid signaling payload"})
			continue
		}
		if msg.Event == "" {
			continue
		}

		h.handler.HandleBrowserEvent(ch, msg.Event, msg.Data)
	}

	close(stopPing)

	h.mu.Lock()
	delete(h.channels, ch.id)
	h.mu.Unlock()
	_ = conn.Close()

	slog.Info("[Signaling] Browser disconnected", "channel_id", ch.id)
	h.handler.ChannelClosed(ch)
}
