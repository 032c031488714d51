// Package api exposes the bridge's HTTP surface: the provider webhook,
// the browser signaling websocket and a small ops API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sebas/callbridge/internal/bridge/metrics"
	"github.com/sebas/callbridge/internal/bridge/orchestrator"
)

// Bridge provides call control for the API. Implemented by
// orchestrator.Orchestrator.
type Bridge interface {
	StartOutboundCall(phoneNumber, callerName string) error
	Stats() orchestrator.Stats
}

// WebhookReceiver handles provider webhook traffic. Implemented by
// provider.Receiver.
type WebhookReceiver interface {
	HandleVerification(w http.ResponseWriter, r *http.Request)
	HandleEvent(w http.ResponseWriter, r *http.Request)
}

// SignalingHub serves browser websocket connections. Implemented by
// signaling.Hub.
type SignalingHub interface {
	HandleWS(w http.ResponseWriter, r *http.Request)
	Count() int
}

// Server is the bridge's HTTP server.
type Server struct {
	addr       string
	httpServer *http.Server
	bridge     Bridge
	webhook    WebhookReceiver
	hub        SignalingHub
	startTime  time.Time
}

// NewServer creates the HTTP server and installs all routes.
func NewServer(addr string, bridge Bridge, webhook WebhookReceiver, hub SignalingHub) *Server {
	s := &Server{
		addr:      addr,
		bridge:    bridge,
		webhook:   webhook,
		hub:       hub,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()

	// Provider webhook: GET carries the subscription handshake, POST
	// the call event deliveries.
	mux.HandleFunc("/webhook", s.handleWebhook)

	// Browser signaling
	mux.HandleFunc("/ws", s.hub.HandleWS)
	mux.HandleFunc("/initiate-call", s.handleInitiateCall)

	// Health and stats
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/stats", s.handleStats)

	// Prometheus
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	slog.Info("[API] Starting HTTP server", "addr", s.addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("[API] Server error", "error", err)
			panic(err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// Handler returns the server's root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.webhook.HandleVerification(w, r)
	case http.MethodPost:
		s.webhook.HandleEvent(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleInitiateCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		PhoneNumber string `json:"phoneNumber"`
		CallerName  string `json:"callerName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONStatus(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "invalid JSON body",
		})
		return
	}
	if req.PhoneNumber == "" {
		s.writeJSONStatus(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "phoneNumber is required",
		})
		return
	}

	if err := s.bridge.StartOutboundCall(req.PhoneNumber, req.CallerName); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrCallInProgress) {
			status = http.StatusConflict
		}
		s.writeJSONStatus(w, status, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	s.writeJSON(w, map[string]any{
		"success": true,
		"message": "call initiation requested",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startTime).Seconds()
	response := map[string]interface{}{
		"status": "ok",
		"uptime": int64(uptime),
	}
	s.writeJSON(w, response)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.bridge.Stats()
	response := map[string]interface{}{
		"active_session":      stats.ActiveSession,
		"direction":           stats.Direction,
		"call_id":             stats.CallID,
		"outbound_state":      stats.OutboundState,
		"bridged":             stats.Bridged,
		"browser_connections": s.hub.Count(),
	}
	s.writeJSON(w, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	s.writeJSONStatus(w, http.StatusOK, v)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[API] Failed to encode response", "error", err)
	}
}
