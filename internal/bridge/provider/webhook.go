package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/sebas/callbridge/internal/bridge/metrics"
)

// Call lifecycle events delivered by webhook.
const (
	EventConnect   = "connect"
	EventTerminate = "terminate"
	EventReject    = "reject"
	EventTimeout   = "timeout"
)

// CallEvent is one call lifecycle event from a webhook delivery.
type CallEvent struct {
	ID        string              `json:"id"`
	Event     string              `json:"event"`
	Direction string              `json:"direction,omitempty"`
	From      string              `json:"from,omitempty"`
	To        string              `json:"to,omitempty"`
	Timestamp string              `json:"timestamp,omitempty"`
	Session   *SessionDescription `json:"session,omitempty"`
}

// Contact is the caller profile delivered alongside call events.
type Contact struct {
	WaID    string  `json:"wa_id"`
	Profile Profile `json:"profile"`
}

// Profile carries the caller's display name.
type Profile struct {
	Name string `json:"name"`
}

// webhookPayload mirrors the provider's entry/changes envelope.
type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Calls    []CallEvent `json:"calls"`
				Contacts []Contact   `json:"contacts"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// EventHandler consumes call events decoded from webhook deliveries.
// Implemented by the bridge orchestrator.
type EventHandler interface {
	HandleCallEvent(ev CallEvent, contact *Contact)
}

// Receiver validates and parses inbound provider webhook deliveries.
type Receiver struct {
	verifyToken string
	appSecret   string
	handler     EventHandler
}

// NewReceiver creates a webhook receiver. appSecret may be empty, in
// which case signature verification is skipped.
func NewReceiver(verifyToken, appSecret string, handler EventHandler) *Receiver {
	return &Receiver{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		handler:     handler,
	}
}

// HandleVerification answers the provider's webhook subscription
// handshake: echo the challenge when mode is "subscribe" and the token
// matches, 403 on token mismatch, 400 when mode or token is absent.
func (r *Receiver) HandleVerification(w http.ResponseWriter, req *http.Request) {
	mode := req.URL.Query().Get("hub.mode")
	token := req.URL.Query().Get("hub.verify_token")
	challenge := req.URL.Query().Get("hub.challenge")

	if mode == "" || token == "" {
		http.Error(w, "mode and verify_token required", http.StatusBadRequest)
		return
	}

	if mode != "subscribe" || token != r.verifyToken {
		slog.Warn("[Webhook] Verification failed", "mode", mode)
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}

	slog.Info("[Webhook] Verification succeeded")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// HandleEvent processes a webhook delivery. The provider retries
// deliveries that are not acknowledged, so every decodable payload is
// answered with 200 no matter what happens while processing it; only an
// unexpected panic yields 500.
func (r *Receiver) HandleEvent(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if sig := req.Header.Get("X-Hub-Signature-256"); sig != "" && r.appSecret != "" {
		if !r.validSignature(body, sig) {
			slog.Warn("[Webhook] Signature mismatch")
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Warn("[Webhook] Undecodable payload", "error", err)
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[Webhook] Panic while processing delivery", "panic", rec)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}()

	r.dispatch(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (r *Receiver) dispatch(payload webhookPayload) {
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "calls" {
				slog.Debug("[Webhook] Ignoring non-call change", "field", change.Field)
				continue
			}

			var contact *Contact
			if len(change.Value.Contacts) > 0 {
				contact = &change.Value.Contacts[0]
			}

			for _, ev := range change.Value.Calls {
				if ev.ID == "" || ev.Event == "" {
					slog.Warn("[Webhook] Malformed call event, acknowledging without action",
						"call_id", ev.ID,
						"event", ev.Event,
					)
					continue
				}

				metrics.WebhookEvents.WithLabelValues(ev.Event).Inc()
				slog.Info("[Webhook] Call event",
					"call_id", ev.ID,
					"event", ev.Event,
					"direction", ev.Direction,
					"from", ev.From,
				)
				r.handler.HandleCallEvent(ev, contact)
			}
		}
	}
}

func (r *Receiver) validSignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(r.appSecret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}
