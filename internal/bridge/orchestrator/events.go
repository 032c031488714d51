package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/sebas/callbridge/internal/bridge/metrics"
	"github.com/sebas/callbridge/internal/bridge/provider"
	"github.com/sebas/callbridge/internal/bridge/rtc"
	"github.com/sebas/callbridge/internal/bridge/session"
	"github.com/sebas/callbridge/internal/bridge/signaling"
)

// hangupTimeout bounds the provider REST call made while tearing a call
// down. Teardown must not block on a slow Graph API.
const hangupTimeout = 5 * time.Second

type offerPayload struct {
	SDP string `json:"sdp"`
}

type answerPayload struct {
	SDP string `json:"sdp"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type outgoingCallPayload struct {
	PhoneNumber string `json:"phoneNumber"`
	CallerName  string `json:"callerName,omitempty"`
}

type callInfoPayload struct {
	CallID string `json:"callId"`
	From   string `json:"from,omitempty"`
	Name   string `json:"name,omitempty"`
}

// HandleBrowserEvent dispatches a message from a browser signaling
// channel. Implements signaling.Handler.
func (o *Orchestrator) HandleBrowserEvent(ch *signaling.Channel, event string, data json.RawMessage) {
	switch event {
	case signaling.EventBrowserOffer:
		var p offerPayload
		if err := json.Unmarshal(data, &p); err != nil || p.SDP == "" {
			slog.Warn("[Orchestrator] Discarding malformed browser offer", "channel_id", ch.ID())
			return
		}
		o.handleBrowserOffer(ch, p.SDP)

	case signaling.EventBrowserCandidate:
		var c rtc.Candidate
		if err := json.Unmarshal(data, &c); err != nil {
			slog.Warn("[Orchestrator] Discarding malformed browser candidate", "channel_id", ch.ID())
			return
		}
		o.handleBrowserCandidate(c)

	case signaling.EventRejectCall, signaling.EventRejectOutbound:
		o.handleBrowserHangup(event, provider.ActionReject)

	case signaling.EventTerminateCall, signaling.EventTerminateOutbound:
		o.handleBrowserHangup(event, provider.ActionTerminate)

	default:
		slog.Debug("[Orchestrator] Ignoring unknown browser event",
			"event", event,
			"channel_id", ch.ID(),
		)
	}
}

// handleBrowserOffer stores the browser's SDP offer, binds the channel
// as the session's signaling handle and either initiates the outbound
// call or attempts the bridge.
func (o *Orchestrator) handleBrowserOffer(ch *signaling.Channel, sdp string) {
	o.mu.Lock()
	sess := o.sess
	if sess == nil {
		// Offer ahead of any provider activity. Open an inbound
		// session so the offer is in place when connect arrives.
		sess = session.New(session.DirectionInbound)
		o.sess = sess
		slog.Info("[Orchestrator] Browser offer opened a session", "session_id", sess.ID)
	}
	sess.BrowserOfferSDP = sdp
	sess.Signaling = ch

	if sess.Outbound != nil && sess.Outbound.AwaitingSDP() {
		ctx := sess.Context()
		phone := sess.Outbound.PhoneNumber
		o.mu.Unlock()
		go o.initiateOutbound(ctx, sess, phone, sdp)
		return
	}

	o.maybeBridgeLocked(sess)
	o.mu.Unlock()
}

// initiateOutbound places the connect request toward the provider. Runs
// off the lock; the session may be reset while the request is in
// flight.
func (o *Orchestrator) initiateOutbound(ctx context.Context, sess *session.Session, phoneNumber, sdp string) {
	res := o.calls.InitiateCall(ctx, phoneNumber, sdp)

	o.mu.Lock()
	if o.sess != sess {
		o.mu.Unlock()
		return
	}
	pendingID := sess.PendingConnectID
	pendingSDP := sess.PendingConnectSDP
	sess.PendingConnectID = ""
	sess.PendingConnectSDP = ""
	if !res.Success {
		o.resetLocked(sess, "outbound call initiation failed")
		o.mu.Unlock()
		o.broadcast(signaling.EventWebRTCError, errorPayload{
			Message: "call initiation failed: " + res.Err,
		})
		if pendingID != "" {
			o.replayConnect(pendingID, pendingSDP)
		}
		return
	}
	sess.CallID = res.CallID
	_ = sess.Outbound.Initiated()
	o.mu.Unlock()

	slog.Info("[Orchestrator] Outbound call initiated",
		"session_id", sess.ID,
		"call_id", res.CallID,
	)
	o.broadcast(signaling.EventOutgoingInitiated, callInfoPayload{CallID: res.CallID})

	if pendingID != "" {
		o.replayConnect(pendingID, pendingSDP)
	}
}

// replayConnect re-dispatches a connect that was held while the
// initiate response was in flight. With the call id settled the event
// resolves normally: it either matches the outbound session or is
// rejected as a genuine second call.
func (o *Orchestrator) replayConnect(callID, sdp string) {
	ev := provider.CallEvent{ID: callID, Event: provider.EventConnect}
	if sdp != "" {
		ev.Session = &provider.SessionDescription{SDPType: "offer", SDP: sdp}
	}
	o.handleConnect(ev, nil)
}

func (o *Orchestrator) handleBrowserCandidate(c rtc.Candidate) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sess == nil || o.sess.BrowserPeer == nil {
		slog.Debug("[Orchestrator] Dropping candidate, no browser peer yet")
		return
	}
	if err := o.sess.BrowserPeer.AddICECandidate(c); err != nil {
		slog.Warn("[Orchestrator] Failed to add browser candidate", "error", err)
	}
}

// handleBrowserHangup ends the active call at the browser's request.
// The session is reset first; the provider notification rides a fresh
// context because the session's one is cancelled by the reset.
func (o *Orchestrator) handleBrowserHangup(event, action string) {
	o.mu.Lock()
	sess := o.sess
	if sess == nil {
		o.mu.Unlock()
		slog.Debug("[Orchestrator] Hangup with no active session", "event", event)
		return
	}
	callID := sess.CallID
	o.resetLocked(sess, "browser "+event)
	o.mu.Unlock()

	if callID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
		defer cancel()
		switch action {
		case provider.ActionReject:
			o.calls.Reject(ctx, callID)
		default:
			o.calls.Terminate(ctx, callID)
		}
	}
	o.broadcast(signaling.EventCallEnded, nil)
}

// ChannelClosed detaches a dropped browser channel from the session.
// The call itself keeps running; a reconnecting browser re-binds by
// sending a new offer.
func (o *Orchestrator) ChannelClosed(ch *signaling.Channel) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sess != nil && o.sess.Signaling == ch {
		o.sess.Signaling = nil
		slog.Info("[Orchestrator] Signaling channel detached from session",
			"session_id", o.sess.ID,
			"channel_id", ch.ID(),
		)
	}
}

// HandleCallEvent reconciles a provider webhook event against the
// session. Implements provider.EventHandler.
func (o *Orchestrator) HandleCallEvent(ev provider.CallEvent, contact *provider.Contact) {
	switch ev.Event {
	case provider.EventConnect:
		o.handleConnect(ev, contact)
	case provider.EventTerminate, provider.EventReject, provider.EventTimeout:
		o.handleEnd(ev)
	default:
		slog.Warn("[Orchestrator] Unrecognized call event, state unchanged",
			"event", ev.Event,
			"call_id", ev.ID,
		)
	}
}

func (o *Orchestrator) handleConnect(ev provider.CallEvent, contact *provider.Contact) {
	var sdp string
	if ev.Session != nil {
		sdp = ev.Session.SDP
	}

	o.mu.Lock()
	sess := o.sess
	switch {
	case sess == nil:
		// Fresh inbound call.
		sess = session.New(session.DirectionInbound)
		sess.CallID = ev.ID
		sess.From = ev.From
		if contact != nil {
			sess.CallerName = contact.Profile.Name
			if sess.From == "" {
				sess.From = contact.WaID
			}
		}
		sess.ProviderOfferSDP = sdp
		o.sess = sess
		o.maybeBridgeLocked(sess)
		o.mu.Unlock()

		metrics.Calls.WithLabelValues(session.DirectionInbound.String()).Inc()
		slog.Info("[Orchestrator] Incoming call",
			"session_id", sess.ID,
			"call_id", ev.ID,
			"from", sess.From,
		)
		o.broadcast(signaling.EventCallIsComing, callInfoPayload{
			CallID: ev.ID,
			From:   sess.From,
			Name:   sess.CallerName,
		})

	case sess.CallID == ev.ID:
		// Outbound leg answered, or a re-delivered connect for the
		// current call.
		outbound := sess.Outbound != nil
		if outbound {
			if err := sess.Outbound.Connect(); err != nil {
				slog.Debug("[Orchestrator] Connect in unexpected outbound state",
					"state", sess.Outbound.State(),
				)
			}
		}
		if sdp != "" {
			sess.ProviderOfferSDP = sdp
		}
		o.maybeBridgeLocked(sess)
		o.mu.Unlock()

		if outbound {
			slog.Info("[Orchestrator] Outbound call answered", "call_id", ev.ID)
			o.broadcast(signaling.EventOutgoingConnected, callInfoPayload{CallID: ev.ID})
		}

	case sess.Direction == session.DirectionInbound && sess.CallID == "":
		// Session opened by an early browser offer adopts the call.
		sess.CallID = ev.ID
		sess.From = ev.From
		if contact != nil {
			sess.CallerName = contact.Profile.Name
			if sess.From == "" {
				sess.From = contact.WaID
			}
		}
		sess.ProviderOfferSDP = sdp
		o.maybeBridgeLocked(sess)
		o.mu.Unlock()

		metrics.Calls.WithLabelValues(session.DirectionInbound.String()).Inc()
		o.broadcast(signaling.EventCallIsComing, callInfoPayload{
			CallID: ev.ID,
			From:   sess.From,
			Name:   sess.CallerName,
		})

	case sess.Outbound != nil && sess.CallID == "":
		// Connect racing the initiate response: the call id is not
		// recorded yet, so this cannot be told apart from a foreign
		// call. Hold the event and reconcile once the initiate
		// result lands.
		sess.PendingConnectID = ev.ID
		sess.PendingConnectSDP = sdp
		o.mu.Unlock()
		slog.Info("[Orchestrator] Holding connect until call initiation settles",
			"call_id", ev.ID,
		)

	default:
		// A second call while one is active is rejected outright.
		activeID := sess.CallID
		o.mu.Unlock()
		slog.Warn("[Orchestrator] Rejecting call, session busy",
			"call_id", ev.ID,
			"active_call_id", activeID,
		)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
			defer cancel()
			o.calls.Reject(ctx, ev.ID)
		}()
	}
}

// handleEnd tears the session down when the provider reports the call
// over. Events for unknown call ids leave the session untouched.
func (o *Orchestrator) handleEnd(ev provider.CallEvent) {
	o.mu.Lock()
	sess := o.sess
	if sess == nil {
		o.mu.Unlock()
		slog.Debug("[Orchestrator] End event with no active session", "call_id", ev.ID, "event", ev.Event)
		o.broadcast(signaling.EventCallEnded, nil)
		return
	}
	if sess.CallID != ev.ID {
		// An end event for a foreign call (for instance one this
		// bridge rejected as busy) must not tear down the active
		// call's browser state.
		o.mu.Unlock()
		slog.Debug("[Orchestrator] End event for inactive call", "call_id", ev.ID, "event", ev.Event)
		return
	}
	outbound := sess.Outbound != nil
	o.resetLocked(sess, "provider "+ev.Event)
	o.mu.Unlock()

	if outbound {
		switch ev.Event {
		case provider.EventReject:
			o.broadcast(signaling.EventOutgoingRejected, callInfoPayload{CallID: ev.ID})
		case provider.EventTimeout:
			o.broadcast(signaling.EventOutgoingTimeout, callInfoPayload{CallID: ev.ID})
		}
	}
	o.broadcast(signaling.EventCallEnded, nil)
}
