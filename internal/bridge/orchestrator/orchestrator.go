// Package orchestrator drives the call bridge: it owns the single active
// session and coordinates the peer engine, the provider call API and the
// browser signaling channel to completion.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sebas/callbridge/internal/bridge/metrics"
	"github.com/sebas/callbridge/internal/bridge/provider"
	"github.com/sebas/callbridge/internal/bridge/rtc"
	"github.com/sebas/callbridge/internal/bridge/session"
	"github.com/sebas/callbridge/internal/bridge/signaling"
)

// ErrCallInProgress is returned when a new call is requested while a
// session is active. At most one session exists at any time.
var ErrCallInProgress = errors.New("a call session is already active")

// ErrProviderTrackTimeout is returned when the provider produces no
// audio track within the configured wait.
var ErrProviderTrackTimeout = errors.New("provider produced no audio track in time")

// CallAPI is the provider-side REST surface the orchestrator drives.
// Implemented by provider.Client.
type CallAPI interface {
	InitiateCall(ctx context.Context, phoneNumber, sdp string) provider.Result
	Answer(ctx context.Context, callID, sdp, action string) provider.Result
	Reject(ctx context.Context, callID string) provider.Result
	Terminate(ctx context.Context, callID string) provider.Result
}

// Notifier pushes lifecycle events to every connected browser.
// Implemented by signaling.Hub.
type Notifier interface {
	Broadcast(event string, data any)
}

// Config holds orchestrator timing knobs.
type Config struct {
	// TrackWaitTimeout bounds the wait for the provider's first audio
	// track during a bridge attempt.
	TrackWaitTimeout time.Duration

	// AcceptDelay is the pause between a successful pre_accept and the
	// follow-up accept.
	AcceptDelay time.Duration
}

// Orchestrator is the bridge state machine. All session mutation is
// serialized behind mu; blocking work (track waits, REST calls) runs
// outside the lock under the session's cancellation scope.
type Orchestrator struct {
	cfg    Config
	engine rtc.Engine
	calls  CallAPI

	notifier Notifier

	mu   sync.Mutex
	sess *session.Session
}

// New creates an orchestrator. SetNotifier must be called before any
// traffic is dispatched.
func New(engine rtc.Engine, calls CallAPI, cfg Config) *Orchestrator {
	if cfg.TrackWaitTimeout <= 0 {
		cfg.TrackWaitTimeout = 10 * time.Second
	}
	if cfg.AcceptDelay < 0 {
		cfg.AcceptDelay = 0
	}
	return &Orchestrator{
		cfg:    cfg,
		engine: engine,
		calls:  calls,
	}
}

// SetNotifier binds the browser-facing broadcast sink. Wiring happens
// in two phases because the hub needs the orchestrator as its inbound
// handler.
func (o *Orchestrator) SetNotifier(n Notifier) {
	o.notifier = n
}

func (o *Orchestrator) broadcast(event string, data any) {
	if o.notifier != nil {
		o.notifier.Broadcast(event, data)
	}
}

// StartOutboundCall opens an outbound session and asks the browser to
// produce an SDP offer. Returns ErrCallInProgress while any session is
// active.
func (o *Orchestrator) StartOutboundCall(phoneNumber, callerName string) error {
	o.mu.Lock()
	if o.sess != nil {
		o.mu.Unlock()
		return ErrCallInProgress
	}

	sess := session.New(session.DirectionOutbound)
	sess.Outbound = session.NewOutboundCall(phoneNumber, callerName)
	// The flag and state are set before the browser is asked for its
	// offer, so a browser-offer arriving at any point after this call
	// finds the machine in waiting-for-sdp.
	_ = sess.Outbound.Start()
	_ = sess.Outbound.AwaitSDP()
	o.sess = sess
	o.mu.Unlock()

	metrics.Calls.WithLabelValues(session.DirectionOutbound.String()).Inc()
	slog.Info("[Orchestrator] Outbound call requested",
		"session_id", sess.ID,
		"phone_number", phoneNumber,
	)

	o.broadcast(signaling.EventStartOutgoingCall, outgoingCallPayload{
		PhoneNumber: phoneNumber,
		CallerName:  callerName,
	})
	return nil
}

// resetLocked releases the session and clears the active slot. Callers
// must hold mu and pass the session they observed, so a stale goroutine
// cannot reset a newer session.
func (o *Orchestrator) resetLocked(sess *session.Session, reason string) {
	if sess == nil || o.sess != sess {
		return
	}
	if sess.Outbound != nil && !sess.Outbound.Is(session.StateIdle) {
		_ = sess.Outbound.Reset()
	}
	sess.Release()
	o.sess = nil

	slog.Info("[Orchestrator] Session reset",
		"session_id", sess.ID,
		"call_id", sess.CallID,
		"direction", sess.Direction.String(),
		"reason", reason,
	)
}

// Stats describes the orchestrator's current state for the API server.
type Stats struct {
	ActiveSession bool   `json:"active_session"`
	Direction     string `json:"direction,omitempty"`
	CallID        string `json:"call_id,omitempty"`
	OutboundState string `json:"outbound_state,omitempty"`
	Bridged       bool   `json:"bridged"`
}

// Stats returns a snapshot of the current session state.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sess == nil {
		return Stats{}
	}
	s := Stats{
		ActiveSession: true,
		Direction:     o.sess.Direction.String(),
		CallID:        o.sess.CallID,
		Bridged:       o.sess.Bridged,
	}
	if o.sess.Outbound != nil {
		s.OutboundState = o.sess.Outbound.State()
	}
	return s
}
