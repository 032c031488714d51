// Package session holds the single active call's mutable state.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sebas/callbridge/internal/bridge/rtc"
	"github.com/sebas/callbridge/internal/bridge/signaling"
)

// Direction indicates who started the call.
type Direction int

const (
	// DirectionInbound is a call placed by the remote WhatsApp user.
	DirectionInbound Direction = iota
	// DirectionOutbound is a call placed through the bridge.
	DirectionOutbound
)

// String returns the string representation of Direction.
func (d Direction) String() string {
	switch d {
	case DirectionInbound:
		return "inbound"
	case DirectionOutbound:
		return "outbound"
	default:
		return fmt.Sprintf("unknown(%d)", d)
	}
}

// Session is the single active call. The orchestrator owns the only
// reference and serializes all access behind its lock; Session itself
// performs no locking.
type Session struct {
	ID        string
	Direction Direction
	CreatedAt time.Time

	// CallID is the provider-assigned identifier. Empty until the
	// provider confirms the call; once set it is the sole correlation
	// key for webhook events.
	CallID string

	// Caller identity for inbound calls.
	From       string
	CallerName string

	// Outbound tracks the provider-side state of an outbound call.
	// Nil for inbound sessions.
	Outbound *OutboundCall

	// SDP offers. Bridging starts only once both are present.
	BrowserOfferSDP  string
	ProviderOfferSDP string

	// PendingConnectID/PendingConnectSDP hold a provider connect that
	// raced ahead of the initiate response, before CallID was known.
	// Reconciled once the initiate result lands.
	PendingConnectID  string
	PendingConnectSDP string

	// Peer connections owned by the orchestrator, released on reset.
	BrowserPeer  rtc.Peer
	ProviderPeer rtc.Peer

	// BrowserTracks accumulates inbound browser audio awaiting
	// cross-forwarding onto the provider peer.
	BrowserTracks []rtc.Track

	// Signaling routes events back to the browser connection the call
	// belongs to. Non-owning reference.
	Signaling *signaling.Channel

	// Bridging marks an in-flight bridge attempt; Bridged marks a
	// completed one.
	Bridging bool
	Bridged  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a session with a fresh cancellation scope.
func New(direction Direction) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:        uuid.New().String(),
		Direction: direction,
		CreatedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Context returns the session's cancellation scope. Every suspension
// point of a bridge attempt (track waits, accept delay, REST calls)
// must run under this context so a reset aborts it.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Release cancels the session's scope and closes both peer connections.
// Safe to call multiple times.
func (s *Session) Release() {
	s.cancel()
	if s.BrowserPeer != nil {
		_ = s.BrowserPeer.Close()
		s.BrowserPeer = nil
	}
	if s.ProviderPeer != nil {
		_ = s.ProviderPeer.Close()
		s.ProviderPeer = nil
	}
	s.BrowserTracks = nil
	s.BrowserOfferSDP = ""
	s.ProviderOfferSDP = ""
	s.PendingConnectID = ""
	s.PendingConnectSDP = ""
}
