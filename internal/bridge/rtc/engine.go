// Package rtc abstracts the WebRTC media engine behind a small capability
// interface so the bridge orchestrator can be exercised without real
// network transports.
package rtc

import (
	"context"
	"errors"
)

// ErrForeignTrack is returned when a track from one engine implementation
// is added to a peer of another.
var ErrForeignTrack = errors.New("track does not originate from this engine")

// Track is an inbound audio track received on one peer connection that can
// be cross-forwarded onto another.
type Track interface {
	// ID returns the track identifier.
	ID() string

	// Kind returns the media kind ("audio" or "video").
	Kind() string
}

// Candidate is a trickled ICE candidate in the browser's JSON shape.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Peer is a single peer connection.
//
// Callback registration (OnTrack, OnICECandidate) must happen before
// SetRemoteOffer to avoid missing early events.
type Peer interface {
	// SetRemoteOffer applies the remote party's SDP offer.
	SetRemoteOffer(sdp string) error

	// CreateAnswer produces the local SDP answer. It blocks until ICE
	// gathering completes so the returned SDP carries candidates, or
	// until ctx is done.
	CreateAnswer(ctx context.Context) (string, error)

	// AddTrack forwards a track received from another peer onto this one.
	AddTrack(t Track) error

	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(c Candidate) error

	// OnTrack registers a handler for inbound tracks.
	OnTrack(fn func(Track))

	// OnICECandidate registers a handler for locally gathered candidates.
	OnICECandidate(fn func(Candidate))

	// Close releases the peer connection. Safe to call multiple times.
	Close() error
}

// Engine creates peer connections.
type Engine interface {
	NewPeer() (Peer, error)
}
