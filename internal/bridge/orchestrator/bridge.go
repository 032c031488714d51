package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sebas/callbridge/internal/bridge/metrics"
	"github.com/sebas/callbridge/internal/bridge/provider"
	"github.com/sebas/callbridge/internal/bridge/rtc"
	"github.com/sebas/callbridge/internal/bridge/sdputil"
	"github.com/sebas/callbridge/internal/bridge/session"
	"github.com/sebas/callbridge/internal/bridge/signaling"
)

// maybeBridgeLocked starts a bridge attempt once every precondition is
// in place: an SDP offer from each side and a live signaling channel to
// deliver the browser's answer on. Callers must hold mu. Anything short
// of the full set is a quiet no-op; the missing piece triggers another
// attempt when it arrives.
func (o *Orchestrator) maybeBridgeLocked(sess *session.Session) {
	if sess.Bridging {
		return
	}
	if sess.BrowserOfferSDP == "" || sess.ProviderOfferSDP == "" || sess.Signaling == nil {
		return
	}
	sess.Bridging = true
	go o.runBridge(sess.Context(), sess, sess.BrowserOfferSDP, sess.ProviderOfferSDP, sess.Signaling)
}

// runBridge executes one bridge attempt and settles the session
// afterwards. Success clears both offers so a later renegotiation
// starts from a clean slate; failure tears the whole session down and
// tells the browser.
func (o *Orchestrator) runBridge(ctx context.Context, sess *session.Session, browserOffer, providerOffer string, ch *signaling.Channel) {
	o.mu.Lock()
	callID := sess.CallID
	o.mu.Unlock()

	slog.Info("[Orchestrator] Bridging call",
		"session_id", sess.ID,
		"call_id", callID,
		"direction", sess.Direction.String(),
	)

	err := o.bridge(ctx, sess, browserOffer, providerOffer, ch)
	if err == nil {
		o.mu.Lock()
		if o.sess == sess {
			sess.Bridging = false
			sess.Bridged = true
			sess.BrowserOfferSDP = ""
			sess.ProviderOfferSDP = ""
		}
		o.mu.Unlock()

		metrics.Bridges.WithLabelValues("success").Inc()
		slog.Info("[Orchestrator] Bridge established",
			"session_id", sess.ID,
			"call_id", callID,
		)
		return
	}

	if errors.Is(err, context.Canceled) {
		// The session was torn down while the bridge was in flight;
		// whoever cancelled it already notified the browser.
		metrics.Bridges.WithLabelValues("canceled").Inc()
		slog.Info("[Orchestrator] Bridge attempt abandoned", "session_id", sess.ID)
		return
	}

	metrics.Bridges.WithLabelValues("failure").Inc()
	slog.Error("[Orchestrator] Bridge failed",
		"session_id", sess.ID,
		"call_id", callID,
		"error", err,
	)

	o.mu.Lock()
	o.resetLocked(sess, "bridge failure")
	o.mu.Unlock()

	o.broadcast(signaling.EventWebRTCError, errorPayload{Message: err.Error()})
	o.broadcast(signaling.EventCallEnded, nil)
}

// bridge wires the two peers together and walks the provider answer
// handshake. Every wait in here honors ctx so a session reset aborts
// the attempt promptly.
func (o *Orchestrator) bridge(ctx context.Context, sess *session.Session, browserOffer, providerOffer string, ch *signaling.Channel) error {
	browserPeer, err := o.engine.NewPeer()
	if err != nil {
		return fmt.Errorf("creating browser peer: %w", err)
	}

	browserPeer.OnTrack(func(t rtc.Track) {
		o.mu.Lock()
		if o.sess == sess {
			sess.BrowserTracks = append(sess.BrowserTracks, t)
		}
		o.mu.Unlock()
	})
	browserPeer.OnICECandidate(func(c rtc.Candidate) {
		if emitErr := ch.Emit(signaling.EventBrowserCandidate, c); emitErr != nil {
			slog.Debug("[Orchestrator] Failed to relay ICE candidate", "error", emitErr)
		}
	})
	if err := browserPeer.SetRemoteOffer(browserOffer); err != nil {
		browserPeer.Close()
		return fmt.Errorf("applying browser offer: %w", err)
	}

	providerPeer, err := o.engine.NewPeer()
	if err != nil {
		browserPeer.Close()
		return fmt.Errorf("creating provider peer: %w", err)
	}

	providerTrack := make(chan rtc.Track, 1)
	providerPeer.OnTrack(func(t rtc.Track) {
		select {
		case providerTrack <- t:
		default:
		}
	})
	if err := providerPeer.SetRemoteOffer(providerOffer); err != nil {
		browserPeer.Close()
		providerPeer.Close()
		return fmt.Errorf("applying provider offer: %w", err)
	}

	// Hand the peers to the session so a reset closes them too. If the
	// session was swapped out meanwhile, abandon quietly.
	o.mu.Lock()
	if o.sess != sess {
		o.mu.Unlock()
		browserPeer.Close()
		providerPeer.Close()
		return context.Canceled
	}
	sess.BrowserPeer = browserPeer
	sess.ProviderPeer = providerPeer
	browserTracks := make([]rtc.Track, len(sess.BrowserTracks))
	copy(browserTracks, sess.BrowserTracks)
	callID := sess.CallID
	o.mu.Unlock()

	// Browser audio toward the provider.
	for _, t := range browserTracks {
		if err := providerPeer.AddTrack(t); err != nil {
			return fmt.Errorf("forwarding browser track: %w", err)
		}
	}

	// Provider audio toward the browser. The remote track only shows
	// up after the offer is applied, so wait for it with a bound.
	timer := time.NewTimer(o.cfg.TrackWaitTimeout)
	defer timer.Stop()

	var track rtc.Track
	select {
	case track = <-providerTrack:
	case <-timer.C:
		return ErrProviderTrackTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := browserPeer.AddTrack(track); err != nil {
		return fmt.Errorf("forwarding provider track: %w", err)
	}

	// The browser gets its answer before the provider handshake
	// starts, so its side of the media path is settling while the
	// provider is still accepting.
	browserAnswer, err := browserPeer.CreateAnswer(ctx)
	if err != nil {
		return fmt.Errorf("answering browser: %w", err)
	}
	if err := ch.Emit(signaling.EventBrowserAnswer, answerPayload{SDP: browserAnswer}); err != nil {
		return fmt.Errorf("sending browser answer: %w", err)
	}

	providerAnswer, err := providerPeer.CreateAnswer(ctx)
	if err != nil {
		return fmt.Errorf("answering provider: %w", err)
	}
	// The provider offers actpass but expects its peer to take the
	// active role.
	providerAnswer, err = sdputil.RewriteSetupActive(providerAnswer)
	if err != nil {
		return fmt.Errorf("rewriting provider answer: %w", err)
	}

	if res := o.calls.Answer(ctx, callID, providerAnswer, provider.ActionPreAccept); !res.Success {
		return fmt.Errorf("pre_accept rejected: %s", res.Err)
	}

	// The provider needs a beat between pre_accept and accept or the
	// first packets of audio get clipped.
	select {
	case <-time.After(o.cfg.AcceptDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if res := o.calls.Answer(ctx, callID, providerAnswer, provider.ActionAccept); !res.Success {
		return fmt.Errorf("accept rejected: %s", res.Err)
	}

	if err := ch.Emit(signaling.EventStartBrowserTimer, nil); err != nil {
		slog.Warn("[Orchestrator] Failed to start browser call timer", "error", err)
	}
	return nil
}
