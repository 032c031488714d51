package rtc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/sebas/callbridge/internal/bridge/sdputil"
)

// EngineConfig holds settings for the pion-backed engine.
type EngineConfig struct {
	// ICEServers lists STUN/TURN URLs. Empty means host candidates only.
	ICEServers    []string
	ICEUsername   string
	ICECredential string

	// UDPPortMin/UDPPortMax restrict the ephemeral media port range.
	// Both zero means the OS default range.
	UDPPortMin int
	UDPPortMax int
}

// pionEngine is the production Engine backed by pion/webrtc.
type pionEngine struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewPionEngine builds an Engine with audio codecs registered for
// WhatsApp calling: opus as primary, G.711 and telephone-event as
// fallbacks the provider may negotiate.
func NewPionEngine(cfg EngineConfig) (Engine, error) {
	m := &webrtc.MediaEngine{}

	codecs := []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeOpus,
				ClockRate:   48000,
				Channels:    2,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			PayloadType: 111,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  "audio/telephone-event",
				ClockRate: 8000,
			},
			PayloadType: 126,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  webrtc.MimeTypePCMA,
				ClockRate: 8000,
				Channels:  1,
			},
			PayloadType: 8,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  webrtc.MimeTypePCMU,
				ClockRate: 8000,
				Channels:  1,
			},
			PayloadType: 0,
		},
	}
	for _, c := range codecs {
		if err := m.RegisterCodec(c, webrtc.RTPCodecTypeAudio); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
	}

	s := webrtc.SettingEngine{}
	if cfg.UDPPortMin > 0 && cfg.UDPPortMax >= cfg.UDPPortMin && cfg.UDPPortMax <= 65535 {
		if err := s.SetEphemeralUDPPortRange(uint16(cfg.UDPPortMin), uint16(cfg.UDPPortMax)); err != nil {
			return nil, fmt.Errorf("set UDP port range %d-%d: %w", cfg.UDPPortMin, cfg.UDPPortMax, err)
		}
	}

	var iceServers []webrtc.ICEServer
	for _, url := range cfg.ICEServers {
		server := webrtc.ICEServer{URLs: []string{url}}
		if cfg.ICEUsername != "" {
			server.Username = cfg.ICEUsername
		}
		if cfg.ICECredential != "" {
			server.Credential = cfg.ICECredential
		}
		iceServers = append(iceServers, server)
	}

	return &pionEngine{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithSettingEngine(s),
		),
		config: webrtc.Configuration{ICEServers: iceServers},
	}, nil
}

func (e *pionEngine) NewPeer() (Peer, error) {
	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &pionPeer{pc: pc}

	pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.mu.Lock()
		fn := p.onTrack
		p.mu.Unlock()

		slog.Debug("[RTC] Inbound track", "track_id", tr.ID(), "kind", tr.Kind().String())
		if fn != nil {
			fn(&remoteTrack{tr: tr})
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		p.mu.Lock()
		fn := p.onCandidate
		p.mu.Unlock()
		if fn == nil {
			return
		}

		init := c.ToJSON()
		fn(Candidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		slog.Debug("[RTC] ICE connection state", "state", state.String())
	})

	return p, nil
}

// remoteTrack wraps a pion remote track so it satisfies Track.
type remoteTrack struct {
	tr *webrtc.TrackRemote
}

func (t *remoteTrack) ID() string   { return t.tr.ID() }
func (t *remoteTrack) Kind() string { return t.tr.Kind().String() }

// pionPeer is the concrete Peer for pionEngine.
type pionPeer struct {
	pc *webrtc.PeerConnection

	mu          sync.Mutex
	onTrack     func(Track)
	onCandidate func(Candidate)
}

func (p *pionPeer) OnTrack(fn func(Track)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *pionPeer) OnICECandidate(fn func(Candidate)) {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
}

func (p *pionPeer) SetRemoteOffer(sdp string) error {
	cleaned := cleanSDP(sdp)
	if !sdputil.HasAudio(cleaned) {
		return fmt.Errorf("offer carries no audio section")
	}
	offer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  cleaned,
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	return nil
}

func (p *pionPeer) CreateAnswer(ctx context.Context) (string, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	local := p.pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("no local description after gathering")
	}
	return local.SDP, nil
}

func (p *pionPeer) AddTrack(t Track) error {
	rt, ok := t.(*remoteTrack)
	if !ok {
		return ErrForeignTrack
	}

	local, err := webrtc.NewTrackLocalStaticRTP(rt.tr.Codec().RTPCodecCapability, rt.tr.ID(), "callbridge")
	if err != nil {
		return fmt.Errorf("create local track: %w", err)
	}

	sender, err := p.pc.AddTrack(local)
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}

	// Drain RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, readErr := sender.Read(buf); readErr != nil {
				return
			}
		}
	}()

	go forwardRTP(rt.tr, local)

	return nil
}

// forwardRTP pumps packets from a remote track onto a local one until
// either side closes.
func forwardRTP(src *webrtc.TrackRemote, dst *webrtc.TrackLocalStaticRTP) {
	for {
		var pkt *rtp.Packet
		pkt, _, err := src.ReadRTP()
		if err != nil {
			return
		}
		if err := dst.WriteRTP(pkt); err != nil {
			return
		}
	}
}

func (p *pionPeer) AddICECandidate(c Candidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

// cleanSDP undoes the line-ending escaping some webhook payloads apply
// to SDP carried inside JSON strings.
func cleanSDP(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, `\r\n`, "\r\n")
	s = strings.ReplaceAll(s, `\n`, "\n")
	return s
}

// Ensure implementations satisfy the interfaces
var (
	_ Engine = (*pionEngine)(nil)
	_ Peer   = (*pionPeer)(nil)
	_ Track  = (*remoteTrack)(nil)
)
