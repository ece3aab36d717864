// Package rtc implements the session's MediaPeer on top of pion. One
// Peer wraps one PeerConnection towards a single remote participant.
package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/protocol"
	"github.com/parley-chat/parley/internal/session"
)

var _ session.MediaPeer = (*Peer)(nil)

// RemoteSink is where a peer's inbound audio goes. Implementations own
// the playback device; SetDevice re-routes without renegotiation.
type RemoteSink interface {
	WriteRTP(*rtp.Packet) error
	SetDevice(id string) error
	Close()
}

func Config(stunURLs []string) webrtc.Configuration {
	if len(stunURLs) == 0 {
		stunURLs = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunURLs}},
	}
}

// Peer is one leg of the mesh. Candidates trickle through the onICE
// callback as they are gathered; callers relay them over signaling.
type Peer struct {
	pc     *webrtc.PeerConnection
	remote domain.UserID

	mu      sync.Mutex
	sender  *webrtc.RTPSender
	sink    RemoteSink
	muted   bool
	onICE   func(protocol.ICECandidate)
	onState func(session.PeerState)

	closeOnce sync.Once
}

// NewPeer builds the PeerConnection for one remote participant. The sink
// may be nil when the caller has no playback path (tests, probes).
func NewPeer(cfg webrtc.Configuration, remote domain.UserID, sink RemoteSink) (*Peer, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	p := &Peer{pc: pc, remote: remote, sink: sink}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		p.mu.Lock()
		fn := p.onICE
		p.mu.Unlock()
		if fn != nil {
			fn(toProtoCandidate(cand.ToJSON()))
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("remote", string(remote)).
			Str("peer_connection_state", s.String()).Msg("peer state")
		p.mu.Lock()
		fn := p.onState
		p.mu.Unlock()
		if fn != nil {
			fn(mapPeerState(s))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "rtc").Str("remote", string(remote)).
			Str("kind", track.Kind().String()).Str("track_id", track.ID()).
			Msg("remote track")
		go p.readRemote(track)
	})

	return p, nil
}

func (p *Peer) readRemote(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		p.mu.Lock()
		sink, muted := p.sink, p.muted
		p.mu.Unlock()
		if sink == nil || muted {
			continue
		}
		if err := sink.WriteRTP(pkt); err != nil {
			log.Warn().Err(err).Str("module", "rtc").
				Str("remote", string(p.remote)).Msg("sink write failed")
		}
	}
}

// CreateOffer produces the local offer for this leg. Candidates are not
// bundled into the SDP; they follow via OnLocalCandidate.
func (p *Peer) CreateOffer(ctx context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (p *Peer) HandleOffer(ctx context.Context, sdp string) (string, error) {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := p.pc.SetRemoteDescription(remote); err != nil {
		return "", err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (p *Peer) HandleAnswer(sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer, SDP: sdp,
	})
}

func (p *Peer) AddRemoteCandidate(c protocol.ICECandidate) error {
	return p.pc.AddICECandidate(toICEInit(c))
}

func (p *Peer) OnLocalCandidate(fn func(protocol.ICECandidate)) {
	p.mu.Lock()
	p.onICE = fn
	p.mu.Unlock()
}

func (p *Peer) OnStateChange(fn func(session.PeerState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

// ReplaceTrack attaches the local capture track. The first call adds the
// track to the connection; later calls swap it in place on the sender so
// a device change needs no renegotiation.
func (p *Peer) ReplaceTrack(track webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sender == nil {
		sender, err := p.pc.AddTrack(track)
		if err != nil {
			return err
		}
		p.sender = sender
		return nil
	}
	return p.sender.ReplaceTrack(track)
}

func (p *Peer) SetInboundMuted(muted bool) {
	p.mu.Lock()
	p.muted = muted
	p.mu.Unlock()
}

func (p *Peer) SetOutputDevice(id string) error {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.SetDevice(id)
}

// Stats folds the pion stats report into the transport metrics the
// quality classifier needs. RTT prefers the remote inbound report and
// falls back to the nominated candidate pair.
func (p *Peer) Stats() domain.PeerStats {
	var out domain.PeerStats
	for _, s := range p.pc.GetStats() {
		switch st := s.(type) {
		case webrtc.InboundRTPStreamStats:
			out.PacketsReceived += int64(st.PacketsReceived)
			out.PacketsLost += int64(st.PacketsLost)
			if j := secondsToDuration(st.Jitter); j > out.Jitter {
				out.Jitter = j
			}
		case webrtc.RemoteInboundRTPStreamStats:
			if rtt := secondsToDuration(st.RoundTripTime); rtt > 0 {
				out.RTT = rtt
			}
		case webrtc.ICECandidatePairStats:
			if out.RTT == 0 && st.Nominated {
				out.RTT = secondsToDuration(st.CurrentRoundTripTime)
			}
		}
	}
	return out
}

func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		sink := p.sink
		p.sink = nil
		p.mu.Unlock()
		if sink != nil {
			sink.Close()
		}
		if err := p.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").
				Str("remote", string(p.remote)).Msg("close error")
		}
	})
}

// Factory adapts NewPeer to the session's PeerFactory shape. newSink is
// called once per peer and may return nil.
func Factory(cfg webrtc.Configuration, newSink func(remote domain.UserID) RemoteSink) session.PeerFactory {
	return func(remote domain.UserID) (session.MediaPeer, error) {
		var sink RemoteSink
		if newSink != nil {
			sink = newSink(remote)
		}
		return NewPeer(cfg, remote, sink)
	}
}

func mapPeerState(s webrtc.PeerConnectionState) session.PeerState {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return session.PeerConnected
	case webrtc.PeerConnectionStateDisconnected:
		return session.PeerDisconnected
	case webrtc.PeerConnectionStateFailed:
		return session.PeerFailed
	case webrtc.PeerConnectionStateClosed:
		return session.PeerClosed
	default:
		return session.PeerNew
	}
}

func toProtoCandidate(init webrtc.ICECandidateInit) protocol.ICECandidate {
	return protocol.ICECandidate{
		Candidate:     init.Candidate,
		SDPMid:        init.SDPMid,
		SDPMLineIndex: init.SDPMLineIndex,
	}
}

func toICEInit(c protocol.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
