package rtc

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/parley-chat/parley/internal/protocol"
	"github.com/parley-chat/parley/internal/session"
)

func TestMapPeerState(t *testing.T) {
	cases := map[webrtc.PeerConnectionState]session.PeerState{
		webrtc.PeerConnectionStateNew:          session.PeerNew,
		webrtc.PeerConnectionStateConnecting:   session.PeerNew,
		webrtc.PeerConnectionStateConnected:    session.PeerConnected,
		webrtc.PeerConnectionStateDisconnected: session.PeerDisconnected,
		webrtc.PeerConnectionStateFailed:       session.PeerFailed,
		webrtc.PeerConnectionStateClosed:       session.PeerClosed,
	}
	for in, want := range cases {
		if got := mapPeerState(in); got != want {
			t.Errorf("mapPeerState(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestCandidateConversionRoundTrip(t *testing.T) {
	mid := "0"
	idx := uint16(1)
	c := protocol.ICECandidate{Candidate: "candidate:1 1 udp 2122260223 192.0.2.1 54555 typ host", SDPMid: &mid, SDPMLineIndex: &idx}
	back := toProtoCandidate(toICEInit(c))
	if back.Candidate != c.Candidate || *back.SDPMid != mid || *back.SDPMLineIndex != idx {
		t.Fatalf("round trip mangled candidate: %+v", back)
	}
}

func TestSecondsToDuration(t *testing.T) {
	if d := secondsToDuration(0.25); d != 250*time.Millisecond {
		t.Fatalf("got %v", d)
	}
	if d := secondsToDuration(-1); d != 0 {
		t.Fatalf("negative input should clamp to zero, got %v", d)
	}
}

func TestConfigDefaultsSTUN(t *testing.T) {
	cfg := Config(nil)
	if len(cfg.ICEServers) != 1 || len(cfg.ICEServers[0].URLs) == 0 {
		t.Fatalf("expected default STUN server, got %+v", cfg.ICEServers)
	}
}
