// Package session owns the client's voice-room membership: the full
// mesh of peer connections, the local capture pipeline and the
// participant roster, all driven by events from the signaling channel.
package session

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/protocol"
)

// SignalChannel is what the manager needs from the signaling transport.
// Subscribe returns an unsubscribe handle; cleanup must be symmetric.
type SignalChannel interface {
	Send(t protocol.EventType, payload any) error
	Subscribe(t protocol.EventType, fn func(data []byte)) (unsubscribe func())
}

// PeerState is the coarse transport state of one peer connection.
type PeerState int

const (
	PeerNew PeerState = iota
	PeerConnected
	PeerDisconnected
	PeerFailed
	PeerClosed
)

// MediaPeer is one leg of the mesh. Implementations own the underlying
// transport connection; callers must Close() before discarding to
// release transport resources.
// AddRemoteCandidate requires the remote description to be set already;
// ordering is the session's job.
type MediaPeer interface {
	CreateOffer(ctx context.Context) (sdp string, err error)
	HandleOffer(ctx context.Context, sdp string) (answer string, err error)
	HandleAnswer(sdp string) error
	AddRemoteCandidate(protocol.ICECandidate) error
	OnLocalCandidate(func(protocol.ICECandidate))
	OnStateChange(func(PeerState))
	ReplaceTrack(track webrtc.TrackLocal) error
	SetInboundMuted(bool)
	SetOutputDevice(id string) error
	Stats() domain.PeerStats
	Close()
}

// PeerFactory creates the transport leg for one remote participant.
type PeerFactory func(remote domain.UserID) (MediaPeer, error)

// CaptureConstraints mirror the platform capture options the voice path
// needs; all three processing flags are requested on by default.
type CaptureConstraints struct {
	DeviceID         string
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

func DefaultConstraints() CaptureConstraints {
	return CaptureConstraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// CaptureStream is the local microphone pipeline. Exclusively owned by
// the session manager for the duration of a room membership.
type CaptureStream interface {
	Track() webrtc.TrackLocal
	// Level is the current smoothed audio level, normalized 0..1.
	Level() float64
	// SetEnabled gates the outbound audio without renegotiation.
	SetEnabled(enabled bool)
	Stop()
}

// CaptureDevice opens capture streams. Open reports
// domain.ErrPermissionDenied or domain.ErrDeviceUnavailable on failure.
type CaptureDevice interface {
	Open(ctx context.Context, c CaptureConstraints) (CaptureStream, error)
}
