package session

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/parley-chat/parley/internal/domain"
)

// levelSmoothing is the exponential smoothing factor for the reported
// audio level; heavier weight on history keeps the meter from flickering.
const levelSmoothing = 0.7

// RTPCapture is a CaptureStream fed with encoded audio from a platform
// binding. The binding pushes RTP packets plus the instantaneous level
// it measured; disabled capture drops packets instead of renegotiating.
type RTPCapture struct {
	track *webrtc.TrackLocalStaticRTP

	mu      sync.RWMutex
	level   float64
	enabled bool
	stopped bool
}

func NewRTPCapture(streamID string) (*RTPCapture, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		return nil, err
	}
	return &RTPCapture{track: track, enabled: true}, nil
}

// WriteRTP forwards one packet to the local track. rawLevel is the
// binding-measured instantaneous level, normalized 0..1.
func (c *RTPCapture) WriteRTP(pkt *rtp.Packet, rawLevel float64) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return domain.ErrCaptureFailed
	}
	c.level = levelSmoothing*c.level + (1-levelSmoothing)*clamp01(rawLevel)
	enabled := c.enabled
	c.mu.Unlock()

	if !enabled {
		return nil
	}
	return c.track.WriteRTP(pkt)
}

func (c *RTPCapture) Track() webrtc.TrackLocal { return c.track }

func (c *RTPCapture) Level() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.enabled {
		return 0
	}
	return c.level
}

func (c *RTPCapture) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
}

func (c *RTPCapture) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.level = 0
	c.mu.Unlock()
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
