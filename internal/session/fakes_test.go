package session

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/protocol"
)

// fakeChannel is an in-memory SignalChannel that records sends and lets
// tests push server events at subscribers.
type fakeChannel struct {
	mu      sync.Mutex
	sent    []sentEvent
	subs    map[protocol.EventType][]*subscriber
	sendErr error
}

type sentEvent struct {
	Type    protocol.EventType
	Payload any
}

type subscriber struct {
	fn func([]byte)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{subs: make(map[protocol.EventType][]*subscriber)}
}

func (c *fakeChannel) Send(t protocol.EventType, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, sentEvent{Type: t, Payload: payload})
	return nil
}

func (c *fakeChannel) Subscribe(t protocol.EventType, fn func([]byte)) func() {
	s := &subscriber{fn: fn}
	c.mu.Lock()
	c.subs[t] = append(c.subs[t], s)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		list := c.subs[t]
		for i, cur := range list {
			if cur == s {
				c.subs[t] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers a server event to every subscriber of its type.
func (c *fakeChannel) Emit(t protocol.EventType, payload any) {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	list := append([]*subscriber(nil), c.subs[t]...)
	c.mu.Unlock()
	for _, s := range list {
		s.fn(data)
	}
}

func (c *fakeChannel) sentOf(t protocol.EventType) []sentEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []sentEvent
	for _, s := range c.sent {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}

// fakeStream is a controllable CaptureStream.
type fakeStream struct {
	mu      sync.Mutex
	level   float64
	enabled bool
	stopped bool
}

func newFakeStream() *fakeStream { return &fakeStream{enabled: true} }

func (s *fakeStream) Track() webrtc.TrackLocal { return nil }

func (s *fakeStream) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *fakeStream) setLevel(v float64) {
	s.mu.Lock()
	s.level = v
	s.mu.Unlock()
}

func (s *fakeStream) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

func (s *fakeStream) isEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *fakeStream) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *fakeStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// fakeDevice hands out fakeStreams, or a scripted error.
type fakeDevice struct {
	mu      sync.Mutex
	err     error
	streams []*fakeStream
}

func (d *fakeDevice) Open(_ context.Context, _ CaptureConstraints) (CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	s := newFakeStream()
	d.streams = append(d.streams, s)
	return s, nil
}

// fakePeer records negotiation calls and asserts candidate ordering:
// a candidate arriving before any remote description is a violation.
type fakePeer struct {
	remote domain.UserID

	mu          sync.Mutex
	negotiated  bool
	earlyCands  int
	candidates  []protocol.ICECandidate
	closed      bool
	trackSet    int
	inboundMute bool
	output      string
	stats       domain.PeerStats
	onCand      func(protocol.ICECandidate)
	onState     func(PeerState)
}

func (p *fakePeer) CreateOffer(context.Context) (string, error) {
	return "offer-from-local", nil
}

func (p *fakePeer) HandleOffer(_ context.Context, sdp string) (string, error) {
	p.mu.Lock()
	p.negotiated = true
	p.mu.Unlock()
	return "answer-to-" + sdp, nil
}

func (p *fakePeer) HandleAnswer(string) error {
	p.mu.Lock()
	p.negotiated = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) AddRemoteCandidate(c protocol.ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.negotiated {
		p.earlyCands++
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) OnLocalCandidate(fn func(protocol.ICECandidate)) { p.onCand = fn }
func (p *fakePeer) OnStateChange(fn func(PeerState))                { p.onState = fn }

func (p *fakePeer) ReplaceTrack(webrtc.TrackLocal) error {
	p.mu.Lock()
	p.trackSet++
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) SetInboundMuted(v bool) {
	p.mu.Lock()
	p.inboundMute = v
	p.mu.Unlock()
}

func (p *fakePeer) SetOutputDevice(id string) error {
	p.mu.Lock()
	p.output = id
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) Stats() domain.PeerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) candidateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.candidates)
}

func (p *fakePeer) earlyCandidates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.earlyCands
}

// fakeMesh tracks every peer the factory handed out.
type fakeMesh struct {
	mu    sync.Mutex
	peers map[domain.UserID]*fakePeer
}

func newFakeMesh() *fakeMesh {
	return &fakeMesh{peers: make(map[domain.UserID]*fakePeer)}
}

func (f *fakeMesh) factory(remote domain.UserID) (MediaPeer, error) {
	p := &fakePeer{remote: remote}
	f.mu.Lock()
	f.peers[remote] = p
	f.mu.Unlock()
	return p, nil
}

func (f *fakeMesh) peer(id domain.UserID) *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[id]
}
