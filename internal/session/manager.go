package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/protocol"
)

const statsInterval = 2 * time.Second

// Manager owns one voice-room membership at a time: the capture stream,
// the peer mesh and the participant roster. It is constructed by the
// composition root and handed to UI layers by reference; there is no
// ambient singleton.
type Manager struct {
	channel SignalChannel
	device  CaptureDevice
	peers   PeerFactory
	self    domain.User

	// serializes every mutation: channel events, UI calls and the
	// sampling tick all funnel through here.
	mu           sync.Mutex
	state        State
	roomID       domain.RoomID
	capture      CaptureStream
	links        map[domain.UserID]*peerLink
	earlyCands   map[domain.UserID][]protocol.ICECandidate
	muted        bool
	deafened     bool
	speaking     bool
	outputDevice string

	roster  *Roster
	monitor *levelMonitor
	statsCh chan struct{}
	unsubs  []func()

	sampleInterval time.Duration
	threshold      float64
}

type Option func(*Manager)

// WithSampleInterval overrides the audio sampling cadence.
func WithSampleInterval(d time.Duration) Option {
	return func(m *Manager) { m.sampleInterval = d }
}

func WithSpeakingThreshold(v float64) Option {
	return func(m *Manager) { m.threshold = v }
}

func NewManager(self domain.User, channel SignalChannel, device CaptureDevice, peers PeerFactory, opts ...Option) *Manager {
	m := &Manager{
		channel:        channel,
		device:         device,
		peers:          peers,
		self:           self,
		links:          make(map[domain.UserID]*peerLink),
		earlyCands:     make(map[domain.UserID][]protocol.ICECandidate),
		roster:         NewRoster(),
		sampleInterval: DefaultSampleInterval,
		threshold:      SpeakingThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	m.subscribe()
	return m
}

// Roster exposes the observable participant registry to UI layers.
func (m *Manager) Roster() *Roster { return m.roster }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PeerCount reports the size of the active mesh: one peer per remote
// participant with a live connection attempt.
func (m *Manager) PeerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

func (m *Manager) subscribe() {
	sub := func(t protocol.EventType, fn func([]byte)) {
		m.unsubs = append(m.unsubs, m.channel.Subscribe(t, fn))
	}
	sub(protocol.TypeRoomState, m.onRoomState)
	sub(protocol.TypeUserJoined, m.onUserJoined)
	sub(protocol.TypeUserLeft, m.onUserLeft)
	sub(protocol.TypeSignal, m.onSignal)
	sub(protocol.TypeUserMuted, m.onUserMuted)
	sub(protocol.TypeUserDeafened, m.onUserDeafened)
	sub(protocol.TypeUserSpeaking, m.onUserSpeaking)
	sub(protocol.TypeConnQuality, m.onConnQuality)
}

// Shutdown releases the channel subscriptions after leaving any room.
func (m *Manager) Shutdown() {
	_ = m.Leave()
	for _, u := range m.unsubs {
		u()
	}
	m.unsubs = nil
}

// RequestMicrophoneAccess acquires the capture stream ahead of a join so
// UI can prompt early. Errors carry domain.ErrPermissionDenied or
// domain.ErrDeviceUnavailable; nothing is thrown into UI code.
func (m *Manager) RequestMicrophoneAccess(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capture != nil {
		return nil
	}
	stream, err := m.device.Open(ctx, DefaultConstraints())
	if err != nil {
		return err
	}
	m.capture = stream
	return nil
}

// Join starts a room membership. At most one join is in flight; a second
// call while connecting fails with ErrAlreadyJoining. Cancelling ctx
// before the room state arrives runs the full leave cleanup.
func (m *Manager) Join(ctx context.Context, roomID domain.RoomID) error {
	m.mu.Lock()
	switch m.state {
	case StateConnecting:
		m.mu.Unlock()
		return domain.ErrAlreadyJoining
	case StateConnected:
		m.mu.Unlock()
		return domain.ErrAlreadyInRoom
	}
	m.state = StateConnecting
	m.roomID = roomID
	m.mu.Unlock()

	if err := m.ensureCapture(ctx); err != nil {
		m.reset()
		return errors.Join(domain.ErrCaptureFailed, err)
	}

	if err := m.channel.Send(protocol.TypeJoin, protocol.Join{Room: string(roomID)}); err != nil {
		m.reset()
		return fmt.Errorf("announce join: %w", err)
	}

	m.mu.Lock()
	m.roster.Upsert(m.selfParticipant())
	m.monitor = newLevelMonitor(m.capture, m.sampleInterval, m.threshold, m.onLevelSample)
	m.monitor.Start()
	m.statsCh = make(chan struct{})
	go m.statsLoop(m.statsCh)
	m.mu.Unlock()

	if ctx.Done() != nil {
		go m.watchJoinCancel(ctx)
	}
	return nil
}

func (m *Manager) ensureCapture(ctx context.Context) error {
	m.mu.Lock()
	if m.capture != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	stream, err := m.device.Open(ctx, DefaultConstraints())
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.capture = stream
	m.mu.Unlock()
	return nil
}

// watchJoinCancel tears the membership down if the caller cancels while
// the join is still in flight; the cleanup path is the same as Leave.
func (m *Manager) watchJoinCancel(ctx context.Context) {
	<-ctx.Done()
	m.mu.Lock()
	connecting := m.state == StateConnecting
	m.mu.Unlock()
	if connecting && ctx.Err() != nil {
		log.Warn().Str("module", "session").Msg("join cancelled, cleaning up")
		_ = m.Leave()
	}
}

// Leave tears down every peer, stops local media and resets room state.
// It is idempotent: leaving while Idle is a no-op.
func (m *Manager) Leave() error {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return nil
	}
	room := m.roomID
	m.mu.Unlock()

	m.reset()

	if err := m.channel.Send(protocol.TypeLeave, protocol.Leave{Room: string(room)}); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("announce leave")
	}
	return nil
}

// reset is the single cleanup path shared by Leave, join failure
// and cancellation. Closing peers before dropping them is mandatory;
// the transport handles are real OS resources.
func (m *Manager) reset() {
	m.mu.Lock()
	links := m.links
	m.links = make(map[domain.UserID]*peerLink)
	m.earlyCands = make(map[domain.UserID][]protocol.ICECandidate)
	monitor := m.monitor
	m.monitor = nil
	statsCh := m.statsCh
	m.statsCh = nil
	capture := m.capture
	m.capture = nil
	m.state = StateIdle
	m.roomID = ""
	m.speaking = false
	m.mu.Unlock()

	if monitor != nil {
		monitor.Stop()
	}
	if statsCh != nil {
		close(statsCh)
	}
	for _, l := range links {
		l.close()
	}
	if capture != nil {
		capture.Stop()
	}
	m.roster.Reset()
}

func (m *Manager) selfParticipant() domain.Participant {
	p := domain.NewParticipant(&m.self)
	p.Muted = m.muted
	p.Deafened = m.deafened
	p.Connected = true
	return p
}

// ToggleMute flips the outbound gate without renegotiating and
// broadcasts the new flag. Returns the resulting muted state.
func (m *Manager) ToggleMute() bool {
	m.mu.Lock()
	m.muted = !m.muted
	muted := m.muted
	capture := m.capture
	room := m.roomID
	m.mu.Unlock()

	if capture != nil {
		capture.SetEnabled(!muted)
	}
	m.roster.Update(m.self.ID, func(p *domain.Participant) { p.Muted = muted })
	if room != "" {
		if err := m.channel.Send(protocol.TypeMute, protocol.Mute{Room: string(room), Muted: muted}); err != nil {
			log.Warn().Err(err).Str("module", "session").Msg("broadcast mute")
		}
	}
	return muted
}

// ToggleDeafen silences every inbound sink locally and broadcasts the
// flag. Returns the resulting deafened state.
func (m *Manager) ToggleDeafen() bool {
	m.mu.Lock()
	m.deafened = !m.deafened
	deafened := m.deafened
	links := make([]*peerLink, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	room := m.roomID
	m.mu.Unlock()

	for _, l := range links {
		l.peer.SetInboundMuted(deafened)
	}
	m.roster.Update(m.self.ID, func(p *domain.Participant) { p.Deafened = deafened })
	if room != "" {
		if err := m.channel.Send(protocol.TypeDeafen, protocol.Deafen{Room: string(room), Deafened: deafened}); err != nil {
			log.Warn().Err(err).Str("module", "session").Msg("broadcast deafen")
		}
	}
	return deafened
}

// SelectInputDevice re-acquires capture from the named device and swaps
// the outbound track on every peer without renegotiation.
func (m *Manager) SelectInputDevice(ctx context.Context, id string) error {
	c := DefaultConstraints()
	c.DeviceID = id
	stream, err := m.device.Open(ctx, c)
	if err != nil {
		return err
	}

	m.mu.Lock()
	old := m.capture
	m.capture = stream
	if m.muted {
		stream.SetEnabled(false)
	}
	links := make([]*peerLink, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	monitor := m.monitor
	m.mu.Unlock()

	for _, l := range links {
		if err := l.peer.ReplaceTrack(stream.Track()); err != nil {
			log.Error().Err(err).Str("module", "session").Str("peer", string(l.userID)).Msg("replace track")
		}
	}

	// restart the monitor against the new stream
	if monitor != nil {
		monitor.Stop()
		m.mu.Lock()
		m.monitor = newLevelMonitor(stream, m.sampleInterval, m.threshold, m.onLevelSample)
		m.monitor.Start()
		m.mu.Unlock()
	}
	if old != nil {
		old.Stop()
	}
	return nil
}

// SelectOutputDevice redirects every inbound audio sink.
func (m *Manager) SelectOutputDevice(id string) error {
	m.mu.Lock()
	m.outputDevice = id
	links := make([]*peerLink, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.mu.Unlock()

	for _, l := range links {
		if err := l.peer.SetOutputDevice(id); err != nil {
			return err
		}
	}
	return nil
}
