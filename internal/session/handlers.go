package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/protocol"
)

// onRoomState completes the join: the roster is seeded from the relay's
// participant list and a peer is offered to every existing member.
func (m *Manager) onRoomState(data []byte) {
	ev, err := protocol.Parse[protocol.RoomState](data)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad room_state")
		return
	}

	m.mu.Lock()
	if m.state != StateConnecting || m.roomID != ev.Room {
		m.mu.Unlock()
		return
	}
	m.state = StateConnected
	m.mu.Unlock()

	for _, p := range ev.Participants {
		if p.UserID == m.self.ID {
			continue
		}
		part := domain.Participant{
			UserID:   p.UserID,
			Username: p.Username,
			Avatar:   p.Avatar,
			Muted:    p.Muted,
			Deafened: p.Deafened,
			Quality:  domain.QualityGood,
		}
		m.roster.Upsert(part)
		m.offerTo(p.UserID)
	}
	log.Info().Str("module", "session").Str("room", string(ev.Room)).Int("participants", len(ev.Participants)).Msg("connected")
}

func (m *Manager) onUserJoined(data []byte) {
	ev, err := protocol.Parse[protocol.UserJoined](data)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad user_joined")
		return
	}
	if !m.inRoom(ev.Room) || ev.User.ID == m.self.ID {
		return
	}
	m.roster.Upsert(domain.NewParticipant(&ev.User))
	m.offerTo(ev.User.ID)
}

// onUserLeft is the only path that removes a participant and its peer.
// Transport failure alone never does; a degraded member is still a member.
func (m *Manager) onUserLeft(data []byte) {
	ev, err := protocol.Parse[protocol.UserLeft](data)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad user_left")
		return
	}
	if !m.inRoom(ev.Room) {
		return
	}

	m.mu.Lock()
	link := m.links[ev.UserID]
	delete(m.links, ev.UserID)
	delete(m.earlyCands, ev.UserID)
	m.mu.Unlock()

	if link != nil {
		link.close()
	}
	m.roster.Remove(ev.UserID)
}

// offerTo creates the peer leg for a remote participant and sends it a
// directed offer. No-op without a local capture stream.
func (m *Manager) offerTo(user domain.UserID) {
	m.mu.Lock()
	if m.capture == nil || m.links[user] != nil {
		m.mu.Unlock()
		return
	}
	link, err := m.newLink(user)
	if err != nil {
		m.mu.Unlock()
		log.Error().Err(err).Str("module", "session").Str("peer", string(user)).Msg("create peer")
		return
	}
	m.links[user] = link
	m.mu.Unlock()

	offer, err := link.createOffer(context.Background())
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("peer", string(user)).Msg("create offer")
		return
	}
	m.sendSignal(user, protocol.SignalOffer, offer, nil)
}

// newLink builds a peerLink with callbacks wired. Caller holds m.mu.
func (m *Manager) newLink(user domain.UserID) (*peerLink, error) {
	peer, err := m.peers(user)
	if err != nil {
		return nil, err
	}
	link := newPeerLink(user, peer)
	peer.OnLocalCandidate(func(c protocol.ICECandidate) {
		m.sendSignal(user, protocol.SignalCandidate, "", &c)
	})
	peer.OnStateChange(func(s PeerState) {
		m.onPeerState(user, s)
	})
	if err := peer.ReplaceTrack(m.capture.Track()); err != nil {
		peer.Close()
		return nil, err
	}
	if m.deafened {
		peer.SetInboundMuted(true)
	}
	if m.outputDevice != "" {
		if err := peer.SetOutputDevice(m.outputDevice); err != nil {
			log.Warn().Err(err).Str("module", "session").Str("peer", string(user)).Msg("set output device")
		}
	}
	return link, nil
}

// onSignal routes a directed negotiation payload from one peer.
func (m *Manager) onSignal(data []byte) {
	ev, err := protocol.Parse[protocol.Signal](data)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad signal")
		return
	}
	from := domain.UserID(ev.From)
	if from == "" {
		return
	}

	switch ev.Kind {
	case protocol.SignalOffer:
		m.onRemoteOffer(from, ev.SDP)
	case protocol.SignalAnswer:
		m.onRemoteAnswer(from, ev.SDP)
	case protocol.SignalCandidate:
		if ev.Candidate != nil {
			m.onRemoteCandidate(from, *ev.Candidate)
		}
	}
}

// onRemoteOffer reacts to an inbound offer, creating the peer if this
// side has not seen the participant yet.
func (m *Manager) onRemoteOffer(from domain.UserID, sdp string) {
	m.mu.Lock()
	if m.state == StateIdle || m.capture == nil {
		m.mu.Unlock()
		return
	}
	link := m.links[from]
	if link == nil {
		var err error
		link, err = m.newLink(from)
		if err != nil {
			m.mu.Unlock()
			log.Error().Err(err).Str("module", "session").Str("peer", string(from)).Msg("reactive peer")
			return
		}
		m.links[from] = link
	}
	early := m.earlyCands[from]
	delete(m.earlyCands, from)
	m.mu.Unlock()

	answer, err := link.handleOffer(context.Background(), sdp)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("peer", string(from)).Msg("handle offer")
		return
	}
	for _, c := range early {
		if err := link.addCandidate(c); err != nil {
			log.Error().Err(err).Str("module", "session").Str("peer", string(from)).Msg("early candidate")
		}
	}
	m.sendSignal(from, protocol.SignalAnswer, answer, nil)
}

func (m *Manager) onRemoteAnswer(from domain.UserID, sdp string) {
	m.mu.Lock()
	link := m.links[from]
	m.mu.Unlock()
	if link == nil {
		log.Warn().Str("module", "session").Str("peer", string(from)).Msg("answer from unknown peer")
		return
	}
	if err := link.handleAnswer(sdp); err != nil {
		log.Error().Err(err).Str("module", "session").Str("peer", string(from)).Msg("handle answer")
	}
}

// onRemoteCandidate applies or queues a candidate. Candidates for peers
// that do not exist yet wait for the offer; the link queues the rest
// until its remote description is set. Nothing is dropped.
func (m *Manager) onRemoteCandidate(from domain.UserID, c protocol.ICECandidate) {
	m.mu.Lock()
	link := m.links[from]
	if link == nil {
		m.earlyCands[from] = append(m.earlyCands[from], c)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := link.addCandidate(c); err != nil {
		log.Error().Err(err).Str("module", "session").Str("peer", string(from)).Msg("add candidate")
	}
}

// onPeerState records per-peer connectivity. Failure degrades the
// participant but keeps it; only user_left removes.
func (m *Manager) onPeerState(user domain.UserID, s PeerState) {
	connected := s == PeerConnected
	m.roster.Update(user, func(p *domain.Participant) { p.Connected = connected })
	if s == PeerFailed {
		log.Warn().Str("module", "session").Str("peer", string(user)).Msg("peer transport failed, membership kept")
	}
}

func (m *Manager) onUserMuted(data []byte) {
	ev, err := protocol.Parse[protocol.UserMuted](data)
	if err != nil {
		return
	}
	m.roster.Update(ev.UserID, func(p *domain.Participant) { p.Muted = ev.Muted })
}

func (m *Manager) onUserDeafened(data []byte) {
	ev, err := protocol.Parse[protocol.UserDeafened](data)
	if err != nil {
		return
	}
	m.roster.Update(ev.UserID, func(p *domain.Participant) { p.Deafened = ev.Deafened })
}

func (m *Manager) onUserSpeaking(data []byte) {
	ev, err := protocol.Parse[protocol.UserSpeaking](data)
	if err != nil {
		return
	}
	m.roster.Update(ev.UserID, func(p *domain.Participant) {
		p.Speaking = ev.Speaking
		p.AudioLevel = ev.Level
	})
}

func (m *Manager) onConnQuality(data []byte) {
	ev, err := protocol.Parse[protocol.ConnQuality](data)
	if err != nil {
		return
	}
	m.roster.Update(ev.UserID, func(p *domain.Participant) { p.Quality = ev.Quality })
}

// onLevelSample runs on every monitor tick. The roster gets the level
// each time; the room hears about it only on speaking transitions.
func (m *Manager) onLevelSample(level float64, speaking bool, changed bool) {
	m.mu.Lock()
	room := m.roomID
	m.speaking = speaking
	m.mu.Unlock()

	m.roster.Update(m.self.ID, func(p *domain.Participant) {
		p.Speaking = speaking
		p.AudioLevel = level
	})
	if changed && room != "" {
		if err := m.channel.Send(protocol.TypeSpeaking, protocol.Speaking{
			Room:     string(room),
			Speaking: speaking,
			Level:    level,
		}); err != nil {
			log.Warn().Err(err).Str("module", "session").Msg("broadcast speaking")
		}
	}
}

func (m *Manager) sendSignal(to domain.UserID, kind protocol.SignalKind, sdp string, cand *protocol.ICECandidate) {
	if err := m.channel.Send(protocol.TypeSignal, protocol.Signal{
		To:        string(to),
		Kind:      kind,
		SDP:       sdp,
		Candidate: cand,
	}); err != nil {
		log.Warn().Err(err).Str("module", "session").Str("to", string(to)).Str("kind", string(kind)).Msg("send signal")
	}
}

func (m *Manager) inRoom(room domain.RoomID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != StateIdle && m.roomID == room
}

// statsLoop samples per-peer transport stats and refreshes the quality
// classification on the roster. Stopped by closing the channel in reset.
func (m *Manager) statsLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			links := make([]*peerLink, 0, len(m.links))
			for _, l := range m.links {
				links = append(links, l)
			}
			m.mu.Unlock()
			for _, l := range links {
				q := domain.ClassifyQuality(l.peer.Stats())
				m.roster.Update(l.userID, func(p *domain.Participant) { p.Quality = q })
			}
		}
	}
}
