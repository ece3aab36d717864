package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/protocol"
)

// peerLink pairs one remote participant with its MediaPeer and enforces
// the negotiation ordering: a remote candidate is applied only after the
// remote description is set. Early candidates are queued, never dropped.
type peerLink struct {
	userID domain.UserID
	peer   MediaPeer

	mu        sync.Mutex
	remoteSet bool
	pending   []protocol.ICECandidate
}

func newPeerLink(userID domain.UserID, peer MediaPeer) *peerLink {
	return &peerLink{userID: userID, peer: peer}
}

func (l *peerLink) createOffer(ctx context.Context) (string, error) {
	return l.peer.CreateOffer(ctx)
}

// handleOffer applies a remote offer and returns the local answer. The
// offer carries the remote description, so queued candidates flush here.
func (l *peerLink) handleOffer(ctx context.Context, sdp string) (string, error) {
	answer, err := l.peer.HandleOffer(ctx, sdp)
	if err != nil {
		return "", err
	}
	l.flushCandidates()
	return answer, nil
}

func (l *peerLink) handleAnswer(sdp string) error {
	if err := l.peer.HandleAnswer(sdp); err != nil {
		return err
	}
	l.flushCandidates()
	return nil
}

func (l *peerLink) addCandidate(c protocol.ICECandidate) error {
	l.mu.Lock()
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.peer.AddRemoteCandidate(c)
}

func (l *peerLink) flushCandidates() {
	l.mu.Lock()
	l.remoteSet = true
	queued := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, c := range queued {
		if err := l.peer.AddRemoteCandidate(c); err != nil {
			log.Error().Err(err).Str("module", "session").Str("peer", string(l.userID)).Msg("apply queued candidate")
		}
	}
}

func (l *peerLink) close() {
	l.peer.Close()
}
