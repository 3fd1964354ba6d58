package mesh

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"voicemesh/internal/core"
	"voicemesh/internal/domain"
)

// Role is which side of a pairwise negotiation sends the initial offer.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

var (
	ErrNotInitiator = errors.New("session is not the initiator")
	ErrBadState     = errors.New("operation invalid in current state")
	ErrSessionDone  = errors.New("session reached a terminal state")
)

// PeerSession owns the negotiation and state for exactly one remote
// participant. State machine: new -> connecting -> connected;
// connecting|connected -> failed on transport failure; any -> closed on
// teardown. closed is terminal and never retried here.
type PeerSession struct {
	peerID domain.ParticipantID
	role   Role

	mu          sync.Mutex
	state       core.ConnState
	media       core.MediaSession
	pending     []string
	remoteReady bool
	remoteMuted bool
}

func newPeerSession(peerID domain.ParticipantID, role Role, media core.MediaSession) *PeerSession {
	return &PeerSession{
		peerID: peerID,
		role:   role,
		state:  core.StateNew,
		media:  media,
	}
}

func (p *PeerSession) PeerID() domain.ParticipantID { return p.peerID }
func (p *PeerSession) Role() Role                   { return p.role }

func (p *PeerSession) State() core.ConnState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Initiate produces the offer SDP and moves to connecting. Valid only for an
// initiator session still in new.
func (p *PeerSession) Initiate() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.role != RoleInitiator {
		return "", ErrNotInitiator
	}
	if p.state != core.StateNew {
		return "", ErrBadState
	}
	sdp, err := p.media.CreateOffer()
	if err != nil {
		p.state = core.StateFailed
		return "", err
	}
	p.state = core.StateConnecting
	return sdp, nil
}

// HandleOffer applies a remote offer and produces the answer SDP. Valid in
// new or connecting; in a glare the receiver of the offer always accepts.
// A connected session drops the offer: renegotiation is not supported, a
// fresh session carries any new attempt.
func (p *PeerSession) HandleOffer(sdp string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == core.StateClosed || p.state == core.StateFailed {
		return "", ErrSessionDone
	}
	if p.state == core.StateConnected {
		log.Debug().Str("module", "mesh").Str("peer", string(p.peerID)).Msg("offer for connected session dropped")
		return "", ErrBadState
	}
	answer, err := p.media.ApplyOfferAndCreateAnswer(sdp)
	if err != nil {
		p.state = core.StateFailed
		return "", err
	}
	p.state = core.StateConnecting
	p.remoteReady = true
	p.flushCandidatesLocked()
	return answer, nil
}

// HandleAnswer completes negotiation on the initiator side. An answer for a
// closed session, or one arriving out of order, is discarded, not an error.
func (p *PeerSession) HandleAnswer(sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == core.StateClosed {
		log.Debug().Str("module", "mesh").Str("peer", string(p.peerID)).Msg("late answer for closed session dropped")
		return nil
	}
	if p.role != RoleInitiator || p.state != core.StateConnecting {
		log.Debug().Str("module", "mesh").Str("peer", string(p.peerID)).
			Str("role", p.role.String()).Str("state", p.state.String()).Msg("answer out of order dropped")
		return nil
	}
	if err := p.media.ApplyAnswer(sdp); err != nil {
		p.state = core.StateFailed
		return err
	}
	p.remoteReady = true
	p.flushCandidatesLocked()
	return nil
}

// HandleRemoteCandidate applies a remote ICE candidate, queueing it when no
// remote description is set yet. Queued candidates are flushed, in order, the
// moment the description lands.
func (p *PeerSession) HandleRemoteCandidate(candidate string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == core.StateClosed || p.state == core.StateFailed {
		return
	}
	if !p.remoteReady {
		p.pending = append(p.pending, candidate)
		return
	}
	if err := p.media.AddRemoteCandidate(candidate); err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(p.peerID)).Msg("add candidate")
	}
}

func (p *PeerSession) flushCandidatesLocked() {
	for _, cand := range p.pending {
		if err := p.media.AddRemoteCandidate(cand); err != nil {
			log.Error().Err(err).Str("module", "mesh").Str("peer", string(p.peerID)).Msg("flush candidate")
		}
	}
	p.pending = nil
}

// SetRemoteMuted silences this peer's playback locally. Presentation-only;
// the connection is untouched.
func (p *PeerSession) SetRemoteMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteMuted = muted
	p.media.SetPlaybackMuted(muted)
}

func (p *PeerSession) RemoteMuted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteMuted
}

// applyMediaState folds a transport-level transition into the session state.
// Returns the resulting state and whether anything changed. A transport
// "closed" that the session did not request counts as failure.
func (p *PeerSession) applyMediaState(s core.ConnState) (core.ConnState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == core.StateClosed {
		return p.state, false
	}
	switch s {
	case core.StateConnected:
		if p.state == core.StateConnecting {
			p.state = core.StateConnected
			return p.state, true
		}
	case core.StateFailed, core.StateClosed:
		if p.state != core.StateFailed {
			p.state = core.StateFailed
			return p.state, true
		}
	}
	return p.state, false
}

// Close releases all session resources. Safe to call multiple times; no
// negotiation can complete afterwards.
func (p *PeerSession) Close() {
	p.mu.Lock()
	if p.state == core.StateClosed {
		p.mu.Unlock()
		return
	}
	p.state = core.StateClosed
	p.pending = nil
	media := p.media
	p.mu.Unlock()
	media.Close()
}
