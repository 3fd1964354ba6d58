// Package mesh keeps room membership and exactly one peer session per remote
// participant, driving negotiation to full mesh connectivity.
package mesh

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"voicemesh/internal/core"
	"voicemesh/internal/domain"
)

// Signaler is the outbound half of the negotiation protocol. Implementations
// must not block; a send while the transport is down is a silent no-op.
type Signaler interface {
	SendOffer(target domain.ParticipantID, sdp string)
	SendAnswer(target domain.ParticipantID, sdp string)
	SendCandidate(target domain.ParticipantID, candidate string)
}

// MediaFactory builds the media session for one remote participant.
type MediaFactory func(peer domain.ParticipantID) (core.MediaSession, error)

// Coordinator owns the peer session set for the current room. All inbound
// signaling events arrive on one serialized dispatch path; media transports
// report transitions asynchronously and are reconciled here.
type Coordinator struct {
	self     domain.ParticipantID
	signaler Signaler
	newMedia MediaFactory

	mu      sync.Mutex
	members map[domain.ParticipantID]domain.Participant
	peers   map[domain.ParticipantID]*PeerSession

	onAggregate func(map[domain.ParticipantID]core.ConnState)
	onMembers   func([]domain.Participant)
}

type Options struct {
	Self     domain.ParticipantID
	Signaler Signaler
	Media    MediaFactory
	// OnAggregate is republished after every session transition:
	// peer id -> connection state for all non-closed sessions.
	OnAggregate func(map[domain.ParticipantID]core.ConnState)
	// OnMembers is republished on every membership change.
	OnMembers func([]domain.Participant)
}

func NewCoordinator(opts Options) *Coordinator {
	return &Coordinator{
		self:        opts.Self,
		signaler:    opts.Signaler,
		newMedia:    opts.Media,
		members:     make(map[domain.ParticipantID]domain.Participant),
		peers:       make(map[domain.ParticipantID]*PeerSession),
		onAggregate: opts.OnAggregate,
		onMembers:   opts.OnMembers,
	}
}

// ApplySnapshot replaces the membership set with a full RoomUsers snapshot
// and opens an initiator session toward every listed participant. Sessions
// for peers missing from the snapshot are torn down.
func (c *Coordinator) ApplySnapshot(users []domain.Participant) {
	type offer struct {
		target domain.ParticipantID
		sdp    string
	}
	var offers []offer

	c.mu.Lock()
	next := make(map[domain.ParticipantID]domain.Participant, len(users))
	for _, u := range users {
		if u.ID == c.self {
			continue
		}
		next[u.ID] = u
	}
	for id, sess := range c.peers {
		if _, ok := next[id]; !ok {
			sess.Close()
			delete(c.peers, id)
		}
	}
	c.members = next

	for id := range next {
		sess := c.ensureSessionLocked(id, RoleInitiator)
		if sess == nil {
			continue
		}
		sdp, err := sess.Initiate()
		if err != nil {
			log.Error().Err(err).Str("module", "mesh").Str("peer", string(id)).Msg("initiate")
			continue
		}
		offers = append(offers, offer{target: id, sdp: sdp})
	}
	c.mu.Unlock()

	for _, o := range offers {
		c.signaler.SendOffer(o.target, o.sdp)
	}
	c.publish()
}

// HandleUserJoined records a newly joined participant and prepares a
// responder session: the joiner just received its own snapshot and is
// expected to initiate. A live session for the same id means a duplicate or
// racing join event; the creation attempt is discarded and only the metadata
// is refreshed.
func (c *Coordinator) HandleUserJoined(user domain.Participant) {
	if user.ID == c.self {
		return
	}
	c.mu.Lock()
	c.members[user.ID] = user
	c.ensureSessionLocked(user.ID, RoleResponder)
	c.mu.Unlock()
	c.publish()
}

// HandleUserLeft destroys the departed participant's session immediately and
// removes it from membership and the aggregate map.
func (c *Coordinator) HandleUserLeft(id domain.ParticipantID) {
	c.mu.Lock()
	delete(c.members, id)
	if sess, ok := c.peers[id]; ok {
		sess.Close()
		delete(c.peers, id)
	}
	c.mu.Unlock()
	c.publish()
}

// HandleOffer feeds a remote offer to the sender's session, implicitly
// creating a responder session when none exists (late or dropped join
// events are tolerated this way). The receiver of an offer always answers,
// which is also the glare recovery.
func (c *Coordinator) HandleOffer(sender domain.ParticipantID, sdp string) {
	if sender == c.self {
		return
	}
	c.mu.Lock()
	sess := c.ensureSessionLocked(sender, RoleResponder)
	if sess == nil {
		sess = c.peers[sender]
	}
	var answer string
	var err error
	if sess != nil {
		answer, err = sess.HandleOffer(sdp)
	}
	c.mu.Unlock()

	if sess == nil {
		return
	}
	if errors.Is(err, ErrBadState) {
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(sender)).Msg("handle offer")
		c.publish()
		return
	}
	c.signaler.SendAnswer(sender, answer)
	c.publish()
}

// HandleAnswer completes negotiation with the sender. An answer without a
// session, or for a closed one, is discarded.
func (c *Coordinator) HandleAnswer(sender domain.ParticipantID, sdp string) {
	c.mu.Lock()
	sess, ok := c.peers[sender]
	c.mu.Unlock()
	if !ok {
		log.Debug().Str("module", "mesh").Str("peer", string(sender)).Msg("answer with no session dropped")
		return
	}
	if err := sess.HandleAnswer(sdp); err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(sender)).Msg("handle answer")
	}
	c.publish()
}

// HandleCandidate routes a remote ICE candidate to the sender's session,
// which buffers it until a remote description exists.
func (c *Coordinator) HandleCandidate(sender domain.ParticipantID, candidate string) {
	c.mu.Lock()
	sess, ok := c.peers[sender]
	c.mu.Unlock()
	if !ok {
		log.Debug().Str("module", "mesh").Str("peer", string(sender)).Msg("candidate with no session dropped")
		return
	}
	sess.HandleRemoteCandidate(candidate)
}

// SetRemoteMuted silences one peer's playback locally.
func (c *Coordinator) SetRemoteMuted(id domain.ParticipantID, muted bool) {
	c.mu.Lock()
	sess, ok := c.peers[id]
	c.mu.Unlock()
	if ok {
		sess.SetRemoteMuted(muted)
	}
}

// Reset tears down every session and clears membership. Called on room exit
// and on transport loss; idempotent.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	for id, sess := range c.peers {
		sess.Close()
		delete(c.peers, id)
	}
	c.members = make(map[domain.ParticipantID]domain.Participant)
	c.mu.Unlock()
	c.publish()
}

// Aggregate returns peer id -> connection state for all non-closed sessions.
func (c *Coordinator) Aggregate() map[domain.ParticipantID]core.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aggregateLocked()
}

// Members returns the current membership snapshot (self excluded).
func (c *Coordinator) Members() []domain.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.membersLocked()
}

// Session returns the live session for a peer, if any.
func (c *Coordinator) Session(id domain.ParticipantID) (*PeerSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.peers[id]
	return sess, ok
}

// ensureSessionLocked enforces the one-session-per-peer invariant. A live
// session wins over any later creation attempt; a failed or closed one is
// torn down and replaced.
func (c *Coordinator) ensureSessionLocked(id domain.ParticipantID, role Role) *PeerSession {
	if old, ok := c.peers[id]; ok {
		switch old.State() {
		case core.StateFailed, core.StateClosed:
			old.Close()
			delete(c.peers, id)
		default:
			return nil
		}
	}
	media, err := c.newMedia(id)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(id)).Msg("media session create")
		return nil
	}
	sess := newPeerSession(id, role, media)
	c.peers[id] = sess

	media.OnLocalCandidate(func(candidate string) {
		c.onLocalCandidate(sess, candidate)
	})
	media.OnStateChange(func(s core.ConnState) {
		c.onMediaState(sess, s)
	})

	log.Info().Str("module", "mesh").Str("peer", string(id)).Str("role", role.String()).Msg("peer session created")
	return sess
}

// onLocalCandidate forwards locally gathered candidates, dropping any from a
// session that has been replaced or closed.
func (c *Coordinator) onLocalCandidate(sess *PeerSession, candidate string) {
	c.mu.Lock()
	current := c.peers[sess.peerID] == sess
	c.mu.Unlock()
	if !current || sess.State() == core.StateClosed {
		return
	}
	c.signaler.SendCandidate(sess.peerID, candidate)
}

// onMediaState reconciles an asynchronous transport transition. Events for a
// replaced session are ignored (no resurrection).
func (c *Coordinator) onMediaState(sess *PeerSession, s core.ConnState) {
	c.mu.Lock()
	current := c.peers[sess.peerID] == sess
	c.mu.Unlock()
	if !current {
		return
	}
	state, changed := sess.applyMediaState(s)
	if !changed {
		return
	}
	log.Info().Str("module", "mesh").Str("peer", string(sess.peerID)).Str("state", state.String()).Msg("peer transition")
	c.publish()
}

func (c *Coordinator) aggregateLocked() map[domain.ParticipantID]core.ConnState {
	out := make(map[domain.ParticipantID]core.ConnState, len(c.peers))
	for id, sess := range c.peers {
		if s := sess.State(); s != core.StateClosed {
			out[id] = s
		}
	}
	return out
}

func (c *Coordinator) membersLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	return out
}

// publish recomputes the aggregate and membership snapshots and hands them to
// the observers outside the lock.
func (c *Coordinator) publish() {
	c.mu.Lock()
	agg := c.aggregateLocked()
	members := c.membersLocked()
	c.mu.Unlock()
	if c.onAggregate != nil {
		c.onAggregate(agg)
	}
	if c.onMembers != nil {
		c.onMembers(members)
	}
}
