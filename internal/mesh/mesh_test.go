package mesh

import (
	"errors"
	"fmt"
	"sync"

	"voicemesh/internal/core"
	"voicemesh/internal/domain"
)

// fakeMedia records every negotiation call so tests can assert on exactly
// what reached the transport layer.
type fakeMedia struct {
	mu sync.Mutex

	offersCreated int
	offersApplied []string
	answerApplied []string
	candidates    []string
	playbackMuted bool
	closed        int

	failCreateOffer bool
	failApplyOffer  bool
	failApplyAnswer bool

	onCandidate func(string)
	onState     func(core.ConnState)
}

func (m *fakeMedia) CreateOffer() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreateOffer {
		return "", errors.New("create offer failed")
	}
	m.offersCreated++
	return fmt.Sprintf("offer-%d", m.offersCreated), nil
}

func (m *fakeMedia) ApplyOfferAndCreateAnswer(sdp string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failApplyOffer {
		return "", errors.New("apply offer failed")
	}
	m.offersApplied = append(m.offersApplied, sdp)
	return "answer-for-" + sdp, nil
}

func (m *fakeMedia) ApplyAnswer(sdp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failApplyAnswer {
		return errors.New("apply answer failed")
	}
	m.answerApplied = append(m.answerApplied, sdp)
	return nil
}

func (m *fakeMedia) AddRemoteCandidate(candidate string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = append(m.candidates, candidate)
	return nil
}

func (m *fakeMedia) OnLocalCandidate(f func(string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCandidate = f
}

func (m *fakeMedia) OnStateChange(f func(core.ConnState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = f
}

func (m *fakeMedia) SetPlaybackMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playbackMuted = muted
}

func (m *fakeMedia) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

func (m *fakeMedia) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *fakeMedia) appliedCandidates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.candidates))
	copy(out, m.candidates)
	return out
}

func (m *fakeMedia) fireState(s core.ConnState) {
	m.mu.Lock()
	f := m.onState
	m.mu.Unlock()
	if f != nil {
		f(s)
	}
}

func (m *fakeMedia) fireCandidate(c string) {
	m.mu.Lock()
	f := m.onCandidate
	m.mu.Unlock()
	if f != nil {
		f(c)
	}
}

type sentSDP struct {
	target domain.ParticipantID
	sdp    string
}

// fakeSignaler records outbound negotiation traffic.
type fakeSignaler struct {
	mu         sync.Mutex
	offers     []sentSDP
	answers    []sentSDP
	candidates []sentSDP
}

func (f *fakeSignaler) SendOffer(target domain.ParticipantID, sdp string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers = append(f.offers, sentSDP{target, sdp})
}

func (f *fakeSignaler) SendAnswer(target domain.ParticipantID, sdp string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, sentSDP{target, sdp})
}

func (f *fakeSignaler) SendCandidate(target domain.ParticipantID, candidate string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, sentSDP{target, candidate})
}

func (f *fakeSignaler) sentOffers() []sentSDP {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentSDP, len(f.offers))
	copy(out, f.offers)
	return out
}

func (f *fakeSignaler) sentAnswers() []sentSDP {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentSDP, len(f.answers))
	copy(out, f.answers)
	return out
}

func (f *fakeSignaler) sentCandidates() []sentSDP {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentSDP, len(f.candidates))
	copy(out, f.candidates)
	return out
}

// mediaRegistry hands out one fakeMedia per peer id and remembers them all,
// including replaced generations.
type mediaRegistry struct {
	mu      sync.Mutex
	created []*fakeMedia
	byPeer  map[domain.ParticipantID][]*fakeMedia
	fail    map[domain.ParticipantID]bool
}

func newMediaRegistry() *mediaRegistry {
	return &mediaRegistry{byPeer: make(map[domain.ParticipantID][]*fakeMedia), fail: make(map[domain.ParticipantID]bool)}
}

func (r *mediaRegistry) factory(peer domain.ParticipantID) (core.MediaSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[peer] {
		return nil, errors.New("media unavailable")
	}
	m := &fakeMedia{}
	r.created = append(r.created, m)
	r.byPeer[peer] = append(r.byPeer[peer], m)
	return m, nil
}

func (r *mediaRegistry) latest(peer domain.ParticipantID) *fakeMedia {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms := r.byPeer[peer]
	if len(ms) == 0 {
		return nil
	}
	return ms[len(ms)-1]
}

func (r *mediaRegistry) countFor(peer domain.ParticipantID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byPeer[peer])
}

func participant(id string) domain.Participant {
	return domain.Participant{ID: domain.ParticipantID(id), DisplayName: id}
}
