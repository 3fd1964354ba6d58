package mesh

import (
	"errors"
	"testing"

	"voicemesh/internal/core"
)

func TestInitiateProducesOfferAndMovesToConnecting(t *testing.T) {
	media := &fakeMedia{}
	sess := newPeerSession("bob", RoleInitiator, media)

	sdp, err := sess.Initiate()
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if sdp != "offer-1" {
		t.Fatalf("unexpected offer sdp %q", sdp)
	}
	if sess.State() != core.StateConnecting {
		t.Fatalf("expected connecting, got %v", sess.State())
	}

	if _, err := sess.Initiate(); !errors.Is(err, ErrBadState) {
		t.Fatalf("second initiate should report bad state, got %v", err)
	}
}

func TestInitiateRejectsResponder(t *testing.T) {
	sess := newPeerSession("bob", RoleResponder, &fakeMedia{})
	if _, err := sess.Initiate(); !errors.Is(err, ErrNotInitiator) {
		t.Fatalf("expected ErrNotInitiator, got %v", err)
	}
}

func TestInitiateFailureMarksSessionFailed(t *testing.T) {
	media := &fakeMedia{failCreateOffer: true}
	sess := newPeerSession("bob", RoleInitiator, media)

	if _, err := sess.Initiate(); err == nil {
		t.Fatal("expected error from offer creation")
	}
	if sess.State() != core.StateFailed {
		t.Fatalf("expected failed, got %v", sess.State())
	}
}

func TestHandleOfferProducesAnswer(t *testing.T) {
	media := &fakeMedia{}
	sess := newPeerSession("bob", RoleResponder, media)

	answer, err := sess.HandleOffer("offer-x")
	if err != nil {
		t.Fatalf("handle offer: %v", err)
	}
	if answer != "answer-for-offer-x" {
		t.Fatalf("unexpected answer %q", answer)
	}
	if sess.State() != core.StateConnecting {
		t.Fatalf("expected connecting, got %v", sess.State())
	}
}

func TestHandleOfferAfterCloseRejected(t *testing.T) {
	sess := newPeerSession("bob", RoleResponder, &fakeMedia{})
	sess.Close()
	if _, err := sess.HandleOffer("offer-x"); !errors.Is(err, ErrSessionDone) {
		t.Fatalf("expected ErrSessionDone, got %v", err)
	}
}

func TestGlareReceiverOfOfferAnswers(t *testing.T) {
	// Both sides initiated; this side already sent its offer and is
	// connecting. The incoming offer wins and gets answered.
	media := &fakeMedia{}
	sess := newPeerSession("bob", RoleInitiator, media)
	if _, err := sess.Initiate(); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	answer, err := sess.HandleOffer("their-offer")
	if err != nil {
		t.Fatalf("glare offer should be accepted: %v", err)
	}
	if answer != "answer-for-their-offer" {
		t.Fatalf("unexpected answer %q", answer)
	}
}

func TestHandleOfferOnConnectedSessionDropped(t *testing.T) {
	media := &fakeMedia{}
	sess := newPeerSession("bob", RoleInitiator, media)
	if _, err := sess.Initiate(); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, changed := sess.applyMediaState(core.StateConnected); !changed {
		t.Fatal("expected connected transition")
	}

	if _, err := sess.HandleOffer("renegotiation"); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState, got %v", err)
	}
	if len(media.offersApplied) != 0 {
		t.Fatal("an established session must not renegotiate in place")
	}
	if sess.State() != core.StateConnected {
		t.Fatalf("dropped offer must not disturb the session, got %v", sess.State())
	}
}

func TestHandleAnswerCompletesNegotiation(t *testing.T) {
	media := &fakeMedia{}
	sess := newPeerSession("bob", RoleInitiator, media)
	if _, err := sess.Initiate(); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if err := sess.HandleAnswer("their-answer"); err != nil {
		t.Fatalf("handle answer: %v", err)
	}
	if len(media.answerApplied) != 1 || media.answerApplied[0] != "their-answer" {
		t.Fatalf("answer not applied: %v", media.answerApplied)
	}
}

func TestLateAnswerAfterCloseIsSilentNoop(t *testing.T) {
	media := &fakeMedia{}
	sess := newPeerSession("bob", RoleInitiator, media)
	if _, err := sess.Initiate(); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	sess.Close()

	if err := sess.HandleAnswer("late-answer"); err != nil {
		t.Fatalf("late answer must be discarded without error, got %v", err)
	}
	if len(media.answerApplied) != 0 {
		t.Fatal("late answer must not reach the transport")
	}
	if sess.State() != core.StateClosed {
		t.Fatalf("closed is terminal, got %v", sess.State())
	}
}

func TestOutOfOrderAnswerDropped(t *testing.T) {
	media := &fakeMedia{}
	sess := newPeerSession("bob", RoleResponder, media)

	if err := sess.HandleAnswer("unexpected"); err != nil {
		t.Fatalf("answer for responder must be dropped without error, got %v", err)
	}
	if len(media.answerApplied) != 0 {
		t.Fatal("dropped answer must not reach the transport")
	}
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	media := &fakeMedia{}
	sess := newPeerSession("bob", RoleResponder, media)

	sess.HandleRemoteCandidate("c1")
	sess.HandleRemoteCandidate("c2")
	if got := media.appliedCandidates(); len(got) != 0 {
		t.Fatalf("candidates must be queued before the description, got %v", got)
	}

	if _, err := sess.HandleOffer("offer-x"); err != nil {
		t.Fatalf("handle offer: %v", err)
	}
	got := media.appliedCandidates()
	if len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
		t.Fatalf("queued candidates must flush in order, got %v", got)
	}

	// With the description in place, candidates apply directly.
	sess.HandleRemoteCandidate("c3")
	if got := media.appliedCandidates(); len(got) != 3 || got[2] != "c3" {
		t.Fatalf("direct candidate not applied, got %v", got)
	}
}

func TestCandidatesFlushOnAnswer(t *testing.T) {
	media := &fakeMedia{}
	sess := newPeerSession("bob", RoleInitiator, media)
	if _, err := sess.Initiate(); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	sess.HandleRemoteCandidate("c1")

	if err := sess.HandleAnswer("their-answer"); err != nil {
		t.Fatalf("handle answer: %v", err)
	}
	if got := media.appliedCandidates(); len(got) != 1 || got[0] != "c1" {
		t.Fatalf("candidate must flush when the answer lands, got %v", got)
	}
}

func TestCandidateAfterCloseDropped(t *testing.T) {
	media := &fakeMedia{}
	sess := newPeerSession("bob", RoleResponder, media)
	sess.Close()

	sess.HandleRemoteCandidate("c1")
	if got := media.appliedCandidates(); len(got) != 0 {
		t.Fatalf("candidate for closed session must vanish, got %v", got)
	}
}

func TestApplyMediaStateTransitions(t *testing.T) {
	media := &fakeMedia{}
	sess := newPeerSession("bob", RoleInitiator, media)
	if _, err := sess.Initiate(); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	state, changed := sess.applyMediaState(core.StateConnected)
	if !changed || state != core.StateConnected {
		t.Fatalf("expected connected transition, got %v changed=%v", state, changed)
	}

	state, changed = sess.applyMediaState(core.StateFailed)
	if !changed || state != core.StateFailed {
		t.Fatalf("expected failed transition, got %v changed=%v", state, changed)
	}

	// Terminal states never revive.
	if _, changed := sess.applyMediaState(core.StateConnected); changed {
		t.Fatal("failed session must not reconnect via media event")
	}
}

func TestApplyMediaStateIgnoredAfterClose(t *testing.T) {
	sess := newPeerSession("bob", RoleInitiator, &fakeMedia{})
	sess.Close()

	state, changed := sess.applyMediaState(core.StateConnected)
	if changed || state != core.StateClosed {
		t.Fatalf("closed wins over any media event, got %v changed=%v", state, changed)
	}
}

func TestUnrequestedTransportCloseCountsAsFailure(t *testing.T) {
	media := &fakeMedia{}
	sess := newPeerSession("bob", RoleInitiator, media)
	if _, err := sess.Initiate(); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	state, changed := sess.applyMediaState(core.StateClosed)
	if !changed || state != core.StateFailed {
		t.Fatalf("expected failed, got %v changed=%v", state, changed)
	}
}

func TestCloseIsIdempotentAndReleasesMedia(t *testing.T) {
	media := &fakeMedia{}
	sess := newPeerSession("bob", RoleInitiator, media)

	sess.Close()
	sess.Close()
	if media.closeCount() != 1 {
		t.Fatalf("media must be closed exactly once, got %d", media.closeCount())
	}
	if sess.State() != core.StateClosed {
		t.Fatalf("expected closed, got %v", sess.State())
	}
}

func TestSetRemoteMutedForwardsToPlayback(t *testing.T) {
	media := &fakeMedia{}
	sess := newPeerSession("bob", RoleResponder, media)

	sess.SetRemoteMuted(true)
	if !sess.RemoteMuted() || !media.playbackMuted {
		t.Fatal("remote mute must reach playback")
	}
	sess.SetRemoteMuted(false)
	if sess.RemoteMuted() || media.playbackMuted {
		t.Fatal("remote unmute must reach playback")
	}
}
