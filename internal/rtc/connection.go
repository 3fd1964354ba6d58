// Package rtc adapts pion/webrtc to the core.MediaSession contract. SDP and
// ICE mechanics stay inside this package.
package rtc

import (
	"sync"

	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"voicemesh/internal/core"
	"voicemesh/internal/domain"
)

// DefaultConfig returns the STUN setup the client ships with.
func DefaultConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
			{URLs: []string{"stun:stun1.l.google.com:19302"}},
		},
	}
}

// Connection is one peer-to-peer media leg. It owns its playback sink; the
// sink lives and dies with the connection, never looked up globally.
type Connection struct {
	pc   *webrtc.PeerConnection
	peer domain.ParticipantID
	sink PlaybackSink

	mu      sync.Mutex
	onICE   func(string)
	onState func(core.ConnState)
	closed  bool
}

// NewConnection builds a peer connection and attaches the shared outbound
// track when capture is live. A nil or unacquired capture yields a
// receive-only leg (voiceless degradation).
func NewConnection(cfg webrtc.Configuration, peer domain.ParticipantID, capture *SharedCapture, sink PlaybackSink) (*Connection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &Connection{pc: pc, peer: peer, sink: sink}

	if capture != nil {
		if track := capture.Track(); track != nil {
			if _, err := pc.AddTrack(track); err != nil {
				_ = pc.Close()
				return nil, err
			}
		}
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		b, err := json.Marshal(cand.ToJSON())
		if err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("peer", string(peer)).Msg("candidate marshal")
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(string(b))
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(peer)).Str("state", s.String()).Msg("peer connection state")
		mapped, ok := mapState(s)
		if !ok {
			return
		}
		c.mu.Lock()
		fn := c.onState
		c.mu.Unlock()
		if fn != nil {
			fn(mapped)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "rtc").Str("peer", string(peer)).
			Str("kind", track.Kind().String()).Str("track_id", track.ID()).Msg("remote track")
		go c.drain(track)
	})

	return c, nil
}

func mapState(s webrtc.PeerConnectionState) (core.ConnState, bool) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return core.StateConnected, true
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		return core.StateFailed, true
	case webrtc.PeerConnectionStateClosed:
		return core.StateClosed, true
	}
	return 0, false
}

// drain pumps the remote track into the owned sink until the track or the
// connection goes away.
func (c *Connection) drain(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "rtc").Str("peer", string(c.peer)).Msg("remote track drained")
			return
		}
		if err := c.sink.WriteRTP(pkt); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("peer", string(c.peer)).Msg("sink write")
			return
		}
	}
}

func (c *Connection) CreateOffer() (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (c *Connection) ApplyOfferAndCreateAnswer(sdp string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return "", err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (c *Connection) ApplyAnswer(sdp string) error {
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

// AddRemoteCandidate applies a candidate carried as the JSON encoding of an
// ICECandidateInit, which is how the wire format ships them.
func (c *Connection) AddRemoteCandidate(candidate string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidate), &init); err != nil {
		return err
	}
	return c.pc.AddICECandidate(init)
}

func (c *Connection) OnLocalCandidate(fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

func (c *Connection) OnStateChange(fn func(core.ConnState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

func (c *Connection) SetPlaybackMuted(muted bool) {
	c.sink.SetMuted(muted)
}

func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.onState = nil
	c.onICE = nil
	c.mu.Unlock()

	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("peer", string(c.peer)).Msg("close error")
	}
	c.sink.Close()
}
