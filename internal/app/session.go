// Package app wires the signaling client, mesh coordinator, chat log, voice
// activity detector and shared capture into one client session.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"voicemesh/internal/chat"
	"voicemesh/internal/core"
	"voicemesh/internal/domain"
	"voicemesh/internal/mesh"
	"voicemesh/internal/rtc"
	"voicemesh/internal/signal"
	"voicemesh/internal/vad"
)

// Callbacks surface session state to the presentation layer. All are
// optional.
type Callbacks struct {
	OnAggregate    func(map[domain.ParticipantID]core.ConnState)
	OnMembers      func([]domain.Participant)
	OnSpeaking     func(bool)
	OnChat         func(domain.ChatMessage)
	OnDisconnected func(error)
}

type Config struct {
	Self      domain.Participant
	RoomID    domain.RoomID
	ChannelID domain.ChannelID
	// VoiceRoom gates capture acquisition; text rooms never touch the device.
	VoiceRoom bool

	Device      core.CaptureDevice
	Constraints core.CaptureConstraints
	Sinks       rtc.SinkFactory
	RTC         webrtc.Configuration

	VoiceThreshold float64
	VadInterval    time.Duration

	Callbacks Callbacks
}

// Session is one client's presence: a single signaling connection, a single
// active room, the mesh of peer sessions, and the chat log. Reconnecting
// after transport loss is the caller's call; a fresh Connect starts clean.
type Session struct {
	self      domain.Participant
	roomID    domain.RoomID
	channelID domain.ChannelID
	voiceRoom bool

	capture  *rtc.SharedCapture
	detector *vad.Detector
	coord    *mesh.Coordinator
	chatLog  *chat.Log
	sinks    rtc.SinkFactory
	rtcConf  webrtc.Configuration

	mu     sync.Mutex
	client *signal.Client
	voice  bool

	cb Callbacks
}

func NewSession(cfg Config) *Session {
	s := &Session{
		self:      cfg.Self,
		roomID:    cfg.RoomID,
		channelID: cfg.ChannelID,
		voiceRoom: cfg.VoiceRoom,
		sinks:     cfg.Sinks,
		rtcConf:   cfg.RTC,
		cb:        cfg.Callbacks,
	}
	if s.sinks == nil {
		s.sinks = func(string) rtc.PlaybackSink { return rtc.NewNullSink() }
	}

	s.capture = rtc.NewSharedCapture(cfg.Device, cfg.Constraints)
	s.chatLog = chat.NewLog(
		func() int64 { return time.Now().UnixMilli() },
		s.emitRead,
	)
	s.coord = mesh.NewCoordinator(mesh.Options{
		Self:        cfg.Self.ID,
		Signaler:    s,
		Media:       s.newMedia,
		OnAggregate: cfg.Callbacks.OnAggregate,
		OnMembers:   cfg.Callbacks.OnMembers,
	})
	s.detector = vad.New(vad.Config{
		Interval:  cfg.VadInterval,
		Threshold: cfg.VoiceThreshold,
		Level:     s.capture.Level,
		Muted:     s.capture.Muted,
		OnChange:  cfg.Callbacks.OnSpeaking,
	})
	return s
}

// Connect acquires the capture (voice rooms only), dials the rendezvous and
// identifies. Capture acquisition happens before the connection exists so it
// can never stall inbound dispatch; a denied capability degrades the session
// to muted text-only, it does not fail the connect.
func (s *Session) Connect(ctx context.Context, url string) error {
	if s.voiceRoom {
		if err := s.capture.Acquire(); err != nil {
			log.Warn().Err(err).Str("module", "app").Msg("capture denied, voice degraded")
		} else {
			s.mu.Lock()
			s.voice = true
			s.mu.Unlock()
			s.detector.Start(ctx)
		}
	}

	client, err := signal.Dial(ctx, url, s)
	if err != nil {
		s.releaseVoice()
		return err
	}
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	client.Send(signal.Identify{
		Type:   signal.TypeIdentify,
		UserID: string(s.self.ID),
		Name:   s.self.DisplayName,
		Avatar: s.self.AvatarRef,
	})
	return nil
}

// Leave exits the room: all peer sessions are torn down and the capture is
// released. The signaling connection stays up. Safe to call repeatedly.
func (s *Session) Leave() {
	s.send(signal.LeaveRoom{Type: signal.TypeLeaveRoom})
	s.coord.Reset()
	s.releaseVoice()
}

// Close leaves and drops the signaling connection.
func (s *Session) Close() {
	s.Leave()
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()
	if client != nil {
		client.Close()
	}
}

func (s *Session) releaseVoice() {
	s.mu.Lock()
	wasVoice := s.voice
	s.voice = false
	s.mu.Unlock()
	if wasVoice {
		s.detector.Stop()
		s.capture.Release()
	}
}

func (s *Session) newMedia(peer domain.ParticipantID) (core.MediaSession, error) {
	return rtc.NewConnection(s.rtcConf, peer, s.capture, s.sinks(string(peer)))
}

// --- signal.Handler ---

func (s *Session) OnIdentified() {
	s.send(signal.JoinRoom{Type: signal.TypeJoinRoom, RoomID: string(s.roomID)})
}

func (s *Session) OnRoomUsers(users []domain.Participant) {
	s.coord.ApplySnapshot(users)
}

func (s *Session) OnUserJoined(user domain.Participant) {
	s.coord.HandleUserJoined(user)
}

func (s *Session) OnUserLeft(id domain.ParticipantID) {
	s.coord.HandleUserLeft(id)
}

func (s *Session) OnOffer(sender domain.ParticipantID, sdp string) {
	s.coord.HandleOffer(sender, sdp)
}

func (s *Session) OnAnswer(sender domain.ParticipantID, sdp string) {
	s.coord.HandleAnswer(sender, sdp)
}

func (s *Session) OnCandidate(sender domain.ParticipantID, candidate string) {
	s.coord.HandleCandidate(sender, candidate)
}

func (s *Session) OnChatMessage(msg domain.ChatMessage) {
	if msg.ChannelID == "" {
		msg.ChannelID = s.channelID
	}
	if s.chatLog.Ingest(msg) && s.cb.OnChat != nil {
		s.cb.OnChat(msg)
	}
}

func (s *Session) OnMessageEdited(id domain.MessageID, newText string) {
	s.chatLog.Edit(id, newText)
}

func (s *Session) OnMessageDeleted(id domain.MessageID) {
	s.chatLog.Delete(id)
}

func (s *Session) OnMessageRead(channel domain.ChannelID, user domain.ParticipantID, ts int64) {
	s.chatLog.ApplyRead(channel, user, ts)
}

// OnTransportClosed invalidates everything derived from the connection: no
// delivery ordering guarantee survives a transport reset.
func (s *Session) OnTransportClosed(err error) {
	s.coord.Reset()
	s.releaseVoice()
	s.mu.Lock()
	s.client = nil
	s.mu.Unlock()
	if s.cb.OnDisconnected != nil {
		s.cb.OnDisconnected(err)
	}
}

// --- mesh.Signaler ---

func (s *Session) SendOffer(target domain.ParticipantID, sdp string) {
	s.send(signal.SessionExchange{Type: signal.TypeOffer, Target: string(target), Sender: string(s.self.ID), SDP: sdp})
}

func (s *Session) SendAnswer(target domain.ParticipantID, sdp string) {
	s.send(signal.SessionExchange{Type: signal.TypeAnswer, Target: string(target), Sender: string(s.self.ID), SDP: sdp})
}

func (s *Session) SendCandidate(target domain.ParticipantID, candidate string) {
	s.send(signal.IceCandidate{Type: signal.TypeIceCandidate, Target: string(target), Sender: string(s.self.ID), Candidate: candidate})
}

// --- chat API ---

func (s *Session) SendChat(text string) error {
	if err := domain.ValidateChatText(text); err != nil {
		return err
	}
	s.send(signal.ChatSend{Type: signal.TypeChatMessage, Text: text})
	return nil
}

func (s *Session) EditChat(id domain.MessageID, newText string) error {
	if err := domain.ValidateChatText(newText); err != nil {
		return err
	}
	s.send(signal.EditMessage{Type: signal.TypeEditMessage, MessageID: string(id), NewText: newText})
	return nil
}

func (s *Session) DeleteChat(id domain.MessageID) {
	s.send(signal.DeleteMessage{Type: signal.TypeDeleteMessage, MessageID: string(id)})
}

// MarkRead raises the local cursor for the session channel and announces it.
func (s *Session) MarkRead() {
	s.chatLog.MarkRead(s.channelID)
}

func (s *Session) emitRead(channel domain.ChannelID, ts int64) {
	s.send(signal.MessageRead{Type: signal.TypeMessageRead, ChannelID: string(channel), Timestamp: ts})
}

// --- controls and queries ---

// SetLocalMuted toggles transmission across every session uniformly. The
// intent survives capture acquisition ordering.
func (s *Session) SetLocalMuted(muted bool) {
	s.capture.SetMuted(muted)
}

func (s *Session) LocalMuted() bool { return s.capture.Muted() }

func (s *Session) SetRemoteMuted(peer domain.ParticipantID, muted bool) {
	s.coord.SetRemoteMuted(peer, muted)
}

func (s *Session) Speaking() bool { return s.detector.Speaking() }

func (s *Session) Aggregate() map[domain.ParticipantID]core.ConnState {
	return s.coord.Aggregate()
}

func (s *Session) Members() []domain.Participant { return s.coord.Members() }

func (s *Session) Chat() *chat.Log { return s.chatLog }

// send marshals and queues an event; a session without a live connection
// drops it silently per the transport contract.
func (s *Session) send(v any) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return
	}
	client.Send(v)
}
