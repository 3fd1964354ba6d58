package signal

import "voicemesh/internal/domain"

// Event type discriminators. Unknown inbound types are ignored.
const (
	TypeIdentify      = "Identify"
	TypeIdentified    = "Identified"
	TypeJoinRoom      = "JoinRoom"
	TypeLeaveRoom     = "LeaveRoom"
	TypeRoomUsers     = "RoomUsers"
	TypeUserJoined    = "UserJoined"
	TypeUserLeft      = "UserLeft"
	TypeOffer         = "Offer"
	TypeAnswer        = "Answer"
	TypeIceCandidate  = "IceCandidate"
	TypeChatMessage   = "ChatMessage"
	TypeEditMessage   = "EditMessage"
	TypeMessageEdited = "MessageEdited"
	TypeDeleteMessage = "DeleteMessage"
	TypeMessageDeleted = "MessageDeleted"
	TypeMessageRead   = "MessageRead"
	TypeError         = "Error"
)

// Outbound payloads (client -> rendezvous).

type Identify struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

type JoinRoom struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type LeaveRoom struct {
	Type string `json:"type"`
}

// SessionExchange carries an offer or answer SDP between two peers. The
// rendezvous relays it verbatim; Target is consumed server-side, Sender is
// what the remote peer dispatches on.
type SessionExchange struct {
	Type   string `json:"type"`
	Target string `json:"target,omitempty"`
	Sender string `json:"sender,omitempty"`
	SDP    string `json:"sdp"`
}

type IceCandidate struct {
	Type      string `json:"type"`
	Target    string `json:"target,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Candidate string `json:"candidate"`
}

type ChatSend struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type EditMessage struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	NewText   string `json:"new_text"`
}

type DeleteMessage struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

type MessageRead struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Inbound payloads (rendezvous -> client).

type Identified struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
}

type RoomUser struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

type RoomUsers struct {
	Type  string     `json:"type"`
	Users []RoomUser `json:"users"`
}

type UserJoined struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

type UserLeft struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

type ChatBroadcast struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	ChannelID string `json:"channel_id,omitempty"`
}

type MessageEdited struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	NewText   string `json:"new_text"`
}

type MessageDeleted struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (u RoomUser) Participant() domain.Participant {
	return domain.Participant{
		ID:          domain.ParticipantID(u.ID),
		DisplayName: u.Name,
		AvatarRef:   u.Avatar,
	}
}

func (u UserJoined) Participant() domain.Participant {
	return domain.Participant{
		ID:          domain.ParticipantID(u.UserID),
		DisplayName: u.Name,
		AvatarRef:   u.Avatar,
	}
}

func (m ChatBroadcast) Message() domain.ChatMessage {
	return domain.ChatMessage{
		ID:        domain.MessageID(m.MessageID),
		AuthorID:  domain.ParticipantID(m.UserID),
		Name:      m.Name,
		Avatar:    m.Avatar,
		Text:      m.Text,
		CreatedAt: m.Timestamp,
		ChannelID: domain.ChannelID(m.ChannelID),
	}
}
